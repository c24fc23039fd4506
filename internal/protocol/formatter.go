package protocol

import (
	"fmt"
	"strings"
)

// Every Format* function returns a payload with no trailing newline. The
// Engine Channel's writer pump is what appends the single trailing newline
// before writing to the subprocess's stdin, so multi-line payloads enqueued
// as one unit (e.g. FormatStop, FormatGo) end up on the wire with exactly
// one newline after the last line, never a blank line before the next
// command.

// FormatGo serializes a Job into the two-line "position"/"go depth" payload.
// fen precludes startpos; moves is appended only if non-empty; lines are
// joined by a single newline.
func FormatGo(j Job) string {
	var b strings.Builder

	b.WriteString("position ")
	if j.FEN == "" {
		b.WriteString("startpos")
	} else {
		b.WriteString("fen ")
		b.WriteString(j.FEN)
	}
	if len(j.Moves) > 0 {
		b.WriteString(" moves ")
		b.WriteString(strings.Join(j.Moves, " "))
	}
	b.WriteByte('\n')

	fmt.Fprintf(&b, "go depth %d", j.Depth)

	return b.String()
}

// FormatStop serializes the stop barrier payload: "stop" followed by a
// synthetic "isready", the only in-band way to know the engine has gone
// quiescent after a cancellation.
func FormatStop() string {
	return "stop\nisready"
}

// FormatNewGame serializes the new-game barrier payload.
func FormatNewGame() string {
	return "ucinewgame\nisready"
}

// FormatUCI serializes the handshake's first command.
func FormatUCI() string { return "uci" }

// FormatIsReady serializes a standalone readiness probe.
func FormatIsReady() string { return "isready" }

// Option is one setoption value to apply at startup.
type Option struct {
	Name  string
	Value string
}

// FormatOptions serializes one "setoption name <K> value <V>" line per
// option, joined by newlines.
func FormatOptions(opts []Option) string {
	lines := make([]string, len(opts))
	for i, o := range opts {
		lines[i] = fmt.Sprintf("setoption name %s value %s", o.Name, o.Value)
	}
	return strings.Join(lines, "\n")
}
