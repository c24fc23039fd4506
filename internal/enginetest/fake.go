// Package enginetest provides a fake engine.Process for exercising the
// session controller and the supervisor handle end to end without spawning
// a real chess engine binary.
package enginetest

import (
	"bufio"
	"io"
)

// FakeProcess is an in-memory stand-in for an OS process: writes to Stdin
// land on Received, and whatever is written to stdout via Reply/Raw
// surfaces from Stdout.
type FakeProcess struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
}

// New constructs a FakeProcess. Call Received to observe engine input and
// Reply to simulate engine output.
func New() *FakeProcess {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	return &FakeProcess{stdinR: inR, stdinW: inW, stdoutR: outR, stdoutW: outW}
}

func (f *FakeProcess) Start() error          { return nil }
func (f *FakeProcess) Stdin() io.WriteCloser { return f.stdinW }
func (f *FakeProcess) Stdout() io.Reader     { return f.stdoutR }

func (f *FakeProcess) Kill() error {
	_ = f.stdoutW.Close()
	_ = f.stdinR.Close()
	return nil
}

// Received returns a line scanner over everything written to stdin.
func (f *FakeProcess) Received() *bufio.Scanner {
	return bufio.NewScanner(f.stdinR)
}

// Reply writes one line (plus newline) as if the engine emitted it.
func (f *FakeProcess) Reply(line string) {
	_, _ = io.WriteString(f.stdoutW, line+"\n")
}

// Raw writes bytes to stdout verbatim, e.g. to simulate a line with no
// terminating newline.
func (f *FakeProcess) Raw(p []byte) {
	_, _ = f.stdoutW.Write(p)
}

// CloseStdout simulates the engine exiting: its stdout reaches EOF.
func (f *FakeProcess) CloseStdout() {
	_ = f.stdoutW.Close()
}
