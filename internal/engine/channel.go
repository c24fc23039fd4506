// Package engine owns the external engine subprocess: spawning it, pumping
// its stdin and stdout as two independent streams, and the small set of
// composite handshake/stop/kill operations the session controller needs.
// It knows the UCI wire format only through internal/protocol's formatters;
// it does not interpret Info/BestMove records itself.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/jocades/escacs/internal/protocol"
	"github.com/seekerror/logw"
	"golang.org/x/sync/errgroup"
)

// Channel owns one engine subprocess. Its stdin is written only by the
// writer pump; its stdout is read only by the reader pump. Send and Recv are
// safe to call concurrently with each other, but Recv must only ever be
// called from the session controller's single multiplexing loop: the
// protocol has no request IDs, so interleaved readers would race.
type Channel struct {
	proc    Process
	writeCh chan string
	readCh  chan string

	group *errgroup.Group

	closing atomic.Bool
}

// New spawns the engine binary at path and starts its writer/reader pumps.
// queueCapacity bounds both the write and read queues; lineBufSize bounds a
// single line of engine output before ErrLineBufferOverflow is raised.
func New(ctx context.Context, path string, queueCapacity, lineBufSize int) (*Channel, error) {
	proc, err := newExecProcess(path)
	if err != nil {
		return nil, fmt.Errorf("engine: spawn %q: %w", path, err)
	}
	return NewWithProcess(ctx, proc, queueCapacity, lineBufSize)
}

// NewWithProcess starts the writer/reader pumps over an already-constructed
// Process. It exists so tests (and anything embedding this package) can
// drive a Channel without spawning a real engine binary.
func NewWithProcess(ctx context.Context, proc Process, queueCapacity, lineBufSize int) (*Channel, error) {
	if queueCapacity <= 0 {
		queueCapacity = 32
	}

	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("engine: spawn: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	c := &Channel{
		proc:    proc,
		writeCh: make(chan string, queueCapacity),
		readCh:  make(chan string, queueCapacity),
		group:   g,
	}

	g.Go(func() error { return c.writerPump(gctx) })
	g.Go(func() error { return c.readerPump(gctx, lineBufSize) })

	logw.Infof(ctx, "engine channel started")
	return c, nil
}

// writerPump reads strings from writeCh; for each, appends a newline and
// writes it to stdin. It terminates when writeCh closes.
func (c *Channel) writerPump(ctx context.Context) error {
	for {
		select {
		case cmd, ok := <-c.writeCh:
			if !ok {
				return nil
			}
			if _, err := io.WriteString(c.proc.Stdin(), cmd+"\n"); err != nil {
				if c.closing.Load() {
					return nil
				}
				logw.Errorf(ctx, "writer pump: %v", err)
				return fmt.Errorf("%w: %v", ErrPipeClosed, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// readerPump reads from stdout using a line splitter bounded by lineBufSize;
// for each line, pushes it onto readCh. It terminates at EOF, on an I/O
// error, or when a line overflows the buffer.
func (c *Channel) readerPump(ctx context.Context, lineBufSize int) error {
	defer close(c.readCh)

	splitter := newLineSplitter(ctx, c.readCh, lineBufSize)
	buf := make([]byte, 4096)

	for {
		n, err := c.proc.Stdout().Read(buf)
		if n > 0 {
			if _, werr := splitter.Write(buf[:n]); werr != nil {
				if c.closing.Load() {
					return nil
				}
				logw.Errorf(ctx, "reader pump: %v", werr)
				return werr
			}
		}
		if err != nil {
			if c.closing.Load() {
				return nil
			}
			if errors.Is(err, io.EOF) {
				logw.Infof(ctx, "engine stdout closed")
				return nil
			}
			logw.Errorf(ctx, "reader pump: %v", err)
			return fmt.Errorf("%w: %v", ErrPipeClosed, err)
		}
	}
}

// Send enqueues a command onto the writer queue.
func (c *Channel) Send(ctx context.Context, cmd string) error {
	select {
	case c.writeCh <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lines exposes the reader queue directly so the session controller can
// multiplex it against a cancellation channel in a single select. It closes
// once the reader pump has observed EOF or an I/O error.
func (c *Channel) Lines() <-chan string {
	return c.readCh
}

// Recv dequeues one line from the reader queue. It returns ErrPipeClosed
// once the reader pump has observed EOF or an I/O error.
func (c *Channel) Recv(ctx context.Context) (string, error) {
	select {
	case line, ok := <-c.readCh:
		if !ok {
			return "", ErrPipeClosed
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// drainUntil discards lines until one equals keyword, or the pipe closes
// (returning closedErr) or ctx is canceled.
func (c *Channel) drainUntil(ctx context.Context, keyword string, closedErr error) error {
	for {
		line, err := c.Recv(ctx)
		if err != nil {
			if errors.Is(err, ErrPipeClosed) {
				return closedErr
			}
			return err
		}
		if line == keyword {
			return nil
		}
	}
}

// UCI sends "uci" and drains until "uciok" is observed.
func (c *Channel) UCI(ctx context.Context) error {
	if err := c.Send(ctx, protocol.FormatUCI()); err != nil {
		return err
	}
	return c.drainUntil(ctx, "uciok", ErrHandshake)
}

// IsReady sends "isready" and drains until "readyok" is observed.
func (c *Channel) IsReady(ctx context.Context) error {
	if err := c.Send(ctx, protocol.FormatIsReady()); err != nil {
		return err
	}
	return c.drainUntil(ctx, "readyok", ErrHandshake)
}

// SetOptions applies a batch of setoption commands.
func (c *Channel) SetOptions(ctx context.Context, opts []protocol.Option) error {
	if len(opts) == 0 {
		return nil
	}
	return c.Send(ctx, protocol.FormatOptions(opts))
}

// Stop sends "stop\nisready" and drains until "readyok", discarding every
// line observed in between: the engine may flush a final info and a
// bestmove after stop, and those belong to the search being cancelled.
func (c *Channel) Stop(ctx context.Context) error {
	if err := c.Send(ctx, protocol.FormatStop()); err != nil {
		return err
	}
	return c.drainUntil(ctx, "readyok", ErrPipeClosed)
}

// NewGame sends "ucinewgame\nisready" and drains until "readyok".
func (c *Channel) NewGame(ctx context.Context) error {
	if err := c.Send(ctx, protocol.FormatNewGame()); err != nil {
		return err
	}
	return c.drainUntil(ctx, "readyok", ErrPipeClosed)
}

// Kill force-terminates the subprocess without waiting for it to exit.
func (c *Channel) Kill() error {
	return c.proc.Kill()
}

// Shutdown closes the writer queue, kills the subprocess, and waits for
// both pumps to return. It is not idempotent: a second call panics on the
// already-closed writer queue.
func (c *Channel) Shutdown() error {
	c.closing.Store(true)
	close(c.writeCh)
	_ = c.proc.Kill()
	return c.group.Wait()
}
