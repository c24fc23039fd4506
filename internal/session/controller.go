// Package session implements the session controller: the long-running task
// that owns one engine channel and one subscriber, consumes a queue of
// {Go, NewGame} operations, and multiplexes engine output against
// cancellation requests under a single-in-flight search policy.
//
// Preemption is deliberately not implemented here: the UCI protocol has no
// request identifiers, so the caller (the supervisor handle) must await a
// cancellation's acknowledgement before submitting the next Go, or the
// controller could attribute the wrong bestmove to the wrong job. See
// Cancel.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jocades/escacs/internal/engine"
	"github.com/jocades/escacs/internal/protocol"
	"github.com/seekerror/logw"
)

// ErrControllerClosed is returned by Cancel when the controller's run loop
// has already exited and can never acknowledge the request.
var ErrControllerClosed = errors.New("session: controller closed")

// Subscriber receives incremental analysis results. BestMove is consumed
// internally by the controller and never reaches the subscriber.
type Subscriber interface {
	OnInfo(protocol.Info)
}

// PVTransform rewrites an Info's PV from long-algebraic to short-algebraic
// notation in place, given the FEN the originating Go was launched from.
// A non-nil error is fatal to the job it was invoked for.
type PVTransform func(fen string, pv []string) error

type requestKind int

const (
	reqGo requestKind = iota
	reqNewGame
)

type request struct {
	kind requestKind
	job  protocol.Job
}

// cancelRequest carries a one-shot acknowledgement channel, per spec: a
// cancellation is not considered complete until this fires.
type cancelRequest struct {
	ack chan error
}

// Controller is the long-running task described in the package doc. It is
// not safe for concurrent use except for the specific pairing Go/NewGame are
// single-producer (Submit*) and Cancel is also single-producer, both driven
// by the supervisor handle.
type Controller struct {
	channel     *engine.Channel
	subscriber  Subscriber
	pvTransform PVTransform

	reqCh    chan request
	cancelCh chan cancelRequest
	doneCh   chan struct{}

	searching atomic.Bool
}

// New constructs a Controller over an already-handshaken engine channel.
func New(channel *engine.Channel, subscriber Subscriber, queueCapacity int) *Controller {
	if queueCapacity <= 0 {
		queueCapacity = 32
	}
	return &Controller{
		channel:  channel,
		subscriber: subscriber,
		reqCh:    make(chan request, queueCapacity),
		cancelCh: make(chan cancelRequest, 1),
		doneCh:   make(chan struct{}),
	}
}

// SetPVTransform registers the optional move pretty-printing hook.
func (c *Controller) SetPVTransform(fn PVTransform) {
	c.pvTransform = fn
}

// IsSearching reports whether a job is currently in flight. Reads/writes are
// a single atomic word, per the core's concurrency model.
func (c *Controller) IsSearching() bool {
	return c.searching.Load()
}

// SubmitGo enqueues a Go operation. It blocks (backpressuring the caller) if
// the request queue is at capacity.
func (c *Controller) SubmitGo(ctx context.Context, job protocol.Job) error {
	return c.submit(ctx, request{kind: reqGo, job: job})
}

// SubmitNewGame enqueues a NewGame operation.
func (c *Controller) SubmitNewGame(ctx context.Context) error {
	return c.submit(ctx, request{kind: reqNewGame})
}

func (c *Controller) submit(ctx context.Context, req request) error {
	select {
	case c.reqCh <- req:
		return nil
	case <-c.doneCh:
		return ErrControllerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel requests cancellation of the in-flight search, if any, and blocks
// until the controller has acknowledged it. If no search is in flight the
// acknowledgement is immediate. Cancellation semantics are synchronous from
// the caller's perspective: the handle must not submit the next Go until
// this returns.
func (c *Controller) Cancel(ctx context.Context) error {
	ack := make(chan error, 1)
	select {
	case c.cancelCh <- cancelRequest{ack: ack}:
	case <-c.doneCh:
		return ErrControllerClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-ack:
		return err
	case <-c.doneCh:
		return ErrControllerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new requests. Run exits once it drains what is
// already queued.
func (c *Controller) Close() {
	close(c.reqCh)
}

// Run consumes the request queue until it is closed, or a fatal condition
// (parse error, stdout EOF) ends the session early. The returned error, if
// any, means the engine is considered dead: the caller's only recourse is to
// shut the supervisor down and start a fresh one.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.doneCh)

	for {
		select {
		case req, ok := <-c.reqCh:
			if !ok {
				return nil
			}
			if err := c.handle(ctx, req); err != nil {
				return err
			}
		case cancel := <-c.cancelCh:
			// Nothing in flight: acknowledge immediately.
			cancel.ack <- nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Controller) handle(ctx context.Context, req request) error {
	switch req.kind {
	case reqGo:
		return c.runJob(ctx, req.job)
	case reqNewGame:
		logw.Infof(ctx, "session: ucinewgame")
		return c.channel.NewGame(ctx)
	default:
		return fmt.Errorf("session: unknown request kind %v", req.kind)
	}
}

// runJob implements the per-job protocol: write position+go, then multiplex
// engine output against cancellation until BestMove, EOF, or a fatal parse
// error.
func (c *Controller) runJob(ctx context.Context, job protocol.Job) error {
	payload := protocol.FormatGo(job)
	if err := c.channel.Send(ctx, payload); err != nil {
		return err
	}

	c.searching.Store(true)
	defer c.searching.Store(false)

	for {
		select {
		case cancel := <-c.cancelCh:
			logw.Infof(ctx, "session: cancelling in-flight search")
			stopErr := c.channel.Stop(ctx)
			cancel.ack <- stopErr
			return nil

		case line, ok := <-c.channel.Lines():
			if !ok {
				logw.Warningf(ctx, "session: engine stream closed mid-search")
				return engine.ErrPipeClosed
			}

			rec, err := protocol.ParseLine(line)
			if err != nil {
				logw.Errorf(ctx, "session: parse error on %q: %v", line, err)
				return err
			}
			if rec == nil {
				continue
			}

			switch rec.Kind {
			case protocol.RecordInfo:
				info := *rec.Info
				if c.pvTransform != nil && len(info.PV) > 0 {
					if err := c.pvTransform(job.FEN, info.PV); err != nil {
						return fmt.Errorf("session: pv transform: %w", err)
					}
				}
				c.subscriber.OnInfo(info)
			case protocol.RecordBestMove:
				return nil
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
