// Package supervisor is the only object exposed to the caller: a handle
// that owns one engine subprocess, applies the fixed startup options,
// performs preemption ahead of every new search, and exposes Start/Go/
// NewGame/Shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jocades/escacs/internal/engine"
	"github.com/jocades/escacs/internal/protocol"
	"github.com/jocades/escacs/internal/session"
	"github.com/jocades/escacs/supervisor/config"
	"github.com/seekerror/logw"
)

// Subscriber receives incremental analysis results, same contract as
// session.Subscriber: BestMove is consumed internally and never forwarded.
type Subscriber = session.Subscriber

// PVTransform rewrites an Info's PV in place before it reaches the
// subscriber. See session.PVTransform.
type PVTransform = session.PVTransform

// Job, Info, and Score are re-exported so callers never need to import
// internal/protocol directly.
type (
	Job   = protocol.Job
	Info  = protocol.Info
	Score = protocol.Score
)

var (
	// NewJob, WithFEN, and WithMoves build a Job. Re-exported for the same
	// reason as the type aliases above.
	NewJob    = protocol.NewJob
	WithFEN   = protocol.WithFEN
	WithMoves = protocol.WithMoves
)

// CP and MateIn construct a Score.
var (
	CP     = protocol.CP
	MateIn = protocol.MateIn
)

// ErrNotStarted is returned by Go/NewGame/SetPVTransform when called before
// Start.
var ErrNotStarted = errors.New("supervisor: handle not started")

// Handle is a single-shot resource: once a fatal error surfaces from any
// operation, the caller's only recourse is Shutdown and a new Handle.
type Handle struct {
	cfg config.EngineConfig

	// dial constructs the engine channel. It defaults to spawning the real
	// binary at cfg.BinaryPath; tests substitute a fake process by
	// overriding this field before calling Start.
	dial func(ctx context.Context, cfg config.EngineConfig) (*engine.Channel, error)

	mu         sync.Mutex
	started    bool
	channel    *engine.Channel
	controller *session.Controller
	runErr     chan error
}

// New constructs a Handle. The engine subprocess is not spawned until Start.
func New(cfg config.EngineConfig) *Handle {
	return &Handle{
		cfg: cfg,
		dial: func(ctx context.Context, cfg config.EngineConfig) (*engine.Channel, error) {
			return engine.New(ctx, cfg.BinaryPath, cfg.QueueCapacity, cfg.LineBufferSize)
		},
	}
}

// Start is idempotent: on first call it spawns the engine binary, performs
// the uci/isready handshake, applies the fixed startup options, and
// launches the session controller. Subsequent calls are no-ops.
func (h *Handle) Start(ctx context.Context, subscriber Subscriber) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return nil
	}

	ch, err := h.dial(ctx, h.cfg)
	if err != nil {
		return fmt.Errorf("supervisor: start: %w", err)
	}

	if err := ch.UCI(ctx); err != nil {
		_ = ch.Shutdown()
		return fmt.Errorf("supervisor: handshake: %w", err)
	}

	opts := []protocol.Option{
		{Name: "Threads", Value: fmt.Sprintf("%d", h.cfg.Threads)},
		{Name: "UCI_ShowWDL", Value: fmt.Sprintf("%t", h.cfg.ShowWDL)},
		{Name: "MultiPV", Value: fmt.Sprintf("%d", h.cfg.MultiPV)},
	}
	if err := ch.SetOptions(ctx, opts); err != nil {
		_ = ch.Shutdown()
		return fmt.Errorf("supervisor: apply options: %w", err)
	}
	if err := ch.IsReady(ctx); err != nil {
		_ = ch.Shutdown()
		return fmt.Errorf("supervisor: apply options: %w", err)
	}

	ctrl := session.New(ch, subscriber, h.cfg.QueueCapacity)

	runErr := make(chan error, 1)
	go func() { runErr <- ctrl.Run(ctx) }()

	h.channel = ch
	h.controller = ctrl
	h.runErr = runErr
	h.started = true

	logw.Infof(ctx, "supervisor: started engine %q", h.cfg.BinaryPath)
	return nil
}

// SetPVTransform registers the optional move pretty-printing hook. Must be
// called after Start.
func (h *Handle) SetPVTransform(fn PVTransform) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started {
		return ErrNotStarted
	}
	h.controller.SetPVTransform(fn)
	return nil
}

// Go preempts any in-flight search (awaiting the cancellation ack) and
// enqueues a new Go. It returns as soon as the request is accepted; results
// arrive asynchronously at the subscriber.
func (h *Handle) Go(ctx context.Context, job Job) error {
	h.mu.Lock()
	ctrl := h.controller
	started := h.started
	h.mu.Unlock()

	if !started {
		return ErrNotStarted
	}

	if ctrl.IsSearching() {
		if err := ctrl.Cancel(ctx); err != nil {
			return fmt.Errorf("supervisor: preempt: %w", err)
		}
	}

	return ctrl.SubmitGo(ctx, job)
}

// NewGame preempts any in-flight search, then enqueues NewGame.
func (h *Handle) NewGame(ctx context.Context) error {
	h.mu.Lock()
	ctrl := h.controller
	started := h.started
	h.mu.Unlock()

	if !started {
		return ErrNotStarted
	}

	if ctrl.IsSearching() {
		if err := ctrl.Cancel(ctx); err != nil {
			return fmt.Errorf("supervisor: preempt: %w", err)
		}
	}

	return ctrl.SubmitNewGame(ctx)
}

// Shutdown closes the request queue, awaits controller exit, and kills the
// subprocess. It returns the error that ended the controller's run, if any,
// otherwise the channel's shutdown error. Safe to call even if Start never
// succeeded.
func (h *Handle) Shutdown() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return nil
	}

	h.controller.Close()
	runErr := <-h.runErr
	err := h.channel.Shutdown()
	h.started = false
	if runErr != nil {
		return runErr
	}
	return err
}
