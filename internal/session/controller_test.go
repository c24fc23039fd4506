package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jocades/escacs/internal/engine"
	"github.com/jocades/escacs/internal/enginetest"
	"github.com/jocades/escacs/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubscriber struct {
	mu    sync.Mutex
	infos []protocol.Info
}

func (r *recordingSubscriber) OnInfo(i protocol.Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = append(r.infos, i)
}

func (r *recordingSubscriber) snapshot() []protocol.Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Info, len(r.infos))
	copy(out, r.infos)
	return out
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newTestController(t *testing.T, ctx context.Context) (*Controller, *enginetest.FakeProcess) {
	proc := enginetest.New()
	ch, err := engine.NewWithProcess(ctx, proc, 32, 16384)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Shutdown() })

	sub := &recordingSubscriber{}
	ctrl := New(ch, sub, 32)
	return ctrl, proc
}

// S1 — basic search: one Info then a BestMove; only the Info reaches the
// subscriber.
func TestController_S1_BasicSearch(t *testing.T) {
	ctx := testCtx(t)
	proc := enginetest.New()
	ch, err := engine.NewWithProcess(ctx, proc, 32, 16384)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Shutdown() })

	sub := &recordingSubscriber{}
	ctrl := New(ch, sub, 32)

	go func() {
		if err := ctrl.Run(ctx); err != nil && ctx.Err() == nil {
			t.Errorf("controller run: %v", err)
		}
	}()

	go func() {
		sc := proc.Received()
		require.True(t, sc.Scan())
		assert.Equal(t, "position startpos", sc.Text())
		require.True(t, sc.Scan())
		assert.Equal(t, "go depth 1", sc.Text())

		proc.Reply("info depth 1 score cp 34 pv e2e4")
		proc.Reply("bestmove e2e4")
	}()

	require.NoError(t, ctrl.SubmitGo(ctx, protocol.NewJob(1)))

	require.Eventually(t, func() bool {
		return len(sub.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	infos := sub.snapshot()
	require.Len(t, infos, 1)
	assert.Equal(t, uint32(1), infos[0].Depth)
	assert.Equal(t, protocol.CP(34), infos[0].Score)
	assert.Equal(t, []string{"e2e4"}, infos[0].PV)

	ctrl.Close()
}

// S6 — new_game barrier: exactly ucinewgame then isready are written, and
// the controller is not searching once readyok has been replied.
func TestController_S6_NewGameBarrier(t *testing.T) {
	ctx := testCtx(t)
	ctrl, proc := newTestController(t, ctx)

	go func() {
		if err := ctrl.Run(ctx); err != nil && ctx.Err() == nil {
			t.Errorf("controller run: %v", err)
		}
	}()

	lines := make(chan string, 4)
	go func() {
		sc := proc.Received()
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	require.NoError(t, ctrl.SubmitNewGame(ctx))

	select {
	case l := <-lines:
		assert.Equal(t, "ucinewgame", l)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ucinewgame")
	}
	select {
	case l := <-lines:
		assert.Equal(t, "isready", l)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for isready")
	}

	proc.Reply("readyok")

	require.Eventually(t, func() bool { return !ctrl.IsSearching() }, time.Second, 5*time.Millisecond)
	ctrl.Close()
}

// S5 — a malformed info line is fatal: Run exits with a parse error, no
// Info is delivered, and is_searching returns to false.
func TestController_S5_ParseErrorIsFatal(t *testing.T) {
	ctx := testCtx(t)
	ctrl, proc := newTestController(t, ctx)

	runErr := make(chan error, 1)
	go func() { runErr <- ctrl.Run(ctx) }()

	go func() {
		sc := proc.Received()
		sc.Scan() // "position startpos"
		sc.Scan() // "go depth 1"
		proc.Reply("info depth 1 score weird 0 pv e2e4")
	}()

	require.NoError(t, ctrl.SubmitGo(ctx, protocol.NewJob(1)))

	select {
	case err := <-runErr:
		require.Error(t, err)
		assert.ErrorIs(t, err, protocol.ErrParse)
	case <-time.After(time.Second):
		t.Fatal("controller did not exit on parse error")
	}

	assert.False(t, ctrl.IsSearching())
}

// S2 — preemption: 3 Info_A delivered, then exactly 1 Info_B; BestMove_A and
// the extra Info_A observed during the drain never reach the subscriber.
func TestController_S2_Preemption(t *testing.T) {
	ctx := testCtx(t)
	proc := enginetest.New()
	ch, err := engine.NewWithProcess(ctx, proc, 32, 16384)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Shutdown() })

	sub := &recordingSubscriber{}
	ctrl := New(ch, sub, 32)

	go func() {
		if err := ctrl.Run(ctx); err != nil && ctx.Err() == nil {
			t.Errorf("controller run: %v", err)
		}
	}()

	sawStop := make(chan struct{})
	go func() {
		sc := proc.Received()
		sc.Scan() // position (job A)
		sc.Scan() // go depth 20

		proc.Reply("info depth 1 score cp 1 pv a1a1")
		proc.Reply("info depth 2 score cp 2 pv a1a1")
		proc.Reply("info depth 3 score cp 3 pv a1a1")

		sc.Scan() // stop
		sc.Scan() // isready
		close(sawStop)

		proc.Reply("info depth 4 score cp 4 pv a1a1")
		proc.Reply("bestmove a1a1")
		proc.Reply("readyok")

		sc.Scan() // position (job B)
		sc.Scan() // go depth 1
		proc.Reply("info depth 1 score cp 9 pv b1b1")
		proc.Reply("bestmove b1b1")
	}()

	require.NoError(t, ctrl.SubmitGo(ctx, protocol.NewJob(20)))

	require.Eventually(t, func() bool { return len(sub.snapshot()) >= 3 }, time.Second, 5*time.Millisecond)

	// Preempt: cancel, await ack, then submit job B, exactly as the
	// supervisor handle would.
	require.NoError(t, ctrl.Cancel(ctx))
	<-sawStop
	require.NoError(t, ctrl.SubmitGo(ctx, protocol.NewJob(1)))

	require.Eventually(t, func() bool { return len(sub.snapshot()) == 4 }, time.Second, 5*time.Millisecond)

	infos := sub.snapshot()
	require.Len(t, infos, 4)
	assert.Equal(t, uint32(1), infos[0].Depth)
	assert.Equal(t, uint32(2), infos[1].Depth)
	assert.Equal(t, uint32(3), infos[2].Depth)
	assert.Equal(t, []string{"b1b1"}, infos[3].PV)

	ctrl.Close()
}
