package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"notifybot/internal/transport"
	"notifybot/pkg/logx"
)

type sendCall struct {
	to   transport.ChatTarget
	text string
}

// fakeSender records every delivery attempt. It can fail selected chat ids
// and optionally block sends behind a gate to exercise the round barrier.
type fakeSender struct {
	mu    sync.Mutex
	calls []sendCall
	fail  map[int64]error
	gate  chan struct{}
}

func (f *fakeSender) SendText(ctx context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return transport.MessageRef{}, ctx.Err()
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, sendCall{to: to, text: text})
	var err error
	if f.fail != nil {
		err = f.fail[to.ChatID]
	}
	f.mu.Unlock()

	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeSender) snapshot() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendCall(nil), f.calls...)
}

// waitCalls polls until at least n delivery attempts were recorded.
func waitCalls(t *testing.T, f *fakeSender, n int, timeout time.Duration) []sendCall {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		calls := f.snapshot()
		if len(calls) >= n {
			return calls
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d sends, got %d", n, len(calls))
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func testSpec(interval time.Duration, msgs []string, chatIDs ...int64) Spec {
	targets := make([]transport.ChatTarget, 0, len(chatIDs))
	for _, id := range chatIDs {
		targets = append(targets, transport.ChatTarget{ChatID: id})
	}
	return Spec{Interval: interval, Messages: msgs, Targets: targets}
}

func TestJobTickFansOutToAllTargets(t *testing.T) {
	t.Parallel()

	f := &fakeSender{}
	r := NewRegistry(f, logx.Nop())
	defer r.Stop()

	r.Add(testSpec(20*time.Millisecond, []string{"hello"}, 1, 2, 3))

	calls := waitCalls(t, f, 3, 2*time.Second)[:3]
	seen := map[int64]int{}
	for _, c := range calls {
		seen[c.to.ChatID]++
		if c.text != "hello" {
			t.Fatalf("delivered %q, want %q", c.text, "hello")
		}
	}
	for _, id := range []int64{1, 2, 3} {
		if seen[id] != 1 {
			t.Fatalf("chat %d received %d sends in first round, want 1", id, seen[id])
		}
	}
}

func TestJobRoundsAreSpacedNotBurst(t *testing.T) {
	t.Parallel()

	const interval = 60 * time.Millisecond

	f := &fakeSender{}
	r := NewRegistry(f, logx.Nop())
	defer r.Stop()

	start := time.Now()
	r.Add(testSpec(interval, []string{"tick"}, 7))

	waitCalls(t, f, 1, 2*time.Second)
	firstAt := time.Since(start)
	waitCalls(t, f, 2, 2*time.Second)
	secondAt := time.Since(start)

	if gap := secondAt - firstAt; gap < interval/2 {
		t.Fatalf("rounds fired %v apart, want at least %v (no burst)", gap, interval/2)
	}
}

func TestJobRoundBarrierBlocksNextTick(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	f := &fakeSender{gate: gate}
	r := NewRegistry(f, logx.Nop())
	defer r.Stop()

	r.Add(testSpec(15*time.Millisecond, []string{"slow"}, 1, 2))

	// All sends of the first round are parked on the gate. Several intervals
	// later no second round may have started: the loop is still inside the
	// barrier wait.
	time.Sleep(90 * time.Millisecond)
	if got := len(f.snapshot()); got != 0 {
		t.Fatalf("recorded %d sends while round was gated, want 0", got)
	}

	close(gate)
	calls := waitCalls(t, f, 2, 2*time.Second)
	if len(calls) < 2 {
		t.Fatalf("round did not complete after gate release")
	}
}

func TestJobFailedSendDoesNotAbortRoundOrJob(t *testing.T) {
	t.Parallel()

	f := &fakeSender{fail: map[int64]error{2: errors.New("chat unavailable")}}
	r := NewRegistry(f, logx.Nop())
	defer r.Stop()

	id := r.Add(testSpec(20*time.Millisecond, []string{"Hello"}, 1, 2))

	// Two full rounds despite chat 2 failing every time.
	calls := waitCalls(t, f, 4, 2*time.Second)
	delivered := map[int64]bool{}
	for _, c := range calls {
		delivered[c.to.ChatID] = true
	}
	if !delivered[1] || !delivered[2] {
		t.Fatalf("both chats must be attempted, got %v", delivered)
	}

	list := r.List()
	if len(list) != 1 || list[0].ID != id {
		t.Fatalf("job must survive per-target failures, list = %+v", list)
	}
}

func TestJobAppendDoesNotChangeCurrentMessage(t *testing.T) {
	t.Parallel()

	f := &fakeSender{}
	r := NewRegistry(f, logx.Nop())
	defer r.Stop()

	id := r.Add(testSpec(20*time.Millisecond, []string{"current"}, 1))

	if err := r.Append(id, "appended"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Appending adds to the end of the variant list; every tick still sends
	// index 0, so the appended text must never show up.
	for _, c := range waitCalls(t, f, 3, 2*time.Second) {
		if c.text != "current" {
			t.Fatalf("tick delivered %q, want %q", c.text, "current")
		}
	}
}

func TestJobCancellationStopsLoop(t *testing.T) {
	t.Parallel()

	f := &fakeSender{}
	r := NewRegistry(f, logx.Nop())
	defer r.Stop()

	id := r.Add(testSpec(15*time.Millisecond, []string{"bye"}, 1))
	waitCalls(t, f, 1, 2*time.Second)

	if err := r.Remove(id); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	// The loop may finish an in-flight round, then must stop ticking.
	time.Sleep(30 * time.Millisecond)
	before := len(f.snapshot())
	time.Sleep(90 * time.Millisecond)
	if after := len(f.snapshot()); after != before {
		t.Fatalf("job kept sending after removal: %d -> %d", before, after)
	}
}

func TestJobEditQueueClosureIsFatal(t *testing.T) {
	t.Parallel()

	edits := make(chan editRequest)
	j := newJob(1, testSpec(time.Hour, []string{"x"}, 1), edits, &fakeSender{}, logx.Nop())

	done := make(chan struct{})
	go func() {
		j.run(context.Background())
		close(done)
	}()

	close(edits)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after edit queue closure")
	}
}
