package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeConn struct{ connected bool }

func (f fakeConn) IsConnected() bool { return f.connected }

type fakeQueue struct {
	age      time.Duration
	ageKnown bool
	depth    int
	err      error
}

func (f fakeQueue) OldestQueuedAge(ctx context.Context) (time.Duration, bool, error) {
	return f.age, f.ageKnown, f.err
}

func (f fakeQueue) QueueDepth(ctx context.Context) (int, error) {
	return f.depth, f.err
}

func TestCheckHealthyWhenConnectedAndTimely(t *testing.T) {
	m := NewMonitor(fakeConn{connected: true}, fakeQueue{age: time.Second, ageKnown: true, depth: 3}, true, 8*time.Second)

	st := m.Check(context.Background())
	if !st.Healthy {
		t.Fatal("expected healthy status")
	}
	if st.QueueDepth != 3 || st.OldestJobAgeMs != 1000 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestCheckUnhealthyWhenDisconnected(t *testing.T) {
	m := NewMonitor(fakeConn{connected: false}, fakeQueue{}, true, 8*time.Second)
	if st := m.Check(context.Background()); st.Healthy {
		t.Fatal("disconnected bus reported healthy")
	}
}

func TestCheckUnhealthyWhenNoBusConfigured(t *testing.T) {
	m := NewMonitor(nil, fakeQueue{}, true, 8*time.Second)
	if st := m.Check(context.Background()); st.Healthy {
		t.Fatal("nil connection reported healthy")
	}
}

func TestCheckUnhealthyOnStaleJob(t *testing.T) {
	m := NewMonitor(fakeConn{connected: true}, fakeQueue{age: 20 * time.Second, ageKnown: true, depth: 1}, true, 8*time.Second)
	st := m.Check(context.Background())
	if st.Healthy {
		t.Fatal("stale queued job reported healthy")
	}
	if st.OldestJobAgeMs != 20000 {
		t.Fatalf("unexpected age: %d", st.OldestJobAgeMs)
	}
}

func TestCheckUnhealthyOnStoreError(t *testing.T) {
	m := NewMonitor(fakeConn{connected: true}, fakeQueue{err: errors.New("db gone")}, true, 8*time.Second)
	st := m.Check(context.Background())
	if st.Healthy {
		t.Fatal("unreadable store reported healthy")
	}
	if st.OldestJobAgeMs != -1 {
		t.Fatalf("expected unknown age marker, got %d", st.OldestJobAgeMs)
	}
}

func TestShouldUseInlineFallback(t *testing.T) {
	m := NewMonitor(nil, fakeQueue{}, true, 8*time.Second)

	if m.ShouldUseInlineFallback(time.Second, true) {
		t.Fatal("fresh job triggered fallback")
	}
	if !m.ShouldUseInlineFallback(9*time.Second, true) {
		t.Fatal("stale job did not trigger fallback")
	}
	if !m.ShouldUseInlineFallback(0, false) {
		t.Fatal("unknown age did not trigger fallback")
	}

	disabled := NewMonitor(nil, fakeQueue{}, false, 8*time.Second)
	if disabled.ShouldUseInlineFallback(time.Minute, true) {
		t.Fatal("disabled feature still triggered fallback")
	}
	if disabled.ShouldUseInlineFallback(0, false) {
		t.Fatal("disabled feature triggered fallback on unknown age")
	}
}
