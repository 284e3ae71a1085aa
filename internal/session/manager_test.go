package session

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestManager(opener DeviceOpener, ttl time.Duration) *Manager {
	analyzer := newStubAnalyzer(testReport(), nil)
	return NewManager(opener, analyzer, nil, nil, time.Second, ttl, zap.NewNop())
}

func TestManagerCreateAndGetScopedToUser(t *testing.T) {
	mgr := newTestManager(&stubOpener{}, time.Hour)

	ctrl := mgr.Create("user-1")
	if ctrl.Snapshot().State != StateIdle {
		t.Fatalf("expected new session idle, got %q", ctrl.Snapshot().State)
	}

	if _, ok := mgr.Get("user-1", ctrl.ID()); !ok {
		t.Fatal("expected owner to find the session")
	}
	if _, ok := mgr.Get("user-2", ctrl.ID()); ok {
		t.Fatal("expected other users to be denied")
	}
	if _, ok := mgr.Get("user-1", "missing"); ok {
		t.Fatal("expected unknown id to be denied")
	}
}

func TestManagerSweepEvictsIdleSessionsAndReleasesDevice(t *testing.T) {
	device := &stubDevice{frame: testImage()}
	mgr := newTestManager(&stubOpener{device: device}, time.Minute)

	ctrl := mgr.Create("user-1")
	ctrl.RequestCamera(context.Background())
	if ctrl.Snapshot().State != StateCapturingLive {
		t.Fatalf("expected capturing_live, got %q", ctrl.Snapshot().State)
	}

	// Age the session past the TTL, then sweep.
	ctrl.mu.Lock()
	ctrl.lastEvent = time.Now().Add(-2 * time.Minute)
	ctrl.mu.Unlock()
	mgr.sweep()

	if _, ok := mgr.Get("user-1", ctrl.ID()); ok {
		t.Fatal("expected expired session to be removed")
	}
	if device.closes() != 1 {
		t.Fatalf("expected eviction to release the device, got %d closes", device.closes())
	}
}

func TestManagerSweepKeepsActiveSessions(t *testing.T) {
	mgr := newTestManager(&stubOpener{}, time.Hour)
	ctrl := mgr.Create("user-1")

	mgr.sweep()

	if _, ok := mgr.Get("user-1", ctrl.ID()); !ok {
		t.Fatal("expected active session to survive the sweep")
	}
}
