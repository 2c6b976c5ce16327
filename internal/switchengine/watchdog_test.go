package switchengine

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestWatchdogFiresAfterDeadline(t *testing.T) {
	var fired atomic.Int32
	var gotIndex atomic.Int32
	w := NewWatchdog(func(index int) {
		fired.Add(1)
		gotIndex.Store(int32(index))
	})

	w.Arm(3, 20*time.Millisecond)

	select {
	case <-time.After(200 * time.Millisecond):
	}
	if fired.Load() != 1 {
		t.Fatalf("expected exactly one timeout, got %d", fired.Load())
	}
	if gotIndex.Load() != 3 {
		t.Fatalf("expected index 3, got %d", gotIndex.Load())
	}
}

func TestWatchdogSuspendPreventsDelivery(t *testing.T) {
	var fired atomic.Int32
	w := NewWatchdog(func(int) { fired.Add(1) })

	w.Arm(0, 20*time.Millisecond)
	w.Suspend()

	time.Sleep(100 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("expected no timeout after suspend, got %d", fired.Load())
	}
}

func TestWatchdogRestartResetsDeadline(t *testing.T) {
	var fired atomic.Int32
	w := NewWatchdog(func(int) { fired.Add(1) })

	w.Arm(1, 50*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	w.Restart(50 * time.Millisecond)

	// Original deadline (50ms from first Arm) has now passed, but Restart
	// should have pushed it out; nothing should have fired yet.
	time.Sleep(30 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("expected restart to defer the deadline, got %d timeouts", fired.Load())
	}

	time.Sleep(50 * time.Millisecond)
	if fired.Load() != 1 {
		t.Fatalf("expected exactly one timeout after the restarted deadline, got %d", fired.Load())
	}
}

func TestWatchdogStaleFireIsDiscardedAfterReArm(t *testing.T) {
	var firedIndex []int
	w := NewWatchdog(func(index int) { firedIndex = append(firedIndex, index) })

	w.Arm(0, 10*time.Millisecond)
	// Re-arm before the first timer fires: the first timer's callback, if
	// it still runs, must observe a stale generation and do nothing.
	time.Sleep(1 * time.Millisecond)
	w.Arm(1, 100*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	if len(firedIndex) != 0 {
		t.Fatalf("expected no delivery yet, got %v", firedIndex)
	}
}
