package timectrl

import (
	"context"
	"testing"
	"time"
)

func TestTimeControllerSetTime(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Second, RealTime)

	newNow := start.Add(42 * time.Second)
	tc.SetTime(newNow)

	if got := tc.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
}

func TestTimeControllerStepNotifiesListeners(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, 2*time.Second, Accelerated)

	var ticks []int
	tc.AddListener(func(tick int, simTime time.Time) {
		ticks = append(ticks, tick)
		if want := start.Add(time.Duration(tick) * 2 * time.Second); !simTime.Equal(want) {
			t.Fatalf("tick %d simTime = %v, want %v", tick, simTime, want)
		}
	})

	tc.Step()
	tc.Step()
	if len(ticks) != 2 || ticks[1] != 2 || tc.Ticks() != 2 {
		t.Fatalf("ticks = %v (count %d), want [1 2]", ticks, tc.Ticks())
	}
}

func TestTimeControllerStartUpdatesNow(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, 5*time.Millisecond, RealTime)

	done := tc.Start(context.Background(), 15*time.Millisecond)
	<-done

	expected := start.Add(15 * time.Millisecond)
	if got := tc.Now(); !got.Equal(expected) {
		t.Fatalf("Now() = %v, want %v", got, expected)
	}
}

func TestTimeControllerAcceleratedRunsWithoutWaiting(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Hour, Accelerated)

	began := time.Now()
	<-tc.Start(context.Background(), 24*time.Hour)
	if time.Since(began) > 5*time.Second {
		t.Fatalf("accelerated run took %v", time.Since(began))
	}
	if tc.Ticks() != 24 {
		t.Fatalf("Ticks() = %d, want 24", tc.Ticks())
	}
}

func TestTimeControllerStopsOnCancel(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Millisecond, RealTime)

	ctx, cancel := context.WithCancel(context.Background())
	done := tc.Start(ctx, 0)
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("controller did not stop after cancellation")
	}
}
