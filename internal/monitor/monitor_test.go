package monitor

import (
	"testing"
	"time"

	"github.com/chartwork/mapsync/internal/logging"
)

func TestSample(t *testing.T) {
	s := NewService(Dependencies{
		LogManager:   logging.NewSlogManager(),
		SessionCount: func() int64 { return 7 },
	})

	sessions, goroutines, heapMB := s.Sample()
	if sessions != 7 {
		t.Errorf("expected 7 sessions, got %d", sessions)
	}
	if goroutines <= 0 {
		t.Errorf("expected positive goroutine count, got %d", goroutines)
	}
	if heapMB <= 0 {
		t.Errorf("expected positive heap usage, got %f", heapMB)
	}
}

func TestStartStop(t *testing.T) {
	s := NewService(Dependencies{
		LogManager: logging.NewSlogManager(),
		Interval:   time.Millisecond,
	})

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !s.IsRunning() {
		t.Fatal("monitor should be running")
	}

	// second Start is a no-op
	if err := s.Start(); err != nil {
		t.Fatalf("repeated Start failed: %v", err)
	}

	s.Stop()
	deadline := time.After(time.Second)
	for s.IsRunning() {
		select {
		case <-deadline:
			t.Fatal("monitor did not stop")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
