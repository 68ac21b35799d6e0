// Package monitor samples server health on an interval and ships it to
// the metrics sink.
package monitor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/chartwork/mapsync/internal/influx"
	"github.com/chartwork/mapsync/internal/logging"
)

const serverBucket = "server_performance"

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Influx     *influx.Manager
	LogManager *logging.SlogManager

	// SessionCount reports the live websocket sessions.
	SessionCount func() int64

	Interval time.Duration
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	startTime time.Time
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = 10 * time.Second
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Sample takes one health sample.
func (s *Service) Sample() (sessions int64, goroutines int, heapAllocMB float64) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	if s.deps.SessionCount != nil {
		sessions = s.deps.SessionCount()
	}
	return sessions, runtime.NumGoroutine(), float64(mem.HeapAlloc) / (1024 * 1024)
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.startTime = time.Now()
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger := s.deps.LogManager.Logger()
		logger.Debug("Starting status monitor goroutine")

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				sessions, goroutines, heapMB := s.Sample()

				if s.deps.Influx == nil {
					continue
				}
				point := influx.NewServerPoint(sessions, goroutines, heapMB, time.Since(s.startTime))
				if err := s.deps.Influx.WritePoint(context.Background(), serverBucket, point); err != nil {
					logger.Error("Error writing performance sample", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		close(s.stopChan)
	}
}
