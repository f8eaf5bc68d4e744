package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/nicktill/tinylens/pkg/config"
	"github.com/nicktill/tinylens/pkg/logger"
	"github.com/nicktill/tinylens/pkg/server/monitor"
)

const (
	serverReadTimeout  = 15 * time.Second
	serverWriteTimeout = 60 * time.Second
	shutdownTimeout    = 30 * time.Second
	taskStopTimeout    = 5 * time.Second
	gcDiscardRatio     = 0.5
)

// GarbageCollector is implemented by storage backends with a value log.
type GarbageCollector interface {
	RunGC(discardRatio float64) error
}

// RunBadgerGC runs value log garbage collection every config.BadgerGCInterval.
// A failed run is retried with exponential backoff before waiting for the
// next tick.
func RunBadgerGC(ctx context.Context, gc GarbageCollector, gm *monitor.GCMonitor, log logger.Logger) {
	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	log.Info("badger GC scheduler started", "interval", config.BadgerGCInterval)

	for {
		select {
		case <-ticker.C:
			runGCWithRetry(ctx, gc, gm, log, config.BadgerGCBackoffBase)
		case <-ctx.Done():
			log.Info("stopping badger GC scheduler")
			return
		}
	}
}

func runGCWithRetry(ctx context.Context, gc GarbageCollector, gm *monitor.GCMonitor, log logger.Logger, baseDelay time.Duration) {
	for attempt := 0; attempt <= config.BadgerGCRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(1<<(attempt-1))
			log.Warn("retrying badger GC", "delay", delay, "attempt", attempt+1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}

		start := time.Now()
		err := gc.RunGC(gcDiscardRatio)
		if err == nil {
			gm.RecordSuccess()
			log.Debug("badger GC completed", "duration", time.Since(start).Round(time.Millisecond))
			return
		}

		gm.RecordFailure(err)
		log.Warn("badger GC failed", "attempt", attempt+1, "error", err)
	}

	log.Error("badger GC failed after retries, waiting for next schedule", "attempts", config.BadgerGCRetries+1)
}

// Run serves HTTP on the configured port until ctx is cancelled, then
// shuts down gracefully and stops background tasks.
func (s *Server) Run(ctx context.Context) error {
	taskCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.hub.Run(taskCtx)
	}()

	if gc, ok := s.store.(GarbageCollector); ok && !s.cfg.InMemory {
		wg.Add(1)
		go func() {
			defer wg.Done()
			RunBadgerGC(taskCtx, gc, s.gcMonitor, s.logger.With("component", "gc"))
		}()
	}

	srv := &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.Router(),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		s.logger.Error("server failed", "error", serveErr)
	}

	// Stop background tasks first; the hub closes client connections.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("server shutdown warning", "error", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("background tasks stopped")
	case <-time.After(taskStopTimeout):
		s.logger.Warn("some background tasks did not stop in time")
	}

	return serveErr
}
