// Package connwatch monitors the simulator's one external dependency,
// the MQTT broker, with exponential backoff at startup and periodic
// background polling afterwards. The wire and control listeners have
// no upstreams, so a single-service watcher is all the simulator
// needs.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ProbeFunc checks whether the watched service is reachable. Return
// nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Config controls the watcher's timing.
type Config struct {
	// Name is a human-readable identifier for logging (e.g., "mqtt").
	Name string

	// Probe checks service health. Must be safe for concurrent use.
	Probe ProbeFunc

	// InitialDelay is the delay before the first retry (default: 2s).
	InitialDelay time.Duration

	// MaxDelay is the ceiling for backoff growth (default: 60s).
	MaxDelay time.Duration

	// MaxRetries is the number of startup probe attempts (default: 10).
	MaxRetries int

	// PollInterval is the background check interval once startup
	// settles (default: 60s).
	PollInterval time.Duration

	// ProbeTimeout limits each individual probe call (default: 10s).
	ProbeTimeout time.Duration

	// OnReady fires on the not-ready to ready transition. Optional.
	OnReady func()

	// OnDown fires on the ready to not-ready transition. Optional.
	OnDown func(err error)

	// Logger for structured logging. Uses slog.Default() if nil.
	Logger *slog.Logger
}

// Status is the watcher's health snapshot, suitable for JSON
// serialization in status endpoints.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher monitors one service's health.
type Watcher struct {
	cfg    Config
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	ready     bool
	lastErr   error
	lastCheck time.Time
}

// Watch starts a watcher. It runs in a background goroutine until ctx
// is cancelled or Stop is called.
//
// Panics if Name is empty or Probe is nil; these are programming
// errors to catch in development, not ignore at runtime.
func Watch(ctx context.Context, cfg Config) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: Config.Name must not be empty")
	}
	if cfg.Probe == nil {
		panic("connwatch: Config.Probe must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 2 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		cfg:    cfg,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.run(watchCtx)
	return w
}

// IsReady reports whether the watched service is currently reachable.
func (w *Watcher) IsReady() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}

// Status returns the current health snapshot.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Status{
		Name:      w.cfg.Name,
		Ready:     w.ready,
		LastCheck: w.lastCheck,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Stop cancels the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

// run is the watcher goroutine. Phase 1: startup probing with
// exponential backoff. Phase 2: periodic polling with transition
// callbacks.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	logger := w.cfg.Logger

	delay := w.cfg.InitialDelay
	for attempt := 1; attempt <= w.cfg.MaxRetries; attempt++ {
		err := w.probe(ctx)
		w.record(err, err == nil)

		if err == nil {
			logger.Info("service connected",
				"service", w.cfg.Name,
				"after_attempts", attempt,
			)
			if w.cfg.OnReady != nil {
				go w.cfg.OnReady()
			}
			break
		}

		if attempt == w.cfg.MaxRetries {
			logger.Info("startup connection failed, entering background polling",
				"service", w.cfg.Name,
				"attempts", attempt,
				"error", err,
			)
			break
		}

		logger.Debug("startup probe failed, retrying",
			"service", w.cfg.Name,
			"attempt", attempt,
			"next_delay", delay.String(),
			"error", err,
		)
		if !sleepCtx(ctx, delay) {
			return
		}
		delay *= 2
		if delay > w.cfg.MaxDelay {
			delay = w.cfg.MaxDelay
		}
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.probe(ctx)
			wasReady := w.IsReady()
			w.record(err, err == nil)

			switch {
			case wasReady && err != nil:
				logger.Info("service became unreachable",
					"service", w.cfg.Name, "error", err)
				if w.cfg.OnDown != nil {
					go w.cfg.OnDown(err)
				}
			case !wasReady && err == nil:
				logger.Info("service recovered", "service", w.cfg.Name)
				if w.cfg.OnReady != nil {
					go w.cfg.OnReady()
				}
			case !wasReady && err != nil:
				logger.Debug("service still unreachable",
					"service", w.cfg.Name, "error", err)
			}
		}
	}
}

func (w *Watcher) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.cfg.ProbeTimeout)
	defer cancel()
	return w.cfg.Probe(probeCtx)
}

func (w *Watcher) record(err error, ready bool) {
	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()
	w.ready = ready
	w.mu.Unlock()
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if
// cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
