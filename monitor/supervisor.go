package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/condorfx/mailroom/store"
)

// Poll cadence bounds enforced at the control surface.
const (
	MinInterval = 10 * time.Second
	MaxInterval = 3600 * time.Second
)

var (
	// ErrAlreadyRunning reports an idempotent start on an active supervisor.
	ErrAlreadyRunning = errors.New("monitor: monitoring already active")
	// ErrIntervalOutOfRange rejects cadences outside [10s, 3600s].
	ErrIntervalOutOfRange = errors.New("monitor: interval out of range")
	// ErrNotInitialized reports control operations before Initialize.
	ErrNotInitialized = errors.New("monitor: not initialized")
)

// Status is the supervisor snapshot exposed to collaborators.
type Status struct {
	Initialized           bool   `json:"initialized"`
	MonitoringActive      bool   `json:"monitoring_active"`
	MonitoringEmail       string `json:"monitoring_email"`
	LastHistoryID         uint64 `json:"last_history_id"`
	ProcessedMessageCount int64  `json:"processed_message_count"`
}

// Supervisor owns the poller's lifetime. It is the lifecycle value handed to
// handlers: no process-wide singletons, everything reachable from here.
type Supervisor struct {
	poller *Poller
	cursor *store.CursorStore
	ledger *store.Ledger
	email  string
	logger zerolog.Logger

	mu          sync.Mutex
	initialized bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewSupervisor wires the lifecycle supervisor.
func NewSupervisor(poller *Poller, cursor *store.CursorStore, ledger *store.Ledger, email string, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		poller: poller,
		cursor: cursor,
		ledger: ledger,
		email:  email,
		logger: logger.With().Str("component", "supervisor").Logger(),
	}
}

// Initialize seeds the history cursor when absent. Idempotent: repeated calls
// never reset the cursor or the ledger.
func (s *Supervisor) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	if _, _, err := s.poller.EnsureCursor(ctx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	s.initialized = true
	s.logger.Info().Str("mailbox", s.email).Msg("ingestion initialized")
	return nil
}

// CheckNow runs one poll tick outside the schedule.
func (s *Supervisor) CheckNow(ctx context.Context) (*TickResult, error) {
	s.mu.Lock()
	initialized := s.initialized
	s.mu.Unlock()
	if !initialized {
		return nil, ErrNotInitialized
	}
	return s.poller.Tick(ctx)
}

// Start spawns the poller at the given cadence. A second start while running
// reports ErrAlreadyRunning and changes nothing.
func (s *Supervisor) Start(interval time.Duration) error {
	if interval < MinInterval || interval > MaxInterval {
		return fmt.Errorf("%w: %s not in [%s, %s]", ErrIntervalOutOfRange, interval, MinInterval, MaxInterval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	if s.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		if err := s.poller.Run(ctx, interval); err != nil {
			s.logger.Error().Err(err).Msg("monitoring stopped on fatal error")
		}
		// Mark inactive whether the loop was cancelled or died on its own.
		s.mu.Lock()
		if s.done == done {
			s.cancel = nil
			s.done = nil
		}
		s.mu.Unlock()
	}()

	s.logger.Info().Dur("interval", interval).Str("mailbox", s.email).Msg("monitoring started")
	return nil
}

// Stop cancels the poller and awaits graceful shutdown. The in-flight tick
// finishes its current message first; partial progress is preserved.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("stop monitoring: %w", ctx.Err())
	}
	s.logger.Info().Msg("monitoring stopped")
	return nil
}

// Running reports whether the poller task is active.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Status returns the supervisor snapshot.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	initialized := s.initialized
	active := s.cancel != nil
	s.mu.Unlock()

	var lastHistoryID uint64
	if value, _, ok, err := s.cursor.Read(); err == nil && ok {
		lastHistoryID = value
	} else if err != nil {
		s.logger.Warn().Err(err).Msg("status: cursor read failed")
	}

	return Status{
		Initialized:           initialized,
		MonitoringActive:      active,
		MonitoringEmail:       s.email,
		LastHistoryID:         lastHistoryID,
		ProcessedMessageCount: s.ledger.Count(),
	}
}
