// Package poller runs scoped polling sessions: a fetch function invoked on a
// fixed cadence with at most one call in flight, until it reports done, a
// fatal error, an attempt bound, or the session is stopped.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrExhausted is the session error when MaxAttempts fetches ran without the
// fetch reporting done.
var ErrExhausted = errors.New("poll attempts exhausted")

// Func performs one fetch. Returning done=true ends the session.
type Func func(ctx context.Context) (done bool, err error)

// Config describes a polling session.
type Config struct {
	Name     string
	Interval time.Duration
	// Immediate fires the first fetch at start instead of after Interval.
	Immediate bool
	// MaxAttempts bounds the number of fetches. Zero means unbounded.
	MaxAttempts int
	// StopOn reports whether a fetch error is fatal. Non-fatal errors wait
	// for the next tick.
	StopOn func(error) bool
}

// Session is a running polling loop. The next fetch is scheduled only after
// the previous one returns, so fetches never overlap.
type Session struct {
	cfg    Config
	fn     Func
	logger *slog.Logger

	cancel context.CancelFunc
	kick   chan struct{}
	done   chan struct{}

	inFlight atomic.Bool
	fetches  atomic.Int64

	mu  sync.Mutex
	err error
}

// Start launches a session. It ends when fn reports done, a fatal error
// occurs, MaxAttempts is reached, ctx is cancelled or Stop is called.
func Start(ctx context.Context, cfg Config, fn Func, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		cfg:    cfg,
		fn:     fn,
		logger: logger.With("poller", cfg.Name),
		cancel: cancel,
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

// Ended returns a session that has already finished without error and never
// fetches.
func Ended() *Session {
	s := &Session{
		cancel: func() {},
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	close(s.done)
	return s
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.cancel()

	first := s.cfg.Interval
	if s.cfg.Immediate {
		first = 0
	}
	timer := time.NewTimer(first)
	defer timer.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-s.kick:
			timer.Stop()
		}

		attempts++
		s.inFlight.Store(true)
		done, err := s.fn(ctx)
		s.inFlight.Store(false)
		s.fetches.Add(1)

		// Kicks that raced with the fetch are dropped.
		select {
		case <-s.kick:
		default:
		}

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if s.cfg.StopOn != nil && s.cfg.StopOn(err) {
				s.logger.Debug("poll stopped on fatal error", "error", err)
				s.setErr(err)
				return
			}
			s.logger.Debug("poll failed, waiting for next tick", "error", err)
		}
		if done {
			return
		}
		if s.cfg.MaxAttempts > 0 && attempts >= s.cfg.MaxAttempts {
			s.logger.Debug("poll attempts exhausted", "attempts", attempts)
			s.setErr(ErrExhausted)
			return
		}
		timer.Reset(s.cfg.Interval)
	}
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Kick requests an immediate fetch. It reports false when the kick was
// skipped because a fetch is in flight or the session has ended.
func (s *Session) Kick() bool {
	select {
	case <-s.done:
		return false
	default:
	}
	if s.inFlight.Load() {
		return false
	}
	select {
	case s.kick <- struct{}{}:
		return true
	default:
		return false
	}
}

// Stop ends the session and waits for the loop to exit. It is idempotent.
// It must not be called from within the session's own Func.
func (s *Session) Stop() {
	s.cancel()
	<-s.done
}

// Done is closed once the loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session ends and returns Err.
func (s *Session) Wait() error {
	<-s.done
	return s.Err()
}

// Err returns the fatal error or ErrExhausted that ended the session, or nil
// when it ended normally or has not ended.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Fetches returns how many fetches have completed.
func (s *Session) Fetches() int {
	return int(s.fetches.Load())
}
