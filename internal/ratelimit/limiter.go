package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrInvalidConfig = errors.New("invalid rate limit config")

type Config struct {
	MaxAttempts int
	Window      time.Duration
	Block       time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		Window:      15 * time.Minute,
		Block:       15 * time.Minute,
	}
}

func (c Config) Validate() error {
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("%w: max attempts must be positive", ErrInvalidConfig)
	}
	if c.Window <= 0 || c.Block <= 0 {
		return fmt.Errorf("%w: window and block must be positive", ErrInvalidConfig)
	}
	return nil
}

// Decision is the answer to CanAttempt. RetryAfter is only set when the
// attempt is denied.
type Decision struct {
	Allowed      bool
	AttemptsLeft int
	RetryAfter   time.Duration
	ResetAt      time.Time
}

type Stats struct {
	Identifier   string
	Count        int
	FirstAttempt time.Time
	LastAttempt  time.Time
	BlockedUntil *time.Time
}

type record struct {
	count        int
	first        time.Time
	last         time.Time
	blockedUntil time.Time
}

func (r *record) blocked(now time.Time) bool {
	return !r.blockedUntil.IsZero() && now.Before(r.blockedUntil)
}

// Limiter counts failed attempts per identifier inside a sliding window and
// blocks the identifier once the budget is spent. State lives in process
// memory only.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	records map[string]*record
	now     func() time.Time
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

func New(cfg Config, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Limiter{
		cfg:     cfg,
		records: make(map[string]*record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Limiter) CanAttempt(id string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec, ok := l.records[id]
	if !ok {
		return Decision{Allowed: true, AttemptsLeft: l.cfg.MaxAttempts}
	}

	if rec.blocked(now) {
		return Decision{
			AttemptsLeft: 0,
			RetryAfter:   nonNegative(rec.blockedUntil.Sub(now)),
			ResetAt:      rec.blockedUntil,
		}
	}

	if nonNegative(now.Sub(rec.first)) > l.cfg.Window {
		delete(l.records, id)
		return Decision{Allowed: true, AttemptsLeft: l.cfg.MaxAttempts}
	}

	if rec.count < l.cfg.MaxAttempts {
		return Decision{
			Allowed:      true,
			AttemptsLeft: l.cfg.MaxAttempts - rec.count,
			ResetAt:      rec.first.Add(l.cfg.Window),
		}
	}

	rec.blockedUntil = now.Add(l.cfg.Block)
	return Decision{
		AttemptsLeft: 0,
		RetryAfter:   l.cfg.Block,
		ResetAt:      rec.blockedUntil,
	}
}

// RecordAttempt forgets the identifier on success and counts a failure
// otherwise. It never blocks by itself; CanAttempt does.
func (l *Limiter) RecordAttempt(id string, success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if success {
		delete(l.records, id)
		return
	}

	now := l.now()
	rec, ok := l.records[id]
	if !ok {
		l.records[id] = &record{count: 1, first: now, last: now}
		return
	}
	rec.count++
	rec.last = now
}

// Sweep drops records whose window has passed and that are not blocked.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for id, rec := range l.records {
		if nonNegative(now.Sub(rec.first)) > l.cfg.Window && !rec.blocked(now) {
			delete(l.records, id)
			removed++
		}
	}
	return removed
}

func (l *Limiter) Stats(id string) (Stats, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok {
		return Stats{}, false
	}
	s := Stats{
		Identifier:   id,
		Count:        rec.count,
		FirstAttempt: rec.first,
		LastAttempt:  rec.last,
	}
	if !rec.blockedUntil.IsZero() {
		until := rec.blockedUntil
		s.BlockedUntil = &until
	}
	return s, true
}

func (l *Limiter) Config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// UpdateConfig swaps the limits. Existing records are kept and judged by the
// new values from the next call on.
func (l *Limiter) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
	return nil
}

func (l *Limiter) Reset() {
	l.mu.Lock()
	l.records = make(map[string]*record)
	l.mu.Unlock()
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
