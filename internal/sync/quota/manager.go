// Package quota tracks consumption of the daily external-API quota,
// partitioned into named pools.
package quota

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pool names. The sync pool covers metadata polling and download planning;
// the signup pool is reserved by the onboarding surface and only observed
// here so the two never borrow from each other.
const (
	PoolSync   = "sync"
	PoolSignup = "signup"
)

// Default daily caps.
const (
	DefaultSyncCap   = 9500
	DefaultSignupCap = 500
)

type pool struct {
	cap  int
	used int
}

// Manager is the quota accountant. Reservations are non-refundable; both
// pools reset together at UTC midnight.
type Manager struct {
	mu    sync.Mutex
	pools map[string]*pool
	day   time.Time
	now   func() time.Time
	log   *zap.Logger
}

// NewManager creates a quota manager with the given per-pool caps. Non-positive
// caps fall back to the defaults.
func NewManager(syncCap, signupCap int, log *zap.Logger) *Manager {
	if syncCap <= 0 {
		syncCap = DefaultSyncCap
	}
	if signupCap <= 0 {
		signupCap = DefaultSignupCap
	}
	if log == nil {
		log = zap.NewNop()
	}

	m := &Manager{
		pools: map[string]*pool{
			PoolSync:   {cap: syncCap},
			PoolSignup: {cap: signupCap},
		},
		now: time.Now,
		log: log,
	}
	m.day = utcDay(m.now())
	return m
}

// WithClock overrides the time source; used in tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	m.day = utcDay(now())
	return m
}

// Reserve attempts to take n units from the named pool. It returns false when
// the reservation would exceed the pool's daily cap. Reservations cannot be
// refunded.
func (m *Manager) Reserve(poolName string, n int) bool {
	if n <= 0 {
		return true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverLocked()

	p, ok := m.pools[poolName]
	if !ok {
		return false
	}
	if p.used+n > p.cap {
		m.log.Warn("quota reservation rejected",
			zap.String("pool", poolName),
			zap.Int("requested", n),
			zap.Int("used", p.used),
			zap.Int("cap", p.cap),
		)
		return false
	}
	p.used += n
	return true
}

// Remaining reports the unreserved units in a pool.
func (m *Manager) Remaining(poolName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverLocked()

	p, ok := m.pools[poolName]
	if !ok {
		return 0
	}
	return p.cap - p.used
}

// Usage reports used/cap for a pool.
func (m *Manager) Usage(poolName string) (used, capacity int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverLocked()

	p, ok := m.pools[poolName]
	if !ok {
		return 0, 0
	}
	return p.used, p.cap
}

// Reset zeroes all pools. The orchestrator calls this at UTC midnight;
// rollover also happens lazily on first use of a new day.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.pools {
		p.used = 0
	}
	m.day = utcDay(m.now())
	m.log.Info("daily quota pools reset")
}

// NextResetIn returns the duration until the next UTC midnight.
func (m *Manager) NextResetIn() time.Duration {
	now := m.now().UTC()
	next := utcDay(now).Add(24 * time.Hour)
	return next.Sub(now)
}

func (m *Manager) rolloverLocked() {
	today := utcDay(m.now())
	if today.After(m.day) {
		for _, p := range m.pools {
			p.used = 0
		}
		m.day = today
	}
}

func utcDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ErrQuotaExceeded signals that a sync cycle must abort until the next reset.
type ErrQuotaExceeded struct {
	Pool string
}

func (e *ErrQuotaExceeded) Error() string {
	return fmt.Sprintf("QuotaLimitExceeded: daily %s quota exhausted", e.Pool)
}
