// Package session implements the Session & Context component of spec.md
// §4.9: each Orchestrator call gets an isolated Session with an id,
// creation time, expiration, and a child context used to propagate
// cancellation and deadlines through the Runner and Client. Session data
// is held in memory only; a background janitor reclaims expired sessions.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orc-run/agentmesh/internal/telemetry"
)

// DefaultTTL matches spec.md §4.9's default session expiration.
const DefaultTTL = 30 * time.Minute

// DefaultJanitorInterval is how often the Manager sweeps for expired
// sessions; a fraction of DefaultTTL so expired sessions don't linger
// long past their deadline.
const DefaultJanitorInterval = time.Minute

// Session is one isolated execution context. Its Context is a child of
// whatever context the Orchestrator was invoked with; canceling it (via
// Cancel or janitor expiry) propagates into the Runner and Client exactly
// as described in spec.md §5's cancellation model.
type Session struct {
	id        string
	createdAt time.Time
	expiresAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc

	journal *Journal
}

// ID returns the session's durable identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// ExpiresAt returns the time after which the janitor will cancel this
// session.
func (s *Session) ExpiresAt() time.Time { return s.expiresAt }

// Context returns the session's cancellation/deadline handle. The
// Orchestrator, Runner, and Client all derive their own per-call contexts
// from this one.
func (s *Session) Context() context.Context { return s.ctx }

// Cancel ends the session immediately, propagating cancellation to every
// derived context.
func (s *Session) Cancel() { s.cancel() }

// Journal returns the session's append-only execution-history ring
// buffer, used by the Orchestrator's LEARNING phase (spec.md §4.8 step 7).
// The journal is opaque to other components: they append entries but
// never interpret them.
func (s *Session) Journal() *Journal { return s.journal }

// Manager creates and tracks Sessions and reclaims expired ones.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	ttl              time.Duration
	janitorInterval  time.Duration
	journalCapacity  int
	logger           telemetry.Logger
	metrics          telemetry.Metrics
	stopCh           chan struct{}
	stopOnce         sync.Once
	wg               sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithJanitorInterval overrides DefaultJanitorInterval.
func WithJanitorInterval(interval time.Duration) Option {
	return func(m *Manager) { m.janitorInterval = interval }
}

// WithJournalCapacity overrides the per-session journal ring buffer size
// (default DefaultJournalCapacity).
func WithJournalCapacity(capacity int) Option {
	return func(m *Manager) { m.journalCapacity = capacity }
}

// WithLogger sets the Manager's logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics sets the Manager's metrics recorder.
func WithMetrics(metrics telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager constructs a Manager. Call StartJanitor to begin background
// expiry sweeps; a Manager with no janitor running still enforces
// expiration lazily on Get.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions:        make(map[string]*Session),
		ttl:             DefaultTTL,
		janitorInterval: DefaultJanitorInterval,
		journalCapacity: DefaultJournalCapacity,
		logger:          telemetry.NewNoopLogger(),
		metrics:         telemetry.NewNoopMetrics(),
		stopCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create starts a new Session whose Context is a child of parent.
func (m *Manager) Create(parent context.Context) *Session {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	now := time.Now()
	s := &Session{
		id:        uuid.NewString(),
		createdAt: now,
		expiresAt: now.Add(m.ttl),
		ctx:       ctx,
		cancel:    cancel,
		journal:   newJournal(m.journalCapacity),
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.metrics.IncCounter("session_created_total", 1)
	return s
}

// Get returns the session for id. A session past its expiry is treated
// as absent (and cancelled/evicted) even if the janitor hasn't swept it
// yet.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(s.expiresAt) {
		m.evict(id, s)
		return nil, false
	}
	return s, true
}

// End cancels and removes a session immediately, independent of its
// expiry.
func (m *Manager) End(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if ok {
		s.Cancel()
	}
}

// Count returns the number of tracked sessions, including ones past
// expiry but not yet swept.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) evict(id string, s *Session) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	s.Cancel()
}

// StartJanitor launches the background sweep goroutine described in
// spec.md §4.9 ("a background janitor task scans sessions older than
// expiration and cancels their contexts"). Call StopJanitor (or cancel
// ctx) to stop it.
func (m *Manager) StartJanitor(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep(ctx)
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			}
		}
	}()
}

// StopJanitor stops a running janitor goroutine and waits for it to
// exit.
func (m *Manager) StopJanitor() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Manager) sweep(ctx context.Context) {
	now := time.Now()
	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if now.After(s.expiresAt) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Cancel()
		m.logger.Info(ctx, "session: expired", "session_id", s.id)
		m.metrics.IncCounter("session_expired_total", 1)
	}
}
