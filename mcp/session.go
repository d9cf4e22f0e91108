package mcp

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/agentloop/pkg/metricskey"
	"github.com/effective-security/xlog"
)

// ErrSessionNotFound is returned for calls carrying an unknown or
// already terminated session id.
var ErrSessionNotFound = errors.New("session not found")

// SessionState is the lifecycle state of one session.
type SessionState int

const (
	// SessionStateCreated is the state after the session id is issued
	// but before the client sent `initialize`.
	SessionStateCreated SessionState = iota
	// SessionStateInitialized is the state after a successful `initialize`.
	SessionStateInitialized
	// SessionStateActive is the state after `notifications/initialized`.
	SessionStateActive
	// SessionStateShutdown is terminal; the session id is invalid.
	SessionStateShutdown
)

func (s SessionState) String() string {
	switch s {
	case SessionStateCreated:
		return "created"
	case SessionStateInitialized:
		return "initialized"
	case SessionStateActive:
		return "active"
	case SessionStateShutdown:
		return "shutdown"
	}
	return "unknown"
}

// Session is one client session. The mutex serializes calls within the
// session; calls for different sessions run independently.
type Session struct {
	id string

	mu              sync.Mutex
	state           SessionState
	clientInfo      Implementation
	protocolVersion string
	createdAt       time.Time
	lastActive      time.Time
}

// ID returns the opaque session token.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ClientInfo returns the client implementation reported in `initialize`.
func (s *Session) ClientInfo() Implementation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientInfo
}

// ProtocolVersion returns the negotiated protocol version.
func (s *Session) ProtocolVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolVersion
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// sessionStore is the shared session registry. It owns the idle reaper,
// which runs independently of request handling and never blocks calls.
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	idleTimeout  time.Duration
	reapInterval time.Duration

	stopCh  chan struct{}
	stopped sync.WaitGroup
	once    sync.Once
}

func newSessionStore(idleTimeout, reapInterval time.Duration) *sessionStore {
	return &sessionStore{
		sessions:     make(map[string]*Session),
		idleTimeout:  idleTimeout,
		reapInterval: reapInterval,
		stopCh:       make(chan struct{}),
	}
}

// create registers a new session in the Created state under the given id.
func (st *sessionStore) create(id string) *Session {
	now := time.Now()
	s := &Session{
		id:         id,
		state:      SessionStateCreated,
		createdAt:  now,
		lastActive: now,
	}
	st.mu.Lock()
	st.sessions[id] = s
	st.mu.Unlock()
	return s
}

func (st *sessionStore) get(id string) (*Session, error) {
	st.mu.RLock()
	s := st.sessions[id]
	st.mu.RUnlock()
	if s == nil {
		return nil, errors.WithMessagef(ErrSessionNotFound, "session %s", id)
	}
	return s, nil
}

func (st *sessionStore) delete(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

func (st *sessionStore) count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// reap removes sessions with no activity since the idle cutoff and
// returns the number removed.
func (st *sessionStore) reap(now time.Time) int {
	cutoff := now.Add(-st.idleTimeout)

	st.mu.RLock()
	var expired []string
	for id, s := range st.sessions {
		if s.idleSince().Before(cutoff) {
			expired = append(expired, id)
		}
	}
	st.mu.RUnlock()

	for _, id := range expired {
		st.delete(id)
		metricskey.StatsMcpSessionsExpired.IncrCounter(1, "server")
		logger.KV(xlog.DEBUG,
			"status", "session_expired",
			"session", id,
		)
	}
	return len(expired)
}

// startReaper launches the idle reaper goroutine.
func (st *sessionStore) startReaper() {
	st.stopped.Add(1)
	go func() {
		defer st.stopped.Done()
		ticker := time.NewTicker(st.reapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-st.stopCh:
				return
			case now := <-ticker.C:
				st.reap(now)
			}
		}
	}()
}

// stopReaper stops the reaper and waits for it to exit.
// Safe to call multiple times.
func (st *sessionStore) stopReaper() {
	st.once.Do(func() {
		close(st.stopCh)
	})
	st.stopped.Wait()
}
