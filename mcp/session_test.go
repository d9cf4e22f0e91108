package mcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func Test_SessionStore_Reap(t *testing.T) {
	t.Parallel()

	st := newSessionStore(time.Minute, time.Minute)

	idle := st.create("idle-session")
	active := st.create("active-session")
	require.Equal(t, 2, st.count())

	now := time.Now()
	idle.mu.Lock()
	idle.lastActive = now.Add(-2 * time.Minute)
	idle.mu.Unlock()
	active.touch(now)

	// only the idle session is removed
	removed := st.reap(now)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, st.count())

	_, err := st.get("idle-session")
	assert.EqualError(t, err, "session idle-session: session not found")

	got, err := st.get("active-session")
	require.NoError(t, err)
	assert.Equal(t, "active-session", got.ID())
}

func Test_SessionStore_ReaperLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := NewServer(nil,
		WithIdleTimeout(20*time.Millisecond),
		WithReapInterval(5*time.Millisecond),
	)
	srv.Start()

	session := srv.CreateSession("short-lived")
	require.Equal(t, 1, srv.SessionCount())

	assert.Eventually(t, func() bool {
		return srv.SessionCount() == 0
	}, time.Second, 5*time.Millisecond, "session %s should be reaped", session.ID())

	require.NoError(t, srv.Close())
	// Close is idempotent
	require.NoError(t, srv.Close())
}

func Test_SessionState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "created", SessionStateCreated.String())
	assert.Equal(t, "initialized", SessionStateInitialized.String())
	assert.Equal(t, "active", SessionStateActive.String())
	assert.Equal(t, "shutdown", SessionStateShutdown.String())
	assert.Equal(t, "unknown", SessionState(42).String())
}
