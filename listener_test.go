package soapd

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopObject struct{}

func newTestServer() *Server {
	return &Server{
		NewServiceObject: func() any { return noopObject{} },
		Logger:           NewDiscardLogger(),
	}
}

// TestSuspendResume is spec.md §8's property #5: after suspend, a fresh
// connection attempt fails; after resume, the port is unchanged and
// connections succeed again.
func TestSuspendResume(t *testing.T) {
	s := newTestServer()
	require.NoError(t, s.ListenAndServe("127.0.0.1:0"))
	defer s.Close()

	addr := s.Port()
	require.NotEmpty(t, addr)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	conn.Close()

	require.NoError(t, s.Suspend())

	// Give the accept loop a moment to actually close the listening socket.
	require.Eventually(t, func() bool {
		_, dialErr := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		return dialErr != nil
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, s.Resume())
	assert.Equal(t, addr, s.Port())

	require.Eventually(t, func() bool {
		c, dialErr := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if dialErr != nil {
			return false
		}
		c.Close()
		return true
	}, time.Second, 10*time.Millisecond)
}

func TestResumeWithoutSuspendIsNoop(t *testing.T) {
	s := newTestServer()
	require.NoError(t, s.ListenAndServe("127.0.0.1:0"))
	defer s.Close()

	require.NoError(t, s.Resume())
	assert.NotEmpty(t, s.Port())
}

// TestAdmissionCeiling is spec.md §8's property #4: once MaxConnections
// live connections are held open, the next accepted connection is
// rejected and closed rather than queued.
func TestAdmissionCeiling(t *testing.T) {
	s := newTestServer()
	s.MaxConnections = 2
	require.NoError(t, s.ListenAndServe("127.0.0.1:0"))
	defer s.Close()

	addr := s.Port()

	c1, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer c1.Close()
	c2, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer c2.Close()

	// The third connection is accepted at the TCP level (the listener's
	// backlog admits it) but immediately closed by admit()'s ceiling check.
	c3, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer c3.Close()

	buf := make([]byte, 1)
	c3.SetReadDeadline(time.Now().Add(time.Second))
	_, readErr := c3.Read(buf)
	assert.Error(t, readErr, "the third connection should be closed by the server, not left hanging")
}

func TestCloseStopsAcceptLoop(t *testing.T) {
	s := newTestServer()
	require.NoError(t, s.ListenAndServe("127.0.0.1:0"))
	addr := s.Port()

	require.NoError(t, s.Close())

	_, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)
}
