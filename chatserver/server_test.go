package chatserver

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/config"
)

func newTestConfig(t *testing.T) *config.ServerSettings {
	t.Helper()
	return &config.ServerSettings{
		Listen:              "127.0.0.1:0",
		AdminListen:         "127.0.0.1:0",
		Blacklist:           map[string]bool{},
		MaxConnsPerIPPer30s: 2,
	}
}

type fakeAddr struct{ addr string }

func (f fakeAddr) Network() string { return "tcp" }
func (f fakeAddr) String() string  { return f.addr }

// fakeConn satisfies net.Conn with a fixed RemoteAddr, enough to drive
// admitConnection without a real socket.
type fakeConn struct {
	net.Conn
	remote string
	closed bool
}

func (f *fakeConn) RemoteAddr() net.Addr { return fakeAddr{f.remote} }
func (f *fakeConn) Close() error         { f.closed = true; return nil }

func TestAdmitConnectionRejectsBlacklistedIP(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Blacklist["10.0.0.5"] = true
	s := New(cfg)

	conn := &fakeConn{remote: "10.0.0.5:1234"}
	assert.False(t, s.admitConnection(conn))
	assert.True(t, conn.closed)
}

func TestAdmitConnectionAllowsUnlistedIP(t *testing.T) {
	cfg := newTestConfig(t)
	s := New(cfg)

	conn := &fakeConn{remote: "10.0.0.6:1234"}
	assert.True(t, s.admitConnection(conn))
	assert.False(t, conn.closed)
}

func TestAdmitConnectionEnforcesPerIPRateLimit(t *testing.T) {
	cfg := newTestConfig(t)
	s := New(cfg)
	ip := "10.0.0.7"

	for i := 0; i < cfg.MaxConnsPerIPPer30s; i++ {
		conn := &fakeConn{remote: ip + ":1234"}
		require.True(t, s.admitConnection(conn))
	}
	rejected := &fakeConn{remote: ip + ":9999"}
	assert.False(t, s.admitConnection(rejected))
	assert.True(t, rejected.closed)
}

func TestHostOfStripsPort(t *testing.T) {
	assert.Equal(t, "192.168.1.1", hostOf("192.168.1.1:5555"))
	assert.Equal(t, "noport", hostOf("noport"))
}

func TestRunStopsOnExternalStopSignal(t *testing.T) {
	cfg := newTestConfig(t)
	s := New(cfg)

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- s.Run(stop) }()

	time.Sleep(20 * time.Millisecond)
	close(stop)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to return after stop is closed")
	}
}

func TestRunStopsOnAdminShutdownCommand(t *testing.T) {
	cfg := newTestConfig(t)
	s := New(cfg)

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- s.Run(stop) }()

	time.Sleep(20 * time.Millisecond)
	s.requestShutdown()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to return after an admin shutdown request")
	}
}
