package adminsrv

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/congestion"
	"chatrelay/dispatch"
	"chatrelay/fault"
	"chatrelay/registry"
	"chatrelay/sendpipe"
)

func newTestServer(t *testing.T) (*Server, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	disp := dispatch.New(reg)
	inj := fault.New()
	return New(reg, disp, inj, NewStats(), nil), reg
}

func addTestConnection(t *testing.T, reg *registry.Registry, id, username string) net.Conn {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })
	controller := congestion.New()
	pipe := sendpipe.New(server, controller, id)
	c := registry.New(id, "10.0.0.1:9999", server, controller, pipe, nil)
	if username != "" {
		c.SetUsername(username)
	}
	reg.Add(c)
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := client.Read(buf); err != nil {
				return
			}
		}
	}()
	return client
}

func TestGetStatsReportsConnectedClients(t *testing.T) {
	s, reg := newTestServer(t)
	addTestConnection(t, reg, "client_1", "alice")

	resp := s.handleGetStats()
	assert.Equal(t, 1, resp["connected_clients"])
	details, ok := resp["client_details"].(map[string]any)
	require.True(t, ok)
	entry, ok := details["client_1"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice", entry["username"])
}

func TestGetClientsListsEveryConnection(t *testing.T) {
	s, reg := newTestServer(t)
	addTestConnection(t, reg, "client_1", "alice")
	addTestConnection(t, reg, "client_2", "bob")

	resp := s.handleGetClients()
	clients, ok := resp["clients"].([]map[string]any)
	require.True(t, ok)
	assert.Len(t, clients, 2)
}

func TestKickClientClosesConnection(t *testing.T) {
	s, reg := newTestServer(t)
	addTestConnection(t, reg, "client_1", "alice")

	params, _ := json.Marshal(clientIDParams{ClientID: "client_1"})
	resp := s.handleKickClient(params)
	assert.Equal(t, true, resp["ok"])

	c, ok := reg.Get("client_1")
	require.True(t, ok)
	assert.False(t, c.Running())
}

func TestKickUnknownClientReturnsError(t *testing.T) {
	s, _ := newTestServer(t)
	params, _ := json.Marshal(clientIDParams{ClientID: "ghost"})
	resp := s.handleKickClient(params)
	assert.Contains(t, resp, "error")
}

func TestSetNetworkSimConfiguresInjector(t *testing.T) {
	s, _ := newTestServer(t)
	params, _ := json.Marshal(networkSimParams{PacketLossRate: 0.5, Delay: 0.25})
	resp := s.handleSetNetworkSim(params)
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, 0.5, s.injector.LossRate())
	assert.Equal(t, 250*time.Millisecond, s.injector.Delay())
}

func TestShutdownInvokesCallback(t *testing.T) {
	s, _ := newTestServer(t)
	done := make(chan struct{})
	s.Shutdown = func() { close(done) }

	resp := s.handleShutdown()
	assert.Equal(t, true, resp["ok"])

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Shutdown callback to run")
	}
}
