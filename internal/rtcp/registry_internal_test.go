package rtcp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryClaimWaitDeliversToWaiter(t *testing.T) {
	r := NewRegistry("device-a", nil)
	ch := r.registerWait("session-1")

	client, server := net.Pipe()
	defer client.Close()
	go server.Close()

	ok := r.claimWait("session-1", server)
	assert.True(t, ok)
	got := <-ch
	assert.Equal(t, server, got)
}

func TestRegistryClaimWaitWithoutWaiterFails(t *testing.T) {
	r := NewRegistry("device-a", nil)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ok := r.claimWait("no-such-session", server)
	assert.False(t, ok)
}

func TestRegistryUnregisterWaitPreventsLateClaim(t *testing.T) {
	r := NewRegistry("device-a", nil)
	r.registerWait("session-2")
	r.unregisterWait("session-2")

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ok := r.claimWait("session-2", server)
	assert.False(t, ok)
}

func TestRegistryNamespacesSessionKeyByDevice(t *testing.T) {
	a := NewRegistry("device-a", nil)
	b := NewRegistry("device-b", nil)
	assert.NotEqual(t, a.realKey("k"), b.realKey("k"))
}

func TestRegistrySetTunnelClosesPrevious(t *testing.T) {
	r := NewRegistry("device-a", nil)
	_, s1 := net.Pipe()
	_, s2 := net.Pipe()
	t1 := newTunnel(Config{}.withDefaults(), r, "peer", "127.0.0.1", DefaultStackPort, s1)
	t2 := newTunnel(Config{}.withDefaults(), r, "peer", "127.0.0.1", DefaultStackPort, s2)

	r.tunnels["peer"] = t1
	r.setTunnel("peer", t2)

	got, ok := r.getTunnel("peer")
	require.True(t, ok)
	assert.Same(t, t2, got)
	assert.Equal(t, StateClosed, t1.State())
}
