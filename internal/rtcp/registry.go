package rtcp

import (
	"fmt"
	"net"
	"sync"

	"github.com/buckyos/ndncore/internal/ndnmetrics"
)

// waitEntry is one pending ROpen claim: either nobody has connected
// yet (ch open, unfulfilled) or a back-dialed conn has already
// arrived and is sitting in ch waiting for the waiter to collect it.
type waitEntry struct {
	ch chan net.Conn
}

// Registry is the process-wide state backing spec §4.8's tunnel
// registry invariants: at most one Open tunnel per (this_device, peer)
// pair, and a (this_device, session_key) -> WaitingStream map for
// pending ROpen claims. It replaces the teacher's global mutable maps
// (Design Notes §9: "a process-wide state struct with an explicit
// initializer; components receive handles instead of reaching into
// globals").
type Registry struct {
	thisDevice string
	metrics    *ndnmetrics.Metrics

	mu      sync.Mutex
	tunnels map[string]*RTcpTunnel // keyed by peer id
	waiting map[string]*waitEntry  // keyed by session_key
}

// NewRegistry builds a Registry scoped to thisDevice.
func NewRegistry(thisDevice string, metrics *ndnmetrics.Metrics) *Registry {
	return &Registry{
		thisDevice: thisDevice,
		metrics:    metrics,
		tunnels:    make(map[string]*RTcpTunnel),
		waiting:    make(map[string]*waitEntry),
	}
}

// setTunnel installs t as the active tunnel for peerID, closing and
// replacing any previous one so "at most one Open tunnel" holds
// (spec §8: "Tunnel at-most-one").
func (r *Registry) setTunnel(peerID string, t *RTcpTunnel) {
	r.mu.Lock()
	old := r.tunnels[peerID]
	r.tunnels[peerID] = t
	n := len(r.tunnels)
	r.mu.Unlock()

	if old != nil && old != t {
		old.Close()
	}
	if r.metrics != nil {
		r.metrics.TunnelsOpenGauge.Set(float64(n))
	}
}

// getTunnel returns the active tunnel for peerID, if any.
func (r *Registry) getTunnel(peerID string) (*RTcpTunnel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tunnels[peerID]
	return t, ok
}

// removeTunnel drops t from the registry if it is still the current
// entry for peerID (a later re-dial may have already replaced it).
func (r *Registry) removeTunnel(peerID string, t *RTcpTunnel) {
	r.mu.Lock()
	if r.tunnels[peerID] == t {
		delete(r.tunnels, peerID)
	}
	n := len(r.tunnels)
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.TunnelsOpenGauge.Set(float64(n))
	}
}

// registerWait opens a pending ROpen claim for sessionKey, returning
// the channel a HelloStream claim will deliver the back-dialed conn
// to. The map key is namespaced by this_device, matching the original
// source's "{this_device}_{session_key}" WAIT_ROPEN_STREAM_MAP keys, so
// a Registry shared by more than one local device identity never
// collides on session key alone.
func (r *Registry) registerWait(sessionKey string) chan net.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan net.Conn, 1)
	r.waiting[r.realKey(sessionKey)] = &waitEntry{ch: ch}
	return ch
}

// unregisterWait removes a pending claim, used when OpenStream times
// out or fails so a late HelloStream has nowhere to deliver to.
func (r *Registry) unregisterWait(sessionKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waiting, r.realKey(sessionKey))
}

// claimWait hands conn to the waiter registered under sessionKey, per
// spec §4.8: "a HelloStream with matching session_key hands the raw
// stream to the waiter". Returns false if no waiter is registered, or
// it already received a stream; conn is then left open for the caller
// to close.
func (r *Registry) claimWait(sessionKey string, conn net.Conn) bool {
	key := r.realKey(sessionKey)
	r.mu.Lock()
	entry, ok := r.waiting[key]
	if ok {
		delete(r.waiting, key)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case entry.ch <- conn:
		return true
	default:
		return false
	}
}

func (r *Registry) realKey(sessionKey string) string {
	return fmt.Sprintf("%s_%s", r.thisDevice, sessionKey)
}
