package ndnmgr

import (
	"sync"

	"github.com/buckyos/ndncore/internal/ndnerr"
)

// Registry looks up a NamedDataMgr by mgr_id (spec §4.5: "Per-zone
// singleton keyed by mgr_id"), generalized as an explicit, injectable
// registry rather than a package-level global map so ndnserver/ndnd
// wiring stays testable.
type Registry struct {
	mu   sync.RWMutex
	mgrs map[string]*Manager
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{mgrs: make(map[string]*Manager)}
}

// Register adds mgr under its own Id, replacing any prior registrant
// for the same mgr_id.
func (r *Registry) Register(mgr *Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mgrs[mgr.Id()] = mgr
}

// Get looks up the manager for mgrID.
func (r *Registry) Get(mgrID string) (*Manager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mgr, ok := r.mgrs[mgrID]
	if !ok {
		return nil, ndnerr.Wrap(ndnerr.ErrNotFound, "ndnmgr: unknown mgr_id "+mgrID, nil)
	}
	return mgr, nil
}

// Remove closes and discards the registrant for mgrID, if any.
func (r *Registry) Remove(mgrID string) error {
	r.mu.Lock()
	mgr, ok := r.mgrs[mgrID]
	delete(r.mgrs, mgrID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return mgr.Close()
}

// CloseAll closes every registered manager, for server shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	mgrs := make([]*Manager, 0, len(r.mgrs))
	for _, mgr := range r.mgrs {
		mgrs = append(mgrs, mgr)
	}
	r.mgrs = make(map[string]*Manager)
	r.mu.Unlock()

	for _, mgr := range mgrs {
		mgr.Close()
	}
}
