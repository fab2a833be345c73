// Package registry maintains the domain-to-deployment routing table shared
// between the lifecycle reactor (sole writer) and the request dispatcher
// (many concurrent readers).
package registry

import (
	"sync"

	"github.com/lagonhq/lagon-node/internal/deployment"
)

// Registry is a concurrent domain -> Deployment map. Individual bindings are
// atomic; a multi-domain update (BindAll/UnbindAll) is not globally atomic,
// so a reader may briefly observe a partial update across domains. This is
// acceptable because a deployment's domain set is disjoint from every other
// deployment's in steady state.
type Registry struct {
	mu      sync.RWMutex
	domains map[string]*deployment.Deployment
	byID    map[string]*deployment.Deployment
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		domains: make(map[string]*deployment.Deployment),
		byID:    make(map[string]*deployment.Deployment),
	}
}

// Lookup resolves a Host header to a Deployment. It is non-blocking and
// takes only a read lock.
func (r *Registry) Lookup(host string) (*deployment.Deployment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.domains[host]
	return d, ok
}

// ByID resolves a deployment by its id, independent of domain binding. Used
// by the reactor to recover a full record for Undeploy/Promote, and by the
// worker pool to build IsolateOptions on get-or-create.
func (r *Registry) ByID(id string) (*deployment.Deployment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// BindAll inserts d under every domain in domains, overwriting any prior
// binding for that domain, and indexes it by id.
func (r *Registry) BindAll(domains []string, d *deployment.Deployment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dom := range domains {
		r.domains[dom] = d
	}
	r.byID[d.ID] = d
}

// UnbindAll removes every listed domain from the registry. The id index
// entry is left untouched here: a Promote rebinds the same id's domains
// before an Undeploy would ever remove it, and Undeploy callers should use
// Forget to drop the id index explicitly once done.
func (r *Registry) UnbindAll(domains []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dom := range domains {
		delete(r.domains, dom)
	}
}

// Forget removes a deployment's id-index entry. Called by the reactor once
// a deployment is fully undeployed.
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// Iter returns a snapshot of the current domain -> Deployment mapping. It is
// safe to call concurrently with mutation; the snapshot reflects the state
// at the moment of the call and does not block subsequent writes.
func (r *Registry) Iter() map[string]*deployment.Deployment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*deployment.Deployment, len(r.domains))
	for k, v := range r.domains {
		out[k] = v
	}
	return out
}
