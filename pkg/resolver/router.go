package resolver

import (
	"context"
	"fmt"
	"sync"
)

// Router dispatches resolution by DID method. Methods are registered
// explicitly by the host application.
type Router struct {
	mu      sync.RWMutex
	methods map[string]Resolver
}

func NewRouter() *Router {
	return &Router{methods: make(map[string]Resolver)}
}

// Register routes DIDs of the given method (e.g. "key", "web") to r.
func (r *Router) Register(method string, res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[method] = res
}

func (r *Router) Resolve(ctx context.Context, did string) (*Document, error) {
	method, _, err := ParseDID(did)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	res, ok := r.methods[method]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", did, ErrUnsupportedMethod)
	}
	return res.Resolve(ctx, did)
}
