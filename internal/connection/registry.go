package connection

import (
	"sync"

	"nodewatch/internal/types"
)

// Registry keeps one Manager per wallet address for the process.
type Registry struct {
	mu       sync.Mutex
	managers map[string]*Manager
	closing  map[string]<-chan struct{}
	build    func(wallet string) *Manager
}

// NewRegistry uses build to create a manager the first time a wallet is seen.
func NewRegistry(build func(wallet string) *Manager) *Registry {
	return &Registry{
		managers: make(map[string]*Manager),
		closing:  make(map[string]<-chan struct{}),
		build:    build,
	}
}

// Acquire returns the wallet's manager. While a released manager of the same
// wallet is still closing its socket, Acquire waits for it first.
func (r *Registry) Acquire(wallet string) *Manager {
	key := types.NormalizeWallet(wallet)

	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		if m, ok := r.managers[key]; ok {
			return m
		}
		done, ok := r.closing[key]
		if !ok {
			break
		}
		r.mu.Unlock()
		<-done
		r.mu.Lock()
	}
	m := r.build(key)
	r.managers[key] = m
	return m
}

func (r *Registry) Get(wallet string) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[types.NormalizeWallet(wallet)]
	return m, ok
}

// Release disconnects and forgets the wallet's manager, returning once its
// socket is closed.
func (r *Registry) Release(wallet string) {
	key := types.NormalizeWallet(wallet)
	r.mu.Lock()
	m, ok := r.managers[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.managers, key)
	closed := make(chan struct{})
	r.closing[key] = closed
	r.mu.Unlock()

	m.Disconnect()
	<-m.Done()

	r.mu.Lock()
	delete(r.closing, key)
	r.mu.Unlock()
	close(closed)
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	managers := make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		managers = append(managers, m)
	}
	r.managers = make(map[string]*Manager)
	r.mu.Unlock()

	for _, m := range managers {
		m.Disconnect()
		<-m.Done()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.managers)
}
