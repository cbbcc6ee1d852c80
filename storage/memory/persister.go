package memory

import (
	"context"
	"sync"

	"github.com/giantswarm/oidc-provider/storage"
)

// Persister is a goroutine-safe, process-local storage.Persister.
type Persister struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ storage.Persister = (*Persister)(nil)

// NewPersister creates an empty in-memory persister.
func NewPersister() *Persister {
	return &Persister{data: make(map[string][]byte)}
}

// Load returns a copy of the bytes saved under key or storage.ErrNotFound.
func (p *Persister) Load(_ context.Context, key string) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	b, ok := p.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

// Save stores a copy of data under key.
func (p *Persister) Save(_ context.Context, key string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.data[key] = append([]byte(nil), data...)
	return nil
}
