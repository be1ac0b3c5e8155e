// Package storage holds the named registry of state and document backends.
// Backends are registered explicitly by the caller; nothing registers itself.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/JakeFAU/registry-harvester/internal/harvest"
)

// StateFactory opens a state backend.
type StateFactory func(ctx context.Context) (harvest.StateStore, error)

// BlobFactory opens a document backend.
type BlobFactory func(ctx context.Context) (harvest.BlobStore, error)

// Registry maps backend names to factories.
type Registry struct {
	mu    sync.RWMutex
	state map[string]StateFactory
	blobs map[string]BlobFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		state: make(map[string]StateFactory),
		blobs: make(map[string]BlobFactory),
	}
}

// RegisterState adds a named state backend.
func (r *Registry) RegisterState(name string, factory StateFactory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("state backend name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.state[name]; exists {
		return fmt.Errorf("state backend %q already registered", name)
	}
	r.state[name] = factory
	return nil
}

// RegisterBlob adds a named document backend.
func (r *Registry) RegisterBlob(name string, factory BlobFactory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("blob backend name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.blobs[name]; exists {
		return fmt.Errorf("blob backend %q already registered", name)
	}
	r.blobs[name] = factory
	return nil
}

// StateNames lists registered state backends in sorted order.
func (r *Registry) StateNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.state))
	for name := range r.state {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BlobNames lists registered document backends in sorted order.
func (r *Registry) BlobNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.blobs))
	for name := range r.blobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Backend is an opened pair of state and document stores.
type Backend struct {
	State harvest.StateStore
	Blobs harvest.BlobStore
}

// Open builds the named state and document backends.
func (r *Registry) Open(ctx context.Context, stateName, blobName string) (*Backend, error) {
	r.mu.RLock()
	stateFactory, okState := r.state[stateName]
	blobFactory, okBlob := r.blobs[blobName]
	r.mu.RUnlock()

	if !okState {
		return nil, fmt.Errorf("unknown state backend %q", stateName)
	}
	if !okBlob {
		return nil, fmt.Errorf("unknown blob backend %q", blobName)
	}

	state, err := stateFactory(ctx)
	if err != nil {
		return nil, fmt.Errorf("open state backend %s: %w", stateName, err)
	}
	blobs, err := blobFactory(ctx)
	if err != nil {
		closeIfCloser(state)
		return nil, fmt.Errorf("open blob backend %s: %w", blobName, err)
	}
	return &Backend{State: state, Blobs: blobs}, nil
}

// Close releases both stores when they hold resources. A store shared by both
// sides is closed once.
func (b *Backend) Close() error {
	if b == nil {
		return nil
	}
	var errs []error
	if c, ok := b.State.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c, ok := b.Blobs.(io.Closer); ok && any(b.Blobs) != any(b.State) {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func closeIfCloser(v any) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}
