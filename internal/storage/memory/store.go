// Package memory stores harvest state and documents in-memory for development and tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/JakeFAU/registry-harvester/internal/harvest"
)

type object struct {
	contentType string
	data        []byte
}

// Store implements harvest.StateStore and harvest.BlobStore with maps.
type Store struct {
	mu      sync.RWMutex
	states  map[string]harvest.CrawlState
	objects map[string]object
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		states:  make(map[string]harvest.CrawlState),
		objects: make(map[string]object),
	}
}

// GetState returns a copy of the state under key.
func (s *Store) GetState(_ context.Context, key string) (harvest.CrawlState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[key]
	if !ok {
		return harvest.CrawlState{}, false, nil
	}
	return state.Clone(), true, nil
}

// PutState overwrites the state under key.
func (s *Store) PutState(_ context.Context, key string, state harvest.CrawlState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[key] = state.Clone()
	return nil
}

// PutObject persists the content and returns a URI.
func (s *Store) PutObject(_ context.Context, name string, contentType string, data io.Reader) (string, error) {
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = object{contentType: contentType, data: byteData}
	return fmt.Sprintf("memory://%s", name), nil
}

// GetObject returns a copy of the stored object.
func (s *Store) GetObject(_ context.Context, name string) (harvest.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[name]
	if !ok {
		return harvest.DocumentRecord{}, fmt.Errorf("object %s: %w", name, harvest.ErrNotFound)
	}
	return harvest.DocumentRecord{
		Filename:    name,
		ContentType: obj.contentType,
		Data:        bytes.Clone(obj.data),
	}, nil
}

// ObjectNames lists stored object names (unordered).
func (s *Store) ObjectNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.objects))
	for name := range s.objects {
		names = append(names, name)
	}
	return names
}
