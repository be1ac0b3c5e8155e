package harvest

import (
	"context"
	"fmt"
	"sync"
)

// LoadState reads the CrawlState under key, returning the empty default when absent.
func LoadState(ctx context.Context, store StateStore, key string) (CrawlState, error) {
	state, found, err := store.GetState(ctx, key)
	if err != nil {
		return CrawlState{}, fmt.Errorf("get state %s: %w", key, err)
	}
	if !found {
		return CrawlState{Files: []string{}}, nil
	}
	if state.Files == nil {
		state.Files = []string{}
	}
	return state, nil
}

// Checkpoint is the single writer of one phase's CrawlState.
//
// Every mutation happens under one mutex, so concurrent appenders never lose an
// update. A durable checkpoint persists the whole state inside the critical
// section after each append; a buffered one only persists on Finish.
type Checkpoint struct {
	mu      sync.Mutex
	store   StateStore
	key     string
	durable bool
	state   CrawlState
}

// OpenCheckpoint loads the state for phase/entityKey and wraps it.
func OpenCheckpoint(ctx context.Context, store StateStore, phase Phase, entityKey string, durable bool) (*Checkpoint, error) {
	key := StateKey(phase, entityKey)
	state, err := LoadState(ctx, store, key)
	if err != nil {
		return nil, err
	}
	return &Checkpoint{
		store:   store,
		key:     key,
		durable: durable,
		state:   state,
	}, nil
}

// Key returns the store key of the wrapped state.
func (c *Checkpoint) Key() string {
	return c.key
}

// Finished reports whether the phase is terminal.
func (c *Checkpoint) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Finished
}

// Files returns a copy of the current file list.
func (c *Checkpoint) Files() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone().Files
}

// State returns a copy of the current state.
func (c *Checkpoint) State() CrawlState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Append adds entry to the file list. On a durable checkpoint the state is
// written before Append returns; a failed write rolls the entry back.
func (c *Checkpoint) Append(ctx context.Context, entry string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Finished {
		return ErrPhaseFinished
	}
	c.state.Files = append(c.state.Files, entry)
	if !c.durable {
		return nil
	}
	if err := c.store.PutState(ctx, c.key, c.state.Clone()); err != nil {
		c.state.Files = c.state.Files[:len(c.state.Files)-1]
		return fmt.Errorf("put state %s: %w", c.key, err)
	}
	return nil
}

// Finish marks the phase finished and persists it. Finishing twice is a no-op.
func (c *Checkpoint) Finish(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Finished {
		return nil
	}
	next := c.state.Clone()
	next.Finished = true
	if err := c.store.PutState(ctx, c.key, next); err != nil {
		return fmt.Errorf("put state %s: %w", c.key, err)
	}
	c.state = next
	return nil
}
