package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/registry-harvester/internal/harvest"
	"github.com/JakeFAU/registry-harvester/internal/storage/memory"
)

type closingStore struct {
	*memory.Store
	closed int
}

func (c *closingStore) Close() error {
	c.closed++
	return nil
}

func TestRegistryOpen(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	mem := memory.NewStore()
	require.NoError(t, reg.RegisterState("memory", func(context.Context) (harvest.StateStore, error) { return mem, nil }))
	require.NoError(t, reg.RegisterBlob("memory", func(context.Context) (harvest.BlobStore, error) { return mem, nil }))

	backend, err := reg.Open(context.Background(), "memory", "memory")
	require.NoError(t, err)
	assert.Same(t, mem, backend.State)
	assert.Same(t, mem, backend.Blobs)
	require.NoError(t, backend.Close())
}

func TestRegistryRejectsDuplicatesAndUnknown(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	factory := func(context.Context) (harvest.StateStore, error) { return memory.NewStore(), nil }
	require.NoError(t, reg.RegisterState("memory", factory))
	require.Error(t, reg.RegisterState("memory", factory))
	require.Error(t, reg.RegisterState("", factory))
	require.Error(t, reg.RegisterBlob("memory", nil))

	_, err := reg.Open(context.Background(), "memory", "gcs")
	require.Error(t, err)
	_, err = reg.Open(context.Background(), "postgres", "memory")
	require.Error(t, err)
}

func TestRegistryNamesSorted(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	for _, name := range []string{"postgres", "local", "memory"} {
		require.NoError(t, reg.RegisterState(name, func(context.Context) (harvest.StateStore, error) { return memory.NewStore(), nil }))
	}
	require.NoError(t, reg.RegisterBlob("local", func(context.Context) (harvest.BlobStore, error) { return memory.NewStore(), nil }))

	assert.Equal(t, []string{"local", "memory", "postgres"}, reg.StateNames())
	assert.Equal(t, []string{"local"}, reg.BlobNames())
}

func TestRegistryOpenClosesStateWhenBlobFails(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	state := &closingStore{Store: memory.NewStore()}
	require.NoError(t, reg.RegisterState("memory", func(context.Context) (harvest.StateStore, error) { return state, nil }))
	require.NoError(t, reg.RegisterBlob("broken", func(context.Context) (harvest.BlobStore, error) {
		return nil, errors.New("bucket missing")
	}))

	_, err := reg.Open(context.Background(), "memory", "broken")
	require.Error(t, err)
	assert.Equal(t, 1, state.closed)
}

func TestBackendCloseSharedStoreOnce(t *testing.T) {
	t.Parallel()

	shared := &closingStore{Store: memory.NewStore()}
	backend := &Backend{State: shared, Blobs: shared}
	require.NoError(t, backend.Close())
	assert.Equal(t, 1, shared.closed)
}
