package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/registry-harvester/internal/app"
	"github.com/JakeFAU/registry-harvester/internal/config"
	"github.com/JakeFAU/registry-harvester/internal/harvest"
	memorypublisher "github.com/JakeFAU/registry-harvester/internal/publisher/memory"
	"github.com/JakeFAU/registry-harvester/internal/storage/local"
	"github.com/JakeFAU/registry-harvester/internal/storage/memory"
)

func loadConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestNew_MemoryDefaults(t *testing.T) {
	cfg := loadConfig(t)

	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	assert.NotNil(t, a.Coordinator)
	assert.IsType(t, &memorypublisher.Publisher{}, a.Publisher)
	assert.IsType(t, &memory.Store{}, a.Backend.State)
	assert.Same(t, a.Backend.State.(*memory.Store), a.Backend.Blobs.(*memory.Store))

	states, err := a.Coordinator.State(context.Background(), "Acme")
	require.NoError(t, err)
	assert.Len(t, states, 2)
	assert.False(t, states[harvest.PhaseDownload].Finished)

	_, err = a.Coordinator.OCR(context.Background(), "Acme")
	require.Error(t, err, "OCR requires an API key")
}

func TestNew_LocalBackend(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Storage.StateBackend = "local"
	cfg.Storage.BlobBackend = "local"
	cfg.Storage.BaseDir = t.TempDir()
	cfg.OCR.APIKey = "key"

	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	assert.IsType(t, &local.Store{}, a.Backend.State)
	assert.Same(t, a.Backend.State.(*local.Store), a.Backend.Blobs.(*local.Store))
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Storage.BlobBackend = "ftp"

	_, err := app.New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ftp")
}

func TestNewRegistry_Names(t *testing.T) {
	reg, err := app.NewRegistry(config.Config{})
	require.NoError(t, err)

	assert.Equal(t, []string{"gcs", "local", "memory", "postgres"}, reg.StateNames())
	assert.Equal(t, []string{"gcs", "local", "memory"}, reg.BlobNames())
}
