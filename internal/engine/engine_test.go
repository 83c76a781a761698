package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Andrei-Masilevich/rocksdb-cloud/internal/config"
)

func TestNew_ConstructsWithTailerDisabled(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Storage.SrcBucket = "bucket"
	cfg.Storage.SrcPrefix = "db-1"
	cfg.Storage.PersistentCachePath = t.TempDir()
	cfg.Storage.Region = "us-east-1"
	cfg.Features.Tailer = false

	e, err := New(context.Background(), cfg, "identity-1")
	require.NoError(t, err)
	require.NotNil(t, e.Environment)
	require.Nil(t, e.tailerLoop)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Storage.ListPageSize = 0

	_, err := New(context.Background(), cfg, "identity-1")
	require.Error(t, err)
}

func TestNew_WiresMetricsCollectorWhenEnabled(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Storage.SrcBucket = "bucket"
	cfg.Storage.SrcPrefix = "db-1"
	cfg.Storage.PersistentCachePath = t.TempDir()
	cfg.Storage.Region = "us-east-1"
	cfg.Features.Tailer = false
	cfg.Monitoring.Metrics.Enabled = true

	e, err := New(context.Background(), cfg, "identity-1")
	require.NoError(t, err)
	require.NotNil(t, e.Metrics())
}
