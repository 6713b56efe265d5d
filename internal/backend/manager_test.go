package backend

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/afterimage/internal/config"
	"github.com/rcliao/afterimage/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "memory.db")
	return cfg
}

func TestBackend_SQLiteDefault(t *testing.T) {
	ctx := context.Background()
	m := NewManager(testConfig(t), zerolog.Nop())
	defer m.Close()

	assert.Equal(t, store.Kind(""), m.Kind())

	b, err := m.Backend(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.KindSQLite, b.Kind())
	assert.Equal(t, store.KindSQLite, m.Kind())

	again, err := m.Backend(ctx)
	require.NoError(t, err)
	assert.Same(t, b, again)
}

func TestBackend_UnreachablePostgresFallsBack(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Backend = config.BackendPostgres
	cfg.Postgres.Host = "127.0.0.1"
	cfg.Postgres.Port = 1
	cfg.Postgres.Password = "secret"
	cfg.Postgres.ConnectTimeoutSeconds = 1

	m := NewManager(cfg, zerolog.Nop())
	defer m.Close()

	b, err := m.Backend(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.KindSQLite, b.Kind())

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalEntries)
}

func TestBackend_MissingPasswordFallsBack(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend = config.BackendPostgres

	m := NewManager(cfg, zerolog.Nop())
	defer m.Close()

	b, err := m.Backend(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.KindSQLite, b.Kind())
}

func TestBackend_SQLiteFailureIsUnavailable(t *testing.T) {
	m := NewManager(testConfig(t), zerolog.Nop())
	m.SetOpeners(nil, func(context.Context, string) (store.Backend, error) {
		return nil, errors.New("disk full")
	})

	_, err := m.Backend(context.Background())
	assert.ErrorIs(t, err, store.ErrBackendUnavailable)
}

type closeCounter struct {
	store.Backend
	closes int
}

func (c *closeCounter) Close() error {
	c.closes++
	return c.Backend.Close()
}

func TestClose_Once(t *testing.T) {
	ctx := context.Background()
	m := NewManager(testConfig(t), zerolog.Nop())

	var counter *closeCounter
	m.SetOpeners(nil, func(ctx context.Context, path string) (store.Backend, error) {
		b, err := OpenSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		counter = &closeCounter{Backend: b}
		return counter, nil
	})

	_, err := m.Backend(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Equal(t, 1, counter.closes)

	_, err = m.Backend(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClose_BeforeUse(t *testing.T) {
	m := NewManager(testConfig(t), zerolog.Nop())
	assert.NoError(t, m.Close())
}
