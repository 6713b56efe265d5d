// Package backend selects, caches and closes the storage backend for a
// process.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rcliao/afterimage/internal/config"
	"github.com/rcliao/afterimage/internal/store"
)

// ErrClosed is returned by Backend after Close.
var ErrClosed = errors.New("backend manager closed")

type state int

const (
	stateUninitialized state = iota
	stateActive
	stateClosed
)

// PostgresOpener constructs and initializes a Postgres backend.
type PostgresOpener func(ctx context.Context, cfg config.PostgresConfig) (store.Backend, error)

// SQLiteOpener constructs and initializes a SQLite backend.
type SQLiteOpener func(ctx context.Context, path string) (store.Backend, error)

// Manager owns the single backend instance of a process.
type Manager struct {
	cfg *config.Config
	log zerolog.Logger

	openPostgres PostgresOpener
	openSQLite   SQLiteOpener

	mu      sync.Mutex
	state   state
	backend store.Backend

	closeOnce sync.Once
	closeErr  error
}

// NewManager returns a manager for cfg. No backend is built until first use.
func NewManager(cfg *config.Config, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		log:          log,
		openPostgres: OpenPostgres,
		openSQLite:   OpenSQLite,
	}
}

// SetOpeners replaces the backend constructors. Nil leaves the default.
func (m *Manager) SetOpeners(pg PostgresOpener, lite SQLiteOpener) {
	if pg != nil {
		m.openPostgres = pg
	}
	if lite != nil {
		m.openSQLite = lite
	}
}

// Backend returns the active backend, constructing it on first call. A
// configured Postgres backend is tried once under the connect timeout; any
// failure falls back to SQLite.
func (m *Manager) Backend(ctx context.Context) (store.Backend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateActive:
		return m.backend, nil
	case stateClosed:
		return nil, ErrClosed
	}

	if m.cfg.Backend == config.BackendPostgres {
		b, err := m.tryPostgres(ctx)
		if err == nil {
			m.activate(b)
			return b, nil
		}
		m.log.Warn().Err(err).Msg("postgresql unavailable, falling back to sqlite")
	}

	b, err := m.openSQLite(ctx, m.cfg.SQLite.Path)
	if err != nil {
		if !errors.Is(err, store.ErrBackendUnavailable) {
			err = fmt.Errorf("%w: %w", store.ErrBackendUnavailable, err)
		}
		return nil, err
	}
	m.activate(b)
	return b, nil
}

func (m *Manager) tryPostgres(ctx context.Context) (store.Backend, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Postgres.ConnectTimeout())
	defer cancel()
	return m.openPostgres(ctx, m.cfg.Postgres)
}

func (m *Manager) activate(b store.Backend) {
	m.backend = b
	m.state = stateActive
	m.log.Debug().Str("backend", string(b.Kind())).Msg("backend ready")
}

// Kind reports the active variant, or "" before first use.
func (m *Manager) Kind() store.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backend == nil {
		return ""
	}
	return m.backend.Kind()
}

// Close closes the active backend. Later calls return the first result.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.backend != nil {
			m.closeErr = m.backend.Close()
		}
		m.state = stateClosed
	})
	return m.closeErr
}

// OpenPostgres builds a pool from cfg and initializes the schema.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig) (store.Backend, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBackendUnavailable, err)
	}
	s, err := store.NewPostgresStore(ctx, dsn, cfg.MaxConns)
	if err != nil {
		return nil, err
	}
	if err := s.Initialize(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens the database file at path and initializes the schema.
func OpenSQLite(ctx context.Context, path string) (store.Backend, error) {
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	if err := s.Initialize(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
