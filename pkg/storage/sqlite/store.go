package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/marmos91/dittochat/internal/logger"
	"github.com/marmos91/dittochat/pkg/storage"

	_ "modernc.org/sqlite"
)

// DisplayName is the key clients use to select this backend.
const DisplayName = "SQLite"

// schemaVersion is bumped whenever the table layout changes.
const schemaVersion = "1"

// Settings are the backend-specific keys of a storage settings map.
type Settings struct {
	// Path is the database file. Empty means the store's default path.
	Path string `mapstructure:"path"`

	// BusyTimeout is how long, in milliseconds, a statement waits on a locked
	// database before failing.
	BusyTimeout int `mapstructure:"busy_timeout" validate:"gte=0"`
}

const defaultBusyTimeout = 5000

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements storage.Backend on a single SQLite file through
// modernc.org/sqlite, a pure Go driver.
//
// The database runs in WAL mode with foreign keys enabled, so deleting a user
// or network cascades to everything it owns. Structured values (network
// configurations, user settings) are stored as CBOR blobs.
type SQLiteStore struct {
	defaultPath string
	db          *sql.DB
	path        string
}

// NewSQLiteStore creates a store whose database lives at defaultPath unless
// the settings passed to Init or Setup name another path.
func NewSQLiteStore(defaultPath string) *SQLiteStore {
	return &SQLiteStore{defaultPath: defaultPath}
}

func (s *SQLiteStore) DisplayName() string { return DisplayName }

func (s *SQLiteStore) Description() string {
	return "SQLite is a file-based database engine that does not require any setup. It is suitable for small and medium-sized databases that do not require access via network."
}

func (s *SQLiteStore) IsAvailable() bool { return true }

func (s *SQLiteStore) resolve(settings map[string]any) (Settings, error) {
	var cfg Settings
	if err := storage.DecodeSettings(settings, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Path == "" {
		cfg.Path = s.defaultPath
	}
	if cfg.Path == "" {
		return cfg, storage.NewError(storage.ErrInvalidArgument, "sqlite backend requires a path")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = defaultBusyTimeout
	}
	return cfg, nil
}

func open(cfg Settings) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, storage.WrapIO(err, "create database directory")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)",
		cfg.Path, cfg.BusyTimeout)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storage.WrapIO(err, "open database %s", cfg.Path)
	}

	// One connection keeps pragmas and transactions on the same handle.
	db.SetMaxOpenConns(1)
	return db, nil
}

// Init opens an existing database. A file without the schema reports
// ErrNotInitialized.
func (s *SQLiteStore) Init(ctx context.Context, settings map[string]any) error {
	cfg, err := s.resolve(settings)
	if err != nil {
		return err
	}
	db, err := open(cfg)
	if err != nil {
		return err
	}

	var version string
	err = db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version)
	if err != nil {
		db.Close()
		if errors.Is(err, sql.ErrNoRows) || isMissingTable(err) {
			return storage.NewError(storage.ErrNotInitialized, "database %s has no schema", cfg.Path)
		}
		return storage.WrapIO(err, "probe schema")
	}
	if version != schemaVersion {
		db.Close()
		return storage.NewError(storage.ErrIOError, "unsupported schema version %s", version)
	}

	if s.db != nil {
		_ = s.db.Close()
	}
	s.db = db
	s.path = cfg.Path
	logger.Info("SQLite storage opened at %s", cfg.Path)
	return nil
}

// Setup creates the schema. Existing tables and rows are left untouched.
func (s *SQLiteStore) Setup(ctx context.Context, settings map[string]any) error {
	cfg, err := s.resolve(settings)
	if err != nil {
		return err
	}
	db, err := open(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return storage.WrapIO(err, "begin schema transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return storage.WrapIO(err, "create schema")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', ?)`, schemaVersion); err != nil {
		return storage.WrapIO(err, "record schema version")
	}
	if err := tx.Commit(); err != nil {
		return storage.WrapIO(err, "commit schema")
	}
	logger.Info("SQLite storage created at %s", cfg.Path)
	return nil
}

// Sync checkpoints the write-ahead log into the main database file.
func (s *SQLiteStore) Sync(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(PASSIVE)`); err != nil {
		return storage.WrapIO(err, "checkpoint wal")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return storage.WrapIO(err, "close database")
	}
	return nil
}

func (s *SQLiteStore) conn() (*sql.DB, error) {
	if s.db == nil {
		return nil, storage.NewError(storage.ErrNotInitialized, "sqlite store is not open")
	}
	return s.db, nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return storage.WrapIO(err, "begin transaction")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storage.WrapIO(err, "commit transaction")
	}
	return nil
}

func requireUser(ctx context.Context, q querier, user storage.UserID) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, user).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.NewError(storage.ErrNotFound, "user %d not found", user)
	}
	if err != nil {
		return storage.WrapIO(err, "look up user %d", user)
	}
	return nil
}

func requireNetwork(ctx context.Context, q querier, user storage.UserID, network storage.NetworkID) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM networks WHERE id = ? AND user_id = ?`, network, user).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.NewError(storage.ErrNotFound, "network %d not found", network)
	}
	if err != nil {
		return storage.WrapIO(err, "look up network %d", network)
	}
	return nil
}

var _ storage.Backend = (*SQLiteStore)(nil)
