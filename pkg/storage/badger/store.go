package badger

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittochat/internal/logger"
	"github.com/marmos91/dittochat/pkg/storage"
)

// DisplayName is the key clients use to select this backend.
const DisplayName = "Badger"

const schemaVersion = "1"

// Settings are the backend-specific keys of a storage settings map.
type Settings struct {
	// Path is the database directory. Empty means the store's default path.
	Path string `mapstructure:"path"`

	// InMemory keeps everything in RAM. Path is ignored.
	InMemory bool `mapstructure:"in_memory"`

	// SyncWrites fsyncs every commit instead of relying on periodic Sync.
	SyncWrites bool `mapstructure:"sync_writes"`

	// BlockCacheSizeMB is BadgerDB's block cache size (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb" validate:"gte=0"`
}

// BadgerStore implements storage.Backend on BadgerDB, an embedded
// key-value store.
//
// Storage Model:
// Every record lives under a namespaced key prefix (see keys.go). Records are
// CBOR encoded. Multi-key updates run in a single Badger transaction; bulk
// deletes of backlog go through a write batch.
//
// The database directory is locked while open, so Setup and Init share one
// handle that stays open until Close.
type BadgerStore struct {
	defaultPath string
	db          *badger.DB
	openPath    string
}

// NewBadgerStore creates a store whose database lives at defaultPath unless
// the settings name another path.
func NewBadgerStore(defaultPath string) *BadgerStore {
	return &BadgerStore{defaultPath: defaultPath}
}

func (s *BadgerStore) DisplayName() string { return DisplayName }

func (s *BadgerStore) Description() string {
	return "BadgerDB is an embedded key-value store written in Go. It needs no setup and suits single-node deployments with large backlogs."
}

func (s *BadgerStore) IsAvailable() bool { return true }

func (s *BadgerStore) open(settings map[string]any) error {
	var cfg Settings
	if err := storage.DecodeSettings(settings, &cfg); err != nil {
		return err
	}
	if cfg.Path == "" {
		cfg.Path = s.defaultPath
	}
	if cfg.InMemory {
		cfg.Path = ""
	} else if cfg.Path == "" {
		return storage.NewError(storage.ErrInvalidArgument, "badger backend requires a path")
	}

	if s.db != nil {
		if s.openPath == cfg.Path {
			return nil
		}
		return storage.NewError(storage.ErrInvalidArgument,
			"badger store already open at %s", s.openPath)
	}

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}

	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None).
		WithBlockCacheSize(blockCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return storage.WrapIO(err, "open badger at %s", cfg.Path)
	}
	s.db = db
	s.openPath = cfg.Path
	return nil
}

// Init opens the database and checks its schema marker.
func (s *BadgerStore) Init(ctx context.Context, settings map[string]any) error {
	if err := s.open(settings); err != nil {
		return err
	}

	var version string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keySchema))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			version = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return storage.NewError(storage.ErrNotInitialized, "badger store has not been set up")
	}
	if err != nil {
		return storage.WrapIO(err, "read schema marker")
	}
	if version != schemaVersion {
		return storage.NewError(storage.ErrIOError, "unsupported schema version %s", version)
	}
	logger.Info("Badger storage opened at %s", s.describePath())
	return nil
}

// Setup writes the schema marker. Existing data is kept.
func (s *BadgerStore) Setup(ctx context.Context, settings map[string]any) error {
	if err := s.open(settings); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keySchema), []byte(schemaVersion))
	})
	if err != nil {
		return storage.WrapIO(err, "write schema marker")
	}
	logger.Info("Badger storage created at %s", s.describePath())
	return nil
}

func (s *BadgerStore) describePath() string {
	if s.openPath == "" {
		return "memory"
	}
	return s.openPath
}

func (s *BadgerStore) Sync(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Sync(); err != nil {
		return storage.WrapIO(err, "sync badger")
	}
	return nil
}

func (s *BadgerStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.openPath = ""
	if err != nil {
		return storage.WrapIO(err, "close badger")
	}
	return nil
}

func (s *BadgerStore) view(fn func(txn *badger.Txn) error) error {
	if s.db == nil {
		return storage.NewError(storage.ErrNotInitialized, "badger store is not open")
	}
	return translate(s.db.View(fn))
}

func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	if s.db == nil {
		return storage.NewError(storage.ErrNotInitialized, "badger store is not open")
	}
	return translate(s.db.Update(fn))
}

// translate passes StoreErrors through and wraps everything else as I/O.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := storage.CodeOf(err); ok {
		return err
	}
	return storage.WrapIO(err, "badger transaction")
}

// getRecord decodes the value at key into out. found is false when the key
// does not exist.
func getRecord(txn *badger.Txn, key []byte, out any) (found bool, err error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	err = item.Value(func(val []byte) error {
		return storage.DecodeValue(val, out)
	})
	return err == nil, err
}

func putRecord(txn *badger.Txn, key []byte, v any) error {
	data, err := storage.EncodeValue(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func getID(txn *badger.Txn, key []byte) (int64, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var id int64
	err = item.Value(func(val []byte) error {
		var decodeErr error
		id, decodeErr = decodeID(val)
		return decodeErr
	})
	return id, err == nil, err
}

// nextID mints the next id of a kind. Ids start at 1 and are never reused.
func nextID(txn *badger.Txn, kind string) (int64, error) {
	last, _, err := getID(txn, keySeq(kind))
	if err != nil {
		return 0, fmt.Errorf("read %s sequence: %w", kind, err)
	}
	next := last + 1
	if err := txn.Set(keySeq(kind), encodeID(next)); err != nil {
		return 0, err
	}
	return next, nil
}

// scanPrefix calls fn for every value under prefix in key order, newest
// first when reverse is set.
func scanPrefix(txn *badger.Txn, prefix []byte, reverse bool, fn func(key, val []byte) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.Reverse = reverse

	it := txn.NewIterator(opts)
	defer it.Close()

	start := prefix
	if reverse {
		start = append(append([]byte(nil), prefix...), 0xFF)
	}
	for it.Seek(start); it.Valid(); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		var more bool
		err := item.Value(func(val []byte) error {
			var fnErr error
			more, fnErr = fn(key, val)
			return fnErr
		})
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

// collectKeys returns every key under prefix.
func collectKeys(txn *badger.Txn, prefix []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false

	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

// deleteKeys removes keys through a write batch so large backlogs do not
// exceed the transaction size limit.
func (s *BadgerStore) deleteKeys(keys [][]byte) error {
	if len(keys) == 0 {
		return nil
	}
	wb := s.db.NewWriteBatch()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			wb.Cancel()
			return storage.WrapIO(err, "delete keys")
		}
	}
	if err := wb.Flush(); err != nil {
		return storage.WrapIO(err, "delete keys")
	}
	return nil
}

var _ storage.Backend = (*BadgerStore)(nil)
