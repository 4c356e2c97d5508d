package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/jeeves-cluster-organization/repairkernel/commbus"
	"github.com/jeeves-cluster-organization/repairkernel/repairengine/envelope"
)

// =============================================================================
// BADGER STORE
// =============================================================================

// envelopeKeyPrefix namespaces envelope records inside the database so
// other record kinds can share it later.
const envelopeKeyPrefix = "env/"

// BadgerConfig holds configuration for a Badger-backed envelope store.
type BadgerConfig struct {
	// Path is the directory for database files. Required unless
	// InMemory is true.
	Path string

	// InMemory disables disk persistence. Used by tests.
	InMemory bool

	// SyncWrites forces every write to be fsynced before Put returns.
	SyncWrites bool

	// GCInterval is how often to run value log garbage collection.
	// Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum discardable fraction of the value
	// log before GC rewrites it.
	GCDiscardRatio float64

	// Logger receives Badger's internal log output. Nil silences it.
	Logger commbus.Logger
}

// DefaultBadgerConfig returns a production configuration for the given
// directory.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerConfig returns a configuration for tests: no disk I/O,
// no GC loop.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// BadgerStore is an EnvelopeStore backed by an embedded Badger database.
// Envelopes are stored as JSON-encoded state dicts, so records written
// by one process version remain readable by another.
type BadgerStore struct {
	db     *badger.DB
	locks  *runLocks
	gcStop chan struct{}
	gcDone chan struct{}
	logger commbus.Logger
}

var _ EnvelopeStore = (*BadgerStore)(nil)

// OpenBadgerStore opens (creating if needed) a Badger-backed store.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("store: path is required for persistent database")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = commbus.NopLogger()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("store: create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogAdapter{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger database: %w", err)
	}

	s := &BadgerStore{
		db:     db,
		locks:  newRunLocks(),
		logger: logger,
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

// Put persists the envelope as a JSON state dict.
func (s *BadgerStore) Put(ctx context.Context, env *envelope.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(env.ToStateDict())
	if err != nil {
		return fmt.Errorf("store: encode envelope %s: %w", env.PatchID, err)
	}

	key := envelopeKey(env.PatchID)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("store: put envelope %s: %w", env.PatchID, err)
	}
	return nil
}

// Get returns the envelope for the patch ID, or ErrNotFound.
func (s *BadgerStore) Get(ctx context.Context, patchID string) (*envelope.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(envelopeKey(patchID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get envelope %s: %w", patchID, err)
	}
	return decodeEnvelope(data)
}

// List scans all envelope records and returns up to limit of them,
// newest first.
func (s *BadgerStore) List(ctx context.Context, limit int) ([]*envelope.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*envelope.Envelope
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(envelopeKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			env, err := decodeEnvelope(data)
			if err != nil {
				s.logger.Warning("skipping undecodable envelope record",
					"key", string(it.Item().Key()), "error", err.Error())
				continue
			}
			out = append(out, env)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: list envelopes: %w", err)
	}

	sortByCreatedAt(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Acquire takes the single-writer lock for the patch ID.
func (s *BadgerStore) Acquire(patchID string) (func(), error) {
	return s.locks.acquire(patchID)
}

// Close stops the GC loop and closes the database.
func (s *BadgerStore) Close() error {
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
		s.gcStop = nil
	}
	return s.db.Close()
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warning("badger value log GC failed", "error", err.Error())
			}
		}
	}
}

func envelopeKey(patchID string) []byte {
	return []byte(envelopeKeyPrefix + patchID)
}

func decodeEnvelope(data []byte) (*envelope.Envelope, error) {
	var state map[string]any
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("store: decode envelope record: %w", err)
	}
	return envelope.FromStateDict(state), nil
}

// badgerLogAdapter forwards Badger's printf-style logging to the
// structured Logger protocol.
type badgerLogAdapter struct {
	logger commbus.Logger
}

func (a *badgerLogAdapter) Errorf(format string, args ...any) {
	a.logger.Error(fmt.Sprintf(format, args...))
}

func (a *badgerLogAdapter) Warningf(format string, args ...any) {
	a.logger.Warning(fmt.Sprintf(format, args...))
}

func (a *badgerLogAdapter) Infof(format string, args ...any) {
	a.logger.Info(fmt.Sprintf(format, args...))
}

func (a *badgerLogAdapter) Debugf(format string, args ...any) {
	a.logger.Debug(fmt.Sprintf(format, args...))
}
