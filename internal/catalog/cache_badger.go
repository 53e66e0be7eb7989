package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

const badgerKeyPrefix = "catalog:"

// BadgerCache is the persistent tier. Entries carry a badger TTL matching
// their freshness window so expired data is also reclaimed on disk.
type BadgerCache struct {
	db     *badger.DB
	logger *slog.Logger
}

// OpenBadgerCache opens (or creates) a cache database at path.
func OpenBadgerCache(path string, logger *slog.Logger) (*BadgerCache, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.CompactL0OnClose = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog cache: %w", err)
	}
	return &BadgerCache{db: db, logger: logger}, nil
}

// OpenInMemoryBadgerCache opens a badger instance without disk files.
func OpenInMemoryBadgerCache(logger *slog.Logger) (*BadgerCache, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog cache: %w", err)
	}
	return &BadgerCache{db: db, logger: logger}, nil
}

func (c *BadgerCache) Name() string { return "badger" }

// Get reads key. Missing keys are a miss, not an error.
func (c *BadgerCache) Get(ctx context.Context, key string) (*CacheEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var e CacheEntry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache key %s: %w", key, err)
	}
	return &e, true, nil
}

// Set writes key with a TTL equal to the entry's freshness window.
func (c *BadgerCache) Set(ctx context.Context, key string, e *CacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(badgerKeyPrefix+key), data)
		if e.TTL > 0 {
			entry = entry.WithTTL(e.TTL)
		}
		return txn.SetEntry(entry)
	})
}

// Close flushes and closes the database.
func (c *BadgerCache) Close() error {
	if c.logger != nil {
		c.logger.Info("closing catalog cache")
	}
	return c.db.Close()
}
