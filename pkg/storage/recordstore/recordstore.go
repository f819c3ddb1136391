// Package recordstore upserts flat string records keyed by a partition and
// row key pair into Postgres or Redis.
package recordstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Reserved record keys.
const (
	PartitionKey = "PartitionKey"
	RowKey       = "RowKey"
)

// Mode selects how an upsert treats an existing record.
type Mode int

const (
	// Merge keeps properties of an existing record that the new one omits.
	Merge Mode = iota
	// Replace discards the existing record entirely.
	Replace
)

func (m Mode) String() string {
	switch m {
	case Merge:
		return "merge"
	case Replace:
		return "replace"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode maps "merge" or "replace" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "merge":
		return Merge, nil
	case "replace":
		return Replace, nil
	default:
		return Merge, fmt.Errorf("unknown upsert mode %q", s)
	}
}

// Record is a flat set of string properties. It must carry PartitionKey and
// RowKey.
type Record map[string]string

// Keys returns the record's partition and row key.
func (r Record) Keys() (partition, row string, err error) {
	partition, row = r[PartitionKey], r[RowKey]
	if partition == "" || row == "" {
		return "", "", fmt.Errorf("record requires non-empty %s and %s", PartitionKey, RowKey)
	}
	return partition, row, nil
}

// Properties returns the record without its key fields.
func (r Record) Properties() map[string]string {
	props := make(map[string]string, len(r))
	for k, v := range r {
		if k == PartitionKey || k == RowKey {
			continue
		}
		props[k] = v
	}
	return props
}

// Store is a backend holding records grouped into tables.
type Store interface {
	Upsert(ctx context.Context, table string, rec Record, mode Mode) error
	Close() error
}

// Open connects to the store named by a connection string. The scheme picks
// the backend: postgres:// or postgresql:// for Postgres, redis:// or
// rediss:// for Redis.
func Open(ctx context.Context, connectionString string) (Store, error) {
	u, err := url.Parse(connectionString)
	if err != nil {
		return nil, fmt.Errorf("parse record store connection string: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql":
		return openPostgres(ctx, connectionString)
	case "redis", "rediss":
		return openRedis(ctx, connectionString)
	default:
		return nil, fmt.Errorf("unsupported record store provider: %q", u.Scheme)
	}
}

// Target addresses a table in a specific record store.
type Target struct {
	ConnectionString string
	Table            string
}

// TableStorageError is returned for any failure to upsert a record.
type TableStorageError struct {
	Table        string
	PartitionKey string
	RowKey       string
	Err          error
}

func (e *TableStorageError) Error() string {
	return fmt.Sprintf("table storage: upsert %s (%s/%s): %v", e.Table, e.PartitionKey, e.RowKey, e.Err)
}

func (e *TableStorageError) Unwrap() error {
	return e.Err
}

// Opener connects to a record store.
type Opener func(ctx context.Context, connectionString string) (Store, error)

// Upserter writes records to the store named by a connection string. Stores
// are opened on first use and reused for later upserts.
type Upserter struct {
	open Opener

	mu     sync.Mutex
	stores map[string]Store
}

// NewUpserter returns an Upserter. A nil open uses Open.
func NewUpserter(open Opener) *Upserter {
	if open == nil {
		open = Open
	}
	return &Upserter{
		open:   open,
		stores: map[string]Store{},
	}
}

// Upsert creates or updates exactly one record identified by its
// PartitionKey and RowKey.
func (u *Upserter) Upsert(ctx context.Context, target Target, rec Record, mode Mode) error {
	wrap := func(err error) error {
		return &TableStorageError{
			Table:        target.Table,
			PartitionKey: rec[PartitionKey],
			RowKey:       rec[RowKey],
			Err:          err,
		}
	}

	if _, _, err := rec.Keys(); err != nil {
		return wrap(err)
	}
	if mode != Merge && mode != Replace {
		return wrap(fmt.Errorf("invalid upsert mode %s", mode))
	}

	store, err := u.store(ctx, target.ConnectionString)
	if err != nil {
		return wrap(err)
	}
	if err := store.Upsert(ctx, target.Table, rec, mode); err != nil {
		return wrap(err)
	}
	return nil
}

// store returns the cached store for connectionString, opening one if
// needed. Opening may dial and ping, so it runs outside the lock; a store
// that loses the race is closed.
func (u *Upserter) store(ctx context.Context, connectionString string) (Store, error) {
	u.mu.Lock()
	s, ok := u.stores[connectionString]
	u.mu.Unlock()
	if ok {
		return s, nil
	}

	s, err := u.open(ctx, connectionString)
	if err != nil {
		return nil, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if existing, ok := u.stores[connectionString]; ok {
		s.Close() //nolint:errcheck
		return existing, nil
	}
	u.stores[connectionString] = s
	return s, nil
}

// Close releases every opened store.
func (u *Upserter) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	var errs []error
	for key, s := range u.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(u.stores, key)
	}
	return errors.Join(errs...)
}
