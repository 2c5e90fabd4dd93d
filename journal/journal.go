// Package journal keeps a bounded, display-only history of what the background
// loops did (admissions, evictions and their failures) in a bbolt file.
//
// Nothing in the control loops reads the journal back; it exists so the
// terminal view and the status endpoint can show recent activity.
package journal

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

var bucketEntries = []byte("entries") // [8-byte timestamp][8-byte seq] -> JSON Entry

// ErrClosed is returned when the journal is used before Open or after Close.
var ErrClosed = errors.New("journal: closed")

// Kind classifies an entry.
type Kind string

const (
	KindAdmitted      Kind = "admitted"
	KindAdmitFailed   Kind = "admit_failed"
	KindEvicted       Kind = "evicted"
	KindEvictFailed   Kind = "evict_failed"
	KindRefreshFailed Kind = "refresh_failed"
)

// Entry is one journal record.
type Entry struct {
	At     time.Time `json:"at"`
	Kind   Kind      `json:"kind"`
	Hash   string    `json:"hash,omitempty"`
	Name   string    `json:"name,omitempty"`
	Size   int64     `json:"size,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// Failed reports whether the entry records a failure.
func (e Entry) Failed() bool {
	switch e.Kind {
	case KindAdmitFailed, KindEvictFailed, KindRefreshFailed:
		return true
	}
	return false
}

// Journal is a bbolt-backed append-only log of Entry records.
type Journal struct {
	db     *bbolt.DB
	logger *slog.Logger
	now    func() time.Time
	noSync bool
}

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Journal) {
		j.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(j *Journal) {
		j.now = now
	}
}

// WithNoSync disables fsync per transaction. Use only in tests.
func WithNoSync(noSync bool) Option {
	return func(j *Journal) {
		j.noSync = noSync
	}
}

// New creates a Journal. Call Open before use.
func New(opts ...Option) *Journal {
	j := &Journal{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Open opens (or creates) the journal file at path.
func (j *Journal) Open(path string) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  j.noSync,
	})
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	}); err != nil {
		_ = db.Close()
		return fmt.Errorf("creating journal bucket: %w", err)
	}

	j.db = db
	j.logger.Debug("opened journal", "path", path)
	return nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

// Append stores e. A zero At is set to the current time.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if j.db == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = j.now()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding entry: %w", err)
	}

	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(makeKey(e.At, seq), data)
	})
}

// Record appends e and logs instead of failing. Loops use it so journal
// trouble never affects a tick.
func (j *Journal) Record(ctx context.Context, e Entry) {
	if j == nil {
		return
	}
	if err := j.Append(ctx, e); err != nil {
		j.logger.Warn("failed to append journal entry", "kind", e.Kind, "hash", e.Hash, "error", err)
	}
}

// Recent returns up to n entries, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if j.db == nil {
		return nil, ErrClosed
	}
	if n <= 0 {
		return nil, nil
	}

	entries := make([]Entry, 0, n)
	err := j.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		for k, v := c.Last(); k != nil && len(entries) < n; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				j.logger.Warn("skipping corrupt journal entry", "key", fmt.Sprintf("%x", k), "error", err)
				continue
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Len returns the number of stored entries.
func (j *Journal) Len() (int, error) {
	if j.db == nil {
		return 0, ErrClosed
	}
	var n int
	err := j.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketEntries).Stats().KeyN
		return nil
	})
	return n, err
}

// DeleteBefore removes up to limit entries recorded before cutoff, oldest
// first, and returns how many were removed.
func (j *Journal) DeleteBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if j.db == nil {
		return 0, ErrClosed
	}

	end := encodeTimestamp(cutoff)
	var deleted int
	err := j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k[:8], end) < 0; k, _ = c.Next() {
			if limit > 0 && len(keys) >= limit {
				break
			}
			keys = append(keys, bytes.Clone(k))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

func makeKey(t time.Time, seq uint64) []byte {
	key := make([]byte, 16)
	copy(key, encodeTimestamp(t))
	binary.BigEndian.PutUint64(key[8:], seq)
	return key
}

// encodeTimestamp converts t to a fixed-width big-endian key that sorts
// chronologically, including pre-1970 values.
func encodeTimestamp(t time.Time) []byte {
	buf := make([]byte, 8)
	ns := t.UnixNano()
	binary.BigEndian.PutUint64(buf, uint64(ns-(-1<<63))) //nolint:gosec // intentional signed->unsigned shift
	return buf
}
