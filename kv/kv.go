// Package kv is the document store: canonical JSON-LD documents keyed by URI
// and small per-site reference lists, backed by pebble.
package kv

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/cockroachdb/pebble"
)

var ErrNotFound = errors.New("not found")

// Key is a tuple key such as Key{"sites", "example.com", "inbox"}.
type Key []string

// ObjectKey is the global scope key of a document.
func ObjectKey(uri string) Key {
	return Key{"objects", uri}
}

// SiteListKey is the key of a per-site reference list.
func SiteListKey(host, list string) Key {
	return Key{"sites", host, list}
}

// Each part is length-prefixed so ("a", "bc") and ("ab", "c") never collide.
func (k Key) encode() []byte {
	var buf []byte
	for _, part := range k {
		buf = binary.AppendUvarint(buf, uint64(len(part)))
		buf = append(buf, part...)
	}
	return buf
}

func (k Key) String() string {
	return fmt.Sprintf("%q", []string(k))
}

type Store struct {
	db *pebble.DB

	// serializes list read-modify-write cycles
	listMu sync.Mutex
}

// Open opens (or creates) the pebble database at path. opts may be nil.
func Open(path string, opts *pebble.Options) (*Store, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the raw document stored under key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key Key) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	value, closer, err := s.db.Get(key.encode())
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	defer closer.Close()
	// value is only valid until closer.Close
	return slices.Clone(value), nil
}

// GetInto decodes the document under key into v.
func (s *Store) GetInto(ctx context.Context, key Key, v any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("corrupt document at %s: %w", key, err)
	}
	return nil
}

func (s *Store) Has(ctx context.Context, key Key) (bool, error) {
	_, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Set stores doc under key. Byte slices and json.RawMessage are stored as is,
// everything else is JSON encoded.
func (s *Store) Set(ctx context.Context, key Key, doc any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var value []byte
	switch v := doc.(type) {
	case json.RawMessage:
		value = v
	case []byte:
		value = v
	default:
		b, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", key, err)
		}
		value = b
	}
	if err := s.db.Set(key.encode(), value, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Delete(key.encode(), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// List returns the list stored under key. A missing list is empty.
func (s *Store) List(ctx context.Context, key Key) ([]string, error) {
	var list []string
	err := s.GetInto(ctx, key, &list)
	if errors.Is(err, ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return list, nil
}

// ListContains reports whether value is a member of the list under key.
func (s *Store) ListContains(ctx context.Context, key Key, value string) (bool, error) {
	list, err := s.List(ctx, key)
	if err != nil {
		return false, err
	}
	return slices.Contains(list, value), nil
}

// AddToList appends value unless it is already present. It reports whether
// the list changed.
func (s *Store) AddToList(ctx context.Context, key Key, value string) (bool, error) {
	s.listMu.Lock()
	defer s.listMu.Unlock()

	list, err := s.List(ctx, key)
	if err != nil {
		return false, err
	}
	if slices.Contains(list, value) {
		return false, nil
	}
	return true, s.Set(ctx, key, append(list, value))
}

// RemoveFromList removes every occurrence of value. It reports whether the
// list changed.
func (s *Store) RemoveFromList(ctx context.Context, key Key, value string) (bool, error) {
	s.listMu.Lock()
	defer s.listMu.Unlock()

	list, err := s.List(ctx, key)
	if err != nil {
		return false, err
	}
	before := len(list)
	kept := slices.DeleteFunc(list, func(v string) bool { return v == value })
	if len(kept) == before {
		return false, nil
	}
	return true, s.Set(ctx, key, kept)
}
