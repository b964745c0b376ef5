package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// ReadStateKey is the fixed key holding the list of read alert ids.
const ReadStateKey = "notification_read_ids"

// BadgerReadState persists the read alert ids in a local Badger database.
type BadgerReadState struct {
	db *badger.DB
}

// OpenBadgerReadState opens the read-state database in dir.
// An empty dir opens an in-memory database.
func OpenBadgerReadState(dir string) (*BadgerReadState, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open read state %s: %w", dir, err)
	}
	return &BadgerReadState{db: db}, nil
}

// ReadIDs returns the persisted ids; a missing key is an empty set.
func (s *BadgerReadState) ReadIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(ReadStateKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get read ids: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &ids)
		})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// SaveReadIDs replaces the persisted ids.
func (s *BadgerReadState) SaveReadIDs(ctx context.Context, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal read ids: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(ReadStateKey), data)
	})
}

func (s *BadgerReadState) Close() error {
	return s.db.Close()
}

// MemoryReadState keeps the read ids in process memory.
type MemoryReadState struct {
	mu  sync.Mutex
	ids []string
}

// NewMemoryReadState returns an empty in-memory read state.
func NewMemoryReadState() *MemoryReadState {
	return &MemoryReadState{}
}

func (m *MemoryReadState) ReadIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ids...), nil
}

func (m *MemoryReadState) SaveReadIDs(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append([]string(nil), ids...)
	return nil
}

func (m *MemoryReadState) Close() error { return nil }
