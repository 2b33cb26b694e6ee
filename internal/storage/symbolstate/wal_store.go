// Package symbolstate persists per-symbol trading state in a WAL. Each save
// appends the full JSON snapshot under the symbol's key; replay keeps the
// last record per key, so startup recovery is a single pass.
package symbolstate

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"swingbot/internal/domain"
)

const (
	defaultStateDir   = "./wal/state"
	stateSegmentLimit = 1000
	stateMaxSegments  = 100
	stateKeyPrefix    = "symbol_state_"
)

// PersistenceError marks a failed state write or an unreadable store. The
// run loop treats it as fatal: trading with unpersisted order state risks
// duplicate orders after a restart.
type PersistenceError struct {
	Op  string
	Err error
}

func (e PersistenceError) Error() string {
	return fmt.Sprintf("state persistence %s: %v", e.Op, e.Err)
}

func (e PersistenceError) Unwrap() error { return e.Err }

// WALStore is the durable symbol-state store.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.Mutex
}

// NewWALStore opens (or creates) the state WAL under dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultStateDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "state_",
		SegmentThreshold: stateSegmentLimit,
		MaxSegments:      stateMaxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, PersistenceError{Op: "open", Err: err}
	}

	return &WALStore{wal: wal}, nil
}

// Save appends the state snapshot for its symbol.
func (s *WALStore) Save(st *domain.SymbolState) error {
	if s == nil || s.wal == nil {
		return PersistenceError{Op: "save", Err: errors.New("store is not initialized")}
	}

	payload, err := json.Marshal(st)
	if err != nil {
		return PersistenceError{Op: "save", Err: errors.Wrap(err, "marshal symbol state")}
	}

	key := stateKeyPrefix + st.Pair.Symbol()

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(nextIndex, key, payload); err != nil {
		return PersistenceError{Op: "save", Err: err}
	}
	return nil
}

// LoadAll replays the WAL and returns the last persisted state per symbol,
// keyed by symbol string like "BTCUSDT".
func (s *WALStore) LoadAll() (map[string]*domain.SymbolState, error) {
	if s == nil || s.wal == nil {
		return nil, PersistenceError{Op: "load", Err: errors.New("store is not initialized")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*domain.SymbolState)
	for msg := range s.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, stateKeyPrefix) {
			continue
		}
		var st domain.SymbolState
		if err := json.Unmarshal(msg.Value, &st); err != nil {
			return nil, PersistenceError{Op: "load", Err: errors.Wrapf(err, "decode %s", msg.Key)}
		}
		if st.Orders == nil {
			st.Orders = make(map[string]*domain.OrderRecord)
		}
		out[strings.TrimPrefix(msg.Key, stateKeyPrefix)] = &st
	}
	return out, nil
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
