// Package tradelog keeps the append-only realized-trade history: one record
// per closing fill, plus a marker for the daily summary so it sends at most
// once per day across restarts.
package tradelog

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/gowal"
	"swingbot/internal/domain"
)

const (
	defaultTradeDir   = "./wal/trades"
	tradeSegmentLimit = 1000
	tradeMaxSegments  = 100
	tradeKeyPrefix    = "trade_"
	summaryKey        = "daily_summary_sent"
)

// Record is one realized trade.
type Record struct {
	Time     time.Time       `json:"time"`
	Symbol   string          `json:"symbol"`
	Side     domain.Side     `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Size     decimal.Decimal `json:"size"`
	Realized decimal.Decimal `json:"realized"`
}

// WALStore is the durable trade log.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.Mutex
}

// NewWALStore opens (or creates) the trade WAL under dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultTradeDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "trade_",
		SegmentThreshold: tradeSegmentLimit,
		MaxSegments:      tradeMaxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init trade WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Append writes one realized trade. Keys carry the WAL index so replay sees
// every record, unlike the state store where last-per-key wins.
func (s *WALStore) Append(rec Record) error {
	if s == nil || s.wal == nil {
		return errors.New("trade log is not initialized")
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal trade record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	key := fmt.Sprintf("%s%d", tradeKeyPrefix, nextIndex)
	return s.wal.Write(nextIndex, key, payload)
}

// RealizedToday sums realized P&L of trades whose timestamp falls on the
// current day in the given location.
func (s *WALStore) RealizedToday(loc *time.Location) (decimal.Decimal, error) {
	if s == nil || s.wal == nil {
		return decimal.Zero, errors.New("trade log is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().In(loc)
	y, m, d := now.Date()

	total := decimal.Zero
	for msg := range s.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, tradeKeyPrefix) {
			continue
		}
		var rec Record
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			return decimal.Zero, errors.Wrapf(err, "decode %s", msg.Key)
		}
		ry, rm, rd := rec.Time.In(loc).Date()
		if ry == y && rm == m && rd == d {
			total = total.Add(rec.Realized)
		}
	}
	return total, nil
}

// Records returns every trade in append order.
func (s *WALStore) Records() ([]Record, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("trade log is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for msg := range s.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, tradeKeyPrefix) {
			continue
		}
		var rec Record
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			return nil, errors.Wrapf(err, "decode %s", msg.Key)
		}
		out = append(out, rec)
	}
	return out, nil
}

// SummarySentOn reports whether the daily summary was already sent for the
// given date (formatted 2006-01-02).
func (s *WALStore) SummarySentOn(date string) (bool, error) {
	if s == nil || s.wal == nil {
		return false, errors.New("trade log is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	last := ""
	for msg := range s.wal.Iterator() {
		if msg.Key == summaryKey {
			last = string(msg.Value)
		}
	}
	return last == date, nil
}

// MarkSummarySent records that the summary for the given date went out.
func (s *WALStore) MarkSummarySent(date string) error {
	if s == nil || s.wal == nil {
		return errors.New("trade log is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, summaryKey, []byte(date))
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
