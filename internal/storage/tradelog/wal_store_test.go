package tradelog

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"swingbot/internal/domain"
)

func tradeAt(ts time.Time, realized string) Record {
	return Record{
		Time:     ts,
		Symbol:   "BTCUSDT",
		Side:     domain.SideSell,
		Price:    decimal.NewFromInt(106),
		Size:     decimal.NewFromInt(1),
		Realized: decimal.RequireFromString(realized),
	}
}

func TestAppendAndRecords(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	now := time.Now().UTC()
	require.NoError(t, store.Append(tradeAt(now, "12.5")))
	require.NoError(t, store.Append(tradeAt(now, "-3")))

	recs, err := store.Records()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.True(t, recs[0].Realized.Equal(decimal.RequireFromString("12.5")))
	require.True(t, recs[1].Realized.Equal(decimal.NewFromInt(-3)))
	require.Equal(t, "BTCUSDT", recs[0].Symbol)
}

func TestRealizedTodayFiltersByDay(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	now := time.Now().UTC()
	require.NoError(t, store.Append(tradeAt(now, "10")))
	require.NoError(t, store.Append(tradeAt(now, "5")))
	require.NoError(t, store.Append(tradeAt(now.AddDate(0, 0, -1), "100")))
	require.NoError(t, store.Append(tradeAt(now.AddDate(0, 0, -30), "7")))

	total, err := store.RealizedToday(time.UTC)
	require.NoError(t, err)
	require.True(t, total.Equal(decimal.NewFromInt(15)), "got %s", total)
}

func TestRealizedTodayEmpty(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	total, err := store.RealizedToday(time.UTC)
	require.NoError(t, err)
	require.True(t, total.IsZero())
}

func TestSummaryMarker(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	sent, err := store.SummarySentOn("2026-08-30")
	require.NoError(t, err)
	require.False(t, sent)

	require.NoError(t, store.MarkSummarySent("2026-08-30"))

	sent, err = store.SummarySentOn("2026-08-30")
	require.NoError(t, err)
	require.True(t, sent)

	// the marker holds only the latest date
	require.NoError(t, store.MarkSummarySent("2026-08-31"))
	sent, err = store.SummarySentOn("2026-08-30")
	require.NoError(t, err)
	require.False(t, sent)
	sent, err = store.SummarySentOn("2026-08-31")
	require.NoError(t, err)
	require.True(t, sent)
}

func TestRecordsSurviveReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewWALStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Append(tradeAt(time.Now().UTC(), "4")))
	require.NoError(t, store.MarkSummarySent("2026-08-31"))
	require.NoError(t, store.Close())

	reopened, err := NewWALStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	recs, err := reopened.Records()
	require.NoError(t, err)
	require.Len(t, recs, 1)

	sent, err := reopened.SummarySentOn("2026-08-31")
	require.NoError(t, err)
	require.True(t, sent)
}
