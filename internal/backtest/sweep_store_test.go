package backtest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nongomacoders/stock-analysis-sub001/internal/optimize"
	"github.com/nongomacoders/stock-analysis-sub001/internal/performance"
	"github.com/nongomacoders/stock-analysis-sub001/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSweepStore(t *testing.T) *SweepStore {
	t.Helper()
	store, err := NewSweepStore(filepath.Join(t.TempDir(), "sweeps", "sweeps.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSweepStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestSweepStore(t)
	sw := Sweep{
		ID:        "s1",
		Symbols:   []string{"TEST"},
		Timeframe: "1d",
		Grid:      optimize.Grid{"short_window": {2.0, 3.0}},
		Base:      strategy.Params{"long_window": 5.0, "quantity": 100.0},
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Report: optimize.Report{
			Strategy: "sma_cross",
			Total:    3,
			Skipped:  1,
			Results: []optimize.Result{
				{Index: 1, Params: strategy.Params{"short_window": 3.0}, Sharpe: 1.2, Summary: performance.Summary{FinalEquity: 101000}},
				{Index: 0, Params: strategy.Params{"short_window": 2.0}, Sharpe: -0.4, Summary: performance.Summary{FinalEquity: 99000}},
			},
		},
	}
	require.NoError(t, store.SaveSweep(ctx, sw))

	got, err := store.GetSweep(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sw, got)

	list, err := store.ListSweeps(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "s1", list[0].ID)
	assert.Empty(t, list[0].Report.Results)
	assert.Equal(t, 3, list[0].Report.Total)

	_, err = store.GetSweep(ctx, "missing")
	require.ErrorIs(t, err, ErrSweepNotFound)
}

func TestNewSweepStoreRequiresPath(t *testing.T) {
	_, err := NewSweepStore("  ")
	require.Error(t, err)
}
