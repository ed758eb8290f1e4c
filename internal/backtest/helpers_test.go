package backtest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nongomacoders/stock-analysis-sub001/internal/datasource"
	"github.com/nongomacoders/stock-analysis-sub001/internal/strategy/builtin"

	"github.com/stretchr/testify/require"
)

var goldenCloses = []float64{100, 100, 100, 100, 95, 96, 110, 112, 100, 90}

func writeGoldenCSV(t *testing.T, dir, symbol string) {
	t.Helper()
	var b strings.Builder
	b.WriteString("date,open,high,low,close,volume\n")
	for i, c := range goldenCloses {
		fmt.Fprintf(&b, "2023-01-%02d,%g,%g,%g,%g,1000\n", i+1, c, c, c, c)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, symbol+".csv"), []byte(b.String()), 0o644))
}

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	dir := t.TempDir()
	writeGoldenCSV(t, dir, "TEST")
	reg, err := builtin.NewRegistry()
	require.NoError(t, err)
	return NewRunner(datasource.NewLoader(datasource.NewCSVSource(dir), nil), reg)
}

func goldenRequest() RunRequest {
	return RunRequest{
		Symbols:     []string{"test"},
		Timeframe:   "1d",
		Start:       "2023-01-01",
		Strategy:    "sma_cross",
		Params:      map[string]any{"short_window": 3, "long_window": 5, "quantity": 100},
		InitialCash: 100000,
		Commission:  &CommissionSpec{Model: "flat", Fee: 1},
	}
}
