package backtest

import (
	"context"
	"errors"
	"testing"

	"github.com/nongomacoders/stock-analysis-sub001/internal/optimize"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendText(text string) error {
	args := m.Called(text)
	return args.Error(0)
}

func newTestService(t *testing.T, notifier Notifier) *Service {
	t.Helper()
	svc, err := NewService(ServiceConfig{
		Runner:   newTestRunner(t),
		Results:  newTestResultStore(t),
		Sweeps:   newTestSweepStore(t),
		Notifier: notifier,
		Defaults: Defaults{
			Timeframe: "1d",
			Strategy:  "sma_cross",
			Params:    map[string]any{"short_window": 3, "long_window": 5, "quantity": 100},
		},
		MaxConcurrent: 2,
	})
	require.NoError(t, err)
	return svc
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceConfig{})
	require.Error(t, err)
	_, err = NewService(ServiceConfig{Runner: &Runner{}})
	require.Error(t, err)
}

func TestResolveAppliesDefaults(t *testing.T) {
	svc := newTestService(t, nil)
	cfg, err := svc.Resolve(RunRequest{Symbols: []string{" test ", "TEST", ""}, Start: "2023-01-01"})
	require.NoError(t, err)

	assert.Equal(t, []string{"TEST"}, cfg.Symbols)
	assert.Equal(t, "1d", cfg.Timeframe)
	assert.True(t, cfg.End.IsZero())
	assert.Equal(t, "sma_cross", cfg.Strategy)
	assert.Equal(t, 3, cfg.Params.Int("short_window", 0))
	assert.Equal(t, 0.95, cfg.Params.Float("cash_fraction", 0))
	assert.Equal(t, 100000.0, cfg.InitialCash)
	assert.Equal(t, CommissionSpec{Model: "percentage", Rate: 0.1}, cfg.Commission)
}

func TestResolveRejectsBadInput(t *testing.T) {
	svc := newTestService(t, nil)
	base := goldenRequest()
	cases := map[string]func(r *RunRequest){
		"no symbols":     func(r *RunRequest) { r.Symbols = []string{" "} },
		"bad timeframe":  func(r *RunRequest) { r.Timeframe = "7m" },
		"bad start":      func(r *RunRequest) { r.Start = "yesterday" },
		"end before":     func(r *RunRequest) { r.End = "2022-12-31" },
		"unknown":        func(r *RunRequest) { r.Strategy = "nope" },
		"bad params":     func(r *RunRequest) { r.Params = map[string]any{"short_window": 9, "long_window": 5} },
		"negative cash":  func(r *RunRequest) { r.InitialCash = -1 },
		"bad commission": func(r *RunRequest) { r.Commission = &CommissionSpec{Model: "tiered"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := base
			mutate(&req)
			_, err := svc.Resolve(req)
			require.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestStartRunPersistsAndNotifies(t *testing.T) {
	notifier := new(MockNotifier)
	notifier.On("SendText", mock.AnythingOfType("string")).Return(nil).Once()
	svc := newTestService(t, notifier)

	run, err := svc.StartRun(goldenRequest())
	require.NoError(t, err)
	assert.Equal(t, RunStatusPending, run.Status)
	assert.NotEmpty(t, run.ID)
	svc.Wait()

	ctx := context.Background()
	got, err := svc.Results().GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusDone, got.Status)
	assert.InDelta(t, 97998, got.Summary.FinalEquity, 1e-9)
	assert.Equal(t, 1, got.Summary.Trades.TotalTrades)
	assert.False(t, got.CompletedAt.IsZero())

	trades, err := svc.Results().ListTrades(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.InDelta(t, -2002, trades[0].Profit, 1e-9)

	curve, err := svc.Results().ListEquity(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, curve, len(goldenCloses))

	notifier.AssertExpectations(t)
	text := notifier.Calls[0].Arguments.String(0)
	assert.Contains(t, text, run.ID)
	assert.Contains(t, text, "97998.00")
}

func TestStartRunMarksFailure(t *testing.T) {
	notifier := new(MockNotifier)
	svc := newTestService(t, notifier)
	req := goldenRequest()
	req.Symbols = []string{"MISSING"}

	run, err := svc.StartRun(req)
	require.NoError(t, err)
	svc.Wait()

	got, err := svc.Results().GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Contains(t, got.Message, "no data")
	notifier.AssertNotCalled(t, "SendText", mock.Anything)
}

func TestNotifierErrorDoesNotFailRun(t *testing.T) {
	notifier := new(MockNotifier)
	notifier.On("SendText", mock.Anything).Return(errors.New("telegram down"))
	svc := newTestService(t, notifier)

	run, err := svc.StartRun(goldenRequest())
	require.NoError(t, err)
	svc.Wait()

	got, err := svc.Results().GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusDone, got.Status)
}

func TestOptimizePersistsSweep(t *testing.T) {
	svc := newTestService(t, nil)
	req := OptimizeRequest{
		RunRequest: goldenRequest(),
		Grid:       optimize.Grid{"short_window": {2, 3, 5}, "long_window": {5}},
		Workers:    2,
	}
	sweep, err := svc.Optimize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, sweep.Report.Total)
	assert.Equal(t, 1, sweep.Report.Skipped)
	require.Len(t, sweep.Report.Results, 2)

	stored, err := svc.Sweeps().GetSweep(context.Background(), sweep.ID)
	require.NoError(t, err)
	assert.Equal(t, sweep.Report.Total, stored.Report.Total)
	require.Len(t, stored.Report.Results, 2)
	assert.Equal(t, sweep.Report.Results[0].Index, stored.Report.Results[0].Index)
	assert.InDelta(t, sweep.Report.Results[0].Sharpe, stored.Report.Results[0].Sharpe, 1e-12)
}

func TestOptimizeRejectsEmptyGrid(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.Optimize(context.Background(), OptimizeRequest{RunRequest: goldenRequest()})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSetDefaultsOnlyOverridesProvidedFields(t *testing.T) {
	svc := newTestService(t, nil)
	svc.SetDefaults(Defaults{InitialCash: 5000, Workers: 4})
	d := svc.Defaults()
	assert.Equal(t, 5000.0, d.InitialCash)
	assert.Equal(t, 4, d.Workers)
	assert.Equal(t, "sma_cross", d.Strategy)
	assert.Equal(t, "1d", d.Timeframe)
}
