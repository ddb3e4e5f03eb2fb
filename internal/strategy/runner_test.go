package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashare-labs/quantd/internal/broker"
	"github.com/ashare-labs/quantd/internal/config"
	"github.com/ashare-labs/quantd/internal/risk"
	"github.com/ashare-labs/quantd/internal/signal"
	"github.com/ashare-labs/quantd/internal/store"
)

func testRunner(t *testing.T, manager *Manager) *Runner {
	t.Helper()
	r, err := NewRunner(config.StrategyConfig{
		Name:         "multi_agent",
		Symbols:      []string{"600519"},
		ScanInterval: time.Minute,
		Timezone:     "Asia/Shanghai",
	}, nil, manager)
	require.NoError(t, err)
	return r
}

func shanghai(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	return loc
}

func TestIsMarketOpen(t *testing.T) {
	r := testRunner(t, nil)
	loc := shanghai(t)

	cases := []struct {
		name string
		at   time.Time
		open bool
	}{
		{"monday morning session", time.Date(2026, 8, 24, 10, 0, 0, 0, loc), true},
		{"morning open boundary", time.Date(2026, 8, 24, 9, 30, 0, 0, loc), true},
		{"before morning open", time.Date(2026, 8, 24, 9, 29, 0, 0, loc), false},
		{"lunch break", time.Date(2026, 8, 24, 12, 0, 0, 0, loc), false},
		{"morning close boundary", time.Date(2026, 8, 24, 11, 30, 0, 0, loc), false},
		{"afternoon session", time.Date(2026, 8, 24, 14, 30, 0, 0, loc), true},
		{"afternoon open boundary", time.Date(2026, 8, 24, 13, 0, 0, 0, loc), true},
		{"after close", time.Date(2026, 8, 24, 15, 0, 0, 0, loc), false},
		{"saturday", time.Date(2026, 8, 22, 10, 0, 0, 0, loc), false},
		{"sunday", time.Date(2026, 8, 23, 10, 0, 0, 0, loc), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.open, r.IsMarketOpen(tc.at))
		})
	}
}

func TestIsMarketOpenConvertsTimezone(t *testing.T) {
	r := testRunner(t, nil)
	// 02:00 UTC on a Monday is 10:00 in Shanghai: open.
	assert.True(t, r.IsMarketOpen(time.Date(2026, 8, 24, 2, 0, 0, 0, time.UTC)))
	// 10:00 UTC is 18:00 in Shanghai: closed.
	assert.False(t, r.IsMarketOpen(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)))
}

func TestLotQuantity(t *testing.T) {
	cases := []struct {
		budget float64
		price  float64
		want   int64
	}{
		{100_000, 100.0, 1000},
		{99_999, 100.0, 900},  // 999 shares rounds down to 9 lots
		{5_000, 100.0, 0},     // under one lot
		{25_000, 123.45, 200}, // 202 shares rounds down to 2 lots
		{10_000, 0, 0},
		{0, 100.0, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, lotQuantity(tc.budget, tc.price), "budget=%.0f price=%.2f", tc.budget, tc.price)
	}
}

type placedOrder struct {
	req   broker.OrderRequest
	stops *risk.StopLevels
}

func recordingManager(positions map[string]*store.PositionRecord, placed *[]placedOrder) *Manager {
	return &Manager{
		Place: func(ctx context.Context, req broker.OrderRequest, stops *risk.StopLevels) (*store.OrderRecord, error) {
			*placed = append(*placed, placedOrder{req: req, stops: stops})
			return &store.OrderRecord{ID: "o-1", Status: "FILLED"}, nil
		},
		Account: func(ctx context.Context) (*broker.Account, error) {
			return &broker.Account{Cash: 1_000_000, TotalValue: 1_000_000}, nil
		},
		Position: func(symbol string) (*store.PositionRecord, error) {
			return positions[symbol], nil
		},
		MarkPrice: func(symbol string) float64 { return 50.0 },
	}
}

func TestExecuteLongSignal(t *testing.T) {
	var placed []placedOrder
	r := testRunner(t, recordingManager(nil, &placed))

	entry := 50.0
	stop := 47.0
	err := r.execute(context.Background(), &signal.AggregatedSignal{
		Symbol:       "600519",
		Direction:    signal.DirectionLong,
		Confidence:   0.8,
		PositionSize: 0.08,
		EntryPrice:   &entry,
		StopLoss:     &stop,
	})
	require.NoError(t, err)
	require.Len(t, placed, 1)

	req := placed[0].req
	assert.Equal(t, broker.SideBuy, req.Side)
	assert.Equal(t, broker.TypeLimit, req.Type)
	// 8% of 1,000,000 at 50.00 is 1600 shares, already whole lots.
	assert.Equal(t, int64(1600), req.Quantity)
	assert.InDelta(t, 50.0, req.Price, 1e-9)
	require.NotNil(t, placed[0].stops)
	assert.Equal(t, &stop, placed[0].stops.StopLoss)
}

func TestExecuteCloseSignal(t *testing.T) {
	positions := map[string]*store.PositionRecord{
		"600519": {Symbol: "600519", Quantity: 800, AvgPrice: 45.0},
	}
	var placed []placedOrder
	r := testRunner(t, recordingManager(positions, &placed))

	err := r.execute(context.Background(), &signal.AggregatedSignal{
		Symbol:    "600519",
		Direction: signal.DirectionClose,
	})
	require.NoError(t, err)
	require.Len(t, placed, 1)
	assert.Equal(t, broker.SideSell, placed[0].req.Side)
	assert.Equal(t, int64(800), placed[0].req.Quantity)
}

func TestExecuteShortWithoutPositionIsNoop(t *testing.T) {
	var placed []placedOrder
	r := testRunner(t, recordingManager(nil, &placed))

	err := r.execute(context.Background(), &signal.AggregatedSignal{
		Symbol:    "600519",
		Direction: signal.DirectionShort,
	})
	require.NoError(t, err)
	assert.Empty(t, placed)
}

// The aggregator delivers weak votes with advisory flags; the runner is
// the caller that declines to trade on them.
func TestTradable(t *testing.T) {
	cases := []struct {
		name string
		sig  signal.AggregatedSignal
		want bool
	}{
		{"solid long", signal.AggregatedSignal{Direction: signal.DirectionLong}, true},
		{"hold consensus", signal.AggregatedSignal{Direction: signal.DirectionHold}, false},
		{"below strength threshold", signal.AggregatedSignal{
			Direction: signal.DirectionLong,
			Metadata:  signal.Metadata{BelowThreshold: true},
		}, false},
		{"below agreement", signal.AggregatedSignal{
			Direction: signal.DirectionLong,
			Metadata:  signal.Metadata{BelowAgreement: true},
		}, false},
		{"solid close", signal.AggregatedSignal{Direction: signal.DirectionClose}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig := tc.sig
			assert.Equal(t, tc.want, tradable(&sig))
		})
	}
}

func TestExecuteTinyPositionSkipped(t *testing.T) {
	var placed []placedOrder
	r := testRunner(t, recordingManager(nil, &placed))

	// 0.1% of the portfolio at 50.00 is 20 shares: below one lot.
	err := r.execute(context.Background(), &signal.AggregatedSignal{
		Symbol:       "600519",
		Direction:    signal.DirectionLong,
		PositionSize: 0.001,
	})
	require.NoError(t, err)
	assert.Empty(t, placed)
}
