package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashare-labs/quantd/internal/broker"
	"github.com/ashare-labs/quantd/internal/config"
	"github.com/ashare-labs/quantd/internal/store"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositionPct:     0.10,
		MaxSectorPct:       0.30,
		MaxCorrelation:     0.70,
		MaxStopLossPct:     0.20,
		MaxDailyOrders:     20000,
		MaxOrdersPerSecond: 50,
	}
}

func sectorStub(symbol string) string {
	switch symbol {
	case "600036", "000001":
		return "financial"
	default:
		return "consumer"
	}
}

func newTestGate(t *testing.T, cfg config.RiskConfig) (*Gate, *store.Store) {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	b := broker.NewSimBroker(config.BrokerConfig{
		Mode:           "sim",
		InitialCash:    1_000_000,
		CommissionRate: 0.0003,
		MinCommission:  5.0,
		StampDutyRate:  0.001,
	})
	require.NoError(t, b.Connect(context.Background()))

	return NewGate(cfg, b, db, sectorStub), db
}

func buyOrder(symbol string, qty int64, price float64) broker.OrderRequest {
	return broker.OrderRequest{
		OrderID:  "test-order",
		Symbol:   symbol,
		Side:     broker.SideBuy,
		Type:     broker.TypeLimit,
		Quantity: qty,
		Price:    price,
	}
}

func TestGatePassesCleanOrder(t *testing.T) {
	gate, _ := newTestGate(t, testRiskConfig())
	result, err := gate.CheckOrder(context.Background(), buyOrder("600519", 100, 100.0), nil)
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Empty(t, result.Reason)
}

func TestGateFundsCheck(t *testing.T) {
	cfg := testRiskConfig()
	// Concentration caps wide open so the cash check is what trips.
	cfg.MaxPositionPct = 10.0
	cfg.MaxSectorPct = 10.0
	gate, _ := newTestGate(t, cfg)

	// 2,000,000 notional against 1,000,000 cash.
	result, err := gate.CheckOrder(context.Background(), buyOrder("600519", 20000, 100.0), nil)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, CheckFunds, result.Check)
}

func TestGateHoldingsCheck(t *testing.T) {
	gate, db := newTestGate(t, testRiskConfig())
	require.NoError(t, db.SavePosition(&store.PositionRecord{
		Symbol: "600519", Quantity: 300, AvgPrice: 50.0, Sector: "consumer",
	}))

	sell := broker.OrderRequest{
		OrderID: "o-1", Symbol: "600519", Side: broker.SideSell,
		Type: broker.TypeLimit, Quantity: 500, Price: 50.0,
	}
	result, err := gate.CheckOrder(context.Background(), sell, nil)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, CheckHoldings, result.Check)
	assert.Contains(t, result.Reason, "selling 500, holding 300")

	sell.Quantity = 300
	result, err = gate.CheckOrder(context.Background(), sell, nil)
	require.NoError(t, err)
	assert.True(t, result.Passed)
}

func TestGatePositionConcentration(t *testing.T) {
	gate, _ := newTestGate(t, testRiskConfig())
	// 200,000 notional is 20% of the 1,000,000 portfolio; limit is 10%.
	result, err := gate.CheckOrder(context.Background(), buyOrder("600519", 2000, 100.0), nil)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, CheckPosition, result.Check)
}

func TestGateSectorConcentration(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxPositionPct = 1.0   // isolate the sector check
	cfg.MaxCorrelation = 0.99  // and the correlation check
	gate, db := newTestGate(t, cfg)

	// Existing consumer exposure near the 30% cap, priced at the
	// broker's deterministic paper price.
	price := gate.broker.MarketPrice("600887")
	qty := int64(250_000 / price)
	require.NoError(t, db.SavePosition(&store.PositionRecord{
		Symbol: "600887", Quantity: qty, AvgPrice: price, Sector: "consumer",
	}))

	result, err := gate.CheckOrder(context.Background(), buyOrder("600519", 1000, 100.0), nil)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, CheckSector, result.Check)
}

func TestGateCorrelation(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxPositionPct = 1.0
	cfg.MaxSectorPct = 1.0
	gate, db := newTestGate(t, cfg)

	require.NoError(t, db.SavePosition(&store.PositionRecord{
		Symbol: "600887", Quantity: 100, AvgPrice: 50.0, Sector: "consumer",
	}))

	// Same sector: estimated correlation 0.85 exceeds the 0.70 cap.
	result, err := gate.CheckOrder(context.Background(), buyOrder("600519", 100, 100.0), nil)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, CheckCorrelation, result.Check)

	// Different sector: 0.30 passes.
	result, err = gate.CheckOrder(context.Background(), buyOrder("600036", 100, 100.0), nil)
	require.NoError(t, err)
	assert.True(t, result.Passed)
}

func TestGateStopLevels(t *testing.T) {
	gate, _ := newTestGate(t, testRiskConfig())
	ctx := context.Background()
	req := buyOrder("600519", 100, 100.0)

	cases := []struct {
		name   string
		stops  *StopLevels
		passed bool
	}{
		{"sane levels", &StopLevels{EntryPrice: 100, StopLoss: fptr(92), TakeProfit: fptr(110)}, true},
		{"stop above entry on buy", &StopLevels{EntryPrice: 100, StopLoss: fptr(105)}, false},
		{"stop concedes too much", &StopLevels{EntryPrice: 100, StopLoss: fptr(70)}, false},
		{"take profit below entry on buy", &StopLevels{EntryPrice: 100, TakeProfit: fptr(95)}, false},
		{"no levels", nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := gate.CheckOrder(ctx, req, tc.stops)
			require.NoError(t, err)
			assert.Equal(t, tc.passed, result.Passed)
			if !tc.passed {
				assert.Equal(t, CheckStops, result.Check)
			}
		})
	}
}

func TestGateDailyOrderCap(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxDailyOrders = 3
	gate, _ := newTestGate(t, cfg)

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	gate.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		result := gate.checkRateLimits()
		assert.True(t, result.Passed, "order %d within cap", i+1)
		base = base.Add(time.Second)
	}

	result := gate.checkRateLimits()
	assert.False(t, result.Passed)
	assert.Equal(t, CheckRateLimit, result.Check)
	assert.Contains(t, result.Reason, "daily order limit")

	// Past UTC midnight the counter rolls over.
	base = time.Date(2026, 3, 3, 0, 0, 1, 0, time.UTC)
	result = gate.checkRateLimits()
	assert.True(t, result.Passed)
}

func TestGatePerSecondLimit(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxOrdersPerSecond = 2
	gate, _ := newTestGate(t, cfg)

	frozen := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	gate.now = func() time.Time { return frozen }

	assert.True(t, gate.checkRateLimits().Passed)
	assert.True(t, gate.checkRateLimits().Passed)

	result := gate.checkRateLimits()
	assert.False(t, result.Passed)
	assert.Contains(t, result.Reason, "per-second")

	// One second later the bucket refills.
	frozen = frozen.Add(time.Second)
	assert.True(t, gate.checkRateLimits().Passed)
}

// Rate limiting runs before every other check, and a pass through it
// consumes budget even when a later check rejects the order.
func TestGateRateLimitRunsFirst(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxDailyOrders = 2
	gate, _ := newTestGate(t, cfg)

	frozen := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	gate.now = func() time.Time { return frozen }

	ctx := context.Background()
	affordable := buyOrder("600519", 100, 100.0)
	unaffordable := buyOrder("600519", 20000, 100.0) // fails funds and concentration

	result, err := gate.CheckOrder(ctx, affordable, nil)
	require.NoError(t, err)
	require.True(t, result.Passed)

	// Rejected downstream, but it still burned a daily slot.
	result, err = gate.CheckOrder(ctx, unaffordable, nil)
	require.NoError(t, err)
	require.False(t, result.Passed)
	assert.NotEqual(t, CheckRateLimit, result.Check)

	// The budget is gone: even a clean order now fails at the rate
	// limit, before any other check can speak.
	result, err = gate.CheckOrder(ctx, unaffordable, nil)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, CheckRateLimit, result.Check)

	result, err = gate.CheckOrder(ctx, affordable, nil)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, CheckRateLimit, result.Check)
}

func fptr(v float64) *float64 { return &v }
