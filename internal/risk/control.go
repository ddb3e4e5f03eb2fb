// Package risk implements the pre-trade control gate. Every order
// passes through an ordered sequence of checks; the first failing
// check rejects the order and the rest are skipped.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ashare-labs/quantd/internal/broker"
	"github.com/ashare-labs/quantd/internal/config"
	"github.com/ashare-labs/quantd/internal/metrics"
	"github.com/ashare-labs/quantd/internal/store"
)

// Check names, used in rejection reasons and metrics labels
const (
	CheckFunds       = "funds"
	CheckHoldings    = "holdings"
	CheckPosition    = "position_concentration"
	CheckSector      = "sector_concentration"
	CheckCorrelation = "correlation"
	CheckStops       = "stop_levels"
	CheckRateLimit   = "rate_limit"
)

// Result is the outcome of the gate for one order
type Result struct {
	Passed bool   `json:"passed"`
	Check  string `json:"check,omitempty"`  // failing check when rejected
	Reason string `json:"reason,omitempty"` // human-readable rejection
}

func pass() Result { return Result{Passed: true} }

func reject(check, format string, args ...interface{}) Result {
	metrics.RiskRejectionsTotal.WithLabelValues(check).Inc()
	return Result{Passed: false, Check: check, Reason: fmt.Sprintf(format, args...)}
}

// StopLevels carries the optional protective levels attached to an
// order for sanity checking
type StopLevels struct {
	EntryPrice float64
	StopLoss   *float64
	TakeProfit *float64
}

// Gate is the pre-trade risk control. One instance owns its rate
// counters; two gates never share rate state.
type Gate struct {
	cfg    config.RiskConfig
	broker broker.Broker
	store  *store.Store
	sector func(symbol string) string

	mu         sync.Mutex
	limiter    *rate.Limiter
	dailyCount int
	dailyDay   time.Time // UTC midnight of the day dailyCount covers
	now        func() time.Time

	log zerolog.Logger
}

// NewGate creates a risk gate over the broker and position store.
// sector maps a symbol to its sector bucket.
func NewGate(cfg config.RiskConfig, b broker.Broker, s *store.Store, sector func(string) string) *Gate {
	return &Gate{
		cfg:     cfg,
		broker:  b,
		store:   s,
		sector:  sector,
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxOrdersPerSecond), cfg.MaxOrdersPerSecond),
		now:     time.Now,
		log:     config.NewLogger("risk_gate"),
	}
}

// CheckOrder runs all checks in order against one order request.
// The error return covers infrastructure failures (broker or database
// unreachable); a rejection is not an error.
func (g *Gate) CheckOrder(ctx context.Context, req broker.OrderRequest, stops *StopLevels) (Result, error) {
	account, err := g.broker.AccountInfo(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("fetch account info: %w", err)
	}
	positions, err := g.store.ListPositions()
	if err != nil {
		return Result{}, fmt.Errorf("list positions: %w", err)
	}

	price := req.Price
	if price <= 0 {
		price = g.broker.MarketPrice(req.Symbol)
	}
	notional := price * float64(req.Quantity)

	// Rate limiting runs first and consumes a slot on pass, so even
	// orders the later checks reject count against the caps.
	checks := []func() Result{
		func() Result { return g.checkRateLimits() },
		func() Result { return g.checkPositionConcentration(req, account, positions, notional) },
		func() Result { return g.checkSectorConcentration(req, account, positions, notional) },
		func() Result { return g.checkFunds(req, account, notional) },
		func() Result { return g.checkHoldings(req, positions) },
		func() Result { return g.checkCorrelation(req, positions) },
		func() Result { return g.checkStopLevels(req, stops) },
	}
	for _, check := range checks {
		if r := check(); !r.Passed {
			g.log.Info().
				Str("order_id", req.OrderID).
				Str("symbol", req.Symbol).
				Str("check", r.Check).
				Str("reason", r.Reason).
				Msg("Order rejected by risk gate")
			return r, nil
		}
	}
	return pass(), nil
}

// checkFunds rejects buys whose notional plus a fee margin exceeds cash
func (g *Gate) checkFunds(req broker.OrderRequest, account *broker.Account, notional float64) Result {
	if req.Side != broker.SideBuy {
		return pass()
	}
	// 0.5% margin covers commission and slippage on the estimate.
	required := notional * 1.005
	if required > account.Cash {
		return reject(CheckFunds, "insufficient funds: need %.2f, available %.2f", required, account.Cash)
	}
	return pass()
}

// checkHoldings rejects sells larger than the current position
func (g *Gate) checkHoldings(req broker.OrderRequest, positions []store.PositionRecord) Result {
	if req.Side != broker.SideSell {
		return pass()
	}
	var held int64
	for _, p := range positions {
		if p.Symbol == req.Symbol {
			held = p.Quantity
			break
		}
	}
	if req.Quantity > held {
		return reject(CheckHoldings, "insufficient holdings: selling %d, holding %d", req.Quantity, held)
	}
	return pass()
}

// checkPositionConcentration rejects buys that would push one symbol
// past its share of total portfolio value
func (g *Gate) checkPositionConcentration(req broker.OrderRequest, account *broker.Account, positions []store.PositionRecord, notional float64) Result {
	if req.Side != broker.SideBuy || account.TotalValue <= 0 {
		return pass()
	}
	var existing float64
	for _, p := range positions {
		if p.Symbol == req.Symbol {
			existing = g.broker.MarketPrice(p.Symbol) * float64(p.Quantity)
			break
		}
	}
	pct := (existing + notional) / account.TotalValue
	if pct > g.cfg.MaxPositionPct {
		return reject(CheckPosition, "position would be %.1f%% of portfolio, limit %.1f%%",
			pct*100, g.cfg.MaxPositionPct*100)
	}
	return pass()
}

// checkSectorConcentration rejects buys that would push one sector past
// its share of total portfolio value
func (g *Gate) checkSectorConcentration(req broker.OrderRequest, account *broker.Account, positions []store.PositionRecord, notional float64) Result {
	if req.Side != broker.SideBuy || account.TotalValue <= 0 {
		return pass()
	}
	sector := g.orderSector(req)
	exposure := notional
	for _, p := range positions {
		if p.Sector == sector {
			exposure += g.broker.MarketPrice(p.Symbol) * float64(p.Quantity)
		}
	}
	pct := exposure / account.TotalValue
	if pct > g.cfg.MaxSectorPct {
		return reject(CheckSector, "sector %s would be %.1f%% of portfolio, limit %.1f%%",
			sector, pct*100, g.cfg.MaxSectorPct*100)
	}
	return pass()
}

// checkCorrelation rejects buys highly correlated with an existing
// holding. Without a return-history source the estimate is a sector
// heuristic: same sector 0.85, different sector 0.30.
func (g *Gate) checkCorrelation(req broker.OrderRequest, positions []store.PositionRecord) Result {
	if req.Side != broker.SideBuy {
		return pass()
	}
	sector := g.orderSector(req)
	for _, p := range positions {
		if p.Symbol == req.Symbol {
			continue
		}
		correlation := 0.30
		if p.Sector == sector {
			correlation = 0.85
		}
		if correlation > g.cfg.MaxCorrelation {
			return reject(CheckCorrelation, "estimated correlation %.2f with held %s exceeds limit %.2f",
				correlation, p.Symbol, g.cfg.MaxCorrelation)
		}
	}
	return pass()
}

// checkStopLevels sanity-checks protective levels against the entry
// price: each must sit on the correct side, and the stop loss must not
// concede more than the configured adverse move.
func (g *Gate) checkStopLevels(req broker.OrderRequest, stops *StopLevels) Result {
	if stops == nil || stops.EntryPrice <= 0 {
		return pass()
	}
	entry := stops.EntryPrice
	if stops.StopLoss != nil {
		sl := *stops.StopLoss
		if req.Side == broker.SideBuy && sl >= entry {
			return reject(CheckStops, "stop loss %.2f not below entry %.2f", sl, entry)
		}
		if req.Side == broker.SideSell && sl <= entry {
			return reject(CheckStops, "stop loss %.2f not above entry %.2f", sl, entry)
		}
		adverse := (entry - sl) / entry
		if req.Side == broker.SideSell {
			adverse = (sl - entry) / entry
		}
		if adverse > g.cfg.MaxStopLossPct {
			return reject(CheckStops, "stop loss concedes %.1f%%, limit %.1f%%",
				adverse*100, g.cfg.MaxStopLossPct*100)
		}
	}
	if stops.TakeProfit != nil {
		tp := *stops.TakeProfit
		if req.Side == broker.SideBuy && tp <= entry {
			return reject(CheckStops, "take profit %.2f not above entry %.2f", tp, entry)
		}
		if req.Side == broker.SideSell && tp >= entry {
			return reject(CheckStops, "take profit %.2f not below entry %.2f", tp, entry)
		}
	}
	return pass()
}

// checkRateLimits enforces the per-second and per-day order caps. The
// daily counter rolls over at UTC midnight. Passing this check counts
// the order against both limits.
func (g *Gate) checkRateLimits() Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	day := now.UTC().Truncate(24 * time.Hour)
	if !day.Equal(g.dailyDay) {
		g.dailyDay = day
		g.dailyCount = 0
	}
	if g.dailyCount >= g.cfg.MaxDailyOrders {
		return reject(CheckRateLimit, "daily order limit %d reached", g.cfg.MaxDailyOrders)
	}
	if !g.limiter.AllowN(now, 1) {
		return reject(CheckRateLimit, "per-second order limit %d exceeded", g.cfg.MaxOrdersPerSecond)
	}
	g.dailyCount++
	return pass()
}

func (g *Gate) orderSector(req broker.OrderRequest) string {
	if req.Sector != "" {
		return req.Sector
	}
	if g.sector != nil {
		return g.sector(req.Symbol)
	}
	return "unknown"
}
