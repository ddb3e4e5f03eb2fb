// Package strategy runs the periodic scan loop: analyze each watched
// symbol during market hours and turn tradable signals into orders.
package strategy

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/ashare-labs/quantd/internal/broker"
	"github.com/ashare-labs/quantd/internal/config"
	"github.com/ashare-labs/quantd/internal/order"
	"github.com/ashare-labs/quantd/internal/orchestrator"
	"github.com/ashare-labs/quantd/internal/risk"
	"github.com/ashare-labs/quantd/internal/signal"
	"github.com/ashare-labs/quantd/internal/store"
)

// Runner drives the scan loop for a fixed symbol list
type Runner struct {
	cfg     config.StrategyConfig
	orch    *orchestrator.Orchestrator
	manager *Manager
	loc     *time.Location
	log     zerolog.Logger
}

// Manager is the slice of the order layer the runner needs
type Manager struct {
	Place     func(ctx context.Context, req broker.OrderRequest, stops *risk.StopLevels) (*store.OrderRecord, error)
	Account   func(ctx context.Context) (*broker.Account, error)
	Position  func(symbol string) (*store.PositionRecord, error)
	MarkPrice func(symbol string) float64
}

// NewManager adapts the concrete order manager and broker for the runner
func NewManager(m *order.Manager, b broker.Broker, s *store.Store) *Manager {
	return &Manager{
		Place:     m.PlaceOrder,
		Account:   b.AccountInfo,
		Position:  s.GetPosition,
		MarkPrice: b.MarketPrice,
	}
}

// NewRunner creates a scan-loop runner. The timezone must already be
// validated by config.
func NewRunner(cfg config.StrategyConfig, orch *orchestrator.Orchestrator, manager *Manager) (*Runner, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	return &Runner{
		cfg:     cfg,
		orch:    orch,
		manager: manager,
		loc:     loc,
		log:     config.NewLogger("strategy_runner"),
	}, nil
}

// Run scans every configured symbol once per interval until ctx ends.
// Outside market hours the tick is skipped.
func (r *Runner) Run(ctx context.Context) {
	r.log.Info().
		Strs("symbols", r.cfg.Symbols).
		Dur("interval", r.cfg.ScanInterval).
		Msg("Strategy runner started")

	ticker := time.NewTicker(r.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("Strategy runner stopped")
			return
		case <-ticker.C:
			if !r.IsMarketOpen(time.Now()) {
				continue
			}
			r.scan(ctx)
		}
	}
}

// IsMarketOpen reports whether t falls inside A-share trading hours:
// weekdays 09:30-11:30 and 13:00-15:00 in the configured timezone.
// Exchange holidays are not modeled.
func (r *Runner) IsMarketOpen(t time.Time) bool {
	local := t.In(r.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	morning := minutes >= 9*60+30 && minutes < 11*60+30
	afternoon := minutes >= 13*60 && minutes < 15*60
	return morning || afternoon
}

func (r *Runner) scan(ctx context.Context) {
	for _, symbol := range r.cfg.Symbols {
		resp, err := r.orch.AnalyzeAndSignal(ctx, symbol)
		if err != nil {
			r.log.Error().Err(err).Str("symbol", symbol).Msg("Scan analysis failed")
			continue
		}
		if resp.Signal == nil {
			r.log.Debug().
				Str("symbol", symbol).
				Str("reason", resp.RejectionReason).
				Msg("No signal produced")
			continue
		}
		if !tradable(resp.Signal) {
			r.log.Debug().
				Str("symbol", symbol).
				Str("direction", string(resp.Signal.Direction)).
				Float64("confidence", resp.Signal.Confidence).
				Bool("below_threshold", resp.Signal.Metadata.BelowThreshold).
				Bool("below_agreement", resp.Signal.Metadata.BelowAgreement).
				Msg("Signal too weak to trade")
			continue
		}
		if err := r.execute(ctx, resp.Signal); err != nil {
			// Risk rejections are routine during concentrated markets.
			if errors.Is(err, order.ErrRiskRejected) {
				r.log.Info().Err(err).Str("symbol", symbol).Msg("Signal rejected by risk gate")
			} else {
				r.log.Error().Err(err).Str("symbol", symbol).Msg("Signal execution failed")
			}
		}
	}
}

// tradable reports whether the runner should act on a signal. The
// aggregator flags weak votes instead of suppressing them; this caller
// chooses not to trade on flagged ones.
func tradable(sig *signal.AggregatedSignal) bool {
	if sig.Direction == signal.DirectionHold {
		return false
	}
	return !sig.Metadata.BelowThreshold && !sig.Metadata.BelowAgreement
}

// execute converts one aggregated signal into an order. LONG buys a
// confidence-scaled slice of the portfolio; SHORT and CLOSE flatten the
// existing position. A-shares cannot be sold short, so SHORT without a
// position is a no-op.
func (r *Runner) execute(ctx context.Context, sig *signal.AggregatedSignal) error {
	switch sig.Direction {
	case signal.DirectionLong:
		return r.openLong(ctx, sig)
	case signal.DirectionShort, signal.DirectionClose:
		return r.closePosition(ctx, sig)
	default:
		return nil
	}
}

func (r *Runner) openLong(ctx context.Context, sig *signal.AggregatedSignal) error {
	account, err := r.manager.Account(ctx)
	if err != nil {
		return err
	}
	price := r.manager.MarkPrice(sig.Symbol)
	if sig.EntryPrice != nil {
		price = *sig.EntryPrice
	}
	qty := lotQuantity(account.TotalValue*sig.PositionSize, price)
	if qty == 0 {
		r.log.Debug().Str("symbol", sig.Symbol).Msg("Position size below one lot, skipping")
		return nil
	}

	req := broker.OrderRequest{
		Symbol:   sig.Symbol,
		Side:     broker.SideBuy,
		Type:     broker.TypeLimit,
		Quantity: qty,
		Price:    price,
	}
	stops := &risk.StopLevels{
		EntryPrice: price,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TargetPrice,
	}
	_, err = r.manager.Place(ctx, req, stops)
	return err
}

func (r *Runner) closePosition(ctx context.Context, sig *signal.AggregatedSignal) error {
	pos, err := r.manager.Position(sig.Symbol)
	if err != nil {
		return err
	}
	if pos == nil || pos.Quantity == 0 {
		return nil
	}
	req := broker.OrderRequest{
		Symbol:   sig.Symbol,
		Side:     broker.SideSell,
		Type:     broker.TypeMarket,
		Quantity: pos.Quantity,
	}
	_, err = r.manager.Place(ctx, req, nil)
	return err
}

// lotQuantity converts a notional budget into whole 100-share lots
func lotQuantity(budget, price float64) int64 {
	if price <= 0 || budget <= 0 {
		return 0
	}
	shares := int64(budget / price)
	return shares - shares%100
}
