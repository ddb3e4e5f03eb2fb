package broker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ashare-labs/quantd/internal/config"
	"github.com/ashare-labs/quantd/internal/market"
)

// SimBroker fills every well-formed order immediately at the limit
// price (or the deterministic paper price for market orders) and
// tracks cash and holdings in memory. Fees follow A-share conventions:
// commission is max(rate x notional, the minimum commission), and sell
// orders additionally pay stamp duty.
type SimBroker struct {
	cfg config.BrokerConfig

	mu        sync.Mutex
	connected bool
	cash      float64
	positions map[string]*Position
	reports   map[string]*ExecutionReport

	log zerolog.Logger
}

// NewSimBroker creates a simulation broker with the configured cash
func NewSimBroker(cfg config.BrokerConfig) *SimBroker {
	return &SimBroker{
		cfg:       cfg,
		cash:      cfg.InitialCash,
		positions: make(map[string]*Position),
		reports:   make(map[string]*ExecutionReport),
		log:       config.NewLogger("sim_broker"),
	}
}

func (b *SimBroker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	b.log.Info().Float64("cash", b.cash).Msg("Simulation broker connected")
	return nil
}

func (b *SimBroker) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

// MarketPrice returns the deterministic paper price for a symbol
func (b *SimBroker) MarketPrice(symbol string) float64 {
	return market.BasePrice(symbol)
}

// SubmitOrder fills the order immediately or rejects it. The returned
// report is also retrievable later via OrderStatus. The error return
// covers transport-level failures only and is always nil here; trading
// rejections come back as REJECTED reports.
func (b *SimBroker) SubmitOrder(ctx context.Context, req OrderRequest) (*ExecutionReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return nil, fmt.Errorf("broker not connected")
	}

	report := &ExecutionReport{
		OrderID:       req.OrderID,
		BrokerOrderID: "SIM-" + uuid.NewString()[:8],
		Symbol:        req.Symbol,
		Side:          req.Side,
		Timestamp:     time.Now(),
	}

	price := req.Price
	if req.Type == TypeMarket || price <= 0 {
		price = market.BasePrice(req.Symbol)
	}
	notional := price * float64(req.Quantity)
	fees := b.fees(req.Side, notional)

	switch req.Side {
	case SideBuy:
		total := notional + fees
		if total > b.cash {
			report.Status = "REJECTED"
			report.Reason = fmt.Sprintf("insufficient cash: need %.2f, have %.2f", total, b.cash)
		} else {
			b.cash -= total
			pos := b.positions[req.Symbol]
			if pos == nil {
				pos = &Position{Symbol: req.Symbol}
				b.positions[req.Symbol] = pos
			}
			newQty := pos.Quantity + req.Quantity
			pos.AvgPrice = (pos.AvgPrice*float64(pos.Quantity) + notional) / float64(newQty)
			pos.Quantity = newQty
			b.fill(report, req.Quantity, price, fees)
		}
	case SideSell:
		pos := b.positions[req.Symbol]
		if pos == nil || pos.Quantity < req.Quantity {
			have := int64(0)
			if pos != nil {
				have = pos.Quantity
			}
			report.Status = "REJECTED"
			report.Reason = fmt.Sprintf("insufficient holdings: selling %d, have %d", req.Quantity, have)
		} else {
			b.cash += notional - fees
			pos.Quantity -= req.Quantity
			if pos.Quantity == 0 {
				delete(b.positions, req.Symbol)
			}
			b.fill(report, req.Quantity, price, fees)
		}
	default:
		report.Status = "REJECTED"
		report.Reason = fmt.Sprintf("unknown side: %q", req.Side)
	}

	b.reports[req.OrderID] = report

	b.log.Debug().
		Str("order_id", req.OrderID).
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("status", report.Status).
		Float64("fill_price", report.AvgFillPrice).
		Float64("commission", report.Commission).
		Msg("Order processed")

	return report, nil
}

func (b *SimBroker) fill(report *ExecutionReport, qty int64, price, fees float64) {
	report.Status = "FILLED"
	report.FilledQty = qty
	report.AvgFillPrice = price
	report.Commission = fees
}

// fees computes commission plus, for sells, stamp duty
func (b *SimBroker) fees(side Side, notional float64) float64 {
	commission := math.Max(b.cfg.CommissionRate*notional, b.cfg.MinCommission)
	if side == SideSell {
		commission += b.cfg.StampDutyRate * notional
	}
	return commission
}

// CancelOrder always fails: simulation fills are immediate, so by the
// time a cancel arrives the order is already terminal.
func (b *SimBroker) CancelOrder(ctx context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if report, ok := b.reports[orderID]; ok {
		return fmt.Errorf("order %s already %s", orderID, report.Status)
	}
	return fmt.Errorf("order %s not found", orderID)
}

// OrderStatus returns the stored report for an order
func (b *SimBroker) OrderStatus(ctx context.Context, orderID string) (*ExecutionReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	report, ok := b.reports[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s not found", orderID)
	}
	return report, nil
}

// AccountInfo returns a snapshot valued at current paper prices
func (b *SimBroker) AccountInfo(ctx context.Context) (*Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var marketValue float64
	for symbol, pos := range b.positions {
		marketValue += market.BasePrice(symbol) * float64(pos.Quantity)
	}
	return &Account{
		Cash:        b.cash,
		MarketValue: marketValue,
		TotalValue:  b.cash + marketValue,
	}, nil
}

// Positions returns the current holdings
func (b *SimBroker) Positions(ctx context.Context) ([]Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, *pos)
	}
	return out, nil
}
