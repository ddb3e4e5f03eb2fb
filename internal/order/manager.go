// Package order owns the order lifecycle: validation, the risk gate,
// broker submission, fill accounting and position bookkeeping.
package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ashare-labs/quantd/internal/broker"
	"github.com/ashare-labs/quantd/internal/config"
	"github.com/ashare-labs/quantd/internal/metrics"
	"github.com/ashare-labs/quantd/internal/risk"
	"github.com/ashare-labs/quantd/internal/store"
)

// Order lifecycle states
const (
	StatusPending   = "PENDING"
	StatusSubmitted = "SUBMITTED"
	StatusFilled    = "FILLED"
	StatusRejected  = "REJECTED"
	StatusCancelled = "CANCELLED"
)

// Lot sizing limits for A-share orders
const (
	LotSize     = 100
	MinQuantity = 100
	MaxQuantity = 1_000_000
)

var (
	ErrValidation          = errors.New("order validation failed")
	ErrRiskRejected        = errors.New("order rejected by risk gate")
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderNotCancellable = errors.New("order not cancellable")
)

// riskChecker is the slice of the risk gate the manager depends on
type riskChecker interface {
	CheckOrder(ctx context.Context, req broker.OrderRequest, stops *risk.StopLevels) (risk.Result, error)
}

// Manager drives orders through their lifecycle. Orders for the same
// symbol are serialized so position arithmetic never races.
type Manager struct {
	store  *store.Store
	broker broker.Broker
	gate   riskChecker
	sector func(symbol string) string

	mu          sync.Mutex
	symbolLocks map[string]*sync.Mutex

	log zerolog.Logger
}

// NewManager creates an order manager
func NewManager(s *store.Store, b broker.Broker, gate riskChecker, sector func(string) string) *Manager {
	return &Manager{
		store:       s,
		broker:      b,
		gate:        gate,
		sector:      sector,
		symbolLocks: make(map[string]*sync.Mutex),
		log:         config.NewLogger("order_manager"),
	}
}

func (m *Manager) symbolLock(symbol string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.symbolLocks[symbol]
	if !ok {
		l = &sync.Mutex{}
		m.symbolLocks[symbol] = l
	}
	return l
}

// PlaceOrder validates, risk-checks and submits one order. Validation
// runs before the risk gate: an order that cannot be well-formed never
// consumes rate-limit budget. A risk rejection returns ErrRiskRejected
// and leaves no order on the book; only orders that clear the gate are
// persisted, so the returned record reflects the broker outcome.
func (m *Manager) PlaceOrder(ctx context.Context, req broker.OrderRequest, stops *risk.StopLevels) (*store.OrderRecord, error) {
	if err := validate(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if req.OrderID == "" {
		req.OrderID = uuid.NewString()
	}
	if req.Sector == "" && m.sector != nil {
		req.Sector = m.sector(req.Symbol)
	}

	lock := m.symbolLock(req.Symbol)
	lock.Lock()
	defer lock.Unlock()

	result, err := m.gate.CheckOrder(ctx, req, stops)
	if err != nil {
		return nil, fmt.Errorf("risk check: %w", err)
	}
	if !result.Passed {
		return nil, fmt.Errorf("%w: %s: %s", ErrRiskRejected, result.Check, result.Reason)
	}

	record := &store.OrderRecord{
		ID:       req.OrderID,
		Symbol:   req.Symbol,
		Side:     string(req.Side),
		Type:     string(req.Type),
		Quantity: req.Quantity,
		Price:    req.Price,
	}

	record.Status = StatusPending
	if err := m.store.SaveOrder(record); err != nil {
		return nil, fmt.Errorf("persist pending order: %w", err)
	}

	record.Status = StatusSubmitted
	if err := m.store.SaveOrder(record); err != nil {
		return nil, fmt.Errorf("persist submitted order: %w", err)
	}

	report, err := m.broker.SubmitOrder(ctx, req)
	if err != nil {
		record.Status = StatusRejected
		record.RejectReason = fmt.Sprintf("broker error: %v", err)
		if saveErr := m.store.SaveOrder(record); saveErr != nil {
			m.log.Error().Err(saveErr).Str("order_id", record.ID).Msg("Failed to persist broker rejection")
		}
		metrics.OrdersTotal.WithLabelValues(StatusRejected).Inc()
		return record, fmt.Errorf("submit order: %w", err)
	}

	if err := m.applyReport(record, report); err != nil {
		return record, err
	}
	return record, nil
}

// applyReport folds a broker execution report into the order record and
// the position book. Caller must hold the symbol lock.
func (m *Manager) applyReport(record *store.OrderRecord, report *broker.ExecutionReport) error {
	record.BrokerOrderID = report.BrokerOrderID

	switch report.Status {
	case "FILLED":
		record.Status = StatusFilled
		record.FilledQty = report.FilledQty
		record.AvgFillPrice = report.AvgFillPrice
		record.Commission = report.Commission
		if err := m.applyFill(record); err != nil {
			return fmt.Errorf("apply fill: %w", err)
		}
	case "REJECTED":
		record.Status = StatusRejected
		record.RejectReason = report.Reason
	default:
		// Broker still working the order; MonitorOrders reconciles it.
		record.Status = StatusSubmitted
	}

	if err := m.store.SaveOrder(record); err != nil {
		return fmt.Errorf("persist order: %w", err)
	}
	metrics.OrdersTotal.WithLabelValues(record.Status).Inc()

	m.log.Info().
		Str("order_id", record.ID).
		Str("symbol", record.Symbol).
		Str("side", record.Side).
		Str("status", record.Status).
		Int64("filled_qty", record.FilledQty).
		Float64("avg_fill_price", record.AvgFillPrice).
		Msg("Order reached terminal state")

	return nil
}

// applyFill updates the position book for a fill. Buys recompute the
// volume-weighted average price; sells realize PnL against it, net of
// the fill's commission. A position that reaches zero shares is
// deleted.
func (m *Manager) applyFill(record *store.OrderRecord) error {
	pos, err := m.store.GetPosition(record.Symbol)
	if err != nil {
		return err
	}

	switch record.Side {
	case string(broker.SideBuy):
		if pos == nil {
			pos = &store.PositionRecord{Symbol: record.Symbol}
			if m.sector != nil {
				pos.Sector = m.sector(record.Symbol)
			}
		}
		newQty := pos.Quantity + record.FilledQty
		pos.AvgPrice = (pos.AvgPrice*float64(pos.Quantity) + record.AvgFillPrice*float64(record.FilledQty)) / float64(newQty)
		pos.Quantity = newQty
		return m.store.SavePosition(pos)

	case string(broker.SideSell):
		if pos == nil {
			return fmt.Errorf("sell fill for %s with no position on book", record.Symbol)
		}
		pos.RealizedPnL += (record.AvgFillPrice-pos.AvgPrice)*float64(record.FilledQty) - record.Commission
		pos.Quantity -= record.FilledQty
		if pos.Quantity <= 0 {
			m.log.Info().
				Str("symbol", record.Symbol).
				Float64("realized_pnl", pos.RealizedPnL).
				Msg("Position closed")
			return m.store.DeletePosition(record.Symbol)
		}
		return m.store.SavePosition(pos)

	default:
		return fmt.Errorf("unknown side %q", record.Side)
	}
}

// Cancel cancels a working order. Terminal orders return
// ErrOrderNotCancellable.
func (m *Manager) Cancel(ctx context.Context, orderID string) error {
	record, err := m.store.GetOrder(orderID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	switch record.Status {
	case StatusPending, StatusSubmitted:
	default:
		return fmt.Errorf("%w: order %s is %s", ErrOrderNotCancellable, orderID, record.Status)
	}

	if err := m.broker.CancelOrder(ctx, orderID); err != nil {
		return fmt.Errorf("%w: %v", ErrOrderNotCancellable, err)
	}

	record.Status = StatusCancelled
	if err := m.store.SaveOrder(record); err != nil {
		return fmt.Errorf("persist cancelled order: %w", err)
	}
	metrics.OrdersTotal.WithLabelValues(StatusCancelled).Inc()
	return nil
}

// Get returns one order by ID
func (m *Manager) Get(orderID string) (*store.OrderRecord, error) {
	record, err := m.store.GetOrder(orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return record, nil
}

// List returns orders newest first, optionally filtered by status
func (m *Manager) List(status string, limit int) ([]store.OrderRecord, error) {
	return m.store.ListOrders(status, limit)
}

// Positions returns the current position book
func (m *Manager) Positions() ([]store.PositionRecord, error) {
	return m.store.ListPositions()
}

// MonitorOrders reconciles non-terminal orders against the broker.
// Intended to run periodically; each pass is bounded by ctx.
func (m *Manager) MonitorOrders(ctx context.Context) error {
	working, err := m.store.ListOrders(StatusSubmitted, 0)
	if err != nil {
		return fmt.Errorf("list working orders: %w", err)
	}
	for i := range working {
		record := &working[i]
		report, err := m.broker.OrderStatus(ctx, record.ID)
		if err != nil {
			m.log.Warn().Err(err).Str("order_id", record.ID).Msg("Order status query failed")
			continue
		}
		lock := m.symbolLock(record.Symbol)
		lock.Lock()
		err = m.applyReport(record, report)
		lock.Unlock()
		if err != nil {
			m.log.Error().Err(err).Str("order_id", record.ID).Msg("Failed to reconcile order")
		}
	}
	return nil
}

// RunMonitor polls MonitorOrders at the given interval until ctx ends
func (m *Manager) RunMonitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.MonitorOrders(ctx); err != nil {
				m.log.Error().Err(err).Msg("Order monitor pass failed")
			}
		}
	}
}

// validate enforces A-share order form: quantity in whole lots within
// bounds, and a positive price on limit orders.
func validate(req broker.OrderRequest) error {
	if req.Symbol == "" {
		return fmt.Errorf("symbol must not be empty")
	}
	switch req.Side {
	case broker.SideBuy, broker.SideSell:
	default:
		return fmt.Errorf("invalid side %q", req.Side)
	}
	switch req.Type {
	case broker.TypeMarket, broker.TypeLimit:
	default:
		return fmt.Errorf("invalid order type %q", req.Type)
	}
	if req.Quantity < MinQuantity || req.Quantity > MaxQuantity {
		return fmt.Errorf("quantity %d outside [%d, %d]", req.Quantity, MinQuantity, MaxQuantity)
	}
	if req.Quantity%LotSize != 0 {
		return fmt.Errorf("quantity %d not a multiple of %d", req.Quantity, LotSize)
	}
	if req.Type == broker.TypeLimit && req.Price <= 0 {
		return fmt.Errorf("limit order requires positive price, got %f", req.Price)
	}
	return nil
}
