// Package broker abstracts order execution. The simulation broker
// fills against deterministic paper prices with A-share fee arithmetic;
// the live broker is a placeholder that fails loudly on every call.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/ashare-labs/quantd/internal/config"
)

// Side is the order side
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType is the order pricing type
type OrderType string

const (
	TypeMarket OrderType = "MARKET"
	TypeLimit  OrderType = "LIMIT"
)

// OrderRequest is a request to place one order
type OrderRequest struct {
	OrderID  string    `json:"order_id"`
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Type     OrderType `json:"type"`
	Quantity int64     `json:"quantity"` // shares, multiples of 100
	Price    float64   `json:"price"`    // limit price; 0 for market orders
	Sector   string    `json:"sector,omitempty"`
}

// ExecutionReport describes the broker-side outcome of an order
type ExecutionReport struct {
	OrderID       string    `json:"order_id"`
	BrokerOrderID string    `json:"broker_order_id"`
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Status        string    `json:"status"` // FILLED or REJECTED
	FilledQty     int64     `json:"filled_qty"`
	AvgFillPrice  float64   `json:"avg_fill_price"`
	Commission    float64   `json:"commission"` // commission plus stamp duty
	Reason        string    `json:"reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Account is a snapshot of broker-side account state
type Account struct {
	Cash        float64 `json:"cash"`
	MarketValue float64 `json:"market_value"`
	TotalValue  float64 `json:"total_value"`
}

// Position is a broker-side holding
type Position struct {
	Symbol   string  `json:"symbol"`
	Quantity int64   `json:"quantity"`
	AvgPrice float64 `json:"avg_price"`
}

// Broker is the order execution interface
type Broker interface {
	Connect(ctx context.Context) error
	Disconnect() error
	SubmitOrder(ctx context.Context, req OrderRequest) (*ExecutionReport, error)
	CancelOrder(ctx context.Context, orderID string) error
	OrderStatus(ctx context.Context, orderID string) (*ExecutionReport, error)
	AccountInfo(ctx context.Context) (*Account, error)
	Positions(ctx context.Context) ([]Position, error)
	MarketPrice(symbol string) float64
}

// New creates a broker for the configured mode
func New(cfg config.BrokerConfig) (Broker, error) {
	switch cfg.Mode {
	case "sim":
		return NewSimBroker(cfg), nil
	case "live":
		return NewLiveBroker(), nil
	default:
		return nil, fmt.Errorf("unknown broker mode: %q", cfg.Mode)
	}
}
