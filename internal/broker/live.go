package broker

import (
	"context"
	"errors"

	"github.com/ashare-labs/quantd/internal/market"
)

// ErrLiveNotImplemented is returned by every LiveBroker operation.
// A real counter integration must replace this type before live mode
// can be enabled; failing loudly beats silently paper-trading against
// a live config.
var ErrLiveNotImplemented = errors.New("live broker not implemented: refusing to trade")

// LiveBroker is the placeholder for a real brokerage connection
type LiveBroker struct{}

// NewLiveBroker creates the placeholder live broker
func NewLiveBroker() *LiveBroker {
	return &LiveBroker{}
}

func (b *LiveBroker) Connect(ctx context.Context) error {
	return ErrLiveNotImplemented
}

func (b *LiveBroker) Disconnect() error {
	return ErrLiveNotImplemented
}

func (b *LiveBroker) SubmitOrder(ctx context.Context, req OrderRequest) (*ExecutionReport, error) {
	return nil, ErrLiveNotImplemented
}

func (b *LiveBroker) CancelOrder(ctx context.Context, orderID string) error {
	return ErrLiveNotImplemented
}

func (b *LiveBroker) OrderStatus(ctx context.Context, orderID string) (*ExecutionReport, error) {
	return nil, ErrLiveNotImplemented
}

func (b *LiveBroker) AccountInfo(ctx context.Context) (*Account, error) {
	return nil, ErrLiveNotImplemented
}

func (b *LiveBroker) Positions(ctx context.Context) ([]Position, error) {
	return nil, ErrLiveNotImplemented
}

func (b *LiveBroker) MarketPrice(symbol string) float64 {
	return market.BasePrice(symbol)
}
