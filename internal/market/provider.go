// Package market abstracts the data sources the analyst agents and the
// risk gate read from. Real adapters (Tushare, AkShare) live behind the
// Provider interface; paper trading uses the deterministic SimProvider.
package market

import "context"

// Quote is a point-in-time price snapshot
type Quote struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	PrevClose float64 `json:"prev_close"`
}

// Bar is one OHLCV candle
type Bar struct {
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Fundamentals holds the per-symbol fundamental snapshot the
// fundamental analyst consumes. Values are opaque inputs here; the
// math producing them is an external concern.
type Fundamentals struct {
	PERatio       float64 `json:"pe_ratio"`
	PBRatio       float64 `json:"pb_ratio"`
	ROE           float64 `json:"roe"`
	RevenueGrowth float64 `json:"revenue_growth"`
	DebtRatio     float64 `json:"debt_ratio"`
}

// Provider supplies market, fundamental and sentiment data. All
// methods may fail on upstream unavailability; agents treat such
// failures as recoverable per-agent errors.
type Provider interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
	Bars(ctx context.Context, symbol string, n int) ([]Bar, error)
	Fundamentals(ctx context.Context, symbol string) (Fundamentals, error)
	// Sentiment returns aggregate news/social sentiment in [-1, 1]
	Sentiment(ctx context.Context, symbol string) (float64, error)
	// MarketBreadth returns overall market trend in [-1, 1]
	MarketBreadth(ctx context.Context) (float64, error)
	// PolicyTone returns regulatory/policy stance for a sector in [-1, 1]
	PolicyTone(ctx context.Context, sector string) (float64, error)
	// Sector maps a symbol to its industry sector
	Sector(symbol string) string
}
