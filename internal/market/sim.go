package market

import (
	"context"
	"hash/fnv"
	"math"
)

// Sector table for common A-share prefixes. Unknown symbols land in
// "industrial" so the sector-concentration check always has a bucket.
var sectorByPrefix = map[string]string{
	"600519": "consumer",
	"600036": "financial",
	"601318": "financial",
	"000001": "financial",
	"000858": "consumer",
	"002594": "automotive",
	"600104": "automotive",
	"688": "technology",
	"300": "technology",
}

// SimProvider is a deterministic in-process data source for paper
// trading and tests. All values derive from a hash of the symbol, so
// repeated calls agree and tests are reproducible.
type SimProvider struct{}

// NewSimProvider creates a deterministic provider
func NewSimProvider() *SimProvider {
	return &SimProvider{}
}

func symbolSeed(symbol string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return h.Sum64()
}

// BasePrice derives a deterministic pseudo price for a symbol,
// between 5.00 and 205.00 CNY
func BasePrice(symbol string) float64 {
	seed := symbolSeed(symbol)
	return 5.0 + float64(seed%20000)/100.0
}

func (p *SimProvider) Quote(ctx context.Context, symbol string) (Quote, error) {
	price := BasePrice(symbol)
	return Quote{
		Symbol:    symbol,
		Price:     price,
		PrevClose: price * 0.995,
	}, nil
}

func (p *SimProvider) Bars(ctx context.Context, symbol string, n int) ([]Bar, error) {
	seed := symbolSeed(symbol)
	base := BasePrice(symbol)

	bars := make([]Bar, n)
	for i := 0; i < n; i++ {
		// A slow sine drift plus a symbol-specific phase keeps the
		// series deterministic but non-trivial.
		phase := float64(seed%360) * math.Pi / 180.0
		drift := math.Sin(phase+float64(i)*0.35) * 0.02
		c := base * (1 + drift)
		bars[i] = Bar{
			Open:   c * 0.998,
			High:   c * 1.006,
			Low:    c * 0.993,
			Close:  c,
			Volume: float64(1000000 + seed%500000),
		}
	}
	return bars, nil
}

func (p *SimProvider) Fundamentals(ctx context.Context, symbol string) (Fundamentals, error) {
	seed := symbolSeed(symbol)
	return Fundamentals{
		PERatio:       8.0 + float64(seed%400)/10.0,  // 8 - 48
		PBRatio:       0.8 + float64(seed%60)/10.0,   // 0.8 - 6.8
		ROE:           0.04 + float64(seed%20)/100.0, // 4% - 24%
		RevenueGrowth: -0.10 + float64(seed%40)/100.0,
		DebtRatio:     0.20 + float64(seed%50)/100.0,
	}, nil
}

func (p *SimProvider) Sentiment(ctx context.Context, symbol string) (float64, error) {
	seed := symbolSeed(symbol)
	return -1.0 + float64(seed%200)/100.0, nil
}

func (p *SimProvider) MarketBreadth(ctx context.Context) (float64, error) {
	return 0.1, nil
}

func (p *SimProvider) PolicyTone(ctx context.Context, sector string) (float64, error) {
	h := fnv.New64a()
	h.Write([]byte(sector))
	return -1.0 + float64(h.Sum64()%200)/100.0, nil
}

func (p *SimProvider) Sector(symbol string) string {
	if s, ok := sectorByPrefix[symbol]; ok {
		return s
	}
	for prefix, s := range sectorByPrefix {
		if len(prefix) < len(symbol) && symbol[:len(prefix)] == prefix {
			return s
		}
	}
	return "industrial"
}
