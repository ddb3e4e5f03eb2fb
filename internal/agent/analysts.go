package agent

import (
	"context"
	"fmt"
	"math"

	"github.com/ashare-labs/quantd/internal/config"
	"github.com/ashare-labs/quantd/internal/market"
	"github.com/ashare-labs/quantd/internal/signal"
)

// The six analysts. Each wraps a pure heuristic over the data
// provider; indicator math beyond simple momentum/volatility is an
// external library concern and arrives as opaque numeric inputs.

func conf(v float64) *float64 {
	c := math.Max(0, math.Min(1, v))
	return &c
}

func ptr(v float64) *float64 { return &v }

// TechnicalAnalyst derives a momentum opinion from recent bars
type TechnicalAnalyst struct {
	Provider market.Provider
}

func (t *TechnicalAnalyst) Name() string { return "technical" }

func (t *TechnicalAnalyst) Analyze(ctx context.Context, symbol string) (*signal.AgentResult, error) {
	bars, err := t.Provider.Bars(ctx, symbol, 20)
	if err != nil {
		return nil, fmt.Errorf("fetch bars: %w", err)
	}
	if len(bars) < 2 {
		return nil, fmt.Errorf("insufficient bars for %s", symbol)
	}

	var sum float64
	for _, b := range bars {
		sum += b.Close
	}
	mean := sum / float64(len(bars))
	last := bars[len(bars)-1].Close
	momentum := (last - mean) / mean

	direction := signal.DirectionHold
	confidence := 0.5
	switch {
	case momentum > 0.01:
		direction = signal.DirectionLong
		confidence = math.Min(0.95, 0.5+momentum*20)
	case momentum < -0.01:
		direction = signal.DirectionShort
		confidence = math.Min(0.95, 0.5-momentum*20)
	}

	result := &signal.AgentResult{
		Score:      momentum * 100,
		Direction:  direction,
		Confidence: conf(confidence),
		Analysis: map[string]interface{}{
			"momentum":   momentum,
			"mean_close": mean,
			"last_close": last,
		},
		Reasoning: fmt.Sprintf("20-bar momentum %.2f%% against mean close %.2f", momentum*100, mean),
	}
	if direction == signal.DirectionLong {
		result.EntryPrice = ptr(last)
		result.TargetPrice = ptr(last * 1.05)
		result.StopLoss = ptr(last * 0.97)
	}
	return result, nil
}

// FundamentalAnalyst scores valuation and profitability
type FundamentalAnalyst struct {
	Provider market.Provider
}

func (f *FundamentalAnalyst) Name() string { return "fundamental" }

func (f *FundamentalAnalyst) Analyze(ctx context.Context, symbol string) (*signal.AgentResult, error) {
	fun, err := f.Provider.Fundamentals(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch fundamentals: %w", err)
	}

	score := 0.0
	if fun.PERatio > 0 && fun.PERatio < 25 {
		score += 0.3
	}
	if fun.ROE > 0.12 {
		score += 0.3
	}
	if fun.RevenueGrowth > 0.05 {
		score += 0.25
	}
	if fun.DebtRatio < 0.5 {
		score += 0.15
	}

	direction := signal.DirectionHold
	switch {
	case score >= 0.6:
		direction = signal.DirectionLong
	case score <= 0.2:
		direction = signal.DirectionShort
	}

	return &signal.AgentResult{
		Score:      score,
		Direction:  direction,
		Confidence: conf(0.4 + score/2),
		Analysis: map[string]interface{}{
			"pe_ratio":       fun.PERatio,
			"roe":            fun.ROE,
			"revenue_growth": fun.RevenueGrowth,
			"debt_ratio":     fun.DebtRatio,
		},
		Reasoning: fmt.Sprintf("fundamental composite %.2f (PE %.1f, ROE %.1f%%)", score, fun.PERatio, fun.ROE*100),
	}, nil
}

// SentimentAnalyst converts aggregate news sentiment into an opinion
type SentimentAnalyst struct {
	Provider market.Provider
}

func (s *SentimentAnalyst) Name() string { return "sentiment" }

func (s *SentimentAnalyst) Analyze(ctx context.Context, symbol string) (*signal.AgentResult, error) {
	sentiment, err := s.Provider.Sentiment(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch sentiment: %w", err)
	}

	direction := signal.DirectionHold
	switch {
	case sentiment > 0.3:
		direction = signal.DirectionLong
	case sentiment < -0.3:
		direction = signal.DirectionShort
	}

	return &signal.AgentResult{
		Score:      sentiment,
		Direction:  direction,
		Confidence: conf(0.4 + math.Abs(sentiment)/2),
		Analysis:   map[string]interface{}{"sentiment": sentiment},
		Reasoning:  fmt.Sprintf("aggregate news sentiment %.2f", sentiment),
	}, nil
}

// RiskAnalyst votes HOLD or CLOSE on elevated volatility
type RiskAnalyst struct {
	Provider market.Provider
}

func (r *RiskAnalyst) Name() string { return "risk" }

func (r *RiskAnalyst) Analyze(ctx context.Context, symbol string) (*signal.AgentResult, error) {
	bars, err := r.Provider.Bars(ctx, symbol, 20)
	if err != nil {
		return nil, fmt.Errorf("fetch bars: %w", err)
	}
	if len(bars) < 2 {
		return nil, fmt.Errorf("insufficient bars for %s", symbol)
	}

	var sumSq float64
	for i := 1; i < len(bars); i++ {
		ret := (bars[i].Close - bars[i-1].Close) / bars[i-1].Close
		sumSq += ret * ret
	}
	vol := math.Sqrt(sumSq / float64(len(bars)-1))

	direction := signal.DirectionHold
	confidence := 0.5
	if vol > 0.04 {
		direction = signal.DirectionClose
		confidence = math.Min(0.9, 0.5+vol*5)
	}

	return &signal.AgentResult{
		Score:      vol,
		Direction:  direction,
		Confidence: conf(confidence),
		Analysis:   map[string]interface{}{"volatility": vol},
		Reasoning:  fmt.Sprintf("20-bar realized volatility %.2f%%", vol*100),
	}, nil
}

// MarketAnalyst follows overall market breadth
type MarketAnalyst struct {
	Provider market.Provider
}

func (m *MarketAnalyst) Name() string { return "market" }

func (m *MarketAnalyst) Analyze(ctx context.Context, symbol string) (*signal.AgentResult, error) {
	breadth, err := m.Provider.MarketBreadth(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch market breadth: %w", err)
	}

	direction := signal.DirectionHold
	switch {
	case breadth > 0.2:
		direction = signal.DirectionLong
	case breadth < -0.2:
		direction = signal.DirectionShort
	}

	return &signal.AgentResult{
		Score:      breadth,
		Direction:  direction,
		Confidence: conf(0.4 + math.Abs(breadth)/2),
		Analysis:   map[string]interface{}{"breadth": breadth},
		Reasoning:  fmt.Sprintf("market breadth %.2f", breadth),
	}, nil
}

// PolicyAnalyst reads the regulatory tone for the symbol's sector
type PolicyAnalyst struct {
	Provider market.Provider
}

func (p *PolicyAnalyst) Name() string { return "policy" }

func (p *PolicyAnalyst) Analyze(ctx context.Context, symbol string) (*signal.AgentResult, error) {
	sector := p.Provider.Sector(symbol)
	tone, err := p.Provider.PolicyTone(ctx, sector)
	if err != nil {
		return nil, fmt.Errorf("fetch policy tone: %w", err)
	}

	direction := signal.DirectionHold
	switch {
	case tone > 0.4:
		direction = signal.DirectionLong
	case tone < -0.4:
		direction = signal.DirectionShort
	}

	return &signal.AgentResult{
		Score:      tone,
		Direction:  direction,
		Confidence: conf(0.4 + math.Abs(tone)/2),
		Analysis: map[string]interface{}{
			"sector": sector,
			"tone":   tone,
		},
		Reasoning: fmt.Sprintf("policy tone %.2f for sector %s", tone, sector),
	}, nil
}

// BuildAgents constructs the standard analyst set from configuration.
// Analysts without a config entry are skipped.
func BuildAgents(cfgs map[string]config.AgentConfig, provider market.Provider) []*Agent {
	analyzers := []Analyzer{
		&TechnicalAnalyst{Provider: provider},
		&FundamentalAnalyst{Provider: provider},
		&SentimentAnalyst{Provider: provider},
		&RiskAnalyst{Provider: provider},
		&MarketAnalyst{Provider: provider},
		&PolicyAnalyst{Provider: provider},
	}

	agents := make([]*Agent, 0, len(analyzers))
	for _, an := range analyzers {
		cfg, ok := cfgs[an.Name()]
		if !ok {
			continue
		}
		agents = append(agents, New(an, cfg))
	}
	return agents
}
