package orchestrator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ashare-labs/quantd/internal/config"
	"github.com/ashare-labs/quantd/internal/signal"
)

// Aggregator turns a set of per-agent opinions into one signal
type Aggregator interface {
	Aggregate(symbol string, results map[string]*signal.AgentResult) *signal.AggregatedSignal
}

// directionPriority breaks score ties deterministically. Actionable
// directions win over passive ones.
var directionPriority = map[signal.Direction]int{
	signal.DirectionLong:  4,
	signal.DirectionShort: 3,
	signal.DirectionClose: 2,
	signal.DirectionHold:  1,
}

// minAgreement is the number of agreeing agents required for a signal
// to be considered solid, scaled to how many agents produced a valid
// result this run.
func minAgreement(validAgents int) int {
	switch {
	case validAgents >= 6:
		return 3
	case validAgents >= 4:
		return 2
	default:
		n := validAgents/2 + 1
		if n < 2 {
			n = 2
		}
		return n
	}
}

// RuleAggregator implements weighted directional voting. Each valid
// agent contributes weight x confidence to its direction's score; the
// highest-scoring direction wins. Deterministic for identical inputs.
type RuleAggregator struct {
	cfg     config.AggregationConfig
	weights map[string]float64
	log     zerolog.Logger
}

// NewRuleAggregator creates a rule-based aggregator. Weights come from
// the per-agent configuration; agents absent from the map vote with
// weight zero.
func NewRuleAggregator(cfg config.AggregationConfig, agents map[string]config.AgentConfig) *RuleAggregator {
	weights := make(map[string]float64, len(agents))
	for name, ac := range agents {
		weights[name] = ac.Weight
	}
	return &RuleAggregator{
		cfg:     cfg,
		weights: weights,
		log:     config.NewLogger("rule_aggregator"),
	}
}

// Aggregate computes the weighted vote over valid results. Error and
// direction-less results are excluded before voting. The returned
// signal always carries metadata describing how solid the vote was;
// BelowThreshold and BelowAgreement mark weak signals without
// suppressing them.
func (a *RuleAggregator) Aggregate(symbol string, results map[string]*signal.AgentResult) *signal.AggregatedSignal {
	valid := make([]*signal.AgentResult, 0, len(results))
	// Canonical agent order keeps floating-point accumulation
	// identical across runs regardless of map iteration order.
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if r := results[name]; r.Valid() {
			valid = append(valid, r)
		}
	}

	scores := make(map[signal.Direction]float64)
	counts := make(map[signal.Direction]int)
	for _, r := range valid {
		scores[r.Direction] += a.weights[r.AgentName] * r.ConfidenceOrDefault()
		counts[r.Direction]++
	}

	winner := signal.DirectionHold
	if len(valid) > 0 {
		best := -1.0
		for _, dir := range []signal.Direction{signal.DirectionLong, signal.DirectionShort, signal.DirectionClose, signal.DirectionHold} {
			score, ok := scores[dir]
			if !ok {
				continue
			}
			if score > best || (score == best && directionPriority[dir] > directionPriority[winner]) {
				best = score
				winner = dir
			}
		}
	}

	// Confidence is the winning direction's accumulated score itself,
	// not a share of the total: six agents at full weight and full
	// conviction score 1.0, a lone half-hearted voter scores far less.
	confidence := scores[winner]

	agreement := minAgreement(len(valid))
	agreeing := counts[winner]

	sig := &signal.AggregatedSignal{
		Symbol:       symbol,
		Direction:    winner,
		Confidence:   confidence,
		PositionSize: a.positionSize(winner, confidence),
		Signals:      toTradingSignals(symbol, valid),
		Metadata: signal.Metadata{
			Method:            signal.MethodRuleBased,
			ValidAgents:       len(valid),
			AgreeingAgents:    agreeing,
			MinAgreement:      agreement,
			MinSignalStrength: a.cfg.MinSignalStrength,
			BelowThreshold:    confidence < a.cfg.MinSignalStrength,
			BelowAgreement:    agreeing < agreement,
			DirectionScores:   scores,
			Reasoning:         voteSummary(winner, scores, agreeing, len(valid)),
		},
		Timestamp: time.Now(),
	}
	a.fillPriceLevels(sig, valid)

	a.log.Debug().
		Str("symbol", symbol).
		Str("direction", string(winner)).
		Float64("confidence", confidence).
		Int("valid_agents", len(valid)).
		Int("agreeing", agreeing).
		Msg("Rule-based aggregation completed")

	return sig
}

// positionSize scales the configured cap by confidence. HOLD and CLOSE
// signals never open exposure.
func (a *RuleAggregator) positionSize(dir signal.Direction, confidence float64) float64 {
	if dir != signal.DirectionLong && dir != signal.DirectionShort {
		return 0
	}
	size := a.cfg.MaxPositionSize * confidence
	if size > a.cfg.MaxPositionSize {
		size = a.cfg.MaxPositionSize
	}
	return size
}

// fillPriceLevels averages each price level across every valid agent
// that supplied it, regardless of how that agent voted. A level absent
// from every agent stays nil.
func (a *RuleAggregator) fillPriceLevels(sig *signal.AggregatedSignal, valid []*signal.AgentResult) {
	var entry, target, stop float64
	var nEntry, nTarget, nStop int
	for _, r := range valid {
		if r.EntryPrice != nil {
			entry += *r.EntryPrice
			nEntry++
		}
		if r.TargetPrice != nil {
			target += *r.TargetPrice
			nTarget++
		}
		if r.StopLoss != nil {
			stop += *r.StopLoss
			nStop++
		}
	}
	if nEntry > 0 {
		v := entry / float64(nEntry)
		sig.EntryPrice = &v
	}
	if nTarget > 0 {
		v := target / float64(nTarget)
		sig.TargetPrice = &v
	}
	if nStop > 0 {
		v := stop / float64(nStop)
		sig.StopLoss = &v
	}
}

func toTradingSignals(symbol string, valid []*signal.AgentResult) []signal.TradingSignal {
	out := make([]signal.TradingSignal, 0, len(valid))
	for _, r := range valid {
		out = append(out, signal.TradingSignal{
			Symbol:    symbol,
			Direction: r.Direction,
			Strength:  r.ConfidenceOrDefault(),
			AgentName: r.AgentName,
			Reasoning: r.Reasoning,
			Timestamp: r.Timestamp,
		})
	}
	return out
}

func voteSummary(winner signal.Direction, scores map[signal.Direction]float64, agreeing, valid int) string {
	parts := make([]string, 0, len(scores))
	for _, dir := range []signal.Direction{signal.DirectionLong, signal.DirectionShort, signal.DirectionClose, signal.DirectionHold} {
		if score, ok := scores[dir]; ok {
			parts = append(parts, fmt.Sprintf("%s=%.3f", dir, score))
		}
	}
	return fmt.Sprintf("%s wins weighted vote (%s) with %d/%d agents agreeing",
		winner, strings.Join(parts, " "), agreeing, valid)
}
