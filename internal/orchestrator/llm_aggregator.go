package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/ashare-labs/quantd/internal/config"
	"github.com/ashare-labs/quantd/internal/llm"
	"github.com/ashare-labs/quantd/internal/metrics"
	"github.com/ashare-labs/quantd/internal/signal"
)

const llmSystemPrompt = `You are the chief strategist of an A-share trading desk.
You receive the opinions of several specialist analysts about one stock and
must synthesize them into a single trading decision. Respond with JSON only:
{"direction": "LONG|SHORT|HOLD|CLOSE", "confidence": 0.0-1.0,
 "reasoning": "...", "risk_assessment": "...", "key_factors": ["..."]}`

// completer is the slice of the reasoning-service client the LLM
// aggregator needs
type completer interface {
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// llmDecision is the payload the reasoning service must return
type llmDecision struct {
	Direction      string   `json:"direction"`
	Confidence     float64  `json:"confidence"`
	Reasoning      string   `json:"reasoning"`
	RiskAssessment string   `json:"risk_assessment"`
	KeyFactors     []string `json:"key_factors"`
}

// LLMAggregator delegates the synthesis decision to the reasoning
// service, guarded by a circuit breaker. Any failure (transport error,
// open breaker, malformed or out-of-range response) falls back to the
// rule-based vote, so a signal is always produced from the same inputs.
type LLMAggregator struct {
	client   completer
	fallback *RuleAggregator
	cfg      config.AggregationConfig
	breaker  *gobreaker.CircuitBreaker
	timeout  time.Duration
	log      zerolog.Logger
}

// NewLLMAggregator creates an LLM-delegated aggregator with a
// rule-based fallback
func NewLLMAggregator(client *llm.Client, fallback *RuleAggregator, cfg config.AggregationConfig, llmCfg config.LLMConfig) *LLMAggregator {
	return newLLMAggregator(client, fallback, cfg, llmCfg.Timeout)
}

func newLLMAggregator(client completer, fallback *RuleAggregator, cfg config.AggregationConfig, timeout time.Duration) *LLMAggregator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	a := &LLMAggregator{
		client:   client,
		fallback: fallback,
		cfg:      cfg,
		timeout:  timeout,
		log:      config.NewLogger("llm_aggregator"),
	}
	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-aggregation",
		MaxRequests: 1,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
	return a
}

// Aggregate asks the reasoning service for a decision, falling back to
// the rule-based vote on any failure
func (a *LLMAggregator) Aggregate(symbol string, results map[string]*signal.AgentResult) *signal.AggregatedSignal {
	sig, err := a.tryLLM(symbol, results)
	if err != nil {
		a.log.Warn().
			Err(err).
			Str("symbol", symbol).
			Msg("LLM aggregation failed, falling back to rule-based")
		metrics.LLMFallbacksTotal.Inc()
		return a.fallback.Aggregate(symbol, results)
	}
	return sig
}

func (a *LLMAggregator) tryLLM(symbol string, results map[string]*signal.AgentResult) (*signal.AggregatedSignal, error) {
	valid := make([]*signal.AgentResult, 0, len(results))
	for _, r := range results {
		if r.Valid() {
			valid = append(valid, r)
		}
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("no valid agent results to synthesize")
	}

	prompt, err := buildPrompt(symbol, valid)
	if err != nil {
		return nil, err
	}

	raw, err := a.breaker.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		return a.client.CompleteWithSystem(ctx, llmSystemPrompt, prompt)
	})
	if err != nil {
		return nil, err
	}

	var decision llmDecision
	if err := llm.ParseJSONResponse(raw.(string), &decision); err != nil {
		return nil, err
	}
	if err := validateDecision(&decision); err != nil {
		return nil, err
	}

	// Unrecognized directions degrade to HOLD rather than discarding
	// the synthesis. Position sizing is ours, never the service's:
	// the same confidence-scaled cap the rule-based vote applies.
	direction := signal.ParseDirection(decision.Direction)

	agreeing := 0
	for _, r := range valid {
		if r.Direction == direction {
			agreeing++
		}
	}

	sig := &signal.AggregatedSignal{
		Symbol:       symbol,
		Direction:    direction,
		Confidence:   decision.Confidence,
		PositionSize: a.fallback.positionSize(direction, decision.Confidence),
		Signals:      toTradingSignals(symbol, valid),
		Metadata: signal.Metadata{
			Method:            signal.MethodLLM,
			ValidAgents:       len(valid),
			AgreeingAgents:    agreeing,
			MinSignalStrength: a.cfg.MinSignalStrength,
			BelowThreshold:    decision.Confidence < a.cfg.MinSignalStrength,
			Reasoning:         decision.Reasoning,
			RiskAssessment:    decision.RiskAssessment,
			KeyFactors:        decision.KeyFactors,
		},
		Timestamp: time.Now(),
	}

	a.log.Debug().
		Str("symbol", symbol).
		Str("direction", string(direction)).
		Float64("confidence", decision.Confidence).
		Msg("LLM aggregation completed")

	return sig, nil
}

func buildPrompt(symbol string, valid []*signal.AgentResult) (string, error) {
	type opinion struct {
		Agent      string    `json:"agent"`
		Direction  string    `json:"direction"`
		Confidence float64   `json:"confidence"`
		Score      float64   `json:"score"`
		Reasoning  string    `json:"reasoning,omitempty"`
		Timestamp  time.Time `json:"timestamp"`
	}
	opinions := make([]opinion, 0, len(valid))
	for _, r := range valid {
		opinions = append(opinions, opinion{
			Agent:      r.AgentName,
			Direction:  string(r.Direction),
			Confidence: r.ConfidenceOrDefault(),
			Score:      r.Score,
			Reasoning:  r.Reasoning,
			Timestamp:  r.Timestamp,
		})
	}
	body, err := json.MarshalIndent(opinions, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal agent opinions: %w", err)
	}
	return fmt.Sprintf("Symbol: %s\n\nAnalyst opinions:\n%s", symbol, string(body)), nil
}

func validateDecision(d *llmDecision) error {
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence out of range in LLM decision: %f", d.Confidence)
	}
	return nil
}
