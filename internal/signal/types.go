// Package signal defines the data entities flowing through the
// analysis pipeline: per-agent opinions and the aggregated result.
package signal

import "time"

// Direction is a directional trading opinion
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionHold  Direction = "HOLD"
	DirectionClose Direction = "CLOSE"
)

// ParseDirection maps a free-form string to a Direction.
// Unrecognized values map to HOLD.
func ParseDirection(s string) Direction {
	switch Direction(s) {
	case DirectionLong, DirectionShort, DirectionHold, DirectionClose:
		return Direction(s)
	default:
		return DirectionHold
	}
}

// AgentResult is one agent's opinion about one symbol at one point in
// time. Immutable after creation.
//
// If IsError is true, Direction, Confidence and Score carry no meaning
// and ErrorMessage is set. A result with an empty Direction is valid
// but ineligible for aggregation.
type AgentResult struct {
	AgentName       string                 `json:"agent_name"`
	Symbol          string                 `json:"symbol"`
	Score           float64                `json:"score"`
	Direction       Direction              `json:"direction,omitempty"`
	Confidence      *float64               `json:"confidence,omitempty"`
	Analysis        map[string]interface{} `json:"analysis,omitempty"`
	Reasoning       string                 `json:"reasoning,omitempty"`
	EntryPrice      *float64               `json:"entry_price,omitempty"`
	TargetPrice     *float64               `json:"target_price,omitempty"`
	StopLoss        *float64               `json:"stop_loss,omitempty"`
	ExecutionTimeMs int64                  `json:"execution_time_ms"`
	Timestamp       time.Time              `json:"timestamp"`
	IsError         bool                   `json:"is_error"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
}

// Valid reports whether the result is eligible for aggregation
func (r *AgentResult) Valid() bool {
	return r != nil && !r.IsError && r.Direction != ""
}

// ConfidenceOrDefault returns the confidence, or 0.5 when absent
func (r *AgentResult) ConfidenceOrDefault() float64 {
	if r.Confidence == nil {
		return 0.5
	}
	return *r.Confidence
}

// ErrorResult builds a well-formed error result for an agent
func ErrorResult(agentName, symbol, message string) *AgentResult {
	return &AgentResult{
		AgentName:    agentName,
		Symbol:       symbol,
		Timestamp:    time.Now(),
		IsError:      true,
		ErrorMessage: message,
	}
}

// TradingSignal is the lightweight per-agent record embedded in an
// aggregated signal
type TradingSignal struct {
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	Strength  float64   `json:"strength"`
	AgentName string    `json:"agent_name"`
	Reasoning string    `json:"reasoning,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AggregationMethod identifies which algorithm produced a signal
type AggregationMethod string

const (
	MethodRuleBased AggregationMethod = "rule_based"
	MethodLLM       AggregationMethod = "llm"
)

// Metadata carries context about how a signal was computed.
// BelowThreshold and BelowAgreement are advisory flags on weak votes;
// the signal is still delivered and callers decide whether to act.
type Metadata struct {
	Method            AggregationMethod     `json:"method"`
	ValidAgents       int                   `json:"valid_agents"`
	AgreeingAgents    int                   `json:"agreeing_agents"`
	MinAgreement      int                   `json:"min_agreement"`
	MinSignalStrength float64               `json:"min_signal_strength"`
	BelowThreshold    bool                  `json:"below_threshold"`
	BelowAgreement    bool                  `json:"below_agreement"`
	DirectionScores   map[Direction]float64 `json:"direction_scores,omitempty"`
	Reasoning         string                `json:"reasoning,omitempty"`
	RiskAssessment    string                `json:"risk_assessment,omitempty"`
	KeyFactors        []string              `json:"key_factors,omitempty"`
}

// AggregatedSignal is the pipeline's final output for one symbol.
// Constructed once per orchestrator run, never mutated afterwards.
type AggregatedSignal struct {
	Symbol       string          `json:"symbol"`
	Direction    Direction       `json:"direction"`
	Confidence   float64         `json:"confidence"`    // in [0,1]
	PositionSize float64         `json:"position_size"` // fraction of portfolio
	Signals      []TradingSignal `json:"signals"`
	EntryPrice   *float64        `json:"entry_price,omitempty"`
	TargetPrice  *float64        `json:"target_price,omitempty"`
	StopLoss     *float64        `json:"stop_loss,omitempty"`
	Metadata     Metadata        `json:"metadata"`
	Timestamp    time.Time       `json:"timestamp"`
}
