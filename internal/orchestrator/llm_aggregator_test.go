package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashare-labs/quantd/internal/signal"
)

type stubCompleter struct {
	response string
	err      error
	calls    int
}

func (s *stubCompleter) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func newTestLLMAggregator(c completer) *LLMAggregator {
	fallback := NewRuleAggregator(testAggConfig(), testWeights())
	return newLLMAggregator(c, fallback, testAggConfig(), time.Second)
}

func TestLLMAggregatorDecision(t *testing.T) {
	agg := newTestLLMAggregator(&stubCompleter{
		response: "```json\n" +
			`{"direction": "LONG", "confidence": 0.82,
			  "reasoning": "momentum and fundamentals aligned",
			  "risk_assessment": "moderate", "key_factors": ["momentum", "valuation"]}` +
			"\n```",
	})

	results := map[string]*signal.AgentResult{
		"technical":   opinion("technical", signal.DirectionLong, 0.8),
		"fundamental": opinion("fundamental", signal.DirectionLong, 0.7),
	}

	sig := agg.Aggregate("600519", results)
	require.NotNil(t, sig)
	assert.Equal(t, signal.MethodLLM, sig.Metadata.Method)
	assert.Equal(t, signal.DirectionLong, sig.Direction)
	assert.InDelta(t, 0.82, sig.Confidence, 1e-9)
	// Sizing is confidence-scaled locally, never taken from the service.
	assert.InDelta(t, 0.082, sig.PositionSize, 1e-9)
	assert.Equal(t, "momentum and fundamentals aligned", sig.Metadata.Reasoning)
	assert.Equal(t, []string{"momentum", "valuation"}, sig.Metadata.KeyFactors)
}

// A response with an unknown direction is still a usable decision; it
// degrades to HOLD rather than discarding the synthesis.
func TestLLMAggregatorUnknownDirectionIsHold(t *testing.T) {
	agg := newTestLLMAggregator(&stubCompleter{
		response: `{"direction": "MAYBE", "confidence": 0.5, "reasoning": "mixed picture"}`,
	})
	results := map[string]*signal.AgentResult{
		"technical": opinion("technical", signal.DirectionLong, 0.9),
	}

	sig := agg.Aggregate("600519", results)
	require.NotNil(t, sig)
	assert.Equal(t, signal.MethodLLM, sig.Metadata.Method)
	assert.Equal(t, signal.DirectionHold, sig.Direction)
	assert.Zero(t, sig.PositionSize)
}

func TestLLMAggregatorFallsBack(t *testing.T) {
	results := map[string]*signal.AgentResult{
		"technical":   opinion("technical", signal.DirectionLong, 0.8),
		"fundamental": opinion("fundamental", signal.DirectionLong, 0.7),
		"sentiment":   opinion("sentiment", signal.DirectionShort, 0.75),
	}
	// What the rule-based algorithm alone would produce from the same
	// inputs; every fallback must match it.
	expected := NewRuleAggregator(testAggConfig(), testWeights()).Aggregate("600519", results)

	cases := []struct {
		name string
		stub *stubCompleter
	}{
		{"transport error", &stubCompleter{err: errors.New("connection refused")}},
		{"malformed JSON", &stubCompleter{response: "I think you should buy."}},
		{"confidence out of range", &stubCompleter{response: `{"direction": "LONG", "confidence": 1.7}`}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig := newTestLLMAggregator(tc.stub).Aggregate("600519", results)
			require.NotNil(t, sig)
			assert.Equal(t, signal.MethodRuleBased, sig.Metadata.Method)
			assert.Equal(t, expected.Direction, sig.Direction)
			assert.Equal(t, expected.Confidence, sig.Confidence)
			assert.Equal(t, expected.Metadata.DirectionScores, sig.Metadata.DirectionScores)
		})
	}
}

func TestLLMAggregatorPositionSizeScaled(t *testing.T) {
	agg := newTestLLMAggregator(&stubCompleter{
		response: `{"direction": "LONG", "confidence": 0.9, "reasoning": "strong consensus"}`,
	})
	results := map[string]*signal.AgentResult{
		"technical": opinion("technical", signal.DirectionLong, 0.9),
	}

	sig := agg.Aggregate("600519", results)
	assert.InDelta(t, 0.09, sig.PositionSize, 1e-9)
}

func TestLLMAggregatorNoValidResultsFallsBack(t *testing.T) {
	stub := &stubCompleter{response: `{"direction": "LONG", "confidence": 0.9}`}
	agg := newTestLLMAggregator(stub)

	sig := agg.Aggregate("600519", map[string]*signal.AgentResult{
		"technical": errOpinion("technical"),
	})
	assert.Equal(t, signal.MethodRuleBased, sig.Metadata.Method)
	assert.Zero(t, stub.calls, "reasoning service must not be called without valid inputs")
}

func TestLLMAggregatorBreakerOpensAfterFailures(t *testing.T) {
	stub := &stubCompleter{err: errors.New("connection refused")}
	agg := newTestLLMAggregator(stub)
	results := map[string]*signal.AgentResult{
		"technical": opinion("technical", signal.DirectionLong, 0.9),
	}

	for i := 0; i < 5; i++ {
		sig := agg.Aggregate("600519", results)
		assert.Equal(t, signal.MethodRuleBased, sig.Metadata.Method)
	}
	// Three consecutive failures trip the breaker; later calls skip the
	// transport entirely.
	assert.Equal(t, 3, stub.calls)
}
