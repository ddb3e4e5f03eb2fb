package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashare-labs/quantd/internal/config"
	"github.com/ashare-labs/quantd/internal/signal"
)

// stubAnalyzer is a programmable analyzer for harness tests
type stubAnalyzer struct {
	name    string
	calls   atomic.Int64
	delay   time.Duration
	failFor int64 // fail the first N calls
	result  *signal.AgentResult
}

func (s *stubAnalyzer) Name() string { return s.name }

func (s *stubAnalyzer) Analyze(ctx context.Context, symbol string) (*signal.AgentResult, error) {
	n := s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n <= s.failFor {
		return nil, errors.New("upstream unavailable")
	}
	if s.result != nil {
		r := *s.result
		return &r, nil
	}
	return &signal.AgentResult{Direction: signal.DirectionLong, Confidence: floatPtr(0.8)}, nil
}

func floatPtr(v float64) *float64 { return &v }

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		Enabled:       true,
		Weight:        0.25,
		Timeout:       time.Second,
		RetryAttempts: 0,
	}
}

func TestAgentAnalyze(t *testing.T) {
	t.Run("stamps identity and timing on success", func(t *testing.T) {
		a := New(&stubAnalyzer{name: "technical"}, testAgentConfig())
		result := a.Analyze(context.Background(), "600519")
		require.NotNil(t, result)
		assert.False(t, result.IsError)
		assert.Equal(t, "technical", result.AgentName)
		assert.Equal(t, "600519", result.Symbol)
		assert.False(t, result.Timestamp.IsZero())
	})

	t.Run("empty symbol yields error result", func(t *testing.T) {
		a := New(&stubAnalyzer{name: "technical"}, testAgentConfig())
		result := a.Analyze(context.Background(), "")
		require.NotNil(t, result)
		assert.True(t, result.IsError)
		assert.False(t, result.Valid())
	})

	t.Run("timeout becomes error result", func(t *testing.T) {
		cfg := testAgentConfig()
		cfg.Timeout = 20 * time.Millisecond
		a := New(&stubAnalyzer{name: "slow", delay: time.Second}, cfg)

		result := a.Analyze(context.Background(), "600519")
		require.NotNil(t, result)
		assert.True(t, result.IsError)
		assert.Contains(t, result.ErrorMessage, "timed out")
	})

	t.Run("exhausted retries become error result", func(t *testing.T) {
		stub := &stubAnalyzer{name: "flaky", failFor: 100}
		a := New(stub, testAgentConfig())
		result := a.Analyze(context.Background(), "600519")
		require.NotNil(t, result)
		assert.True(t, result.IsError)
		assert.Equal(t, "flaky", result.AgentName)
	})

	t.Run("cache serves repeated analysis", func(t *testing.T) {
		cfg := testAgentConfig()
		cfg.CacheTTL = time.Minute
		stub := &stubAnalyzer{name: "cached"}
		a := New(stub, cfg)

		first := a.Analyze(context.Background(), "600519")
		second := a.Analyze(context.Background(), "600519")
		assert.Equal(t, int64(1), stub.calls.Load())
		assert.Equal(t, first, second)
	})

	t.Run("different symbols miss the cache", func(t *testing.T) {
		cfg := testAgentConfig()
		cfg.CacheTTL = time.Minute
		stub := &stubAnalyzer{name: "cached"}
		a := New(stub, cfg)

		a.Analyze(context.Background(), "600519")
		a.Analyze(context.Background(), "000001")
		assert.Equal(t, int64(2), stub.calls.Load())
	})

	t.Run("zero TTL disables caching", func(t *testing.T) {
		stub := &stubAnalyzer{name: "uncached"}
		a := New(stub, testAgentConfig())

		a.Analyze(context.Background(), "600519")
		a.Analyze(context.Background(), "600519")
		assert.Equal(t, int64(2), stub.calls.Load())
	})
}

// laggardAnalyzer ignores cancellation on its first call and completes
// long after the harness has given up on it
type laggardAnalyzer struct {
	name     string
	calls    atomic.Int64
	finished chan struct{}
}

func (l *laggardAnalyzer) Name() string { return l.name }

func (l *laggardAnalyzer) Analyze(ctx context.Context, symbol string) (*signal.AgentResult, error) {
	if l.calls.Add(1) == 1 {
		defer close(l.finished)
		time.Sleep(60 * time.Millisecond)
		return &signal.AgentResult{Direction: signal.DirectionShort, Confidence: floatPtr(0.9)}, nil
	}
	return &signal.AgentResult{Direction: signal.DirectionLong, Confidence: floatPtr(0.8)}, nil
}

// An attempt abandoned on timeout may still complete in the background;
// its result must be discarded, never surface in a later run, and never
// touch state a later run reads.
func TestAbandonedAttemptResultDiscarded(t *testing.T) {
	cfg := testAgentConfig()
	cfg.Timeout = 20 * time.Millisecond
	stub := &laggardAnalyzer{name: "laggard", finished: make(chan struct{})}
	a := New(stub, cfg)

	first := a.Analyze(context.Background(), "600519")
	require.True(t, first.IsError)
	assert.Contains(t, first.ErrorMessage, "timed out")

	// Let the abandoned goroutine deliver its stale result.
	<-stub.finished

	second := a.Analyze(context.Background(), "600519")
	require.False(t, second.IsError)
	assert.Equal(t, signal.DirectionLong, second.Direction)
}

func TestCacheExpiry(t *testing.T) {
	c := newResultCache()
	key := cacheKey("technical", "600519", nil)
	c.set(key, &signal.AgentResult{AgentName: "technical"}, 10*time.Millisecond)

	_, ok := c.get(key)
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.get(key)
	assert.False(t, ok)
}
