// Package agent provides the execution harness shared by all analyst
// agents: timeout, retry, caching and error isolation. Concrete
// analysts differ only in their analysis function and configuration.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ashare-labs/quantd/internal/config"
	"github.com/ashare-labs/quantd/internal/metrics"
	"github.com/ashare-labs/quantd/internal/signal"
)

// Analyzer is the raw analysis capability an Agent wraps. Analyze may
// return an error; the wrapping Agent converts every failure mode into
// a well-formed error result.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, symbol string) (*signal.AgentResult, error)
}

// Agent wraps an Analyzer with the standard execution harness
type Agent struct {
	analyzer Analyzer
	cfg      config.AgentConfig
	cache    *resultCache
	log      zerolog.Logger
}

// New creates an agent around an analyzer
func New(analyzer Analyzer, cfg config.AgentConfig) *Agent {
	return &Agent{
		analyzer: analyzer,
		cfg:      cfg,
		cache:    newResultCache(),
		log:      config.NewAgentLogger(analyzer.Name()),
	}
}

// Name returns the agent's canonical name
func (a *Agent) Name() string {
	return a.analyzer.Name()
}

// Weight returns the agent's voting weight
func (a *Agent) Weight() float64 {
	return a.cfg.Weight
}

// Enabled reports whether the agent participates in pool runs
func (a *Agent) Enabled() bool {
	return a.cfg.Enabled
}

// Analyze runs the wrapped analyzer for one symbol. It never returns
// an error and never panics past itself: timeouts, exhausted retries
// and analyzer failures all come back as results with IsError set.
func (a *Agent) Analyze(ctx context.Context, symbol string) *signal.AgentResult {
	if symbol == "" {
		return signal.ErrorResult(a.Name(), symbol, "symbol must not be empty")
	}

	key := cacheKey(a.Name(), symbol, nil)
	if a.cfg.CacheTTL > 0 {
		if cached, ok := a.cache.get(key); ok {
			a.log.Debug().Str("symbol", symbol).Msg("Analysis cache hit")
			return cached
		}
	}

	start := time.Now()
	result, err := a.runWithRetry(ctx, symbol)
	elapsed := time.Since(start)

	if err != nil {
		a.log.Warn().
			Err(err).
			Str("symbol", symbol).
			Dur("duration", elapsed).
			Msg("Agent analysis failed")
		metrics.AgentErrorsTotal.WithLabelValues(a.Name()).Inc()
		errResult := signal.ErrorResult(a.Name(), symbol, err.Error())
		errResult.ExecutionTimeMs = elapsed.Milliseconds()
		return errResult
	}

	result.AgentName = a.Name()
	result.Symbol = symbol
	result.ExecutionTimeMs = elapsed.Milliseconds()
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}

	a.cache.set(key, result, a.cfg.CacheTTL)

	a.log.Debug().
		Str("symbol", symbol).
		Str("direction", string(result.Direction)).
		Dur("duration", elapsed).
		Msg("Agent analysis completed")

	return result
}

// runWithRetry executes the analyzer under the configured timeout,
// retrying transient failures with exponential backoff. A timeout
// cancels only this agent's work.
func (a *Agent) runWithRetry(ctx context.Context, symbol string) (*signal.AgentResult, error) {
	type outcome struct {
		result *signal.AgentResult
		err    error
	}

	var result *signal.AgentResult

	attempts := a.cfg.RetryAttempts + 1
	err := WithRetry(ctx, DefaultRetryConfig(attempts), func(ctx context.Context) error {
		runCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()

		// The result rides the channel so an attempt abandoned on
		// timeout cannot write into state a later attempt reads.
		// The buffer lets the abandoned goroutine finish and exit.
		done := make(chan outcome, 1)
		go func() {
			r, err := a.analyzer.Analyze(runCtx, symbol)
			done <- outcome{result: r, err: err}
		}()

		select {
		case out := <-done:
			if out.err != nil {
				return out.err
			}
			result = out.result
			return nil
		case <-runCtx.Done():
			return fmt.Errorf("analysis timed out after %s", a.cfg.Timeout)
		}
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("analyzer returned no result")
	}
	return result, nil
}
