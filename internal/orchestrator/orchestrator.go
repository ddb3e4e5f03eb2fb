// Package orchestrator composes the analysis pipeline: fan the request
// out to the agent pool, aggregate the opinions into one signal, and
// guard the whole run against duplicate concurrent requests per symbol.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ashare-labs/quantd/internal/agent"
	"github.com/ashare-labs/quantd/internal/config"
	"github.com/ashare-labs/quantd/internal/metrics"
	"github.com/ashare-labs/quantd/internal/signal"
)

// AnalysisResponse is the outcome of one full pipeline run. Signal is
// nil when the run completed but produced no actionable signal; in
// that case RejectionReason says why. Results always has one entry per
// enabled agent.
type AnalysisResponse struct {
	Symbol          string                         `json:"symbol"`
	Results         map[string]*signal.AgentResult `json:"results"`
	Signal          *signal.AggregatedSignal       `json:"signal,omitempty"`
	RejectionReason string                         `json:"rejection_reason,omitempty"`
	Timestamp       time.Time                      `json:"timestamp"`
	DurationMs      int64                          `json:"duration_ms"`
}

// Orchestrator drives the analysis pipeline for single symbols
type Orchestrator struct {
	pool       *agent.Pool
	aggregator Aggregator
	guard      *InflightGuard
	log        zerolog.Logger
}

// New creates an orchestrator over a pool and an aggregator
func New(pool *agent.Pool, aggregator Aggregator) *Orchestrator {
	return &Orchestrator{
		pool:       pool,
		aggregator: aggregator,
		guard:      NewInflightGuard(),
		log:        config.NewLogger("orchestrator"),
	}
}

// Pool exposes the agent pool for streaming consumers
func (o *Orchestrator) Pool() *agent.Pool {
	return o.pool
}

// AnalyzeAndSignal runs the full pipeline for one symbol. Concurrent
// calls for the same symbol share a single run. The error return is
// reserved for pipeline failures (cancelled context, no enabled
// agents); an analysis that completes without producing a tradable
// signal is not an error.
func (o *Orchestrator) AnalyzeAndSignal(ctx context.Context, symbol string) (*AnalysisResponse, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol must not be empty")
	}

	resp, err := o.guard.Do(ctx, symbol, func(runCtx context.Context) (interface{}, error) {
		return o.analyze(runCtx, symbol)
	})
	if err != nil {
		return nil, err
	}
	return resp.(*AnalysisResponse), nil
}

func (o *Orchestrator) analyze(ctx context.Context, symbol string) (*AnalysisResponse, error) {
	if len(o.pool.Agents()) == 0 {
		metrics.AnalysesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("no enabled agents")
	}

	start := time.Now()
	results := o.pool.ExecuteAll(ctx, symbol)
	sig := o.aggregator.Aggregate(symbol, results)

	resp := &AnalysisResponse{
		Symbol:    symbol,
		Results:   results,
		Timestamp: start,
	}

	if reason := rejectionReason(sig); reason != "" {
		resp.RejectionReason = reason
		metrics.AnalysesTotal.WithLabelValues("no_signal").Inc()
		o.log.Info().
			Str("symbol", symbol).
			Str("reason", reason).
			Msg("Analysis produced no tradable signal")
	} else {
		resp.Signal = sig
		metrics.AnalysesTotal.WithLabelValues("signal").Inc()
		metrics.SignalsTotal.WithLabelValues(string(sig.Direction), string(sig.Metadata.Method)).Inc()
		o.log.Info().
			Str("symbol", symbol).
			Str("direction", string(sig.Direction)).
			Float64("confidence", sig.Confidence).
			Float64("position_size", sig.PositionSize).
			Msg("Analysis produced signal")
	}

	elapsed := time.Since(start)
	resp.DurationMs = elapsed.Milliseconds()
	metrics.AnalysisDuration.Observe(elapsed.Seconds())

	return resp, nil
}

// rejectionReason decides whether the run produced a signal at all.
// Only a run with zero valid agent results yields no signal; weak or
// split votes still come back as signals, flagged in their metadata
// for the caller to weigh.
func rejectionReason(sig *signal.AggregatedSignal) string {
	if sig.Metadata.ValidAgents == 0 {
		return "no valid agent results"
	}
	return ""
}
