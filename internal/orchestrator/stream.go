package orchestrator

import (
	"context"
	"time"

	"github.com/ashare-labs/quantd/internal/signal"
)

// Stream event types
const (
	EventStart       = "start"
	EventAgentResult = "agent_result"
	EventAggregating = "aggregating"
	EventComplete    = "complete"
	EventError       = "error"
)

// StreamEvent is one progress event of a streamed analysis
type StreamEvent struct {
	Type      string      `json:"type"`
	Symbol    string      `json:"symbol"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// AnalyzeStream runs the pipeline for one symbol and emits progress
// events as agents complete, ending with a complete (or error) event
// carrying the full response. The channel closes after the final
// event. Streamed runs bypass the in-flight guard: each stream is a
// live view for one caller.
func (o *Orchestrator) AnalyzeStream(ctx context.Context, symbol string) <-chan StreamEvent {
	out := make(chan StreamEvent, len(o.pool.Agents())+3)

	go func() {
		defer close(out)

		emit := func(eventType string, data interface{}) bool {
			select {
			case out <- StreamEvent{Type: eventType, Symbol: symbol, Data: data, Timestamp: time.Now()}:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if symbol == "" || len(o.pool.Agents()) == 0 {
			emit(EventError, map[string]string{"error": "no analysis possible"})
			return
		}

		start := time.Now()
		if !emit(EventStart, map[string]int{"agents": len(o.pool.Agents())}) {
			return
		}

		results := make(map[string]*signal.AgentResult, len(o.pool.Agents()))
		for r := range o.pool.ExecuteStream(ctx, symbol) {
			results[r.AgentName] = r
			if !emit(EventAgentResult, r) {
				return
			}
		}

		if !emit(EventAggregating, nil) {
			return
		}
		sig := o.aggregator.Aggregate(symbol, results)

		resp := &AnalysisResponse{
			Symbol:     symbol,
			Results:    results,
			Timestamp:  start,
			DurationMs: time.Since(start).Milliseconds(),
		}
		if reason := rejectionReason(sig); reason != "" {
			resp.RejectionReason = reason
		} else {
			resp.Signal = sig
		}
		emit(EventComplete, resp)
	}()

	return out
}
