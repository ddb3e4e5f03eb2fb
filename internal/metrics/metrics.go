// Package metrics exposes the Prometheus instruments for the pipeline
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AnalysesTotal counts full pipeline runs by outcome
	AnalysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantd_analyses_total",
		Help: "Total number of analysis pipeline runs",
	}, []string{"outcome"}) // "signal", "no_signal", "error"

	// AnalysisDuration observes end-to-end pipeline latency
	AnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quantd_analysis_duration_seconds",
		Help:    "Duration of full analysis pipeline runs",
		Buckets: prometheus.DefBuckets,
	})

	// AgentErrorsTotal counts agent-level failures by agent
	AgentErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantd_agent_errors_total",
		Help: "Total number of agent analysis errors",
	}, []string{"agent"})

	// SignalsTotal counts emitted signals by direction and method
	SignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantd_signals_total",
		Help: "Total number of aggregated signals emitted",
	}, []string{"direction", "method"})

	// LLMFallbacksTotal counts reasoning-service failures that fell
	// back to rule-based aggregation
	LLMFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quantd_llm_fallbacks_total",
		Help: "Total number of LLM aggregation fallbacks to rule-based",
	})

	// OrdersTotal counts orders by terminal status
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantd_orders_total",
		Help: "Total number of orders by status",
	}, []string{"status"})

	// RiskRejectionsTotal counts pre-trade rejections by check
	RiskRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantd_risk_rejections_total",
		Help: "Total number of risk gate rejections",
	}, []string{"check"})
)
