// Package api exposes the REST and SSE surface over the pipeline.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ashare-labs/quantd/internal/broker"
	"github.com/ashare-labs/quantd/internal/config"
	"github.com/ashare-labs/quantd/internal/order"
	"github.com/ashare-labs/quantd/internal/orchestrator"
)

// Server is the HTTP API server
type Server struct {
	cfg     config.APIConfig
	orch    *orchestrator.Orchestrator
	manager *order.Manager
	broker  broker.Broker
	http    *http.Server
	log     zerolog.Logger
}

// NewServer creates the API server and wires its routes
func NewServer(cfg config.Config, orch *orchestrator.Orchestrator, manager *order.Manager, b broker.Broker) *Server {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg.API,
		orch:    orch,
		manager: manager,
		broker:  b,
		log:     config.NewLogger("api"),
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/health", s.handleHealth)
	if cfg.Monitoring.EnableMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := router.Group("/api/v1")
	{
		v1.POST("/analyze/:symbol", s.handleAnalyze)
		v1.GET("/analyze-stream/:symbol", s.handleAnalyzeStream)
		v1.POST("/orders", s.handlePlaceOrder)
		v1.GET("/orders", s.handleListOrders)
		v1.GET("/orders/:id", s.handleGetOrder)
		v1.DELETE("/orders/:id", s.handleCancelOrder)
		v1.GET("/positions", s.handlePositions)
		v1.GET("/account", s.handleAccount)
	}

	s.http = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		Handler: router,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("API server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	}
}
