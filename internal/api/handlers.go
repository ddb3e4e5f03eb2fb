package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ashare-labs/quantd/internal/broker"
	"github.com/ashare-labs/quantd/internal/order"
	"github.com/ashare-labs/quantd/internal/risk"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleAnalyze runs the full pipeline synchronously. Concurrent
// requests for the same symbol share one run.
func (s *Server) handleAnalyze(c *gin.Context) {
	symbol := c.Param("symbol")
	resp, err := s.orch.AnalyzeAndSignal(c.Request.Context(), symbol)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleAnalyzeStream delivers pipeline progress as server-sent events
func (s *Server) handleAnalyzeStream(c *gin.Context) {
	symbol := c.Param("symbol")

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	events := s.orch.AnalyzeStream(c.Request.Context(), symbol)
	c.Stream(func(w io.Writer) bool {
		event, ok := <-events
		if !ok {
			return false
		}
		payload, err := json.Marshal(event)
		if err != nil {
			return false
		}
		c.SSEvent(event.Type, string(payload))
		return true
	})
}

// placeOrderRequest is the API form of an order
type placeOrderRequest struct {
	Symbol     string   `json:"symbol" binding:"required"`
	Side       string   `json:"side" binding:"required"`
	Type       string   `json:"type" binding:"required"`
	Quantity   int64    `json:"quantity" binding:"required"`
	Price      float64  `json:"price"`
	StopLoss   *float64 `json:"stop_loss"`
	TakeProfit *float64 `json:"take_profit"`
}

func (s *Server) handlePlaceOrder(c *gin.Context) {
	var body placeOrderRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := broker.OrderRequest{
		Symbol:   body.Symbol,
		Side:     broker.Side(body.Side),
		Type:     broker.OrderType(body.Type),
		Quantity: body.Quantity,
		Price:    body.Price,
	}
	var stops *risk.StopLevels
	if body.StopLoss != nil || body.TakeProfit != nil {
		entry := body.Price
		if entry <= 0 {
			entry = s.broker.MarketPrice(body.Symbol)
		}
		stops = &risk.StopLevels{
			EntryPrice: entry,
			StopLoss:   body.StopLoss,
			TakeProfit: body.TakeProfit,
		}
	}

	record, err := s.manager.PlaceOrder(c.Request.Context(), req, stops)
	switch {
	case errors.Is(err, order.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, order.ErrRiskRejected):
		// Nothing was booked; the reason names the failing check.
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "order": record})
	default:
		c.JSON(http.StatusCreated, record)
	}
}

func (s *Server) handleListOrders(c *gin.Context) {
	orders, err := s.manager.List(c.Query("status"), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) handleGetOrder(c *gin.Context) {
	record, err := s.manager.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	err := s.manager.Cancel(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, order.ErrOrderNotCancellable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
	}
}

func (s *Server) handlePositions(c *gin.Context) {
	positions, err := s.manager.Positions()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) handleAccount(c *gin.Context) {
	account, err := s.broker.AccountInfo(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, account)
}
