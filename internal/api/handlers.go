// Package api serves the routing engine over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/refset/desk-routing/internal/routing"
)

// Router is the part of the engine the handlers call.
type Router interface {
	ProcessInbound(ctx context.Context, msg routing.InboundMessage) (*routing.Result, error)
	GetTicketStatus(ctx context.Context, ref string) (*routing.TicketStatus, error)
	AgentLoads(ctx context.Context) ([]routing.AgentLoadView, error)
}

// AuditSource reads the routing trail, newest steps last.
type AuditSource interface {
	AuditEventsAfter(ctx context.Context, afterID int64, limit int) ([]routing.AuditEvent, error)
}

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// AuditEventsResponse is one page of the routing trail.
type AuditEventsResponse struct {
	Events []routing.AuditEvent `json:"events"`
	Next   int64                `json:"next_after"`
}

// HealthHandler handles GET /health.
func HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// InboundHandler handles POST /inbound.
// User errors answer 422 with the reply the client should receive; retryable
// persistence failures answer 503.
func InboundHandler(router Router, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var msg routing.InboundMessage
		if err := c.ShouldBindJSON(&msg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request body: %v", err)})
			return
		}

		res, err := router.ProcessInbound(c.Request.Context(), msg)
		if err != nil {
			logger.Error("inbound processing failed", zap.String("from", msg.FromEmail), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "routing_unavailable"})
			return
		}

		switch {
		case res.OK:
			c.JSON(http.StatusOK, res)
		case res.Retryable:
			c.JSON(http.StatusServiceUnavailable, res)
		default:
			c.JSON(http.StatusUnprocessableEntity, res)
		}
	}
}

// TicketStatusHandler handles GET /ticket/:ref.
func TicketStatusHandler(router Router, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := router.GetTicketStatus(c.Request.Context(), c.Param("ref"))
		if errors.Is(err, routing.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "ticket_not_found"})
			return
		}
		if err != nil {
			logger.Error("ticket status failed", zap.String("ref", c.Param("ref")), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "status_unavailable"})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// AgentLoadsHandler handles GET /agents/load.
func AgentLoadsHandler(router Router, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		loads, err := router.AgentLoads(c.Request.Context())
		if err != nil {
			logger.Error("agent load report failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "loads_unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"agents": loads})
	}
}

// AuditEventsHandler handles GET /audit/events?after=&limit=.
func AuditEventsHandler(source AuditSource, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		after, err := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
		if err != nil || after < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "after must be a non-negative trace id"})
			return
		}
		limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultAuditLimit)))
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if limit > maxAuditLimit {
			limit = maxAuditLimit
		}

		events, err := source.AuditEventsAfter(c.Request.Context(), after, limit)
		if err != nil {
			logger.Error("audit read failed", zap.Int64("after", after), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "audit_unavailable"})
			return
		}

		next := after
		if len(events) > 0 {
			next = events[len(events)-1].Trace.ID
		}
		if events == nil {
			events = []routing.AuditEvent{}
		}
		c.JSON(http.StatusOK, AuditEventsResponse{Events: events, Next: next})
	}
}
