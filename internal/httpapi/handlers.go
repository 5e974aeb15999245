// Package httpapi serves the dashboard observer API. Handlers stay thin:
// resolve the caller's tenant, call an internal service, return JSON.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"ai-receptionist/internal/auth"
	"ai-receptionist/internal/calls"
	"ai-receptionist/internal/notify"
	"ai-receptionist/internal/rbac"
	"ai-receptionist/internal/reporting"
	"ai-receptionist/internal/transcript"
	"ai-receptionist/pkg/logger"

	"github.com/gin-gonic/gin"
)

type CallEngine interface {
	Snapshot(ctx context.Context, tenantID string) (calls.Snapshot, error)
	EndByID(ctx context.Context, tenantID, callID string, req calls.EndRequest) (calls.Call, error)
}

type CallReader interface {
	GetByID(ctx context.Context, tenantID, id string) (calls.Call, error)
}

type TranscriptReader interface {
	Collect(ctx context.Context, callID string) ([]transcript.Entry, error)
}

type StatsService interface {
	Stats(ctx context.Context, req reporting.StatsRequest) (reporting.Stats, error)
}

type Auditor interface {
	OperatorEnd(ctx context.Context, tenantID, actorUserID, actorRole, callID, status, reason string) error
}

type Handlers struct {
	Engine      CallEngine
	Calls       CallReader
	Transcripts TranscriptReader
	Stats       StatsService
	Audit       Auditor
	Events      notify.Subscriber

	// Heartbeat is the SSE keep-alive interval; zero uses the stream default.
	Heartbeat time.Duration
	Clock     func() time.Time
}

// Register mounts the dashboard routes. g must already verify the access
// token.
func (h Handlers) Register(g gin.IRoutes) {
	g.Use(rbac.RequireTenant())
	g.GET("/calls/snapshot", h.GetSnapshot)
	g.GET("/calls/:call_id/transcript", h.GetTranscript)
	g.POST("/calls/:call_id/end", rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAgent), h.EndCall)
	g.GET("/stats", h.GetStats)
	g.GET("/events", h.StreamEvents())
}

func (h Handlers) GetSnapshot(c *gin.Context) {
	tenantID, _ := auth.TenantID(c.Request.Context())
	snap, err := h.Engine.Snapshot(c.Request.Context(), tenantID)
	if err != nil {
		h.internal(c, "snapshot failed", err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

type transcriptResponse struct {
	Call    calls.Call         `json:"call"`
	Entries []transcript.Entry `json:"entries"`
}

// GetTranscript returns the call and its entries in order. A call owned by
// another tenant is reported as not found.
func (h Handlers) GetTranscript(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID, _ := auth.TenantID(ctx)
	call, err := h.Calls.GetByID(ctx, tenantID, c.Param("call_id"))
	if errors.Is(err, calls.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if err != nil {
		h.internal(c, "call lookup failed", err)
		return
	}
	entries, err := h.Transcripts.Collect(ctx, call.ID)
	if err != nil {
		h.internal(c, "transcript lookup failed", err)
		return
	}
	if entries == nil {
		entries = []transcript.Entry{}
	}
	c.JSON(http.StatusOK, transcriptResponse{Call: call, Entries: entries})
}

type endCallRequest struct {
	Status string `json:"status" binding:"omitempty,oneof=completed escalated missed failed"`
	Reason string `json:"reason" binding:"max=200"`
}

// EndCall forces a call into a terminal status. Status defaults to completed.
func (h Handlers) EndCall(c *gin.Context) {
	var req endCallRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	status := calls.StatusCompleted
	if req.Status != "" {
		status = calls.Status(req.Status)
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "operator"
	}

	ctx := c.Request.Context()
	id, _ := auth.IdentityFrom(ctx)
	call, err := h.Engine.EndByID(ctx, id.TenantID, c.Param("call_id"), calls.EndRequest{Status: status, Reason: reason})
	switch {
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	case errors.Is(err, calls.ErrInvalidTransition):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "status must be terminal"})
		return
	case errors.Is(err, calls.ErrVersionConflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "call is changing, retry"})
		return
	case err != nil:
		h.internal(c, "end call failed", err)
		return
	}

	if h.Audit != nil {
		if err := h.Audit.OperatorEnd(ctx, id.TenantID, id.UserID, id.Role, call.ID, string(call.Status), reason); err != nil {
			logger.FromGin(c).Warn("operator end audit failed", "call_id", call.ID, "err", err)
		}
	}
	c.JSON(http.StatusOK, call)
}

// GetStats reports dashboard counters. from and to are RFC 3339; the range
// defaults to the current UTC day.
func (h Handlers) GetStats(c *gin.Context) {
	tenantID, _ := auth.TenantID(c.Request.Context())
	rng, err := parseRange(c.Query("from"), c.Query("to"), h.now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := h.Stats.Stats(c.Request.Context(), reporting.StatsRequest{TenantID: tenantID, Range: rng})
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
		return
	}
	if err != nil {
		h.internal(c, "stats failed", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// StreamEvents streams the caller's tenant topic, starting with a snapshot.
func (h Handlers) StreamEvents() gin.HandlerFunc {
	return notify.Stream(h.Events, notify.StreamOptions{
		Topic: func(c *gin.Context) (string, bool) {
			tenantID, err := auth.TenantID(c.Request.Context())
			if err != nil {
				return "", false
			}
			return notify.TenantTopic(tenantID), true
		},
		Snapshot: func(c *gin.Context) (any, error) {
			tenantID, _ := auth.TenantID(c.Request.Context())
			return h.Engine.Snapshot(c.Request.Context(), tenantID)
		},
		Heartbeat: h.Heartbeat,
	})
}

func parseRange(from, to string, now time.Time) (reporting.TimeRange, error) {
	day := now.UTC().Truncate(24 * time.Hour)
	rng := reporting.TimeRange{From: day, To: day.Add(24 * time.Hour)}
	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return rng, errors.New("from must be RFC 3339")
		}
		rng.From = t
	}
	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return rng, errors.New("to must be RFC 3339")
		}
		rng.To = t
	}
	return rng, nil
}

func (h Handlers) internal(c *gin.Context, msg string, err error) {
	logger.FromGin(c).Error(msg, "err", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": msg})
}

func (h Handlers) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}
