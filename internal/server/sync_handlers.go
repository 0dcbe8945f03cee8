package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/peteski22/donorsync/internal/dispatch"
	"github.com/peteski22/donorsync/internal/sync"
)

const (
	defaultLogLimit = 20
	maxLogLimit     = 100
	statusLogWindow = 20
)

type triggerRequestPayload struct {
	ConflictResolution string `json:"conflictResolution"`
	DryRun             bool   `json:"dryRun"`
}

type statusResponsePayload struct {
	ExternalAccountEmail string     `json:"externalAccountEmail,omitempty"`
	IsConnected          bool       `json:"isConnected"`
	LastSyncedAt         *time.Time `json:"lastSyncedAt,omitempty"`
	ScheduledSyncEnabled bool       `json:"scheduledSyncEnabled"`
	SyncInProgress       bool       `json:"syncInProgress"`
}

type scheduleRequestPayload struct {
	Enabled *bool `json:"enabled"`
}

type logsResponsePayload struct {
	Logs []sync.Log `json:"logs"`
}

func (h *httpHandler) handleTrigger(c *gin.Context) {
	accountID := c.GetString(accountIDContextKey)

	var request triggerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	policy, err := sync.ParsePolicy(request.ConflictResolution)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_conflict_resolution"})
		return
	}

	conn, err := h.connections.Connection(c.Request.Context(), accountID)
	if err != nil {
		h.logger.Error("failed to load connection", zap.String("account_id", accountID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "connection_lookup_failed"})
		return
	}
	if !conn.Usable() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not_connected"})
		return
	}

	// A started run completes even if the client goes away.
	ctx := context.WithoutCancel(c.Request.Context())
	result, err := h.dispatcher.Trigger(ctx, sync.RunOptions{
		AccountID: accountID,
		DryRun:    request.DryRun,
		Policy:    policy,
		Trigger:   sync.TriggerManual,
	})
	switch {
	case errors.Is(err, dispatch.ErrRunInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "sync_in_progress"})
		return
	case result == nil:
		h.logger.Error("sync run failed", zap.String("account_id", accountID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
		return
	case err != nil:
		h.logger.Warn("sync failed during setup", zap.String("account_id", accountID), zap.Error(err))
	}

	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleStatus(c *gin.Context) {
	accountID := c.GetString(accountIDContextKey)
	ctx := c.Request.Context()

	conn, err := h.connections.Connection(ctx, accountID)
	if err != nil {
		h.logger.Error("failed to load connection", zap.String("account_id", accountID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "connection_lookup_failed"})
		return
	}

	response := statusResponsePayload{
		IsConnected:    conn.Usable(),
		SyncInProgress: h.dispatcher.Running(accountID),
	}
	if conn != nil && conn.Usable() {
		response.ExternalAccountEmail = conn.Email
		response.ScheduledSyncEnabled = conn.Enabled
	}

	logs, err := h.logs.RecentLogs(ctx, accountID, statusLogWindow)
	if err != nil {
		h.logger.Error("failed to read sync logs", zap.String("account_id", accountID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "log_lookup_failed"})
		return
	}
	for _, log := range logs {
		if log.Status == sync.LogStatusCompleted && !log.FinishedAt.IsZero() {
			finished := log.FinishedAt
			response.LastSyncedAt = &finished
			break
		}
	}

	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleDisconnect(c *gin.Context) {
	accountID := c.GetString(accountIDContextKey)
	ctx := c.Request.Context()

	conn, err := h.connections.Connection(ctx, accountID)
	if err != nil {
		h.logger.Error("failed to load connection", zap.String("account_id", accountID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "connection_lookup_failed"})
		return
	}

	if conn != nil && (conn.Active || conn.RefreshToken != "") {
		conn.Active = false
		conn.DisconnectedAt = h.clock().UTC()
		conn.RefreshToken = ""
		if err := h.connections.SaveConnection(ctx, *conn); err != nil {
			h.logger.Error("failed to save connection", zap.String("account_id", accountID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "disconnect_failed"})
			return
		}
		h.logger.Info("account disconnected", zap.String("account_id", accountID))
	}

	c.JSON(http.StatusOK, gin.H{"disconnected": true})
}

func (h *httpHandler) handleSchedule(c *gin.Context) {
	accountID := c.GetString(accountIDContextKey)
	ctx := c.Request.Context()

	var request scheduleRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	conn, err := h.connections.Connection(ctx, accountID)
	if err != nil {
		h.logger.Error("failed to load connection", zap.String("account_id", accountID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "connection_lookup_failed"})
		return
	}
	if conn == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not_connected"})
		return
	}

	conn.Enabled = *request.Enabled
	if err := h.connections.SaveConnection(ctx, *conn); err != nil {
		h.logger.Error("failed to save connection", zap.String("account_id", accountID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "schedule_update_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"scheduledSyncEnabled": conn.Enabled})
}

func (h *httpHandler) handleLogs(c *gin.Context) {
	accountID := c.GetString(accountIDContextKey)

	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
		return
	}

	logs, err := h.logs.RecentLogs(c.Request.Context(), accountID, limit)
	if err != nil {
		h.logger.Error("failed to read sync logs", zap.String("account_id", accountID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "log_lookup_failed"})
		return
	}
	if logs == nil {
		logs = []sync.Log{}
	}

	c.JSON(http.StatusOK, logsResponsePayload{Logs: logs})
}

// parseLimit parses the logs page size. Empty selects the default; larger values are capped.
func parseLimit(value string) (int, error) {
	if value == "" {
		return defaultLogLimit, nil
	}
	limit, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		return 0, errors.New("limit must be positive")
	}
	return min(limit, maxLogLimit), nil
}
