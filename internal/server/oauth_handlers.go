package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/peteski22/donorsync/internal/auth"
	"github.com/peteski22/donorsync/internal/contacts"
	"github.com/peteski22/donorsync/internal/dispatch"
	"github.com/peteski22/donorsync/internal/sync"
)

// integrationPath is the UI route that shows the outcome of the OAuth flow.
const integrationPath = "/settings/integrations/google-contacts"

type connectResponsePayload struct {
	AuthURL string `json:"authUrl"`
}

func (h *httpHandler) handleConnect(c *gin.Context) {
	accountID := c.GetString(accountIDContextKey)

	state, _, err := h.states.Issue(accountID)
	if err != nil {
		h.logger.Error("failed to issue oauth state", zap.String("account_id", accountID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "state_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, connectResponsePayload{AuthURL: h.oauth.AuthCodeURL(state)})
}

func (h *httpHandler) handleOAuthCallback(c *gin.Context) {
	if reason := c.Query("error"); reason != "" {
		h.logger.Info("oauth consent not granted", zap.String("reason", reason))
		h.redirectError(c, "access_denied")
		return
	}

	code := strings.TrimSpace(c.Query("code"))
	state := strings.TrimSpace(c.Query("state"))
	if code == "" || state == "" {
		h.redirectError(c, "invalid_request")
		return
	}

	accountID, err := h.states.Validate(state)
	if err != nil {
		h.logger.Warn("oauth state rejected", zap.Error(err))
		if errors.Is(err, auth.ErrExpiredToken) {
			h.redirectError(c, "state_expired")
			return
		}
		h.redirectError(c, "invalid_state")
		return
	}

	ctx := c.Request.Context()
	logger := h.logger.With(zap.String("account_id", accountID))

	token, err := h.oauth.Exchange(ctx, code)
	if err != nil {
		logger.Warn("oauth code exchange failed", zap.Error(err))
		h.redirectError(c, "exchange_failed")
		return
	}

	email, err := h.oauth.UserEmail(ctx, token.AccessToken)
	if err != nil {
		logger.Warn("failed to read google account email", zap.Error(err))
	}

	existing, err := h.connections.Connection(ctx, accountID)
	if err != nil {
		logger.Error("failed to load connection", zap.Error(err))
		h.redirectError(c, "storage_failed")
		return
	}

	conn := contacts.Connection{
		AccountID:    accountID,
		Active:       true,
		ConnectedAt:  h.clock().UTC(),
		Email:        email,
		Enabled:      true,
		RefreshToken: token.RefreshToken,
	}
	if existing != nil {
		// Reconnecting keeps the account's scheduling choice.
		conn.DisconnectedAt = existing.DisconnectedAt
		conn.Enabled = existing.Enabled
	}

	if err := h.connections.SaveConnection(ctx, conn); err != nil {
		logger.Error("failed to save connection", zap.Error(err))
		h.redirectError(c, "storage_failed")
		return
	}

	err = h.dispatcher.TriggerAsync(context.WithoutCancel(ctx), sync.RunOptions{
		AccountID: accountID,
		Policy:    sync.PolicyPlatformWins,
		Trigger:   sync.TriggerInitial,
	})
	switch {
	case errors.Is(err, dispatch.ErrRunInProgress):
		logger.Info("initial sync skipped, run in progress")
	case err != nil:
		logger.Error("failed to start initial sync", zap.Error(err))
	default:
		logger.Info("account connected, initial sync started", zap.String("email", email))
	}

	h.redirect(c, url.Values{"sync": {"success"}})
}

func (h *httpHandler) redirectError(c *gin.Context, reason string) {
	h.redirect(c, url.Values{"sync": {"error"}, "reason": {reason}})
}

func (h *httpHandler) redirect(c *gin.Context, params url.Values) {
	c.Redirect(http.StatusFound, h.uiBaseURL+integrationPath+"?"+params.Encode())
}
