// Package server exposes the sync HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/peteski22/donorsync/internal/auth"
	"github.com/peteski22/donorsync/internal/contacts"
	"github.com/peteski22/donorsync/internal/sync"
)

const accountIDContextKey = "donorsync_account_id"

var (
	errMissingConnections   = errors.New("connection store dependency required")
	errMissingDispatcher    = errors.New("dispatcher dependency required")
	errMissingLogs          = errors.New("log reader dependency required")
	errMissingOAuth         = errors.New("oauth dependency required")
	errMissingSessions      = errors.New("session validator dependency required")
	errMissingStates        = errors.New("state token dependency required")
	errMissingUIBaseURL     = errors.New("UI base URL required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// ConnectionStore reads and writes account connections.
type ConnectionStore interface {
	// Connection returns the account's connection, or nil if none exists.
	Connection(ctx context.Context, accountID string) (*contacts.Connection, error)

	// SaveConnection creates or replaces the account's connection.
	SaveConnection(ctx context.Context, conn contacts.Connection) error
}

// Dispatcher starts guarded sync runs.
type Dispatcher interface {
	// Running reports whether the account has a run in progress.
	Running(accountID string) bool

	// Trigger runs a sync and waits for the result.
	Trigger(ctx context.Context, opts sync.RunOptions) (*sync.Result, error)

	// TriggerAsync starts a sync in the background.
	TriggerAsync(ctx context.Context, opts sync.RunOptions) error
}

// LogReader reads sync run logs.
type LogReader interface {
	// RecentLogs returns up to limit logs for the account, newest first.
	RecentLogs(ctx context.Context, accountID string, limit int) ([]sync.Log, error)
}

// OAuthFlow performs the Google authorization-code flow.
type OAuthFlow interface {
	// AuthCodeURL returns the consent page URL carrying the state.
	AuthCodeURL(state string) string

	// Exchange trades an authorization code for a token.
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)

	// UserEmail returns the email address of the token's owner.
	UserEmail(ctx context.Context, accessToken string) (string, error)
}

// TokenValidator validates signed tokens and returns their account ID.
type TokenValidator interface {
	// Validate returns the token's account ID.
	Validate(token string) (string, error)
}

// TokenIssuer issues and validates signed tokens.
type TokenIssuer interface {
	TokenValidator

	// Issue returns a signed token for the account and its expiry.
	Issue(accountID string) (string, time.Time, error)
}

// Dependencies holds the collaborators of the HTTP handler.
type Dependencies struct {
	// AllowedOrigins lists the CORS origins. Defaults to UIBaseURL.
	AllowedOrigins []string

	// Clock returns the current time. Default is time.Now.
	Clock func() time.Time

	// Connections stores account connections.
	Connections ConnectionStore

	// Dispatcher starts sync runs.
	Dispatcher Dispatcher

	// Logger is the request logger.
	Logger *zap.Logger

	// Logs reads sync run logs.
	Logs LogReader

	// OAuth performs the Google authorization-code flow.
	OAuth OAuthFlow

	// Sessions validates API bearer tokens.
	Sessions TokenValidator

	// States issues and validates OAuth state tokens.
	States TokenIssuer

	// UIBaseURL is where the OAuth callback redirects the browser.
	UIBaseURL string
}

// NewHTTPHandler builds the gin router for the sync API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Connections == nil {
		return nil, errMissingConnections
	}
	if deps.Dispatcher == nil {
		return nil, errMissingDispatcher
	}
	if deps.Logs == nil {
		return nil, errMissingLogs
	}
	if deps.OAuth == nil {
		return nil, errMissingOAuth
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.States == nil {
		return nil, errMissingStates
	}
	uiBaseURL := strings.TrimRight(strings.TrimSpace(deps.UIBaseURL), "/")
	if uiBaseURL == "" {
		return nil, errMissingUIBaseURL
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{uiBaseURL}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(origins))

	handler := &httpHandler{
		clock:       clock,
		connections: deps.Connections,
		dispatcher:  deps.Dispatcher,
		logger:      logger,
		logs:        deps.Logs,
		oauth:       deps.OAuth,
		sessions:    deps.Sessions,
		states:      deps.States,
		uiBaseURL:   uiBaseURL,
	}

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/oauth2callback", handler.handleOAuthCallback)

	protected := router.Group("/sync")
	protected.Use(handler.authorizeRequest)
	protected.GET("/connect", handler.handleConnect)
	protected.POST("/disconnect", handler.handleDisconnect)
	protected.GET("/logs", handler.handleLogs)
	protected.PUT("/schedule", handler.handleSchedule)
	protected.GET("/status", handler.handleStatus)
	protected.POST("/trigger", handler.handleTrigger)

	return router, nil
}

type httpHandler struct {
	clock       func() time.Time
	connections ConnectionStore
	dispatcher  Dispatcher
	logger      *zap.Logger
	logs        LogReader
	oauth       OAuthFlow
	sessions    TokenValidator
	states      TokenIssuer
	uiBaseURL   string
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	accountID, err := h.sessions.Validate(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(accountIDContextKey, accountID)
	c.Next()
}
