package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/peteski22/donorsync/internal/app"
	"github.com/peteski22/donorsync/internal/auth"
	"github.com/peteski22/donorsync/internal/config"
	"github.com/peteski22/donorsync/internal/logging"
	"github.com/peteski22/donorsync/internal/server"
)

const shutdownTimeout = 10 * time.Second

func runServer(ctx context.Context) error {
	settings, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(settings.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	clients, err := app.NewAWSClients(ctx, settings.AWS)
	if err != nil {
		return err
	}

	application, err := app.New(settings, clients, logging.Slog(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("failed to close application", zap.Error(err))
		}
	}()

	sessions, err := newTokenIssuer(settings, auth.AudienceSession)
	if err != nil {
		return err
	}

	states, err := newTokenIssuer(settings, auth.AudienceOAuthState)
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		AllowedOrigins: settings.AllowedOrigins(),
		Connections:    application.Connections,
		Dispatcher:     application.Dispatcher,
		Logger:         logger,
		Logs:           application.Logs,
		OAuth:          application.OAuth,
		Sessions:       sessions,
		States:         states,
		UIBaseURL:      settings.UIBaseURL,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              settings.HTTP.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if settings.Scheduler.Enabled {
		go func() {
			logger.Info("scheduler starting", zap.Duration("interval", settings.Scheduler.Interval))
			if err := application.Dispatcher.Start(signalCtx, settings.Scheduler.Interval); err != nil {
				logger.Error("scheduler stopped", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", settings.HTTP.Address))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		logger.Info("waiting for background syncs")
		application.Dispatcher.Wait()
		return err
	case err := <-errCh:
		return err
	}
}

// newTokenIssuer builds the issuer for one token audience from the auth settings.
func newTokenIssuer(settings *config.Settings, audience string) (*auth.TokenIssuer, error) {
	ttl := settings.Auth.SessionTTL
	if audience == auth.AudienceOAuthState {
		ttl = settings.Auth.StateTTL
	}

	return auth.NewTokenIssuer(auth.TokenIssuerConfig{
		Audience:      audience,
		SigningSecret: []byte(settings.Auth.SigningSecret),
		TokenTTL:      ttl,
	})
}
