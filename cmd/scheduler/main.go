// Package main provides the Lambda handler that runs scheduled donorsync passes.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/peteski22/donorsync/internal/app"
	"github.com/peteski22/donorsync/internal/config"
	"github.com/peteski22/donorsync/internal/dispatch"
	"github.com/peteski22/donorsync/internal/logging"
)

// scheduledRunner runs one scheduled pass over every eligible account.
type scheduledRunner interface {
	RunScheduled(ctx context.Context) (dispatch.ScheduledSummary, error)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	lambda.Start(handler)
}

func handler(ctx context.Context, event events.CloudWatchEvent) (dispatch.ScheduledSummary, error) {
	settings, err := config.LoadWorker(config.NewViper())
	if err != nil {
		return dispatch.ScheduledSummary{}, fmt.Errorf("loading config: %w", err)
	}

	zapLogger, err := logging.NewLogger(settings.LogLevel)
	if err != nil {
		return dispatch.ScheduledSummary{}, err
	}
	defer zapLogger.Sync() //nolint:errcheck
	logger := logging.Slog(zapLogger)

	clients, err := app.NewAWSClients(ctx, settings.AWS)
	if err != nil {
		return dispatch.ScheduledSummary{}, err
	}

	application, err := app.New(settings, clients, logger)
	if err != nil {
		return dispatch.ScheduledSummary{}, err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("failed to close application", "error", err)
		}
	}()

	return runScheduled(ctx, event, application.Dispatcher, logger)
}

// runScheduled runs one pass and logs its outcome.
// Per-account failures are counted in the summary and do not fail the invocation.
func runScheduled(
	ctx context.Context,
	event events.CloudWatchEvent,
	runner scheduledRunner,
	logger *slog.Logger,
) (dispatch.ScheduledSummary, error) {
	logger.InfoContext(ctx, "starting scheduled sync", "event_id", event.ID, "event_time", event.Time)

	summary, err := runner.RunScheduled(ctx)
	if err != nil {
		return summary, fmt.Errorf("running scheduled sync: %w", err)
	}

	logger.InfoContext(ctx, "scheduled sync complete",
		"accounts", summary.Accounts,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped)

	return summary, nil
}
