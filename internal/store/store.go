package store

import (
	"context"
	"errors"
	"time"

	"errandplan/internal/model"
	"errandplan/internal/opt"
)

// Store is the persistence interface used by the planner and the API server.
type Store interface {
	// Runs
	SaveRun(ctx context.Context, run model.RunSummary) error
	GetRun(ctx context.Context, id string) (model.RunSummary, error)
	ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error)

	// Metrics
	SavePlanMetrics(ctx context.Context, runID string, m opt.RunMetrics) error
	ListPlanMetrics(ctx context.Context, runID, strategy string) ([]opt.RunMetrics, error)
	SavePlanMetricsWeights(ctx context.Context, runID, strategy string, snaps []opt.WeightSnapshot) error
	ListPlanMetricsWeights(ctx context.Context, runID, strategy string) ([]opt.WeightSnapshot, error)

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, runID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, runID string) ([]WebhookDelivery, error)

	Ping(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
