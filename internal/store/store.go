package store

import (
	"context"
	"errors"
	"time"

	"fleetopt/internal/model"
)

// Store is the persistence interface used by the API server.
type Store interface {
	// Plans
	SavePlan(ctx context.Context, p model.Plan) error
	GetPlan(ctx context.Context, id string) (model.Plan, error)
	ListPlans(ctx context.Context, batchKey, cursor string, limit int) ([]model.Plan, string, error)

	// Optimizer defaults; nil when never saved
	GetOptimizerConfig(ctx context.Context) (*model.OptimizerProfile, error)
	SaveOptimizerConfig(ctx context.Context, p model.OptimizerProfile) error

	// Webhook deliveries. Enqueue drops the oldest undelivered entries
	// beyond maxPending (0: unbounded) and reports how many it dropped.
	EnqueueWebhook(ctx context.Context, d WebhookDelivery, maxPending int) (int, error)
	FetchDueWebhookDeliveries(ctx context.Context, now time.Time, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt time.Time, lastError string) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string) error
	CountPendingWebhookDeliveries(ctx context.Context) (int, error)

	Ping(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")

const (
	defaultLimit = 100
	maxLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxLimit {
		return defaultLimit
	}
	return limit
}
