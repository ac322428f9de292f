package store

import (
    "context"
    "errors"
    "time"

    "dispatchd/internal/model"
)

// Store is the persistence boundary: fleet registries (CRUD), the durable
// movement log, optimization-run history, periodic metrics snapshots, and
// the webhook subscription/delivery queue. It is a side-channel collaborator;
// live dispatch decisions never read from it mid-cycle.
type Store interface {
    // Fleet registries
    ListVehicles(ctx context.Context) ([]model.Vehicle, error)
    UpsertVehicle(ctx context.Context, v model.Vehicle) error
    DeleteVehicle(ctx context.Context, id string) error
    ListDrivers(ctx context.Context) ([]model.Driver, error)
    UpsertDriver(ctx context.Context, d model.Driver) error
    DeleteDriver(ctx context.Context, id string) error

    // Append-only logs
    AppendMovement(ctx context.Context, rec model.MovementRecord) error
    ListMovements(ctx context.Context, limit int) ([]model.MovementRecord, error)
    AppendOptimizationRun(ctx context.Context, run model.OptimizationRun) error
    ListOptimizationRuns(ctx context.Context, limit int) ([]model.OptimizationRun, error)
    AppendMetricsSnapshot(ctx context.Context, snap model.MetricsSnapshot) error

    // Webhook subscriptions
    CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
    GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
    ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
    DeleteSubscription(ctx context.Context, id string) error

    // Webhook delivery queue
    EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
    ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]map[string]any, error)
    RetryWebhookDelivery(ctx context.Context, id string) error
}

var ErrNotFound = errors.New("not found")

type WebhookDelivery struct {
    ID             string
    SubscriptionID string
    EventType      string
    URL            string
    Secret         string
    Payload        []byte
    Status         string
    Attempts       int
}
