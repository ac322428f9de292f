package store

import (
    "context"
    "sync"
    "time"

    "github.com/google/uuid"

    "dispatchd/internal/model"
)

// Memory is the in-memory store used when no DATABASE_URL is set. Suitable
// for development and tests; logs are bounded only by process lifetime.
type Memory struct {
    mu         sync.Mutex
    vehicles   []model.Vehicle
    drivers    []model.Driver
    movements  []model.MovementRecord
    runs       []model.OptimizationRun
    snapshots  []model.MetricsSnapshot
    subs       []model.Subscription
    deliveries map[string]*memDelivery
    order      []string // delivery ids in enqueue order
}

func NewMemory() *Memory {
    return &Memory{deliveries: map[string]*memDelivery{}}
}

type memDelivery struct {
    WebhookDelivery
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
    LatencyMs     int
    DeliveredAt   *time.Time
}

func (m *Memory) ListVehicles(ctx context.Context) ([]model.Vehicle, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    return append([]model.Vehicle(nil), m.vehicles...), nil
}

func (m *Memory) UpsertVehicle(ctx context.Context, v model.Vehicle) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    for i := range m.vehicles {
        if m.vehicles[i].ID == v.ID {
            m.vehicles[i] = v
            return nil
        }
    }
    m.vehicles = append(m.vehicles, v)
    return nil
}

func (m *Memory) DeleteVehicle(ctx context.Context, id string) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    for i := range m.vehicles {
        if m.vehicles[i].ID == id {
            m.vehicles = append(m.vehicles[:i], m.vehicles[i+1:]...)
            return nil
        }
    }
    return ErrNotFound
}

func (m *Memory) ListDrivers(ctx context.Context) ([]model.Driver, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    return append([]model.Driver(nil), m.drivers...), nil
}

func (m *Memory) UpsertDriver(ctx context.Context, d model.Driver) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    for i := range m.drivers {
        if m.drivers[i].ID == d.ID {
            m.drivers[i] = d
            return nil
        }
    }
    m.drivers = append(m.drivers, d)
    return nil
}

func (m *Memory) DeleteDriver(ctx context.Context, id string) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    for i := range m.drivers {
        if m.drivers[i].ID == id {
            m.drivers = append(m.drivers[:i], m.drivers[i+1:]...)
            return nil
        }
    }
    return ErrNotFound
}

func (m *Memory) AppendMovement(ctx context.Context, rec model.MovementRecord) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if rec.ID == "" {
        rec.ID = uuid.New().String()
    }
    m.movements = append(m.movements, rec)
    return nil
}

func (m *Memory) ListMovements(ctx context.Context, limit int) ([]model.MovementRecord, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    return lastN(m.movements, limit), nil
}

func (m *Memory) AppendOptimizationRun(ctx context.Context, run model.OptimizationRun) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if run.ID == "" {
        run.ID = uuid.New().String()
    }
    m.runs = append(m.runs, run)
    return nil
}

func (m *Memory) ListOptimizationRuns(ctx context.Context, limit int) ([]model.OptimizationRun, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    return lastN(m.runs, limit), nil
}

func (m *Memory) AppendMetricsSnapshot(ctx context.Context, snap model.MetricsSnapshot) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    m.snapshots = append(m.snapshots, snap)
    return nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    s := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret}
    m.subs = append(m.subs, s)
    return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    var out []model.Subscription
    for _, s := range m.subs {
        for _, e := range s.Events {
            if e == eventType {
                out = append(out, s)
                break
            }
        }
    }
    return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    return append([]model.Subscription(nil), m.subs...), nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    out := make([]model.Subscription, 0, len(m.subs))
    for _, s := range m.subs {
        if s.ID != id {
            out = append(out, s)
        }
    }
    m.subs = out
    return nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    id := uuid.New().String()
    m.deliveries[id] = &memDelivery{
        WebhookDelivery: WebhookDelivery{ID: id, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending"},
        NextAttemptAt:   time.Now(),
    }
    m.order = append(m.order, id)
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    now := time.Now()
    out := []WebhookDelivery{}
    for _, id := range m.order {
        d := m.deliveries[id]
        if d == nil {
            continue
        }
        if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
            out = append(out, d.WebhookDelivery)
            if limit > 0 && len(out) >= limit {
                break
            }
        }
    }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil {
        return nil
    }
    d.Attempts++
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    if success {
        d.Status = "delivered"
        now := time.Now()
        d.DeliveredAt = &now
    } else {
        d.Status = "retry"
        d.LastError = lastError
        if nextAttemptAt != nil {
            d.NextAttemptAt = *nextAttemptAt
        } else {
            d.NextAttemptAt = time.Now().Add(time.Minute)
        }
    }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if d := m.deliveries[id]; d != nil {
        d.Status = "failed"
        d.LastError = lastError
        d.ResponseCode = responseCode
        d.LatencyMs = latencyMs
    }
    return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]map[string]any, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    out := []map[string]any{}
    for _, id := range m.order {
        d := m.deliveries[id]
        if d == nil {
            continue
        }
        if status != "" && d.Status != status {
            continue
        }
        item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
        if d.LastError != "" {
            item["lastError"] = d.LastError
        }
        out = append(out, item)
        if limit > 0 && len(out) >= limit {
            break
        }
    }
    return out, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, id string) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil {
        return ErrNotFound
    }
    d.Status = "pending"
    d.NextAttemptAt = time.Now()
    return nil
}

func lastN[T any](items []T, limit int) []T {
    if limit <= 0 || limit > len(items) {
        limit = len(items)
    }
    out := make([]T, limit)
    copy(out, items[len(items)-limit:])
    return out
}
