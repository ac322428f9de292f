package store

import (
    "context"
    "database/sql"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "dispatchd/internal/model"
)

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

// Ping reports database connectivity for readiness checks.
func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies all .sql files in dir in lexical order. Statements are
// expected to be idempotent (CREATE TABLE IF NOT EXISTS et al).
func (p *Postgres) MigrateDir(dir string) error {
    entries, err := os.ReadDir(dir)
    if err != nil {
        return err
    }
    var files []string
    for _, e := range entries {
        if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
            files = append(files, e.Name())
        }
    }
    sort.Strings(files)
    for _, f := range files {
        sqlBytes, err := os.ReadFile(filepath.Join(dir, f))
        if err != nil {
            return err
        }
        if _, err := p.db.Exec(string(sqlBytes)); err != nil {
            return err
        }
    }
    return nil
}

func (p *Postgres) ListVehicles(ctx context.Context) ([]model.Vehicle, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id, capacity_weight, capacity_volume, fuel_efficiency, operating_cost_km, available, loc_x, loc_y FROM vehicles ORDER BY registered_at`)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    out := []model.Vehicle{}
    for rows.Next() {
        var v model.Vehicle
        if err := rows.Scan(&v.ID, &v.CapacityWeight, &v.CapacityVolume, &v.FuelEfficiency, &v.OperatingCostKm, &v.Available, &v.Location.X, &v.Location.Y); err != nil {
            return nil, err
        }
        out = append(out, v)
    }
    return out, rows.Err()
}

func (p *Postgres) UpsertVehicle(ctx context.Context, v model.Vehicle) error {
    _, err := p.db.ExecContext(ctx, `INSERT INTO vehicles (id, capacity_weight, capacity_volume, fuel_efficiency, operating_cost_km, available, loc_x, loc_y, registered_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
        ON CONFLICT (id) DO UPDATE SET capacity_weight=$2, capacity_volume=$3, fuel_efficiency=$4, operating_cost_km=$5, available=$6, loc_x=$7, loc_y=$8`,
        v.ID, v.CapacityWeight, v.CapacityVolume, v.FuelEfficiency, v.OperatingCostKm, v.Available, v.Location.X, v.Location.Y)
    return err
}

func (p *Postgres) DeleteVehicle(ctx context.Context, id string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM vehicles WHERE id=$1`, id)
    if err != nil {
        return err
    }
    if n, _ := res.RowsAffected(); n == 0 {
        return ErrNotFound
    }
    return nil
}

func (p *Postgres) ListDrivers(ctx context.Context) ([]model.Driver, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id, name, max_hours, hourly_rate, current_hours, available FROM drivers ORDER BY registered_at`)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    out := []model.Driver{}
    for rows.Next() {
        var d model.Driver
        if err := rows.Scan(&d.ID, &d.Name, &d.MaxHours, &d.HourlyRate, &d.CurrentHours, &d.Available); err != nil {
            return nil, err
        }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) UpsertDriver(ctx context.Context, d model.Driver) error {
    _, err := p.db.ExecContext(ctx, `INSERT INTO drivers (id, name, max_hours, hourly_rate, current_hours, available, registered_at)
        VALUES ($1,$2,$3,$4,$5,$6,now())
        ON CONFLICT (id) DO UPDATE SET name=$2, max_hours=$3, hourly_rate=$4, current_hours=$5, available=$6`,
        d.ID, d.Name, d.MaxHours, d.HourlyRate, d.CurrentHours, d.Available)
    return err
}

func (p *Postgres) DeleteDriver(ctx context.Context, id string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM drivers WHERE id=$1`, id)
    if err != nil {
        return err
    }
    if n, _ := res.RowsAffected(); n == 0 {
        return ErrNotFound
    }
    return nil
}

func (p *Postgres) AppendMovement(ctx context.Context, rec model.MovementRecord) error {
    if rec.ID == "" {
        rec.ID = uuid.New().String()
    }
    if rec.TS.IsZero() {
        rec.TS = time.Now().UTC()
    }
    _, err := p.db.ExecContext(ctx, `INSERT INTO goods_movement (id, ts, movement_type, item_id, item_name, vehicle_id, driver_id, location_from, location_to, weight, volume, priority, status)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
        rec.ID, rec.TS, string(rec.Type), nullIfEmpty(rec.ItemID), nullIfEmpty(rec.ItemName), nullIfEmpty(rec.VehicleID), nullIfEmpty(rec.DriverID), nullIfEmpty(rec.From), nullIfEmpty(rec.To), rec.Weight, rec.Volume, nullIfEmpty(rec.Priority), nullIfEmpty(rec.Status))
    return err
}

func (p *Postgres) ListMovements(ctx context.Context, limit int) ([]model.MovementRecord, error) {
    if limit <= 0 || limit > 500 {
        limit = 100
    }
    rows, err := p.db.QueryContext(ctx, `SELECT id, ts, movement_type, item_id, item_name, vehicle_id, driver_id, location_from, location_to, weight, volume, priority, status
        FROM goods_movement ORDER BY ts DESC LIMIT $1`, limit)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    out := []model.MovementRecord{}
    for rows.Next() {
        var rec model.MovementRecord
        var typ string
        var itemID, itemName, vehicleID, driverID, from, to, prio, status sql.NullString
        if err := rows.Scan(&rec.ID, &rec.TS, &typ, &itemID, &itemName, &vehicleID, &driverID, &from, &to, &rec.Weight, &rec.Volume, &prio, &status); err != nil {
            return nil, err
        }
        rec.Type = model.EventType(typ)
        rec.ItemID = itemID.String
        rec.ItemName = itemName.String
        rec.VehicleID = vehicleID.String
        rec.DriverID = driverID.String
        rec.From = from.String
        rec.To = to.String
        rec.Priority = prio.String
        rec.Status = status.String
        out = append(out, rec)
    }
    return out, rows.Err()
}

func (p *Postgres) AppendOptimizationRun(ctx context.Context, run model.OptimizationRun) error {
    if run.ID == "" {
        run.ID = uuid.New().String()
    }
    if run.TS.IsZero() {
        run.TS = time.Now().UTC()
    }
    _, err := p.db.ExecContext(ctx, `INSERT INTO optimization_history (id, ts, item_count, route_count, total_cost, total_distance_km, duration_seconds, status, error)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
        run.ID, run.TS, run.ItemCount, run.RouteCount, run.TotalCost, run.TotalDistance, run.Duration, run.Status, nullIfEmpty(run.Error))
    return err
}

func (p *Postgres) ListOptimizationRuns(ctx context.Context, limit int) ([]model.OptimizationRun, error) {
    if limit <= 0 || limit > 500 {
        limit = 100
    }
    rows, err := p.db.QueryContext(ctx, `SELECT id, ts, item_count, route_count, total_cost, total_distance_km, duration_seconds, status, error
        FROM optimization_history ORDER BY ts DESC LIMIT $1`, limit)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    out := []model.OptimizationRun{}
    for rows.Next() {
        var run model.OptimizationRun
        var errMsg sql.NullString
        if err := rows.Scan(&run.ID, &run.TS, &run.ItemCount, &run.RouteCount, &run.TotalCost, &run.TotalDistance, &run.Duration, &run.Status, &errMsg); err != nil {
            return nil, err
        }
        run.Error = errMsg.String
        out = append(out, run)
    }
    return out, rows.Err()
}

func (p *Postgres) AppendMetricsSnapshot(ctx context.Context, snap model.MetricsSnapshot) error {
    ts := snap.TS
    if ts.IsZero() {
        ts = time.Now().UTC()
    }
    _, err := p.db.ExecContext(ctx, `INSERT INTO real_time_metrics (ts, total_items, available_items, total_weight, total_volume, active_assignments, available_vehicles, utilization_rate)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
        ts, snap.TotalItems, snap.AvailableItems, snap.TotalWeight, snap.TotalVolume, snap.ActiveAssignments, snap.AvailableVehicles, snap.UtilizationRate)
    return err
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    s := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret}
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_subscriptions (id, url, events, secret) VALUES ($1,$2,$3,$4)`,
        s.ID, s.URL, strings.Join(s.Events, ","), s.Secret)
    if err != nil {
        return model.Subscription{}, err
    }
    return s, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
    subs, err := p.ListSubscriptions(ctx)
    if err != nil {
        return nil, err
    }
    var out []model.Subscription
    for _, s := range subs {
        for _, e := range s.Events {
            if e == eventType {
                out = append(out, s)
                break
            }
        }
    }
    return out, nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id, url, events, secret FROM webhook_subscriptions ORDER BY created_at`)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var events string
        if err := rows.Scan(&s.ID, &s.URL, &events, &s.Secret); err != nil {
            return nil, err
        }
        if events != "" {
            s.Events = strings.Split(events, ",")
        }
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
    _, err := p.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE id=$1`, id)
    return err
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at)
        VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now())`,
        id, nullIfEmpty(subscriptionID), eventType, url, secret, payload)
    if err != nil {
        return "", err
    }
    return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    if limit <= 0 {
        limit = 50
    }
    rows, err := p.db.QueryContext(ctx, `SELECT id, COALESCE(subscription_id,''), event_type, url, secret, payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at LIMIT $1`, limit)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
            return nil, err
        }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if success {
        _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='delivered', attempts=attempts+1, response_code=$2, latency_ms=$3, delivered_at=now() WHERE id=$1`,
            id, responseCode, latencyMs)
        return err
    }
    next := time.Now().Add(time.Minute)
    if nextAttemptAt != nil {
        next = *nextAttemptAt
    }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='retry', attempts=attempts+1, last_error=$2, response_code=$3, latency_ms=$4, next_attempt_at=$5 WHERE id=$1`,
        id, lastError, responseCode, latencyMs, next)
    return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', attempts=attempts+1, last_error=$2, response_code=$3, latency_ms=$4 WHERE id=$1`,
        id, lastError, responseCode, latencyMs)
    return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]map[string]any, error) {
    if limit <= 0 || limit > 500 {
        limit = 100
    }
    var rows *sql.Rows
    var err error
    if status != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id, event_type, status, attempts, url, COALESCE(last_error,'') FROM webhook_deliveries WHERE status=$1 ORDER BY created_at DESC LIMIT $2`, status, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id, event_type, status, attempts, url, COALESCE(last_error,'') FROM webhook_deliveries ORDER BY created_at DESC LIMIT $1`, limit)
    }
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    out := []map[string]any{}
    for rows.Next() {
        var id, eventType, st, url, lastErr string
        var attempts int
        if err := rows.Scan(&id, &eventType, &st, &attempts, &url, &lastErr); err != nil {
            return nil, err
        }
        item := map[string]any{"id": id, "eventType": eventType, "status": st, "attempts": attempts, "url": url}
        if lastErr != "" {
            item["lastError"] = lastErr
        }
        out = append(out, item)
    }
    return out, rows.Err()
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, id string) error {
    res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now() WHERE id=$1`, id)
    if err != nil {
        return err
    }
    if n, _ := res.RowsAffected(); n == 0 {
        return ErrNotFound
    }
    return nil
}

func nullIfEmpty(s string) any {
    if s == "" {
        return nil
    }
    return s
}
