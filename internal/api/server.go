package api

import (
    "context"
    "log"
    "net/http"
    "strconv"
    "strings"
    "time"

    "golang.org/x/time/rate"

    "dispatchd/internal/auth"
    "dispatchd/internal/config"
    "dispatchd/internal/dispatch"
    "dispatchd/internal/fleet"
    "dispatchd/internal/metrics"
    "dispatchd/internal/model"
    "dispatchd/internal/opt"
    "dispatchd/internal/packer"
    "dispatchd/internal/store"
    "dispatchd/internal/webhooks"
)

type Server struct {
    Store  store.Store
    Fleet  *fleet.State
    Ctrl   *dispatch.Controller
    Pub    *webhooks.Publisher
    Auth   *auth.Verifier
    Broker EventBroker

    eventLimiter *rate.Limiter
}

// NewServer wires the full service: store (Postgres when configured, else
// in-memory), fleet registries loaded from the store, the packer client,
// the dispatch controller, and the live-event broker.
func NewServer(cfg config.Config) (*Server, error) {
    var s store.Store
    if strings.TrimSpace(cfg.DatabaseURL) == "" {
        s = store.NewMemory()
    } else {
        sp, err := store.NewPostgres(cfg.DatabaseURL)
        if err != nil {
            return nil, err
        }
        if err := sp.MigrateDir("db/migrations"); err != nil {
            log.Printf("api: migrations failed: %v", err)
        }
        s = sp
    }

    fl := fleet.NewState()
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if vs, err := s.ListVehicles(ctx); err == nil {
        fl.SetVehicles(vs)
    }
    if ds, err := s.ListDrivers(ctx); err == nil {
        fl.SetDrivers(ds)
    }

    var pk packer.Packer = packer.LocalPacker{}
    if cfg.PackerURL != "" {
        pk = packer.NewHTTPPacker(cfg.PackerURL)
    }

    ctrl := dispatch.NewController(dispatch.Config{
        TickInterval:      cfg.TickInterval(),
        ErrorBackoff:      cfg.ErrorBackoff(),
        OptimizeInterval:  cfg.OptimizeInterval(),
        MinAvailableItems: cfg.MinAvailableItems,
        FuelPrice:         cfg.FuelPrice,
        Constraints:       cfg.Constraints,
        Seed:              cfg.Seed,
    }, s, fl, pk)
    if cfg.DriverPolicy == "least_hours" {
        ctrl.SetDriverPicker(opt.LeastHoursPicker{})
    }

    var broker EventBroker
    if cfg.RedisURL != "" {
        if rb, err := NewRedisBroker(cfg.RedisURL); err == nil { broker = rb } else { broker = NewBroker() }
    } else {
        broker = NewBroker()
    }

    srv := &Server{
        Store:        s,
        Fleet:        fl,
        Ctrl:         ctrl,
        Pub:          webhooks.NewPublisher(s),
        Auth:         auth.NewVerifier(cfg.AuthMode, cfg.AuthSecret),
        Broker:       broker,
        eventLimiter: rate.NewLimiter(rate.Limit(cfg.EventRateLimit), cfg.EventRateBurst),
    }
    ctrl.RegisterCallback(srv.onOptimization)
    return srv, nil
}

// onOptimization publishes each successful cycle to the live feed and the
// webhook queue.
func (s *Server) onOptimization(res model.OptimizationResult) {
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    summary := map[string]any{
        "runId":      res.RunID,
        "routes":     res.Summary.TotalRoutes,
        "items":      res.Summary.TotalItems,
        "totalCost":  res.Summary.TotalCost,
        "distanceKm": res.Summary.TotalDistanceKm,
        "ts":         res.Timestamp.Format(time.RFC3339),
    }
    s.Broker.Publish(webhooks.EventOptimizationCompleted, SSEEvent{Type: webhooks.EventOptimizationCompleted, Data: summary})
    s.Pub.Emit(ctx, webhooks.EventOptimizationCompleted, summary)
    for _, itemID := range res.Overflowed {
        data := map[string]any{"runId": res.RunID, "itemId": itemID}
        s.Broker.Publish(webhooks.EventCapacityOverflow, SSEEvent{Type: webhooks.EventCapacityOverflow, Data: data})
        s.Pub.Emit(ctx, webhooks.EventCapacityOverflow, data)
    }
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
    return webhooks.NewWorker(s.Store)
}

// Routes builds the service mux. Kept separate from main so tests can
// exercise the full surface with httptest.
func (s *Server) Routes() *http.ServeMux {
    mux := http.NewServeMux()

    // Event ingest and live feeds
    mux.HandleFunc("/v1/events", s.EventsHandler)
    mux.HandleFunc("/v1/events/stream", s.StreamHandler)
    mux.HandleFunc("/v1/ws", s.WSHandler)

    // Dispatch state
    mux.HandleFunc("/v1/state", s.StateHandler)
    mux.HandleFunc("/v1/state/", s.StateItemHandler)
    mux.HandleFunc("/v1/status", s.StatusHandler)
    mux.HandleFunc("/v1/controller/", s.ControllerHandler)
    mux.HandleFunc("/v1/optimize", s.OptimizeHandler)
    mux.HandleFunc("/v1/routes", s.RoutesHandler)
    mux.HandleFunc("/v1/movements", s.MovementsHandler)
    mux.HandleFunc("/v1/optimizations", s.OptimizationsHandler)

    // Fleet registries
    mux.HandleFunc("/v1/vehicles", s.VehiclesHandler)
    mux.HandleFunc("/v1/vehicles/", s.VehicleByIDHandler)
    mux.HandleFunc("/v1/drivers", s.DriversHandler)
    mux.HandleFunc("/v1/drivers/", s.DriverByIDHandler)

    // Webhook subscriptions and admin
    mux.HandleFunc("/v1/subscriptions", s.SubscriptionsHandler)
    mux.HandleFunc("/v1/subscriptions/", s.SubscriptionByIDHandler)
    mux.HandleFunc("/v1/admin/webhook-deliveries", s.WebhookDeliveriesHandler)
    mux.HandleFunc("/v1/admin/webhook-deliveries/", s.WebhookDeliveryRetryHandler)
    mux.HandleFunc("/v1/admin/reset", s.AdminResetHandler)
    mux.HandleFunc("/v1/debug", s.DebugJSON)

    // Health and metrics
    mux.HandleFunc("/healthz", s.HealthHandler)
    mux.HandleFunc("/readyz", s.ReadyHandler)
    mux.HandleFunc("/version", s.VersionHandler)
    mux.Handle("/metrics", metrics.Handler())

    return mux
}

// LogMiddleware logs requests and records HTTP metrics.
func LogMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
        next.ServeHTTP(rec, r)
        dur := time.Since(start)
        status := strconv.Itoa(rec.status)
        metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
        metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(dur.Seconds())
        log.Printf("%s %s %s %d %v", r.RemoteAddr, r.Method, r.URL.Path, rec.status, dur)
    })
}

type statusRecorder struct {
    http.ResponseWriter
    status int
}

func (r *statusRecorder) WriteHeader(code int) {
    r.status = code
    r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
    if f, ok := r.ResponseWriter.(http.Flusher); ok {
        f.Flush()
    }
}
