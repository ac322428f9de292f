package api

import (
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "strings"
    "time"

    "dispatchd/internal/buildinfo"
    "dispatchd/internal/model"
    "dispatchd/internal/store"
    "dispatchd/internal/webhooks"
)

// EventsHandler handles POST /v1/events: validates and queues external
// events for the controller. Ingest is rate limited; a rejected request
// must be retried by the caller, nothing is queued.
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    if !s.eventLimiter.Allow() {
        writeProblem(w, http.StatusTooManyRequests, "Rate limited", "event ingest limit exceeded", r.URL.Path)
        return
    }
    var ev model.Event
    if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if err := validateEvent(&ev); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid event", err.Error(), r.URL.Path)
        return
    }
    s.Ctrl.PushEvent(ev)
    if ev.Type == model.EventGoodsOut {
        data := map[string]any{"itemId": ev.ItemID, "destination": ev.Destination}
        s.Broker.Publish(webhooks.EventItemDispatched, SSEEvent{Type: webhooks.EventItemDispatched, Data: data})
        s.Pub.Emit(r.Context(), webhooks.EventItemDispatched, data)
    }
    writeJSON(w, http.StatusAccepted, map[string]any{"queued": true, "type": ev.Type})
}

// StateHandler handles GET /v1/state: snapshot of all item state plus the
// most recent optimization result.
func (s *Server) StateHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    body := map[string]any{"items": s.Ctrl.Items()}
    if res, ok := s.Ctrl.LastResult(); ok {
        body["lastOptimization"] = res
    }
    writeJSON(w, http.StatusOK, body)
}

// StateItemHandler handles GET /v1/state/{itemID}
func (s *Server) StateItemHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    id := strings.TrimPrefix(r.URL.Path, "/v1/state/")
    if id == "" || strings.Contains(id, "/") {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing item id", r.URL.Path)
        return
    }
    for _, st := range s.Ctrl.Items() {
        if st.Item.ID == id {
            writeJSON(w, http.StatusOK, st)
            return
        }
    }
    writeProblem(w, http.StatusNotFound, "Item not found", "", r.URL.Path)
}

// ControllerHandler handles POST /v1/controller/start and /v1/controller/stop
func (s *Server) ControllerHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(405); return }
    p := s.getPrincipal(r)
    if !p.CanDispatch() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path); return }
    switch strings.TrimPrefix(r.URL.Path, "/v1/controller/") {
    case "start":
        s.Ctrl.Start()
    case "stop":
        s.Ctrl.Stop()
    default:
        writeProblem(w, 404, "Not Found", "", r.URL.Path)
        return
    }
    writeJSON(w, 200, s.Ctrl.Status())
}

// StatusHandler handles GET /v1/status
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    writeJSON(w, http.StatusOK, s.Ctrl.Status())
}

// OptimizeHandler handles POST /v1/optimize: runs a full cycle now,
// bypassing the interval gate.
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    if !p.CanDispatch() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path); return }
    res, err := s.Ctrl.RequestOptimization(r.Context())
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Optimization failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, res)
}

// RoutesHandler handles GET /v1/routes: routes from the latest cycle.
func (s *Server) RoutesHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    res, ok := s.Ctrl.LastResult()
    if !ok {
        writeJSON(w, http.StatusOK, map[string]any{"routes": []model.Route{}, "summary": model.RouteSummary{}})
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"routes": res.Routes, "summary": res.Summary, "runId": res.RunID})
}

// MovementsHandler handles GET /v1/movements: the durable movement log.
func (s *Server) MovementsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    limit := queryLimit(r, 100)
    recs, err := s.Store.ListMovements(r.Context(), limit)
    if err != nil { writeProblem(w, 500, "List movements failed", err.Error(), r.URL.Path); return }
    writeJSON(w, http.StatusOK, map[string]any{"items": recs})
}

// OptimizationsHandler handles GET /v1/optimizations: run history.
func (s *Server) OptimizationsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    limit := queryLimit(r, 100)
    runs, err := s.Store.ListOptimizationRuns(r.Context(), limit)
    if err != nil { writeProblem(w, 500, "List runs failed", err.Error(), r.URL.Path); return }
    writeJSON(w, http.StatusOK, map[string]any{"items": runs})
}

// VehiclesHandler handles POST/GET /v1/vehicles
func (s *Server) VehiclesHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        p := s.getPrincipal(r)
        if !p.CanDispatch() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path); return }
        var v model.Vehicle
        if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if v.ID == "" || v.CapacityWeight <= 0 {
            writeProblem(w, http.StatusBadRequest, "Invalid vehicle", "id and positive capacityWeight required", r.URL.Path)
            return
        }
        s.Fleet.UpsertVehicle(v)
        if err := s.Store.UpsertVehicle(r.Context(), v); err != nil {
            writeProblem(w, 500, "Persist vehicle failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusCreated, v)
    case http.MethodGet:
        writeJSON(w, http.StatusOK, map[string]any{"items": s.Fleet.Vehicles()})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// VehicleByIDHandler handles GET/DELETE /v1/vehicles/{id}
func (s *Server) VehicleByIDHandler(w http.ResponseWriter, r *http.Request) {
    id := strings.TrimPrefix(r.URL.Path, "/v1/vehicles/")
    if id == "" || strings.Contains(id, "/") {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
        return
    }
    switch r.Method {
    case http.MethodGet:
        for _, v := range s.Fleet.Vehicles() {
            if v.ID == id { writeJSON(w, 200, v); return }
        }
        writeProblem(w, 404, "Vehicle not found", "", r.URL.Path)
    case http.MethodDelete:
        p := s.getPrincipal(r)
        if !p.CanDispatch() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path); return }
        if !s.Fleet.RemoveVehicle(id) {
            writeProblem(w, 404, "Vehicle not found", "", r.URL.Path)
            return
        }
        if err := s.Store.DeleteVehicle(r.Context(), id); err != nil && err != store.ErrNotFound {
            writeProblem(w, 500, "Delete vehicle failed", err.Error(), r.URL.Path)
            return
        }
        w.WriteHeader(http.StatusNoContent)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// DriversHandler handles POST/GET /v1/drivers
func (s *Server) DriversHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        p := s.getPrincipal(r)
        if !p.CanDispatch() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path); return }
        var d model.Driver
        if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if d.ID == "" || d.HourlyRate < 0 {
            writeProblem(w, http.StatusBadRequest, "Invalid driver", "id required, hourlyRate must be >= 0", r.URL.Path)
            return
        }
        s.Fleet.UpsertDriver(d)
        if err := s.Store.UpsertDriver(r.Context(), d); err != nil {
            writeProblem(w, 500, "Persist driver failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusCreated, d)
    case http.MethodGet:
        writeJSON(w, http.StatusOK, map[string]any{"items": s.Fleet.Drivers()})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// DriverByIDHandler handles GET/DELETE /v1/drivers/{id}
func (s *Server) DriverByIDHandler(w http.ResponseWriter, r *http.Request) {
    id := strings.TrimPrefix(r.URL.Path, "/v1/drivers/")
    if id == "" || strings.Contains(id, "/") {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
        return
    }
    switch r.Method {
    case http.MethodGet:
        for _, d := range s.Fleet.Drivers() {
            if d.ID == id { writeJSON(w, 200, d); return }
        }
        writeProblem(w, 404, "Driver not found", "", r.URL.Path)
    case http.MethodDelete:
        p := s.getPrincipal(r)
        if !p.CanDispatch() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path); return }
        if !s.Fleet.RemoveDriver(id) {
            writeProblem(w, 404, "Driver not found", "", r.URL.Path)
            return
        }
        if err := s.Store.DeleteDriver(r.Context(), id); err != nil && err != store.ErrNotFound {
            writeProblem(w, 500, "Delete driver failed", err.Error(), r.URL.Path)
            return
        }
        w.WriteHeader(http.StatusNoContent)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        var req model.SubscriptionRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.URL == "" || len(req.Events) == 0 {
            writeProblem(w, http.StatusBadRequest, "Invalid subscription", "url and events required", r.URL.Path)
            return
        }
        sub, err := s.Store.CreateSubscription(r.Context(), req)
        if err != nil { writeProblem(w, 500, "Create subscription failed", err.Error(), r.URL.Path); return }
        writeJSON(w, http.StatusCreated, sub)
    case http.MethodGet:
        subs, err := s.Store.ListSubscriptions(r.Context())
        if err != nil { writeProblem(w, 500, "List subscriptions failed", err.Error(), r.URL.Path); return }
        writeJSON(w, http.StatusOK, map[string]any{"items": subs})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id} (admin)
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
    if !strings.HasPrefix(r.URL.Path, "/v1/subscriptions/") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodDelete { w.WriteHeader(405); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
    if err := s.Store.DeleteSubscription(r.Context(), id); err != nil { writeProblem(w, 500, "Delete subscription failed", err.Error(), r.URL.Path); return }
    w.WriteHeader(204)
}

// Admin: webhook deliveries list and retry
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/admin/webhook-deliveries" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    if r.Method != http.MethodGet { w.WriteHeader(405); return }
    status := r.URL.Query().Get("status")
    items, err := s.Store.ListWebhookDeliveries(r.Context(), status, queryLimit(r, 100))
    if err != nil { writeProblem(w, 500, "List deliveries failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 200, map[string]any{"items": items})
}

func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
    if !strings.HasPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/") || !strings.HasSuffix(r.URL.Path, "/retry") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodPost { w.WriteHeader(405); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/"), "/retry")
    if err := s.Store.RetryWebhookDelivery(r.Context(), id); err != nil { writeProblem(w, 500, "Retry delivery failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 202, map[string]int{"accepted": 1})
}

// AdminResetHandler handles POST /v1/admin/reset: clears controller state.
// Fleet registries and durable logs survive.
func (s *Server) AdminResetHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(405); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    s.Ctrl.Reset()
    writeJSON(w, 200, map[string]bool{"ok": true})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    // Check DB connectivity when using Postgres store
    type pinger interface{ Ping(ctx context.Context) error }
    if pg, ok := s.Store.(pinger); ok {
        ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
        defer cancel()
        if err := pg.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path); return }
    }
    writeJSON(w, 200, map[string]string{"status": "ready"})
}

func (s *Server) VersionHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, buildinfo.Info())
}

func queryLimit(r *http.Request, def int) int {
    limit := def
    if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
    return limit
}
