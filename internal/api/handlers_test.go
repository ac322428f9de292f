package api

import (
    "bytes"
    "context"
    "encoding/json"
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "dispatchd/internal/config"
)

func newTestServer(t *testing.T) *Server {
    t.Helper()
    cfg, err := config.Load("")
    if err != nil { t.Fatalf("config: %v", err) }
    cfg.Seed = 42
    s, err := NewServer(cfg)
    if err != nil { t.Fatalf("NewServer: %v", err) }
    return s
}

func doJSON(t *testing.T, s *Server, h http.HandlerFunc, method, path string, body []byte, role string) *httptest.ResponseRecorder {
    t.Helper()
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(method, path, bytes.NewReader(body))
    req.Header.Set("Content-Type", "application/json")
    if role != "" { req.Header.Set("X-Role", role) }
    h(rr, req)
    return rr
}

func seedFleet(t *testing.T, s *Server) {
    t.Helper()
    v := []byte(`{"id":"v1","capacityWeight":500,"capacityVolume":1000,"fuelEfficiency":10,"operatingCostPerKm":5,"available":true}`)
    if rr := doJSON(t, s, s.VehiclesHandler, http.MethodPost, "/v1/vehicles", v, "admin"); rr.Code != 201 {
        t.Fatalf("create vehicle: %d %s", rr.Code, rr.Body.String())
    }
    d := []byte(`{"id":"d1","name":"Asha","maxHours":8,"hourlyRate":300,"available":true}`)
    if rr := doJSON(t, s, s.DriversHandler, http.MethodPost, "/v1/drivers", d, "admin"); rr.Code != 201 {
        t.Fatalf("create driver: %d %s", rr.Code, rr.Body.String())
    }
}

func TestHealthReady(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
    if rr.Code != 200 { t.Fatalf("health: got %d", rr.Code) }
    rr = httptest.NewRecorder()
    s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
    if rr.Code != 200 { t.Fatalf("ready: got %d", rr.Code) }
}

func TestEventIngestOptimizeAndState(t *testing.T) {
    s := newTestServer(t)
    seedFleet(t, s)

    ev := []byte(`{"type":"goods_in","item":{"id":"i1","name":"pallet","weight":120,"priority":"High","deliveryLocation":{"x":3,"y":4}},"location":"dock-a"}`)
    if rr := doJSON(t, s, s.EventsHandler, http.MethodPost, "/v1/events", ev, ""); rr.Code != http.StatusAccepted {
        t.Fatalf("ingest: %d %s", rr.Code, rr.Body.String())
    }

    rr := doJSON(t, s, s.OptimizeHandler, http.MethodPost, "/v1/optimize", nil, "admin")
    if rr.Code != 200 { t.Fatalf("optimize: %d %s", rr.Code, rr.Body.String()) }
    var ores struct {
        Routes []struct {
            VehicleID string `json:"vehicleId"`
            TotalCost float64 `json:"totalCost"`
        } `json:"routes"`
    }
    if err := json.Unmarshal(rr.Body.Bytes(), &ores); err != nil { t.Fatalf("decode optimize: %v", err) }
    if len(ores.Routes) != 1 || ores.Routes[0].VehicleID != "v1" || ores.Routes[0].TotalCost <= 0 {
        t.Fatalf("routes: %+v", ores.Routes)
    }

    rr = httptest.NewRecorder()
    s.StateHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/state", nil))
    if rr.Code != 200 { t.Fatalf("state: %d", rr.Code) }
    var state struct {
        Items []struct {
            Status          string `json:"status"`
            AssignedVehicle string `json:"assignedVehicle"`
        } `json:"items"`
    }
    if err := json.Unmarshal(rr.Body.Bytes(), &state); err != nil { t.Fatalf("decode state: %v", err) }
    if len(state.Items) != 1 || state.Items[0].AssignedVehicle != "v1" {
        t.Fatalf("state items: %+v", state.Items)
    }

    rr = httptest.NewRecorder()
    s.RoutesHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/routes", nil))
    if rr.Code != 200 { t.Fatalf("routes: %d", rr.Code) }

    rr = httptest.NewRecorder()
    s.StatusHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
    if rr.Code != 200 { t.Fatalf("status: %d", rr.Code) }
    var st struct{ LastOptimization *string `json:"lastOptimization"` }
    _ = json.Unmarshal(rr.Body.Bytes(), &st)
    if st.LastOptimization == nil { t.Fatalf("status missing lastOptimization: %s", rr.Body.String()) }
}

func TestEventValidation(t *testing.T) {
    s := newTestServer(t)
    cases := []string{
        `{"type":"bogus"}`,
        `{"type":"goods_in"}`,
        `{"type":"goods_out"}`,
        `{"type":"priority_change","itemId":"i1"}`,
    }
    for _, c := range cases {
        if rr := doJSON(t, s, s.EventsHandler, http.MethodPost, "/v1/events", []byte(c), ""); rr.Code != 400 {
            t.Fatalf("case %s: got %d", c, rr.Code)
        }
    }
}

func TestEventRateLimit(t *testing.T) {
    cfg, _ := config.Load("")
    cfg.EventRateLimit = 1
    cfg.EventRateBurst = 1
    s, err := NewServer(cfg)
    if err != nil { t.Fatalf("NewServer: %v", err) }
    ev := []byte(`{"type":"goods_out","itemId":"i1"}`)
    if rr := doJSON(t, s, s.EventsHandler, http.MethodPost, "/v1/events", ev, ""); rr.Code != http.StatusAccepted {
        t.Fatalf("first: %d", rr.Code)
    }
    if rr := doJSON(t, s, s.EventsHandler, http.MethodPost, "/v1/events", ev, ""); rr.Code != http.StatusTooManyRequests {
        t.Fatalf("second should be limited: %d", rr.Code)
    }
}

func TestOptimizeForbiddenForViewer(t *testing.T) {
    s := newTestServer(t)
    if rr := doJSON(t, s, s.OptimizeHandler, http.MethodPost, "/v1/optimize", nil, "viewer"); rr.Code != 403 {
        t.Fatalf("viewer optimize: %d", rr.Code)
    }
    if rr := doJSON(t, s, s.AdminResetHandler, http.MethodPost, "/v1/admin/reset", nil, "dispatcher"); rr.Code != 403 {
        t.Fatalf("dispatcher reset: %d", rr.Code)
    }
}

func TestVehiclesCRUD(t *testing.T) {
    s := newTestServer(t)
    seedFleet(t, s)

    rr := httptest.NewRecorder()
    s.VehiclesHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/vehicles", nil))
    var list struct{ Items []map[string]any `json:"items"` }
    _ = json.Unmarshal(rr.Body.Bytes(), &list)
    if len(list.Items) != 1 { t.Fatalf("vehicle list: %+v", list.Items) }

    rr = httptest.NewRecorder()
    s.VehicleByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/vehicles/v1", nil))
    if rr.Code != 200 { t.Fatalf("get vehicle: %d", rr.Code) }

    rr = doJSON(t, s, s.VehicleByIDHandler, http.MethodDelete, "/v1/vehicles/v1", nil, "admin")
    if rr.Code != 204 { t.Fatalf("delete vehicle: %d", rr.Code) }

    rr = httptest.NewRecorder()
    s.VehicleByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/vehicles/v1", nil))
    if rr.Code != 404 { t.Fatalf("get deleted vehicle: %d", rr.Code) }
}

func TestOptimizeEnqueuesWebhook(t *testing.T) {
    s := newTestServer(t)
    seedFleet(t, s)

    subBody := []byte(`{"url":"https://example.invalid/webhook","events":["optimization.completed"],"secret":"shh"}`)
    if rr := doJSON(t, s, s.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions", subBody, "admin"); rr.Code != 201 {
        t.Fatalf("create sub: %d", rr.Code)
    }

    ev := []byte(`{"type":"goods_in","item":{"id":"i1","weight":50,"priority":"Medium"},"location":"dock-a"}`)
    if rr := doJSON(t, s, s.EventsHandler, http.MethodPost, "/v1/events", ev, ""); rr.Code != 202 {
        t.Fatalf("ingest: %d", rr.Code)
    }
    if rr := doJSON(t, s, s.OptimizeHandler, http.MethodPost, "/v1/optimize", nil, "admin"); rr.Code != 200 {
        t.Fatalf("optimize: %d %s", rr.Code, rr.Body.String())
    }

    rr := doJSON(t, s, s.WebhookDeliveriesHandler, http.MethodGet, "/v1/admin/webhook-deliveries?limit=5", nil, "admin")
    if rr.Code != 200 { t.Fatalf("deliveries: %d", rr.Code) }
    var dres struct{ Items []map[string]any `json:"items"` }
    if err := json.Unmarshal(rr.Body.Bytes(), &dres); err != nil { t.Fatalf("decode deliveries: %v", err) }
    if len(dres.Items) == 0 { t.Fatal("expected at least one delivery") }
    if et, _ := dres.Items[0]["eventType"].(string); et != "optimization.completed" {
        t.Fatalf("eventType: %q", et)
    }
}

// sseRecorder is a minimal ResponseWriter that implements http.Flusher
// and captures writes for SSE tests.
type sseRecorder struct {
    hdr  http.Header
    buf  bytes.Buffer
    code int
}

func (r *sseRecorder) Header() http.Header { if r.hdr == nil { r.hdr = http.Header{} }; return r.hdr }
func (r *sseRecorder) WriteHeader(c int) { r.code = c }
func (r *sseRecorder) Write(p []byte) (int, error) { return r.buf.Write(p) }
func (r *sseRecorder) Flush() {}

func TestEventStreamSSE(t *testing.T) {
    s := newTestServer(t)

    sseReq := httptest.NewRequest(http.MethodGet, "/v1/events/stream", nil)
    ctx, cancel := context.WithTimeout(context.Background(), time.Second)
    defer cancel()
    sseReq = sseReq.WithContext(ctx)

    rec := &sseRecorder{}
    done := make(chan struct{})
    go func() {
        s.StreamHandler(rec, sseReq)
        close(done)
    }()

    // Give handler time to subscribe and send heartbeat
    time.Sleep(50 * time.Millisecond)
    s.Broker.Publish("capacity.overflow", SSEEvent{Type: "capacity.overflow", Data: map[string]any{"itemId": "i9"}})

    deadline := time.Now().Add(500 * time.Millisecond)
    for time.Now().Before(deadline) {
        if bytes.Contains(rec.buf.Bytes(), []byte("event: capacity.overflow")) {
            break
        }
        time.Sleep(10 * time.Millisecond)
    }
    if !bytes.Contains(rec.buf.Bytes(), []byte("event: capacity.overflow")) {
        t.Fatalf("SSE did not contain expected event. Body: %s", rec.buf.String())
    }
    cancel()
    select {
    case <-done:
    case <-time.After(200 * time.Millisecond):
        t.Fatal("handler did not exit after cancel")
    }
}
