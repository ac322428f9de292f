package dispatch

import (
    "context"
    "fmt"
    "testing"
    "time"

    "dispatchd/internal/fleet"
    "dispatchd/internal/model"
    "dispatchd/internal/opt"
    "dispatchd/internal/store"
)

func testFleet() *fleet.State {
    fl := fleet.NewState()
    fl.SetVehicles([]model.Vehicle{
        {ID: "v1", CapacityWeight: 500, CapacityVolume: 1000, FuelEfficiency: 10, OperatingCostKm: 5, Available: true},
        {ID: "v2", CapacityWeight: 1000, CapacityVolume: 2000, FuelEfficiency: 8, OperatingCostKm: 6, Available: true},
    })
    fl.SetDrivers([]model.Driver{
        {ID: "d1", Name: "Asha", MaxHours: 8, HourlyRate: 300, Available: true},
        {ID: "d2", Name: "Bram", MaxHours: 8, HourlyRate: 250, CurrentHours: 2, Available: true},
    })
    return fl
}

func newTestController(t *testing.T) (*Controller, *store.Memory, *time.Time) {
    t.Helper()
    mem := store.NewMemory()
    c := NewController(Config{Seed: 42, TickInterval: time.Hour}, mem, testFleet(), nil)
    c.SetDriverPicker(opt.LeastHoursPicker{})
    now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
    c.now = func() time.Time { return now }
    return c, mem, &now
}

func goodsIn(id string, weight float64, tier model.PriorityTier) model.Event {
    return model.Event{Type: model.EventGoodsIn, Item: &model.DeliveryItem{
        ID: id, Name: "item-" + id, Weight: weight, Priority: tier,
        Dims: model.Dimensions{Length: 1, Width: 1, Height: 1},
    }, Location: "dock-a"}
}

func TestGoodsOutIdempotent(t *testing.T) {
    c, mem, _ := newTestController(t)
    ctx := context.Background()
    c.PushEvent(goodsIn("i1", 100, model.PriorityHigh))
    c.PushEvent(model.Event{Type: model.EventGoodsOut, ItemID: "i1", Destination: "hub-7"})
    c.PushEvent(model.Event{Type: model.EventGoodsOut, ItemID: "i1", Destination: "hub-8"})
    c.drainEvents(ctx)

    items := c.Items()
    if len(items) != 1 {
        t.Fatalf("items: %d", len(items))
    }
    if items[0].Status != model.StatusDispatched || items[0].Destination != "hub-7" {
        t.Fatalf("second goods_out should be a no-op: %+v", items[0])
    }
    // Every drained event lands in the log, including the duplicate.
    recs, _ := mem.ListMovements(ctx, 0)
    if len(recs) != 3 {
        t.Fatalf("movement log rows: %d, want 3 (in + two out events)", len(recs))
    }
}

func TestGoodsOutUnknownItemIgnored(t *testing.T) {
    c, mem, _ := newTestController(t)
    ctx := context.Background()
    c.PushEvent(model.Event{Type: model.EventGoodsOut, ItemID: "ghost"})
    c.drainEvents(ctx)
    if len(c.Items()) != 0 {
        t.Fatalf("unknown item must not create state: %+v", c.Items())
    }
    recs, _ := mem.ListMovements(ctx, 0)
    if len(recs) != 1 || recs[0].ItemID != "ghost" {
        t.Fatalf("no-op event still belongs in the movement log: %+v", recs)
    }
}

func TestLocationAndPriorityChange(t *testing.T) {
    c, _, _ := newTestController(t)
    ctx := context.Background()
    c.PushEvent(goodsIn("i1", 250, model.PriorityLow))
    c.PushEvent(model.Event{Type: model.EventLocationChange, ItemID: "i1", Location: "dock-b"})
    c.PushEvent(model.Event{Type: model.EventPriorityChange, ItemID: "i1", NewPriority: "High"})
    c.drainEvents(ctx)

    st := c.Items()[0]
    if st.Location != "dock-b" {
        t.Fatalf("location: %q", st.Location)
    }
    if st.Item.Priority != model.PriorityHigh {
        t.Fatalf("priority: %q", st.Item.Priority)
    }
    // High base 3 plus heavy-item bump for 250 weight.
    if st.Item.PriorityScore != 3.5 {
        t.Fatalf("score: %v", st.Item.PriorityScore)
    }

    // Existence is the only guard: updates apply to dispatched items too.
    c.PushEvent(model.Event{Type: model.EventGoodsOut, ItemID: "i1"})
    c.PushEvent(model.Event{Type: model.EventPriorityChange, ItemID: "i1", NewPriority: "Low"})
    c.PushEvent(model.Event{Type: model.EventLocationChange, ItemID: "i1", Location: "dock-z"})
    c.drainEvents(ctx)
    st = c.Items()[0]
    if st.Item.Priority != model.PriorityLow {
        t.Fatalf("priority change after dispatch not applied: %q", st.Item.Priority)
    }
    if st.Location != "dock-z" {
        t.Fatalf("location change after dispatch not applied: %q", st.Location)
    }
    if st.Status != model.StatusDispatched {
        t.Fatalf("status must stay dispatched: %q", st.Status)
    }
}

func TestFleetStatusEvents(t *testing.T) {
    c, mem, _ := newTestController(t)
    ctx := context.Background()
    c.PushEvent(model.Event{Type: model.EventVehicleStatus, VehicleID: "v1", Status: "maintenance"})
    c.PushEvent(model.Event{Type: model.EventDriverStatus, DriverID: "d2", Status: "off_shift", HoursWorked: 7.5})
    c.drainEvents(ctx)

    if c.fleet.AvailableVehicles() != 1 {
        t.Fatalf("available vehicles: %d", c.fleet.AvailableVehicles())
    }
    for _, d := range c.fleet.Drivers() {
        if d.ID == "d2" && (d.Available || d.CurrentHours != 7.5) {
            t.Fatalf("driver status not applied: %+v", d)
        }
    }

    recs, _ := mem.ListMovements(ctx, 0)
    if len(recs) != 2 {
        t.Fatalf("status events belong in the movement log: %d rows", len(recs))
    }
    byType := map[model.EventType]model.MovementRecord{}
    for _, r := range recs {
        byType[r.Type] = r
    }
    if byType[model.EventVehicleStatus].VehicleID != "v1" || byType[model.EventVehicleStatus].Status != "maintenance" {
        t.Fatalf("vehicle_status row: %+v", byType[model.EventVehicleStatus])
    }
    if byType[model.EventDriverStatus].DriverID != "d2" {
        t.Fatalf("driver_status row: %+v", byType[model.EventDriverStatus])
    }
}

func TestMetricsSnapshotItemUtilization(t *testing.T) {
    c, _, _ := newTestController(t)
    ctx := context.Background()
    c.PushEvent(goodsIn("i1", 100, model.PriorityHigh))
    c.PushEvent(goodsIn("i2", 50, model.PriorityLow))
    c.PushEvent(model.Event{Type: model.EventGoodsOut, ItemID: "i2", Destination: "hub-1"})
    c.drainEvents(ctx)

    snap, _ := c.snapshotMetrics()
    if snap.TotalItems != 2 || snap.AvailableItems != 1 {
        t.Fatalf("counts: %+v", snap)
    }
    if snap.UtilizationRate != 0.5 {
        t.Fatalf("utilization: got %v, want 0.5 (available/total items)", snap.UtilizationRate)
    }
    if snap.TotalWeight != 100 {
        t.Fatalf("weight should cover available items only: %v", snap.TotalWeight)
    }
}

func TestShouldOptimizeGating(t *testing.T) {
    c, _, now := newTestController(t)
    ctx := context.Background()

    // First-ever cycle fires regardless of item count.
    if !c.shouldOptimize() {
        t.Fatal("first-ever cycle should fire")
    }
    if _, err := c.optimize(ctx); err != nil {
        t.Fatalf("optimize: %v", err)
    }

    // Within the interval nothing fires, however many items arrive.
    for i := 0; i < 10; i++ {
        c.PushEvent(goodsIn(fmt.Sprintf("i%d", i), 50, model.PriorityMedium))
    }
    c.drainEvents(ctx)
    *now = now.Add(time.Minute)
    if c.shouldOptimize() {
        t.Fatal("should not fire within the interval")
    }

    // Past the interval but below the item threshold: still gated.
    *now = now.Add(10 * time.Minute)
    for _, st := range c.Items()[:6] {
        c.PushEvent(model.Event{Type: model.EventGoodsOut, ItemID: st.Item.ID})
    }
    c.drainEvents(ctx)
    if c.shouldOptimize() {
        t.Fatal("should not fire with too few available items")
    }

    // Threshold met and interval elapsed: fires.
    c.PushEvent(goodsIn("extra", 50, model.PriorityMedium))
    c.drainEvents(ctx)
    if !c.shouldOptimize() {
        t.Fatal("expected trigger with 5 available items past the interval")
    }
}

func TestStartStopIdempotent(t *testing.T) {
    c, _, _ := newTestController(t)
    c.Start()
    c.Start()
    c.Stop()
    c.Stop()
    c.Start()
    c.Stop()
}

func TestCallbackPanicIsolated(t *testing.T) {
    c, _, _ := newTestController(t)
    var got *model.OptimizationResult
    c.RegisterCallback(func(model.OptimizationResult) { panic("boom") })
    c.RegisterCallback(func(r model.OptimizationResult) { got = &r })
    if _, err := c.RequestOptimization(context.Background()); err != nil {
        t.Fatalf("optimize: %v", err)
    }
    if got == nil {
        t.Fatal("second callback should still run after the first panicked")
    }
}

func TestItemsSnapshotIsCopy(t *testing.T) {
    c, _, _ := newTestController(t)
    c.PushEvent(goodsIn("i1", 10, model.PriorityMedium))
    c.drainEvents(context.Background())
    snap := c.Items()
    snap[0].Location = "tampered"
    if c.Items()[0].Location == "tampered" {
        t.Fatal("snapshot should not alias live state")
    }
}

func TestOptimizeEndToEnd(t *testing.T) {
    c, mem, _ := newTestController(t)
    ctx := context.Background()
    loc := func(x, y float64) *model.Point { return &model.Point{X: x, Y: y} }
    for i, p := range []*model.Point{loc(3, 4), loc(6, 8), loc(1, 1)} {
        ev := goodsIn(fmt.Sprintf("i%d", i), 100, model.PriorityHigh)
        ev.Item.Location = p
        c.PushEvent(ev)
    }
    c.drainEvents(ctx)

    res, err := c.RequestOptimization(ctx)
    if err != nil {
        t.Fatalf("optimize: %v", err)
    }
    if len(res.Routes) == 0 || res.Summary.TotalItems != 3 {
        t.Fatalf("result: routes=%d items=%d", len(res.Routes), res.Summary.TotalItems)
    }
    if len(res.StoragePlan) != 3 {
        t.Fatalf("storage plan: %d", len(res.StoragePlan))
    }
    if res.Summary.TotalCost <= 0 || res.Summary.TotalDistanceKm <= 0 {
        t.Fatalf("summary not priced: %+v", res.Summary)
    }

    // Assignments merged back onto item state.
    for _, st := range c.Items() {
        if st.AssignedVehicle == "" || st.StorageArea == 0 {
            t.Fatalf("item missing merged assignment: %+v", st)
        }
    }

    st := c.Status()
    if st.LastOptimization == nil {
        t.Fatal("lastOptimization not set after success")
    }
    runs, _ := mem.ListOptimizationRuns(ctx, 0)
    if len(runs) != 1 || runs[0].Status != "success" || runs[0].ItemCount != 3 {
        t.Fatalf("run history: %+v", runs)
    }

    if _, ok := c.LastResult(); !ok {
        t.Fatal("last result missing")
    }
}

type failingPacker struct{}

func (failingPacker) Pack(context.Context, []model.DeliveryItem, model.Constraints) ([]model.StorageAssignment, error) {
    return nil, fmt.Errorf("packer down")
}

func TestOptimizeFailureDoesNotAdvanceLastOpt(t *testing.T) {
    mem := store.NewMemory()
    c := NewController(Config{Seed: 1, TickInterval: time.Hour}, mem, testFleet(), failingPacker{})
    now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
    c.now = func() time.Time { return now }

    if _, err := c.optimize(context.Background()); err == nil {
        t.Fatal("expected packer failure")
    }
    if c.Status().LastOptimization != nil {
        t.Fatal("failed cycle must not advance lastOptimization")
    }
    runs, _ := mem.ListOptimizationRuns(context.Background(), 0)
    if len(runs) != 1 || runs[0].Status != "failed" {
        t.Fatalf("run history: %+v", runs)
    }
}

func TestResetClearsState(t *testing.T) {
    c, _, _ := newTestController(t)
    ctx := context.Background()
    c.PushEvent(goodsIn("i1", 10, model.PriorityMedium))
    c.drainEvents(ctx)
    if _, err := c.RequestOptimization(ctx); err != nil {
        t.Fatalf("optimize: %v", err)
    }
    c.Reset()
    st := c.Status()
    if st.TotalItems != 0 || st.PendingEvents != 0 || st.LastOptimization != nil {
        t.Fatalf("reset incomplete: %+v", st)
    }
}
