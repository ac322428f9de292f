// Package dispatch runs the event-driven re-optimization loop. A single
// background worker drains queued events, applies them to item and fleet
// state, and periodically rebuilds the storage plan and all routes from
// scratch. The worker is the sole mutator of item state; readers get
// snapshot copies.
package dispatch

import (
    "context"
    "fmt"
    "log"
    "math/rand"
    "sync"
    "time"

    "github.com/google/uuid"

    "dispatchd/internal/fleet"
    "dispatchd/internal/metrics"
    "dispatchd/internal/model"
    "dispatchd/internal/opt"
    "dispatchd/internal/packer"
    "dispatchd/internal/store"
)

type Config struct {
    TickInterval      time.Duration
    ErrorBackoff      time.Duration
    OptimizeInterval  time.Duration
    MinAvailableItems int
    FuelPrice         float64
    Constraints       model.Constraints
    Seed              int64
}

func DefaultConfig() Config {
    return Config{
        TickInterval:      30 * time.Second,
        ErrorBackoff:      60 * time.Second,
        OptimizeInterval:  5 * time.Minute,
        MinAvailableItems: 5,
        FuelPrice:         opt.DefaultFuelPrice,
        Constraints:       model.DefaultConstraints(),
    }
}

// Controller owns live item state and the optimization trigger. Start spins
// up the worker goroutine; Stop shuts it down. Both are idempotent.
type Controller struct {
    cfg     Config
    store   store.Store
    fleet   *fleet.State
    packer  packer.Packer
    builder *opt.RouteBuilder
    picker  opt.DriverPicker
    rng     *rand.Rand
    now     func() time.Time

    mu         sync.Mutex
    items      map[string]*model.ItemState
    itemOrder  []string
    queue      []model.Event
    lastOpt    *time.Time
    lastResult *model.OptimizationResult
    callbacks  []func(model.OptimizationResult)

    runMu   sync.Mutex // serializes optimization cycles
    running bool
    stop    chan struct{}
    done    chan struct{}
}

func NewController(cfg Config, st store.Store, fl *fleet.State, pk packer.Packer) *Controller {
    def := DefaultConfig()
    if cfg.TickInterval <= 0 {
        cfg.TickInterval = def.TickInterval
    }
    if cfg.ErrorBackoff <= 0 {
        cfg.ErrorBackoff = def.ErrorBackoff
    }
    if cfg.OptimizeInterval <= 0 {
        cfg.OptimizeInterval = def.OptimizeInterval
    }
    if cfg.MinAvailableItems <= 0 {
        cfg.MinAvailableItems = def.MinAvailableItems
    }
    if cfg.FuelPrice <= 0 {
        cfg.FuelPrice = def.FuelPrice
    }
    if cfg.Constraints == (model.Constraints{}) {
        cfg.Constraints = def.Constraints
    }
    seed := cfg.Seed
    if seed == 0 {
        seed = time.Now().UnixNano()
    }
    rng := rand.New(rand.NewSource(seed))
    if pk == nil {
        pk = packer.LocalPacker{}
    }
    return &Controller{
        cfg:     cfg,
        store:   st,
        fleet:   fl,
        packer:  pk,
        builder: opt.NewRouteBuilder(cfg.FuelPrice),
        picker:  opt.RandomPicker{Rand: rng},
        rng:     rng,
        now:     time.Now,
        items:   map[string]*model.ItemState{},
    }
}

// SetDriverPicker swaps the driver selection policy. Call before Start.
func (c *Controller) SetDriverPicker(p opt.DriverPicker) { c.picker = p }

// RegisterCallback adds a hook invoked after every successful optimization.
// A panicking callback is recovered and logged; it never stops the loop.
func (c *Controller) RegisterCallback(fn func(model.OptimizationResult)) {
    c.mu.Lock()
    c.callbacks = append(c.callbacks, fn)
    c.mu.Unlock()
}

// PushEvent queues an event for the next tick. It never blocks.
func (c *Controller) PushEvent(ev model.Event) {
    if ev.ID == "" {
        ev.ID = uuid.New().String()
    }
    if ev.TS.IsZero() {
        ev.TS = c.now().UTC()
    }
    c.mu.Lock()
    c.queue = append(c.queue, ev)
    c.mu.Unlock()
}

func (c *Controller) Start() {
    c.mu.Lock()
    if c.running {
        c.mu.Unlock()
        return
    }
    c.running = true
    c.stop = make(chan struct{})
    c.done = make(chan struct{})
    c.mu.Unlock()
    go c.runLoop()
    log.Printf("dispatch: controller started (tick=%s optimize_interval=%s)", c.cfg.TickInterval, c.cfg.OptimizeInterval)
}

func (c *Controller) Stop() {
    c.mu.Lock()
    if !c.running {
        c.mu.Unlock()
        return
    }
    c.running = false
    stop, done := c.stop, c.done
    c.mu.Unlock()
    close(stop)
    <-done
    log.Printf("dispatch: controller stopped")
}

func (c *Controller) runLoop() {
    defer close(c.done)
    ticker := time.NewTicker(c.cfg.TickInterval)
    defer ticker.Stop()
    for {
        select {
        case <-c.stop:
            return
        case <-ticker.C:
            if err := c.tick(context.Background()); err != nil {
                log.Printf("dispatch: tick error: %v (backing off %s)", err, c.cfg.ErrorBackoff)
                metrics.TickErrors.Inc()
                select {
                case <-c.stop:
                    return
                case <-time.After(c.cfg.ErrorBackoff):
                }
            }
        }
    }
}

// tick is one loop iteration: drain events, optimize if due, record metrics.
func (c *Controller) tick(ctx context.Context) error {
    c.drainEvents(ctx)
    if c.shouldOptimize() {
        if _, err := c.optimize(ctx); err != nil {
            return err
        }
    }
    c.updateMetrics(ctx)
    return nil
}

func (c *Controller) drainEvents(ctx context.Context) {
    c.mu.Lock()
    pending := c.queue
    c.queue = nil
    c.mu.Unlock()
    for _, ev := range pending {
        c.applyEvent(ctx, ev)
        metrics.EventsProcessed.WithLabelValues(string(ev.Type)).Inc()
    }
}

// applyEvent mutates item or fleet state for one event. Every drained
// event lands in the movement log, including no-op applications.
func (c *Controller) applyEvent(ctx context.Context, ev model.Event) {
    rec := model.MovementRecord{TS: ev.TS, Type: ev.Type, ItemID: ev.ItemID}
    switch ev.Type {
    case model.EventGoodsIn:
        if ev.Item == nil || ev.Item.ID == "" {
            log.Printf("dispatch: goods_in without item, event %s", ev.ID)
            break
        }
        it := *ev.Item
        it.Priority = model.ParseTier(string(it.Priority))
        it.PriorityScore = opt.PriorityScore(it)
        c.mu.Lock()
        if _, ok := c.items[it.ID]; !ok {
            c.itemOrder = append(c.itemOrder, it.ID)
        }
        c.items[it.ID] = &model.ItemState{Item: it, Status: model.StatusAvailable, Location: ev.Location, ReceivedAt: ev.TS}
        c.mu.Unlock()
        rec.ItemID, rec.ItemName, rec.To = it.ID, it.Name, ev.Location
        rec.Weight, rec.Volume = it.Weight, it.Volume()
        rec.Priority, rec.Status = string(it.Priority), string(model.StatusAvailable)

    case model.EventGoodsOut:
        rec.To = ev.Destination
        c.mu.Lock()
        st, ok := c.items[ev.ItemID]
        if !ok || st.Status == model.StatusDispatched {
            // Idempotent: a second goods_out for the same item does not
            // change state, only the log records the attempt.
            if ok {
                rec.ItemName, rec.Status = st.Item.Name, string(st.Status)
            }
            c.mu.Unlock()
            break
        }
        st.Status = model.StatusDispatched
        st.Destination = ev.Destination
        ts := ev.TS
        st.DispatchedAt = &ts
        rec.ItemName, rec.From = st.Item.Name, st.Location
        rec.Weight, rec.Volume = st.Item.Weight, st.Item.Volume()
        rec.Priority, rec.Status = string(st.Item.Priority), string(model.StatusDispatched)
        c.mu.Unlock()

    case model.EventLocationChange:
        rec.To = ev.Location
        c.mu.Lock()
        st, ok := c.items[ev.ItemID]
        if !ok {
            c.mu.Unlock()
            break
        }
        rec.From = st.Location
        st.Location = ev.Location
        ts := ev.TS
        st.LastMoveAt = &ts
        rec.ItemName = st.Item.Name
        rec.Weight, rec.Volume = st.Item.Weight, st.Item.Volume()
        rec.Priority, rec.Status = string(st.Item.Priority), string(st.Status)
        c.mu.Unlock()

    case model.EventPriorityChange:
        c.mu.Lock()
        st, ok := c.items[ev.ItemID]
        if !ok {
            c.mu.Unlock()
            break
        }
        st.Item.Priority = model.ParseTier(ev.NewPriority)
        st.Item.PriorityScore = opt.PriorityScore(st.Item)
        ts := ev.TS
        st.PriorityChangedAt = &ts
        rec.ItemName = st.Item.Name
        rec.Priority, rec.Status = string(st.Item.Priority), string(st.Status)
        c.mu.Unlock()

    case model.EventVehicleStatus:
        if !c.fleet.SetVehicleAvailability(ev.VehicleID, ev.Status == "available") {
            log.Printf("dispatch: vehicle_status for unknown vehicle %s", ev.VehicleID)
        }
        rec.VehicleID, rec.Status = ev.VehicleID, ev.Status

    case model.EventDriverStatus:
        if !c.fleet.SetDriverStatus(ev.DriverID, ev.Status == "available", ev.HoursWorked) {
            log.Printf("dispatch: driver_status for unknown driver %s", ev.DriverID)
        }
        rec.DriverID, rec.Status = ev.DriverID, ev.Status

    default:
        log.Printf("dispatch: unknown event type %q", ev.Type)
    }
    c.logMovement(ctx, rec)
}

func (c *Controller) logMovement(ctx context.Context, rec model.MovementRecord) {
    if c.store == nil {
        return
    }
    if err := c.store.AppendMovement(ctx, rec); err != nil {
        log.Printf("dispatch: movement log write failed: %v", err)
    }
}

// shouldOptimize fires immediately when no cycle has ever run; afterwards
// only when the interval has elapsed and enough items are waiting.
func (c *Controller) shouldOptimize() bool {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.lastOpt == nil {
        return true
    }
    if c.now().Sub(*c.lastOpt) < c.cfg.OptimizeInterval {
        return false
    }
    return c.availableCountLocked() >= c.cfg.MinAvailableItems
}

func (c *Controller) availableCountLocked() int {
    n := 0
    for _, st := range c.items {
        if st.Status == model.StatusAvailable {
            n++
        }
    }
    return n
}

// RequestOptimization drains pending events and runs a full cycle now,
// regardless of the interval gate. Used by the manual trigger endpoint.
func (c *Controller) RequestOptimization(ctx context.Context) (model.OptimizationResult, error) {
    c.drainEvents(ctx)
    return c.optimize(ctx)
}

// optimize rebuilds the storage plan and every route from current state.
// lastOptimization only advances on success so a failed cycle retries at
// the next tick.
func (c *Controller) optimize(ctx context.Context) (model.OptimizationResult, error) {
    c.runMu.Lock()
    defer c.runMu.Unlock()
    started := c.now()

    c.mu.Lock()
    avail := make([]model.DeliveryItem, 0, len(c.itemOrder))
    for _, id := range c.itemOrder {
        if st := c.items[id]; st != nil && st.Status == model.StatusAvailable {
            avail = append(avail, st.Item)
        }
    }
    c.mu.Unlock()

    result, err := c.runCycle(ctx, avail)
    elapsed := c.now().Sub(started)
    run := model.OptimizationRun{
        TS:        started.UTC(),
        ItemCount: len(avail),
        Duration:  elapsed.Seconds(),
    }
    if err != nil {
        run.Status = "failed"
        run.Error = err.Error()
        metrics.OptimizationRuns.WithLabelValues("failed").Inc()
        c.recordRun(ctx, run)
        return model.OptimizationResult{}, err
    }
    run.Status = "success"
    run.RouteCount = len(result.Routes)
    run.TotalCost = result.Summary.TotalCost
    run.TotalDistance = result.Summary.TotalDistanceKm
    metrics.OptimizationRuns.WithLabelValues("success").Inc()
    metrics.OptimizationDuration.Observe(elapsed.Seconds())
    c.recordRun(ctx, run)

    c.mu.Lock()
    ts := started
    c.lastOpt = &ts
    c.lastResult = &result
    var cbs []func(model.OptimizationResult)
    cbs = append(cbs, c.callbacks...)
    c.mu.Unlock()
    for _, fn := range cbs {
        c.safeCallback(fn, result)
    }
    log.Printf("dispatch: optimization complete: items=%d routes=%d cost=%.2f overflows=%d duration=%s",
        len(avail), len(result.Routes), result.Summary.TotalCost, len(result.Overflowed), elapsed)
    return result, nil
}

func (c *Controller) runCycle(ctx context.Context, avail []model.DeliveryItem) (model.OptimizationResult, error) {
    now := c.now()

    plan, err := c.packer.Pack(ctx, avail, c.cfg.Constraints)
    if err != nil {
        return model.OptimizationResult{}, fmt.Errorf("storage packing: %w", err)
    }

    filled := opt.FillDeliveryDetails(avail, c.rng, now)
    asg, err := opt.AssignItems(filled, c.fleet.Vehicles(), c.fleet.Drivers())
    if err != nil {
        return model.OptimizationResult{}, err
    }
    metrics.CapacityOverflows.Add(float64(len(asg.Overflows)))
    for _, ov := range asg.Overflows {
        log.Printf("dispatch: capacity overflow: item=%s vehicle=%s weight_over=%.1f", ov.ItemID, ov.VehicleID, ov.WeightOver)
    }

    vehicles := map[string]model.Vehicle{}
    for _, v := range c.fleet.Vehicles() {
        vehicles[v.ID] = v
    }
    drivers := c.fleet.Drivers()
    var routes []model.Route
    for _, vid := range asg.VehicleOrder {
        items := asg.ByVehicle[vid]
        if len(items) == 0 {
            continue
        }
        drv, ok := c.picker.Pick(drivers)
        if !ok {
            return model.OptimizationResult{}, opt.ErrNoDrivers
        }
        if r, ok := c.builder.Build(vehicles[vid], drv, items); ok {
            routes = append(routes, r)
        }
    }

    result := model.OptimizationResult{
        RunID:       uuid.New().String(),
        StoragePlan: plan,
        Routes:      routes,
        Summary:     opt.Summarize(routes),
        Timestamp:   now.UTC(),
    }
    for _, ov := range asg.Overflows {
        result.Overflowed = append(result.Overflowed, ov.ItemID)
    }

    c.mergeResult(plan, routes)
    return result, nil
}

// mergeResult writes storage placements and route assignments back onto
// item state. Items stay available until a goods_out event dispatches them.
func (c *Controller) mergeResult(plan []model.StorageAssignment, routes []model.Route) {
    c.mu.Lock()
    defer c.mu.Unlock()
    for _, p := range plan {
        if st := c.items[p.ItemID]; st != nil {
            st.StorageArea = p.StorageArea
            st.StorageOrder = p.StorageOrder
        }
    }
    for _, r := range routes {
        for _, stop := range r.Stops {
            if st := c.items[stop.ItemID]; st != nil {
                st.AssignedVehicle = r.VehicleID
                st.AssignedDriver = r.DriverID
                eta := stop.EstimatedArrival
                st.EstimatedArrival = &eta
            }
        }
    }
}

func (c *Controller) safeCallback(fn func(model.OptimizationResult), result model.OptimizationResult) {
    defer func() {
        if r := recover(); r != nil {
            log.Printf("dispatch: optimization callback panicked: %v", r)
        }
    }()
    fn(result)
}

func (c *Controller) recordRun(ctx context.Context, run model.OptimizationRun) {
    if c.store == nil {
        return
    }
    if err := c.store.AppendOptimizationRun(ctx, run); err != nil {
        log.Printf("dispatch: run history write failed: %v", err)
    }
}

func (c *Controller) updateMetrics(ctx context.Context) {
    snap, vehicleShare := c.snapshotMetrics()
    metrics.AvailableItems.Set(float64(snap.AvailableItems))
    metrics.DispatchedItems.Set(float64(snap.TotalItems - snap.AvailableItems))
    metrics.VehicleUtilization.Set(vehicleShare)
    if c.store != nil {
        if err := c.store.AppendMetricsSnapshot(ctx, snap); err != nil {
            log.Printf("dispatch: metrics snapshot write failed: %v", err)
        }
    }
}

// snapshotMetrics computes the persisted snapshot, whose utilization rate
// is available items over total known items, plus the share of vehicles
// carrying assignments for the fleet gauge.
func (c *Controller) snapshotMetrics() (model.MetricsSnapshot, float64) {
    c.mu.Lock()
    defer c.mu.Unlock()
    snap := model.MetricsSnapshot{TS: c.now().UTC(), TotalItems: len(c.items)}
    assignedVehicles := map[string]bool{}
    for _, st := range c.items {
        if st.Status == model.StatusAvailable {
            snap.AvailableItems++
            snap.TotalWeight += st.Item.Weight
            snap.TotalVolume += st.Item.Volume()
            if st.AssignedVehicle != "" {
                snap.ActiveAssignments++
                assignedVehicles[st.AssignedVehicle] = true
            }
        }
    }
    if snap.TotalItems > 0 {
        snap.UtilizationRate = float64(snap.AvailableItems) / float64(snap.TotalItems)
    }
    snap.AvailableVehicles = c.fleet.AvailableVehicles()
    var vehicleShare float64
    if total := len(c.fleet.Vehicles()); total > 0 {
        vehicleShare = float64(len(assignedVehicles)) / float64(total)
    }
    return snap, vehicleShare
}

// Items returns a snapshot copy of all item state in ingest order.
func (c *Controller) Items() []model.ItemState {
    c.mu.Lock()
    defer c.mu.Unlock()
    out := make([]model.ItemState, 0, len(c.itemOrder))
    for _, id := range c.itemOrder {
        if st := c.items[id]; st != nil {
            out = append(out, *st)
        }
    }
    return out
}

// LastResult returns a copy of the most recent successful optimization,
// or ok=false when none has run.
func (c *Controller) LastResult() (model.OptimizationResult, bool) {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.lastResult == nil {
        return model.OptimizationResult{}, false
    }
    return *c.lastResult, true
}

func (c *Controller) Status() model.ControllerStatus {
    c.mu.Lock()
    defer c.mu.Unlock()
    st := model.ControllerStatus{
        Running:         c.running,
        IntervalSeconds: c.cfg.OptimizeInterval.Seconds(),
        PendingEvents:   len(c.queue),
        TotalItems:      len(c.items),
        AvailableItems:  c.availableCountLocked(),
    }
    if c.lastOpt != nil {
        ts := *c.lastOpt
        st.LastOptimization = &ts
    }
    return st
}

// Reset clears all item state, queued events, and optimization history
// markers. Fleet registries are untouched.
func (c *Controller) Reset() {
    c.mu.Lock()
    c.items = map[string]*model.ItemState{}
    c.itemOrder = nil
    c.queue = nil
    c.lastOpt = nil
    c.lastResult = nil
    c.mu.Unlock()
    log.Printf("dispatch: state reset")
}
