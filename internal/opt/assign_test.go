package opt

import (
    "errors"
    "testing"
    "time"

    "dispatchd/internal/model"
)

func veh(id string, capW, capV float64) model.Vehicle {
    return model.Vehicle{ID: id, CapacityWeight: capW, CapacityVolume: capV, Available: true}
}

func drv(id string) model.Driver {
    return model.Driver{ID: id, Name: id, MaxHours: 8, HourlyRate: 100, Available: true}
}

func item(id string, weight, score float64) model.DeliveryItem {
    return model.DeliveryItem{
        ID:            id,
        Weight:        weight,
        Dims:          model.Dimensions{Length: 1, Width: 1, Height: 1},
        PriorityScore: score,
    }
}

func TestAssignItemsEmptyRegistries(t *testing.T) {
    if _, err := AssignItems(nil, nil, []model.Driver{drv("d1")}); !errors.Is(err, ErrNoVehicles) {
        t.Fatalf("want ErrNoVehicles, got %v", err)
    }
    if _, err := AssignItems(nil, []model.Vehicle{veh("v1", 100, 100)}, nil); !errors.Is(err, ErrNoDrivers) {
        t.Fatalf("want ErrNoDrivers, got %v", err)
    }
}

func TestAssignItemsRespectsCapacity(t *testing.T) {
    vehicles := []model.Vehicle{veh("v1", 500, 100), veh("v2", 1000, 100)}
    items := []model.DeliveryItem{
        item("i1", 300, 3),
        item("i2", 400, 3),
        item("i3", 250, 3),
    }
    asg, err := AssignItems(items, vehicles, []model.Driver{drv("d1")})
    if err != nil {
        t.Fatalf("assign: %v", err)
    }
    if len(asg.Overflows) != 0 {
        t.Fatalf("unexpected overflow: %+v", asg.Overflows)
    }
    for _, vid := range asg.VehicleOrder {
        var w float64
        for _, it := range asg.ByVehicle[vid] {
            w += it.Weight
        }
        var cap float64
        for _, v := range vehicles {
            if v.ID == vid {
                cap = v.CapacityWeight
            }
        }
        if w > cap {
            t.Errorf("vehicle %s overloaded: %v > %v", vid, w, cap)
        }
    }
    // First-fit with equal scores and zero windows keeps input order:
    // i1 (300) -> v1, i2 (400) -> v1 would exceed 500 so -> v2, i3 (250)
    // no longer fits v1 (300+250>500) so -> v2.
    if got := len(asg.ByVehicle["v1"]); got != 1 {
        t.Fatalf("v1 items: got %d, want 1", got)
    }
    if asg.ByVehicle["v1"][0].ID != "i1" {
        t.Fatalf("v1 got %s, want i1", asg.ByVehicle["v1"][0].ID)
    }
    if got := len(asg.ByVehicle["v2"]); got != 2 {
        t.Fatalf("v2 items: got %d, want 2", got)
    }
}

func TestAssignItemsSortOrder(t *testing.T) {
    vehicles := []model.Vehicle{veh("v1", 10000, 10000)}
    early := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
    late := time.Date(2026, 1, 3, 8, 0, 0, 0, time.UTC)
    items := []model.DeliveryItem{
        func() model.DeliveryItem { it := item("low", 1, 1); it.WindowStart = early; return it }(),
        func() model.DeliveryItem { it := item("high-early", 1, 3); it.WindowStart = early; return it }(),
        func() model.DeliveryItem { it := item("high-late", 1, 3); it.WindowStart = late; return it }(),
    }
    asg, err := AssignItems(items, vehicles, []model.Driver{drv("d1")})
    if err != nil {
        t.Fatalf("assign: %v", err)
    }
    got := asg.ByVehicle["v1"]
    // Score descending, then later window start first.
    want := []string{"high-late", "high-early", "low"}
    for i, id := range want {
        if got[i].ID != id {
            t.Fatalf("position %d: got %s, want %s (full: %v)", i, got[i].ID, id, ids(got))
        }
    }
}

func TestAssignItemsOverflowFallback(t *testing.T) {
    vehicles := []model.Vehicle{veh("small", 100, 100), veh("big", 300, 100)}
    items := []model.DeliveryItem{
        item("i1", 290, 2),
        item("i2", 290, 2),
    }
    asg, err := AssignItems(items, vehicles, []model.Driver{drv("d1")})
    if err != nil {
        t.Fatalf("assign: %v", err)
    }
    // i1 fits big; i2 fits nowhere and falls back to big regardless.
    if got := len(asg.ByVehicle["big"]); got != 2 {
        t.Fatalf("big items: got %d, want 2", got)
    }
    if len(asg.Overflows) != 1 {
        t.Fatalf("overflows: got %d, want 1", len(asg.Overflows))
    }
    of := asg.Overflows[0]
    if of.ItemID != "i2" || of.VehicleID != "big" {
        t.Fatalf("overflow record: %+v", of)
    }
    if of.WeightOver != 280 {
        t.Fatalf("weight over: got %v, want 280", of.WeightOver)
    }
}

func TestAssignItemsSkipsUnavailableVehicles(t *testing.T) {
    v1 := veh("v1", 1000, 1000)
    v1.Available = false
    vehicles := []model.Vehicle{v1, veh("v2", 1000, 1000)}
    asg, err := AssignItems([]model.DeliveryItem{item("i1", 10, 2)}, vehicles, []model.Driver{drv("d1")})
    if err != nil {
        t.Fatalf("assign: %v", err)
    }
    if len(asg.ByVehicle["v1"]) != 0 || len(asg.ByVehicle["v2"]) != 1 {
        t.Fatalf("unavailable vehicle received items: %+v", asg.ByVehicle)
    }
}

func ids(items []model.DeliveryItem) []string {
    out := make([]string, len(items))
    for i, it := range items {
        out[i] = it.ID
    }
    return out
}
