package opt

import (
    "errors"
    "sort"

    "dispatchd/internal/model"
)

var (
    ErrNoVehicles = errors.New("no vehicles available")
    ErrNoDrivers  = errors.New("no drivers available")
)

// Overflow records an item placed beyond a vehicle's declared capacity by
// the fallback path. It is a warning, never an error: no item is dropped.
type Overflow struct {
    ItemID     string  `json:"itemId"`
    VehicleID  string  `json:"vehicleId"`
    WeightOver float64 `json:"weightOver"`
    VolumeOver float64 `json:"volumeOver"`
}

// Assignment maps vehicle IDs to their assigned items. VehicleOrder
// preserves registration order for deterministic iteration.
type Assignment struct {
    ByVehicle    map[string][]model.DeliveryItem
    VehicleOrder []string
    Overflows    []Overflow
}

// AssignItems partitions items across vehicles with a single first-fit pass.
//
// Items are sorted by priority score descending, ties broken by later
// delivery-window start first. Each item goes to the first available vehicle
// whose running weight and volume totals still fit; when none fits, the item
// falls back to the vehicle with the largest declared capacity_weight even
// if that overflows it, and the overflow is recorded.
func AssignItems(items []model.DeliveryItem, vehicles []model.Vehicle, drivers []model.Driver) (Assignment, error) {
    if len(vehicles) == 0 {
        return Assignment{}, ErrNoVehicles
    }
    if len(drivers) == 0 {
        return Assignment{}, ErrNoDrivers
    }

    sorted := append([]model.DeliveryItem(nil), items...)
    sort.SliceStable(sorted, func(i, j int) bool {
        if sorted[i].PriorityScore != sorted[j].PriorityScore {
            return sorted[i].PriorityScore > sorted[j].PriorityScore
        }
        return sorted[i].WindowStart.After(sorted[j].WindowStart)
    })

    asg := Assignment{ByVehicle: map[string][]model.DeliveryItem{}}
    type load struct{ weight, volume float64 }
    loads := map[string]*load{}
    for _, v := range vehicles {
        asg.ByVehicle[v.ID] = nil
        asg.VehicleOrder = append(asg.VehicleOrder, v.ID)
        loads[v.ID] = &load{}
    }

    for _, it := range sorted {
        assigned := false
        for _, v := range vehicles {
            if !v.Available {
                continue
            }
            l := loads[v.ID]
            if l.weight+it.Weight <= v.CapacityWeight && l.volume+it.Volume() <= v.CapacityVolume {
                asg.ByVehicle[v.ID] = append(asg.ByVehicle[v.ID], it)
                l.weight += it.Weight
                l.volume += it.Volume()
                assigned = true
                break
            }
        }
        if assigned {
            continue
        }
        // Overflow fallback: largest capacity_weight wins, fit or not.
        best := vehicles[0]
        for _, v := range vehicles[1:] {
            if v.CapacityWeight > best.CapacityWeight {
                best = v
            }
        }
        l := loads[best.ID]
        asg.ByVehicle[best.ID] = append(asg.ByVehicle[best.ID], it)
        l.weight += it.Weight
        l.volume += it.Volume()
        asg.Overflows = append(asg.Overflows, Overflow{
            ItemID:     it.ID,
            VehicleID:  best.ID,
            WeightOver: max0(l.weight - best.CapacityWeight),
            VolumeOver: max0(l.volume - best.CapacityVolume),
        })
    }
    return asg, nil
}

func max0(f float64) float64 {
    if f < 0 {
        return 0
    }
    return f
}
