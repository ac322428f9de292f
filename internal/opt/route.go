package opt

import (
    "fmt"
    "time"

    "dispatchd/internal/model"
)

const (
    // KmPerUnit converts native route distance units to kilometers.
    KmPerUnit = 1.60934
    // AvgSpeedKmh is the assumed average travel speed for driver cost
    // and arrival estimates.
    AvgSpeedKmh = 30.0
    // DefaultFuelPrice per fuel unit, applied when the builder is not
    // configured otherwise.
    DefaultFuelPrice = 95.0
)

// Depot is the fixed origin every route starts from and returns to.
var Depot = model.Point{}

// RouteBuilder constructs and prices a stop sequence for one vehicle with
// a nearest-neighbor heuristic. Arrival times are estimates anchored at
// Now and recomputed from scratch each cycle.
type RouteBuilder struct {
    FuelPrice float64
    Now       func() time.Time
}

func NewRouteBuilder(fuelPrice float64) *RouteBuilder {
    if fuelPrice <= 0 {
        fuelPrice = DefaultFuelPrice
    }
    return &RouteBuilder{FuelPrice: fuelPrice, Now: time.Now}
}

// Build returns the priced route for the vehicle's assigned items, or
// ok=false when items is empty (the caller skips the vehicle).
func (b *RouteBuilder) Build(vehicle model.Vehicle, driver model.Driver, items []model.DeliveryItem) (model.Route, bool) {
    if len(items) == 0 {
        return model.Route{}, false
    }
    now := b.Now()

    current := Depot
    unvisited := append([]model.DeliveryItem(nil), items...)
    var stops []model.Stop
    total := 0.0
    totalWeight := 0.0
    totalVolume := 0.0

    for len(unvisited) > 0 {
        // Nearest unvisited location; ties keep the first match.
        best := 0
        bestDist := Distance(current, itemPoint(unvisited[0]))
        for i := 1; i < len(unvisited); i++ {
            if d := Distance(current, itemPoint(unvisited[i])); d < bestDist {
                best = i
                bestDist = d
            }
        }
        next := unvisited[best]
        total += bestDist
        loc := itemPoint(next)
        stops = append(stops, model.Stop{
            ItemID:           next.ID,
            Location:         loc,
            DistanceFromPrev: bestDist,
            EstimatedArrival: now.Add(hoursToDuration(total / AvgSpeedKmh)),
            ServiceHours:     next.ServiceHours,
        })
        totalWeight += next.Weight
        totalVolume += next.Volume()
        current = loc
        unvisited = append(unvisited[:best], unvisited[best+1:]...)
    }

    // Return leg back to the depot.
    total += Distance(current, Depot)

    km := total * KmPerUnit
    fuelCost := 0.0
    if vehicle.FuelEfficiency > 0 {
        fuelCost = (km / vehicle.FuelEfficiency) * b.FuelPrice
    }
    operatingCost := km * vehicle.OperatingCostKm
    driverCost := (km / AvgSpeedKmh) * driver.HourlyRate
    totalCost := fuelCost + operatingCost + driverCost

    r := model.Route{
        VehicleID:       vehicle.ID,
        DriverID:        driver.ID,
        DriverName:      driver.Name,
        Stops:           stops,
        TotalDistance:   total,
        TotalDistanceKm: km,
        FuelCost:        fuelCost,
        OperatingCost:   operatingCost,
        DriverCost:      driverCost,
        TotalCost:       totalCost,
        EstimatedHours:  total / AvgSpeedKmh,
        ItemsDelivered:  len(items),
        TotalWeight:     totalWeight,
        TotalVolume:     totalVolume,
    }
    if km > 0 {
        r.CostPerKm = totalCost / km
    }
    r.CostPerItem = totalCost / float64(len(items))
    return r, true
}

// Summarize aggregates per-route metrics across one cycle.
func Summarize(routes []model.Route) model.RouteSummary {
    var s model.RouteSummary
    if len(routes) == 0 {
        return s
    }
    for _, r := range routes {
        s.TotalRoutes++
        s.TotalDistanceKm += r.TotalDistanceKm
        s.TotalCost += r.TotalCost
        s.TotalItems += r.ItemsDelivered
        s.TotalWeight += r.TotalWeight
        s.TotalVolume += r.TotalVolume
    }
    if s.TotalDistanceKm > 0 {
        s.AvgCostPerKm = s.TotalCost / s.TotalDistanceKm
    }
    if s.TotalItems > 0 {
        s.AvgCostPerItem = s.TotalCost / float64(s.TotalItems)
    }
    return s
}

func itemPoint(it model.DeliveryItem) model.Point {
    if it.Location == nil {
        // Contract: callers fill delivery locations before routing.
        panic(fmt.Sprintf("opt: item %s has no delivery location", it.ID))
    }
    return *it.Location
}

func hoursToDuration(h float64) time.Duration {
    return time.Duration(h * float64(time.Hour))
}
