// Package fleet holds the vehicle and driver registries with their
// availability flags. Registration order is preserved because the
// assignment pass scans vehicles in that order.
package fleet

import (
    "sync"

    "dispatchd/internal/model"
)

type State struct {
    mu       sync.RWMutex
    vehicles []model.Vehicle
    drivers  []model.Driver
}

func NewState() *State { return &State{} }

// SetVehicles replaces the full registry (bulk load from persistence).
func (s *State) SetVehicles(vehicles []model.Vehicle) {
    s.mu.Lock()
    s.vehicles = append([]model.Vehicle(nil), vehicles...)
    s.mu.Unlock()
}

// SetDrivers replaces the full registry (bulk load from persistence).
func (s *State) SetDrivers(drivers []model.Driver) {
    s.mu.Lock()
    s.drivers = append([]model.Driver(nil), drivers...)
    s.mu.Unlock()
}

// UpsertVehicle updates the vehicle in place or appends it, keeping
// registration order stable for existing entries.
func (s *State) UpsertVehicle(v model.Vehicle) {
    s.mu.Lock()
    defer s.mu.Unlock()
    for i := range s.vehicles {
        if s.vehicles[i].ID == v.ID {
            s.vehicles[i] = v
            return
        }
    }
    s.vehicles = append(s.vehicles, v)
}

func (s *State) UpsertDriver(d model.Driver) {
    s.mu.Lock()
    defer s.mu.Unlock()
    for i := range s.drivers {
        if s.drivers[i].ID == d.ID {
            s.drivers[i] = d
            return
        }
    }
    s.drivers = append(s.drivers, d)
}

func (s *State) RemoveVehicle(id string) bool {
    s.mu.Lock()
    defer s.mu.Unlock()
    for i := range s.vehicles {
        if s.vehicles[i].ID == id {
            s.vehicles = append(s.vehicles[:i], s.vehicles[i+1:]...)
            return true
        }
    }
    return false
}

func (s *State) RemoveDriver(id string) bool {
    s.mu.Lock()
    defer s.mu.Unlock()
    for i := range s.drivers {
        if s.drivers[i].ID == id {
            s.drivers = append(s.drivers[:i], s.drivers[i+1:]...)
            return true
        }
    }
    return false
}

// SetVehicleAvailability applies a vehicle_status event. Unknown IDs are
// a no-op and return false.
func (s *State) SetVehicleAvailability(id string, available bool) bool {
    s.mu.Lock()
    defer s.mu.Unlock()
    for i := range s.vehicles {
        if s.vehicles[i].ID == id {
            s.vehicles[i].Available = available
            return true
        }
    }
    return false
}

// SetDriverStatus applies a driver_status event: availability plus the
// accumulated hours counter. Unknown IDs are a no-op and return false.
func (s *State) SetDriverStatus(id string, available bool, hoursWorked float64) bool {
    s.mu.Lock()
    defer s.mu.Unlock()
    for i := range s.drivers {
        if s.drivers[i].ID == id {
            s.drivers[i].Available = available
            s.drivers[i].CurrentHours = hoursWorked
            return true
        }
    }
    return false
}

// Vehicles returns a snapshot copy in registration order.
func (s *State) Vehicles() []model.Vehicle {
    s.mu.RLock()
    defer s.mu.RUnlock()
    return append([]model.Vehicle(nil), s.vehicles...)
}

// Drivers returns a snapshot copy in registration order.
func (s *State) Drivers() []model.Driver {
    s.mu.RLock()
    defer s.mu.RUnlock()
    return append([]model.Driver(nil), s.drivers...)
}

func (s *State) AvailableVehicles() int {
    s.mu.RLock()
    defer s.mu.RUnlock()
    n := 0
    for _, v := range s.vehicles {
        if v.Available {
            n++
        }
    }
    return n
}
