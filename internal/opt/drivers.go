package opt

import (
    "math/rand"

    "dispatchd/internal/model"
)

// DriverPicker selects the driver for a route from the full registry.
// Implementations only consider available drivers.
type DriverPicker interface {
    Pick(drivers []model.Driver) (model.Driver, bool)
}

// RandomPicker reproduces the original uniformly-random selection over
// available drivers. The rand source is injected so tests can seed it.
type RandomPicker struct {
    Rand *rand.Rand
}

func (p RandomPicker) Pick(drivers []model.Driver) (model.Driver, bool) {
    avail := availableDrivers(drivers)
    if len(avail) == 0 {
        return model.Driver{}, false
    }
    return avail[p.Rand.Intn(len(avail))], true
}

// LeastHoursPicker is the deterministic alternative: fewest accumulated
// hours wins, ties broken by ID. Selecting it changes cost outcomes
// relative to random selection.
type LeastHoursPicker struct{}

func (LeastHoursPicker) Pick(drivers []model.Driver) (model.Driver, bool) {
    avail := availableDrivers(drivers)
    if len(avail) == 0 {
        return model.Driver{}, false
    }
    best := avail[0]
    for _, d := range avail[1:] {
        if d.CurrentHours < best.CurrentHours || (d.CurrentHours == best.CurrentHours && d.ID < best.ID) {
            best = d
        }
    }
    return best, true
}

func availableDrivers(drivers []model.Driver) []model.Driver {
    out := make([]model.Driver, 0, len(drivers))
    for _, d := range drivers {
        if d.Available {
            out = append(out, d)
        }
    }
    return out
}
