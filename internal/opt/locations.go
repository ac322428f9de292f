package opt

import (
    "math"
    "math/rand"
    "time"

    "dispatchd/internal/model"
)

// FillDeliveryDetails completes items that lack a delivery location or
// window: a location 5-50 units from the depot at a random bearing, a
// two-hour window one to seven days out starting between 08:00 and 12:00,
// and a service duration of 15-60 minutes. Every item gets its priority
// score recomputed. The input slice is not mutated.
func FillDeliveryDetails(items []model.DeliveryItem, rng *rand.Rand, now time.Time) []model.DeliveryItem {
    out := make([]model.DeliveryItem, len(items))
    for i, it := range items {
        if it.Location == nil {
            angle := rng.Float64() * 2 * math.Pi
            dist := 5 + rng.Float64()*45
            it.Location = &model.Point{
                X: Depot.X + dist*math.Cos(angle),
                Y: Depot.Y + dist*math.Sin(angle),
            }
        }
        if it.WindowStart.IsZero() {
            day := now.AddDate(0, 0, 1+rng.Intn(7))
            start := time.Date(day.Year(), day.Month(), day.Day(), 8+rng.Intn(5), 0, 0, 0, day.Location())
            it.WindowStart = start
            it.WindowEnd = start.Add(2 * time.Hour)
        }
        if it.ServiceHours == 0 {
            it.ServiceHours = 0.25 + rng.Float64()*0.75
        }
        it.PriorityScore = PriorityScore(it)
        out[i] = it
    }
    return out
}
