package opt

import (
    "math"

    "dispatchd/internal/model"
)

// heavyWeightThreshold is the weight above which items get a handling bump.
const heavyWeightThreshold = 200.0

// PriorityScore derives the urgency score used to order assignment.
// Higher is more urgent. Pure and deterministic.
func PriorityScore(it model.DeliveryItem) float64 {
    score := 0.0
    switch it.Priority {
    case model.PriorityHigh:
        score += 3
    case model.PriorityLow:
        score += 1
    default:
        // unknown tiers score as Medium
        score += 2
    }
    if it.Fragile {
        score += 1
    }
    if it.Weight > heavyWeightThreshold {
        score += 0.5
    }
    return score
}

// Distance is the Euclidean distance between two points, in native units.
func Distance(a, b model.Point) float64 {
    dx := a.X - b.X
    dy := a.Y - b.Y
    return math.Sqrt(dx*dx + dy*dy)
}
