package model

import "time"

// Point is a planar coordinate. The depot sits at the origin and all
// delivery locations are expressed relative to it.
type Point struct {
    X float64 `json:"x"`
    Y float64 `json:"y"`
}

// PriorityTier classifies item urgency.
type PriorityTier string

const (
    PriorityHigh   PriorityTier = "High"
    PriorityMedium PriorityTier = "Medium"
    PriorityLow    PriorityTier = "Low"
)

// ParseTier maps free-form input to a tier, defaulting to Medium.
func ParseTier(s string) PriorityTier {
    switch PriorityTier(s) {
    case PriorityHigh, PriorityMedium, PriorityLow:
        return PriorityTier(s)
    }
    return PriorityMedium
}

// ItemStatus is the lifecycle status of a delivery item.
// Available -> Dispatched is one-way; re-entry needs a new goods_in record.
type ItemStatus string

const (
    StatusAvailable  ItemStatus = "available"
    StatusDispatched ItemStatus = "dispatched"
)

type Dimensions struct {
    Length float64 `json:"length"`
    Width  float64 `json:"width"`
    Height float64 `json:"height"`
}

func (d Dimensions) Volume() float64 { return d.Length * d.Width * d.Height }

// DeliveryItem is one unit of goods to be routed to a delivery location.
// Location and the delivery window may be absent on ingest; the controller
// fills them before assignment.
type DeliveryItem struct {
    ID            string       `json:"id"`
    Name          string       `json:"name,omitempty"`
    Weight        float64      `json:"weight"`
    Dims          Dimensions   `json:"dimensions"`
    Fragile       bool         `json:"fragile,omitempty"`
    Priority      PriorityTier `json:"priority"`
    Location      *Point       `json:"deliveryLocation,omitempty"`
    WindowStart   time.Time    `json:"windowStart,omitempty"`
    WindowEnd     time.Time    `json:"windowEnd,omitempty"`
    ServiceHours  float64      `json:"serviceHours,omitempty"`
    PriorityScore float64      `json:"priorityScore,omitempty"`
}

// Volume returns the item volume derived from its dimensions.
func (it DeliveryItem) Volume() float64 { return it.Dims.Volume() }

type Vehicle struct {
    ID              string  `json:"id"`
    CapacityWeight  float64 `json:"capacityWeight"`
    CapacityVolume  float64 `json:"capacityVolume"`
    FuelEfficiency  float64 `json:"fuelEfficiency"`       // km per fuel unit
    OperatingCostKm float64 `json:"operatingCostPerKm"`
    Available       bool    `json:"available"`
    Location        Point   `json:"currentLocation"` // fixed at depot
}

type Driver struct {
    ID           string  `json:"id"`
    Name         string  `json:"name"`
    MaxHours     float64 `json:"maxHours"`
    HourlyRate   float64 `json:"hourlyRate"`
    CurrentHours float64 `json:"currentHours"`
    Available    bool    `json:"available"`
}

// Stop is one visit on a route.
type Stop struct {
    ItemID           string    `json:"itemId"`
    Location         Point     `json:"location"`
    DistanceFromPrev float64   `json:"distanceFromPrev"` // native units
    EstimatedArrival time.Time `json:"estimatedArrival"`
    ServiceHours     float64   `json:"serviceHours"`
}

// Route is the priced stop sequence for one vehicle, rebuilt from scratch
// every optimization cycle. Previous routes are superseded, never mutated.
type Route struct {
    VehicleID       string  `json:"vehicleId"`
    DriverID        string  `json:"driverId"`
    DriverName      string  `json:"driverName,omitempty"`
    Stops           []Stop  `json:"stops"`
    TotalDistance   float64 `json:"totalDistance"`   // native units, incl. return leg
    TotalDistanceKm float64 `json:"totalDistanceKm"`
    FuelCost        float64 `json:"fuelCost"`
    OperatingCost   float64 `json:"operatingCost"`
    DriverCost      float64 `json:"driverCost"`
    TotalCost       float64 `json:"totalCost"`
    EstimatedHours  float64 `json:"estimatedHours"`
    ItemsDelivered  int     `json:"itemsDelivered"`
    TotalWeight     float64 `json:"totalWeight"`
    TotalVolume     float64 `json:"totalVolume"`
    CostPerKm       float64 `json:"costPerKm"`
    CostPerItem     float64 `json:"costPerItem"`
}

// RouteSummary aggregates all routes of one optimization cycle.
type RouteSummary struct {
    TotalRoutes    int     `json:"totalRoutes"`
    TotalDistanceKm float64 `json:"totalDistanceKm"`
    TotalCost      float64 `json:"totalCost"`
    TotalItems     int     `json:"totalItems"`
    TotalWeight    float64 `json:"totalWeight"`
    TotalVolume    float64 `json:"totalVolume"`
    AvgCostPerKm   float64 `json:"avgCostPerKm"`
    AvgCostPerItem float64 `json:"avgCostPerItem"`
}

// StorageAssignment is the packer's placement for one item.
type StorageAssignment struct {
    ItemID       string `json:"itemId"`
    StorageArea  int    `json:"storageArea"`
    StorageOrder int    `json:"storageOrder"`
}

// Constraints is passed opaquely to the storage packer and carried through
// assignment. Values mirror the defaults of the original planner.
type Constraints struct {
    MaxStorageWeight float64 `json:"maxStorageWeight" yaml:"maxStorageWeight"`
    FragileOnTop     bool    `json:"fragileOnTop" yaml:"fragileOnTop"`
    PriorityFirst    bool    `json:"priorityFirst" yaml:"priorityFirst"`
    StorageLength    float64 `json:"storageLength" yaml:"storageLength"`
    StorageWidth     float64 `json:"storageWidth" yaml:"storageWidth"`
    StorageHeight    float64 `json:"storageHeight" yaml:"storageHeight"`
}

func DefaultConstraints() Constraints {
    return Constraints{
        MaxStorageWeight: 5000,
        FragileOnTop:     true,
        PriorityFirst:    true,
        StorageLength:    40,
        StorageWidth:     20,
        StorageHeight:    15,
    }
}

// EventType enumerates the external events the controller understands.
type EventType string

const (
    EventGoodsIn        EventType = "goods_in"
    EventGoodsOut       EventType = "goods_out"
    EventLocationChange EventType = "location_change"
    EventPriorityChange EventType = "priority_change"
    EventVehicleStatus  EventType = "vehicle_status"
    EventDriverStatus   EventType = "driver_status"
)

// Event is one unit of external input. Only the fields relevant to the
// event type are set.
type Event struct {
    ID          string        `json:"id,omitempty"`
    Type        EventType     `json:"type"`
    TS          time.Time     `json:"ts,omitempty"`
    Item        *DeliveryItem `json:"item,omitempty"`        // goods_in
    ItemID      string        `json:"itemId,omitempty"`      // goods_out, location/priority change
    Location    string        `json:"location,omitempty"`    // goods_in origin or new location
    Destination string        `json:"destination,omitempty"` // goods_out
    NewPriority string        `json:"newPriority,omitempty"` // priority_change
    VehicleID   string        `json:"vehicleId,omitempty"`   // vehicle_status
    DriverID    string        `json:"driverId,omitempty"`    // driver_status
    Status      string        `json:"status,omitempty"`      // "available" or anything else
    HoursWorked float64       `json:"hoursWorked,omitempty"` // driver_status
}

// ItemState is the controller's live record for one item.
type ItemState struct {
    Item              DeliveryItem `json:"item"`
    Status            ItemStatus   `json:"status"`
    Location          string       `json:"location"`
    ReceivedAt        time.Time    `json:"receivedAt"`
    LastMoveAt        *time.Time   `json:"lastMoveAt,omitempty"`
    PriorityChangedAt *time.Time   `json:"priorityChangedAt,omitempty"`
    DispatchedAt      *time.Time   `json:"dispatchedAt,omitempty"`
    Destination       string       `json:"destination,omitempty"`
    StorageArea       int          `json:"storageArea,omitempty"`
    StorageOrder      int          `json:"storageOrder,omitempty"`
    AssignedVehicle   string       `json:"assignedVehicle,omitempty"`
    AssignedDriver    string       `json:"assignedDriver,omitempty"`
    EstimatedArrival  *time.Time   `json:"estimatedArrival,omitempty"`
}

// OptimizationResult is the bundle handed to callbacks and notifications
// after a successful cycle.
type OptimizationResult struct {
    RunID       string              `json:"runId"`
    StoragePlan []StorageAssignment `json:"storagePlan"`
    Routes      []Route             `json:"routes"`
    Summary     RouteSummary        `json:"summary"`
    Overflowed  []string            `json:"overflowedItems,omitempty"`
    Timestamp   time.Time           `json:"timestamp"`
}

// ControllerStatus is the read model for GET /v1/status.
type ControllerStatus struct {
    Running          bool       `json:"running"`
    LastOptimization *time.Time `json:"lastOptimization,omitempty"`
    IntervalSeconds  float64    `json:"intervalSeconds"`
    PendingEvents    int        `json:"pendingEvents"`
    TotalItems       int        `json:"totalItems"`
    AvailableItems   int        `json:"availableItems"`
}

// MovementRecord is one row of the durable movement log.
type MovementRecord struct {
    ID        string    `json:"id"`
    TS        time.Time `json:"ts"`
    Type      EventType `json:"type"`
    ItemID    string    `json:"itemId,omitempty"`
    ItemName  string    `json:"itemName,omitempty"`
    VehicleID string    `json:"vehicleId,omitempty"`
    DriverID  string    `json:"driverId,omitempty"`
    From      string    `json:"locationFrom,omitempty"`
    To        string    `json:"locationTo,omitempty"`
    Weight    float64   `json:"weight,omitempty"`
    Volume    float64   `json:"volume,omitempty"`
    Priority  string    `json:"priority,omitempty"`
    Status    string    `json:"status,omitempty"`
}

// OptimizationRun is one row of the run history log.
type OptimizationRun struct {
    ID            string    `json:"id"`
    TS            time.Time `json:"ts"`
    ItemCount     int       `json:"itemCount"`
    RouteCount    int       `json:"routeCount"`
    TotalCost     float64   `json:"totalCost"`
    TotalDistance float64   `json:"totalDistanceKm"`
    Duration      float64   `json:"durationSeconds"`
    Status        string    `json:"status"` // success | failed
    Error         string    `json:"error,omitempty"`
}

// MetricsSnapshot is the periodic utilization record written every tick.
type MetricsSnapshot struct {
    TS                time.Time `json:"ts"`
    TotalItems        int       `json:"totalItems"`
    AvailableItems    int       `json:"availableItems"`
    TotalWeight       float64   `json:"totalWeight"`
    TotalVolume       float64   `json:"totalVolume"`
    ActiveAssignments int       `json:"activeAssignments"`
    AvailableVehicles int       `json:"availableVehicles"`
    UtilizationRate   float64   `json:"utilizationRate"`
}

// SubscriptionRequest registers a webhook endpoint for event types.
type SubscriptionRequest struct {
    URL    string   `json:"url"`
    Events []string `json:"events"`
    Secret string   `json:"secret"`
}

type Subscription struct {
    ID     string   `json:"id"`
    URL    string   `json:"url"`
    Events []string `json:"events"`
    Secret string   `json:"secret,omitempty"`
}
