package metrics

import (
    "net/http"
    "sync"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // EventsProcessed counts dispatch events drained from the queue by type
    EventsProcessed = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "dispatch_events_processed_total", Help: "Dispatch events processed by type."},
        []string{"type"},
    )
    // OptimizationRuns counts optimization cycles by outcome
    OptimizationRuns = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "dispatch_optimization_runs_total", Help: "Optimization runs by status."},
        []string{"status"},
    )
    // OptimizationDuration tracks end-to-end optimization cycle time
    OptimizationDuration = prometheus.NewHistogram(
        prometheus.HistogramOpts{Name: "dispatch_optimization_duration_seconds", Help: "Optimization cycle duration in seconds.", Buckets: prometheus.DefBuckets},
    )
    // CapacityOverflows counts items assigned past vehicle capacity
    CapacityOverflows = prometheus.NewCounter(
        prometheus.CounterOpts{Name: "dispatch_capacity_overflows_total", Help: "Items assigned to a vehicle beyond its capacity."},
    )
    // TickErrors counts loop iterations that hit an error and backed off
    TickErrors = prometheus.NewCounter(
        prometheus.CounterOpts{Name: "dispatch_tick_errors_total", Help: "Controller tick errors."},
    )
    // AvailableItems gauges items currently awaiting dispatch
    AvailableItems = prometheus.NewGauge(
        prometheus.GaugeOpts{Name: "dispatch_available_items", Help: "Items currently available for dispatch."},
    )
    // DispatchedItems gauges items currently on an active route
    DispatchedItems = prometheus.NewGauge(
        prometheus.GaugeOpts{Name: "dispatch_dispatched_items", Help: "Items currently dispatched."},
    )
    // VehicleUtilization gauges the share of vehicles with assignments
    VehicleUtilization = prometheus.NewGauge(
        prometheus.GaugeOpts{Name: "dispatch_vehicle_utilization_rate", Help: "Fraction of vehicles carrying an active assignment."},
    )

    // WebhookDeliveries counts webhook delivery outcomes by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
    // WebhookLatency tracks webhook delivery latencies in milliseconds
    WebhookLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"event_type", "status"},
    )
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(EventsProcessed)
        Registry.MustRegister(OptimizationRuns)
        Registry.MustRegister(OptimizationDuration)
        Registry.MustRegister(CapacityOverflows)
        Registry.MustRegister(TickErrors)
        Registry.MustRegister(AvailableItems)
        Registry.MustRegister(DispatchedItems)
        Registry.MustRegister(VehicleUtilization)
        Registry.MustRegister(WebhookDeliveries)
        Registry.MustRegister(WebhookLatency)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once

// Handler exposes the dedicated registry for scraping.
func Handler() http.Handler {
    RegisterDefault()
    return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
