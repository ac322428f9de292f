// Package packer integrates the external storage-slot packing service.
// The packer is an opaque, possibly slow collaborator: it receives the
// available items plus constraints and returns per-item storage placements.
// Its output is merged into item state and is never consulted for routing.
package packer

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "sort"
    "time"

    "dispatchd/internal/model"
)

type Packer interface {
    Pack(ctx context.Context, items []model.DeliveryItem, constraints model.Constraints) ([]model.StorageAssignment, error)
}

// HTTPPacker calls a remote packing service.
type HTTPPacker struct {
    URL  string
    HTTP *http.Client
}

func NewHTTPPacker(url string) *HTTPPacker {
    return &HTTPPacker{URL: url, HTTP: &http.Client{Timeout: 30 * time.Second}}
}

func (p *HTTPPacker) Pack(ctx context.Context, items []model.DeliveryItem, constraints model.Constraints) ([]model.StorageAssignment, error) {
    body, err := json.Marshal(map[string]any{"items": items, "constraints": constraints})
    if err != nil {
        return nil, err
    }
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
    if err != nil {
        return nil, err
    }
    req.Header.Set("Content-Type", "application/json")
    resp, err := p.HTTP.Do(req)
    if err != nil {
        return nil, fmt.Errorf("packer: %w", err)
    }
    defer func() { _ = resp.Body.Close() }()
    if resp.StatusCode < 200 || resp.StatusCode >= 300 {
        return nil, fmt.Errorf("packer: status %d", resp.StatusCode)
    }
    var out struct {
        Plan []model.StorageAssignment `json:"plan"`
    }
    if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
        return nil, fmt.Errorf("packer: decode: %w", err)
    }
    return out.Plan, nil
}

// LocalPacker is the fallback used when no packer URL is configured. It
// fills storage areas in priority-score order, switching areas when the
// running weight would exceed the constraint.
type LocalPacker struct{}

func (LocalPacker) Pack(_ context.Context, items []model.DeliveryItem, constraints model.Constraints) ([]model.StorageAssignment, error) {
    sorted := append([]model.DeliveryItem(nil), items...)
    sort.SliceStable(sorted, func(i, j int) bool {
        return sorted[i].PriorityScore > sorted[j].PriorityScore
    })
    maxWeight := constraints.MaxStorageWeight
    if maxWeight <= 0 {
        maxWeight = model.DefaultConstraints().MaxStorageWeight
    }
    plan := make([]model.StorageAssignment, 0, len(sorted))
    area := 1
    order := 0
    var areaWeight float64
    for _, it := range sorted {
        if areaWeight+it.Weight > maxWeight && order > 0 {
            area++
            order = 0
            areaWeight = 0
        }
        order++
        areaWeight += it.Weight
        plan = append(plan, model.StorageAssignment{ItemID: it.ID, StorageArea: area, StorageOrder: order})
    }
    return plan, nil
}
