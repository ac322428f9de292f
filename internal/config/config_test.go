package config

import (
    "os"
    "path/filepath"
    "testing"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
    cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
    if err != nil {
        t.Fatalf("load: %v", err)
    }
    if cfg.Addr != ":8080" || cfg.TickSeconds != 30 || cfg.MinAvailableItems != 5 {
        t.Fatalf("defaults: %+v", cfg)
    }
    if cfg.Constraints.MaxStorageWeight != 5000 {
        t.Fatalf("constraints default: %+v", cfg.Constraints)
    }
}

func TestLoadFileAndEnvOverride(t *testing.T) {
    path := filepath.Join(t.TempDir(), "cfg.yaml")
    body := "addr: \":9000\"\ntickSeconds: 10\nfuelPrice: 80\n"
    if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
        t.Fatal(err)
    }
    t.Setenv("TICK_SECONDS", "15")
    cfg, err := Load(path)
    if err != nil {
        t.Fatalf("load: %v", err)
    }
    if cfg.Addr != ":9000" {
        t.Fatalf("addr from file: %q", cfg.Addr)
    }
    if cfg.TickSeconds != 15 {
        t.Fatalf("env should beat file: %d", cfg.TickSeconds)
    }
    if cfg.FuelPrice != 80 {
        t.Fatalf("fuelPrice: %v", cfg.FuelPrice)
    }
}
