package api

import (
    "encoding/json"
    "net/http"
    "os"
    "time"

    "dispatchd/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    info := map[string]any{
        "build":  buildinfo.Info(),
        "time":   time.Now().UTC().Format(time.RFC3339),
        "status": s.Ctrl.Status(),
        "config": map[string]any{
            "AUTH_MODE":            os.Getenv("AUTH_MODE"),
            "DRIVER_POLICY":        os.Getenv("DRIVER_POLICY"),
            "WEBHOOK_MAX_ATTEMPTS": os.Getenv("WEBHOOK_MAX_ATTEMPTS"),
            "HAS_DATABASE_URL":     os.Getenv("DATABASE_URL") != "",
            "HAS_REDIS_URL":        os.Getenv("REDIS_URL") != "",
            "HAS_PACKER_URL":       os.Getenv("PACKER_URL") != "",
        },
    }
    w.Header().Set("Content-Type", "application/json")
    _ = json.NewEncoder(w).Encode(info)
}
