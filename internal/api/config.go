package api

import (
	"net/http"
	"time"

	"errandplan/internal/buildinfo"
)

// ConfigHandler reports the effective scheduling constants. Connection
// strings are only reported as present or absent.
func (s *Server) ConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeProblem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "", r.URL.Path)
		return
	}
	cfg := s.Planner.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"build":          buildinfo.Info(),
		"time":           time.Now().UTC().Format(time.RFC3339),
		"horizonStart":   cfg.Origin().Format("2006-01-02"),
		"config":         cfg,
		"hasDatabaseUrl": cfg.DatabaseURL != "",
		"hasRedisUrl":    cfg.RedisURL != "",
	})
}
