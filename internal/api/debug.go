package api

import (
	"net/http"
	"time"

	"fleetopt/internal/auth"
	"fleetopt/internal/buildinfo"
	"fleetopt/internal/model"
)

// DebugJSON reports build info and a redacted view of the configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, auth.Principal.IsAdmin, "admin"); !ok {
		return
	}
	c := s.Config
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"PORT":             c.Port,
			"AUTH_MODE":        c.Auth.Mode,
			"RATE_RPS":         c.RateRPS,
			"RATE_BURST":       c.RateBurst,
			"OSRM_BASE_URL":    c.OSRM.BaseURL,
			"OSRM_PROFILE":     c.OSRM.Profile,
			"ETA_BASE_URL":     c.ETA.BaseURL,
			"ROAD_GRAPH_PATH":  c.RoadGraphPath,
			"HAS_DATABASE_URL": c.DatabaseURL != "",
			"HAS_REDIS_URL":    c.RedisURL != "",
		},
		"optimizer": model.Profile(s.Defaults()),
	})
}
