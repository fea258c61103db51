package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"fleetopt/internal/opt"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// optimizeProblem maps an engine error to a status and title.
func optimizeProblem(err error) (int, string) {
	switch {
	case errors.Is(err, opt.ErrMalformedInput):
		return http.StatusBadRequest, "Malformed input"
	case errors.Is(err, opt.ErrEmptyProblem):
		return http.StatusBadRequest, "Empty problem"
	default:
		return http.StatusInternalServerError, "Optimization failed"
	}
}
