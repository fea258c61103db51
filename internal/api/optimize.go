package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"fleetopt/internal/auth"
	"fleetopt/internal/metrics"
	"fleetopt/internal/model"
	"fleetopt/internal/opt"
)

const maxOptimizeBody = 16 << 20

// OptimizeHandler handles POST /v1/optimize. A request carrying the batch
// key of an in-flight optimization cancels it; the cancelled caller gets
// 409.
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.authorize(w, r, auth.Principal.CanPlan, "dispatcher or admin"); !ok {
		return
	}
	var req model.OptimizeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOptimizeBody)).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateOptimizeRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid optimize request", err.Error(), r.URL.Path)
		return
	}
	createdAt := s.now()
	core, pre, err := req.ToCore(s.Defaults(), createdAt)
	if err != nil {
		status, title := optimizeProblem(err)
		writeProblem(w, status, title, err.Error(), r.URL.Path)
		return
	}
	core.Provider = s.Provider
	core.Predictor = s.Predictor
	core.Precomputed = pre

	planID := uuid.Must(uuid.NewV7()).String()
	ctx, previous, release := s.batches.start(r.Context(), req.BatchKey, planID)
	defer release()
	if previous != "" {
		metrics.Superseded.Inc()
		log.Printf("optimize: superseded batch=%s plan=%s by=%s", req.BatchKey, previous, planID)
		s.publish(req.BatchKey, model.PlanEvent{Type: model.EventPlanSuperseded, PlanID: previous, Detail: "superseded by " + planID})
	}
	s.publish(req.BatchKey, model.PlanEvent{Type: model.EventPlanStarted, PlanID: planID})

	start := time.Now()
	sol, err := opt.Optimize(ctx, core)
	if errors.Is(context.Cause(ctx), errSuperseded) {
		writeProblem(w, http.StatusConflict, "Superseded", errSuperseded.Error(), r.URL.Path)
		return
	}
	if err != nil {
		status, title := optimizeProblem(err)
		if status >= 500 {
			log.Printf("optimize: failed plan=%s batch=%s err=%v", planID, req.BatchKey, err)
		}
		metrics.OptimizeRuns.WithLabelValues("error").Inc()
		s.publish(req.BatchKey, model.PlanEvent{Type: model.EventPlanFailed, PlanID: planID, Detail: err.Error()})
		writeProblem(w, status, title, err.Error(), r.URL.Path)
		return
	}
	elapsed := time.Since(start)
	metrics.OptimizeRuns.WithLabelValues(string(sol.Status)).Inc()
	metrics.OptimizeDuration.WithLabelValues(string(sol.Status)).Observe(elapsed.Seconds())
	metrics.UnassignedStops.Observe(float64(len(sol.Unassigned)))
	if sol.Degraded {
		metrics.DegradedBuilds.Inc()
		log.Printf("optimize: distance provider degraded plan=%s warnings=%q", planID, sol.Warnings)
	}
	log.Printf("optimize: plan=%s batch=%s status=%s stops=%d unassigned=%d cost=%.2f iterations=%d elapsed=%v",
		planID, req.BatchKey, sol.Status, len(req.Stops), len(sol.Unassigned), sol.Cost, sol.Iterations, elapsed)

	plan := model.PlanFromSolution(planID, req.BatchKey, createdAt, sol)
	if err := s.Store.SavePlan(r.Context(), plan); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Save plan failed", err.Error(), r.URL.Path)
		return
	}
	s.publish(req.BatchKey, model.PlanEvent{Type: model.EventPlanCompleted, PlanID: planID, Status: plan.Status})
	writeJSON(w, http.StatusOK, plan)
}

// publish sends evt to stream subscribers of the batch. Terminal events
// also go to the webhook notifier, batch key or not.
func (s *Server) publish(batchKey string, evt model.PlanEvent) {
	evt.BatchKey = batchKey
	if s.Notifier != nil && (evt.Type == model.EventPlanCompleted || evt.Type == model.EventPlanFailed) {
		s.Notifier.Notify(evt)
	}
	if batchKey == "" || s.Broker == nil {
		return
	}
	s.Broker.Publish(batchKey, evt)
}
