// Package api implements the HTTP handlers of the route optimization service.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleetopt/internal/auth"
	"fleetopt/internal/config"
	"fleetopt/internal/metrics"
	"fleetopt/internal/model"
	"fleetopt/internal/opt"
	"fleetopt/internal/store"
)

// Notifier receives terminal plan events for outbound delivery.
type Notifier interface {
	Notify(evt model.PlanEvent)
}

type Server struct {
	Store     store.Store
	Broker    EventBroker
	Notifier  Notifier // optional
	Auth      *auth.Verifier
	Provider  opt.DistanceProvider // nil: haversine
	Predictor opt.ETAPredictor     // nil: traffic multipliers only
	Config    config.Config
	Now       func() time.Time

	mu       sync.RWMutex
	defaults opt.Config
	batches  *batchRegistry
}

// NewServer wires the store and broker named by cfg. Without DATABASE_URL
// plans live in memory; without REDIS_URL events stay in process. A saved
// optimizer profile overrides defaults.
func NewServer(ctx context.Context, cfg config.Config, defaults opt.Config, provider opt.DistanceProvider, predictor opt.ETAPredictor) (*Server, error) {
	var s store.Store
	if cfg.DatabaseURL == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.DBMigrate {
			if err := sp.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		s = sp
	}
	var broker EventBroker
	if cfg.RedisURL != "" {
		rb, err := NewRedisBroker(cfg.RedisURL)
		if err != nil {
			log.Printf("api: redis broker unavailable, using in-process events err=%v", err)
			broker = NewBroker()
		} else {
			broker = rb
		}
	} else {
		broker = NewBroker()
	}
	if saved, err := s.GetOptimizerConfig(ctx); err != nil {
		log.Printf("api: load saved optimizer config failed err=%v", err)
	} else if saved != nil {
		cfgSaved := saved.Config(defaults)
		if err := cfgSaved.Validate(); err != nil {
			log.Printf("api: ignoring invalid saved optimizer config err=%v", err)
		} else {
			defaults = cfgSaved
		}
	}
	return &Server{
		Store:     s,
		Broker:    broker,
		Auth:      auth.NewVerifier(cfg.Auth),
		Provider:  provider,
		Predictor: predictor,
		Config:    cfg,
		Now:       time.Now,
		defaults:  defaults,
		batches:   newBatchRegistry(),
	}, nil
}

// Defaults returns the optimizer configuration applied to requests.
func (s *Server) Defaults() opt.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaults
}

func (s *Server) setDefaults(cfg opt.Config) {
	s.mu.Lock()
	s.defaults = cfg
	s.mu.Unlock()
}

func (s *Server) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Routes returns the service mux wrapped in logging, metrics and rate
// limiting.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Optimization
	mux.HandleFunc("/v1/optimize", s.OptimizeHandler)
	mux.HandleFunc("/v1/optimizer/config", s.OptimizerConfigHandler)
	mux.HandleFunc("/v1/admin/optimizer/config", s.AdminOptimizerConfigHandler)

	// Plans
	mux.HandleFunc("/v1/plans", s.PlansHandler)
	mux.HandleFunc("/v1/plans/", s.PlanByIDHandler)
	mux.HandleFunc("/v1/plans/stream", s.PlanStreamHandler)

	// Health
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)

	// Ops
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/info", s.DebugJSON)

	return logMiddleware(instrument(rateLimit(s.Config.RateRPS, s.Config.RateBurst, mux)))
}
