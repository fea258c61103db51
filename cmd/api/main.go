package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fleetopt/internal/api"
	"fleetopt/internal/config"
	"fleetopt/internal/eta"
	"fleetopt/internal/metrics"
	"fleetopt/internal/opt"
	"fleetopt/internal/roadsvc"
	"fleetopt/internal/upstream"
	"fleetopt/internal/webhooks"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (using environment variables)")
	}
	cfg := config.FromEnv()

	defaults, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		log.Fatalf("failed to load optimizer profile: %v", err)
	}
	metrics.RegisterDefault()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, closeProvider, err := distanceProvider(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init distance provider: %v", err)
	}
	defer closeProvider()

	var predictor opt.ETAPredictor
	if cfg.ETA.BaseURL != "" {
		caller := upstream.NewCaller("eta", cfg.ETA.Timeout, cfg.ETA.RPS)
		// a failed leg ends live predictions for the whole build, so no retries
		caller.MaxAttempts = 1
		predictor = eta.NewClient(cfg.ETA.BaseURL, caller)
		log.Printf("ETA predictions from %s", cfg.ETA.BaseURL)
	}

	srvDeps, err := api.NewServer(ctx, cfg, defaults, provider, predictor)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	if cfg.Webhook.URL != "" {
		worker := webhooks.NewWorker(srvDeps.Store, cfg.Webhook.URL, cfg.Webhook.Secret, cfg.Webhook.MaxAttempts)
		go worker.Run(ctx)
		srvDeps.Notifier = worker
		log.Printf("plan webhooks to %s", cfg.Webhook.URL)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srvDeps.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// long enough for the largest time budget plus matrix fetches
		WriteTimeout: 6 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("API listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

// distanceProvider picks the road graph file, then OSRM, then haversine.
// A road graph is reloaded on SIGHUP; builds already running keep the
// version they started with.
func distanceProvider(ctx context.Context, cfg config.Config) (opt.DistanceProvider, func(), error) {
	noop := func() {}
	if cfg.RoadGraphPath != "" {
		g, err := config.LoadRoadGraph(cfg.RoadGraphPath)
		if err != nil {
			return nil, noop, err
		}
		holder := opt.NewRoadGraphHolder(g)
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		go func() {
			for {
				select {
				case <-ctx.Done():
					signal.Stop(hup)
					return
				case <-hup:
					g, err := config.LoadRoadGraph(cfg.RoadGraphPath)
					if err != nil {
						log.Printf("road graph reload failed path=%s err=%v", cfg.RoadGraphPath, err)
						continue
					}
					holder.Swap(g)
					log.Printf("road graph reloaded path=%s", cfg.RoadGraphPath)
				}
			}
		}()
		log.Printf("distances from road graph %s", cfg.RoadGraphPath)
		return holder, noop, nil
	}
	if cfg.OSRM.BaseURL != "" {
		var cache roadsvc.Cache
		closeFn := noop
		if cfg.OSRM.CachePath != "" {
			c, err := roadsvc.OpenSQLiteCache(ctx, cfg.OSRM.CachePath)
			if err != nil {
				return nil, noop, err
			}
			cache = c
			closeFn = func() { _ = c.Close() }
		}
		caller := upstream.NewCaller("osrm", cfg.OSRM.Timeout, cfg.OSRM.RPS)
		log.Printf("distances from OSRM %s profile=%s", cfg.OSRM.BaseURL, cfg.OSRM.Profile)
		return roadsvc.New(cfg.OSRM.BaseURL, cfg.OSRM.Profile, cfg.OSRM.MaxPoints, caller, cache), closeFn, nil
	}
	log.Printf("distances from haversine")
	return nil, noop, nil
}
