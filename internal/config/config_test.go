package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fleetopt/internal/opt"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("OSRM_TIMEOUT_SEC", "")
	t.Setenv("RATE_BURST", "7")
	t.Setenv("AUTH_MODE", "")
	cfg := FromEnv()
	if cfg.Port != "8080" || cfg.OSRM.Timeout != 10*time.Second || cfg.OSRM.MaxPoints != 100 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Auth.Mode != "dev" || cfg.Auth.RoleClaim != "role" {
		t.Fatalf("unexpected auth defaults %+v", cfg.Auth)
	}
	if cfg.RateBurst != 7 {
		t.Fatalf("RATE_BURST not read: %d", cfg.RateBurst)
	}
}

func TestLoadProfileMergesDefaults(t *testing.T) {
	path := writeFile(t, "profile.yaml", `
timeBudgetSeconds: 1.5
softWindows: true
trafficTableVersion: city-2025-03
trafficMultiplierTable:
  morning_peak: 1.6
`)
	cfg, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}
	if cfg.TimeBudget != 1500*time.Millisecond || !cfg.SoftWindows {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Costs.Traffic.Version != "city-2025-03" {
		t.Fatalf("version %q", cfg.Costs.Traffic.Version)
	}
	if cfg.Costs.Traffic.Multiplier(opt.BucketMorningPeak) != 1.6 || cfg.Costs.Traffic.Multiplier(opt.BucketNight) != 0.8 {
		t.Fatalf("table not merged: %v", cfg.Costs.Traffic.Multipliers)
	}
	if !cfg.UseFallbackOnTimeout || cfg.Costs.SpeedKph != opt.DefaultSpeedKph {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadProfileRejectsInvalid(t *testing.T) {
	path := writeFile(t, "bad.yaml", "etaBlendWeight: 3\n")
	if _, err := LoadProfile(path); !errors.Is(err, opt.ErrMalformedInput) {
		t.Fatalf("expected malformed input, got %v", err)
	}
	if cfg, err := LoadProfile(""); err != nil || cfg.TimeBudget != opt.DefaultTimeBudget {
		t.Fatalf("empty path should give defaults, got %v %v", cfg, err)
	}
}

func TestLoadRoadGraph(t *testing.T) {
	path := writeFile(t, "roads.yaml", `
accessSpeedKph: 20
nodes:
  - {id: a, lat: 0, lon: 0}
  - {id: b, lat: 0, lon: 0.1}
segments:
  - {from: a, to: b, km: 12, speedKph: 60, twoWay: true}
`)
	g, err := LoadRoadGraph(path)
	if err != nil {
		t.Fatalf("load road graph: %v", err)
	}
	e, err := g.Estimate(context.Background(), opt.Point{Lat: 0, Lon: 0.1}, opt.Point{Lat: 0, Lon: 0})
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if e.Km != 12 || e.Minutes != 12 {
		t.Fatalf("unexpected estimate %+v", e)
	}
}
