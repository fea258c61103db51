// Package config reads service settings from the environment and the
// optimizer profile and road network from YAML files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fleetopt/internal/model"
	"fleetopt/internal/opt"
)

type OSRM struct {
	BaseURL   string
	Profile   string
	Timeout   time.Duration
	MaxPoints int
	RPS       float64
	CachePath string
}

type ETA struct {
	BaseURL string
	Timeout time.Duration
	RPS     float64
}

// Auth selects how bearer tokens are verified: dev (subject:role), hmac
// (HS256) or jwks (RS256).
type Auth struct {
	Mode         string
	HMACSecret   string
	JWKSURL      string
	RoleClaim    string
	SubjectClaim string
}

// Webhook is the optional endpoint notified when plans complete or fail.
type Webhook struct {
	URL         string
	Secret      string
	MaxAttempts int
}

type Config struct {
	Port          string
	DatabaseURL   string
	DBMigrate     bool
	RedisURL      string
	RateRPS       float64
	RateBurst     int
	ProfilePath   string
	RoadGraphPath string
	OSRM          OSRM
	ETA           ETA
	Auth          Auth
	Webhook       Webhook
}

// FromEnv reads the process environment. Unset keys fall back to defaults.
func FromEnv() Config {
	return Config{
		Port:          getEnv("PORT", "8080"),
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMigrate:     getEnv("DB_MIGRATE", "true") != "false",
		RedisURL:      strings.TrimSpace(os.Getenv("REDIS_URL")),
		RateRPS:       getFloat("RATE_RPS", 0),
		RateBurst:     getInt("RATE_BURST", 20),
		ProfilePath:   os.Getenv("OPTIMIZER_PROFILE"),
		RoadGraphPath: os.Getenv("ROAD_GRAPH_PATH"),
		OSRM: OSRM{
			BaseURL:   strings.TrimRight(os.Getenv("OSRM_BASE_URL"), "/"),
			Profile:   getEnv("OSRM_PROFILE", "driving"),
			Timeout:   time.Duration(getInt("OSRM_TIMEOUT_SEC", 10)) * time.Second,
			MaxPoints: getInt("OSRM_MAX_POINTS", 100),
			RPS:       getFloat("OSRM_RPS", 5),
			CachePath: os.Getenv("ROAD_CACHE_PATH"),
		},
		ETA: ETA{
			BaseURL: strings.TrimRight(os.Getenv("ETA_BASE_URL"), "/"),
			Timeout: time.Duration(getInt("ETA_TIMEOUT_MS", 500)) * time.Millisecond,
			RPS:     getFloat("ETA_RPS", 50),
		},
		Auth: Auth{
			Mode:         strings.ToLower(getEnv("AUTH_MODE", "dev")),
			HMACSecret:   os.Getenv("AUTH_HMAC_SECRET"),
			JWKSURL:      os.Getenv("AUTH_JWKS_URL"),
			RoleClaim:    getEnv("AUTH_ROLE_CLAIM", "role"),
			SubjectClaim: getEnv("AUTH_SUBJECT_CLAIM", "sub"),
		},
		Webhook: Webhook{
			URL:         os.Getenv("PLAN_WEBHOOK_URL"),
			Secret:      os.Getenv("PLAN_WEBHOOK_SECRET"),
			MaxAttempts: getInt("WEBHOOK_MAX_ATTEMPTS", 10),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return fallback
}

// LoadProfile reads an optimizer profile. Fields missing from the file keep
// their defaults; traffic multipliers are merged bucket by bucket. An empty
// path returns the defaults.
func LoadProfile(path string) (opt.Config, error) {
	base := opt.DefaultConfig()
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return opt.Config{}, fmt.Errorf("read profile: %w", err)
	}
	prof := model.Profile(base)
	if err := yaml.Unmarshal(data, &prof); err != nil {
		return opt.Config{}, fmt.Errorf("parse profile %s: %w", path, err)
	}
	cfg := prof.Config(base)
	if err := cfg.Validate(); err != nil {
		return opt.Config{}, fmt.Errorf("profile %s: %w", path, err)
	}
	return cfg, nil
}

type roadGraphFile struct {
	AccessSpeedKph float64 `yaml:"accessSpeedKph"`
	Nodes          []struct {
		ID  string  `yaml:"id"`
		Lat float64 `yaml:"lat"`
		Lon float64 `yaml:"lon"`
	} `yaml:"nodes"`
	Segments []struct {
		From     string  `yaml:"from"`
		To       string  `yaml:"to"`
		Km       float64 `yaml:"km"`
		SpeedKph float64 `yaml:"speedKph"`
		TwoWay   bool    `yaml:"twoWay"`
	} `yaml:"segments"`
}

// LoadRoadGraph reads a road network description.
func LoadRoadGraph(path string) (*opt.RoadGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read road graph: %w", err)
	}
	var f roadGraphFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse road graph %s: %w", path, err)
	}
	nodes := make([]opt.RoadNode, len(f.Nodes))
	for i, n := range f.Nodes {
		nodes[i] = opt.RoadNode{ID: n.ID, Pos: opt.Point{Lat: n.Lat, Lon: n.Lon}}
	}
	segs := make([]opt.RoadSegment, len(f.Segments))
	for i, s := range f.Segments {
		segs[i] = opt.RoadSegment{From: s.From, To: s.To, Km: s.Km, SpeedKph: s.SpeedKph, TwoWay: s.TwoWay}
	}
	return opt.NewRoadGraph(nodes, segs, f.AccessSpeedKph)
}
