// Package roadsvc adapts an OSRM routing server into a matrix distance
// provider for the optimizer.
package roadsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"fleetopt/internal/opt"
	"fleetopt/internal/upstream"
)

// Cache stores road estimates keyed by rounded coordinates.
type Cache interface {
	GetMany(ctx context.Context, origin string, destinations []string) (map[string]opt.Estimate, error)
	PutMany(ctx context.Context, origin string, results map[string]opt.Estimate) error
}

type Client struct {
	baseURL   string
	profile   string
	maxPoints int
	caller    *upstream.Caller
	cache     Cache
}

type tableResponse struct {
	Code      string       `json:"code"`
	Message   string       `json:"message"`
	Distances [][]*float64 `json:"distances"`
	Durations [][]*float64 `json:"durations"`
}

// New returns an OSRM table client. maxPoints bounds the coordinates sent in
// one request; cache may be nil.
func New(baseURL, profile string, maxPoints int, caller *upstream.Caller, cache Cache) *Client {
	if maxPoints < 2 {
		maxPoints = 100
	}
	if profile == "" {
		profile = "driving"
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), profile: profile, maxPoints: maxPoints, caller: caller, cache: cache}
}

// Key rounds a point to about a meter.
func Key(p opt.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', 5, 64) + "," + strconv.FormatFloat(p.Lon, 'f', 5, 64)
}

func (c *Client) Estimate(ctx context.Context, from, to opt.Point) (opt.Estimate, error) {
	m, err := c.EstimateMatrix(ctx, []opt.Point{from, to})
	if err != nil {
		return opt.Estimate{}, err
	}
	return m[0][1], nil
}

// EstimateMatrix serves cached pairs and fetches the rest in blocks of at
// most maxPoints coordinates. Unroutable pairs come back as approximate
// haversine estimates.
func (c *Client) EstimateMatrix(ctx context.Context, points []opt.Point) ([][]opt.Estimate, error) {
	n := len(points)
	keys := make([]string, n)
	for i, p := range points {
		keys[i] = Key(p)
	}
	out := make([][]opt.Estimate, n)
	known := make([][]bool, n)
	for i := range out {
		out[i] = make([]opt.Estimate, n)
		known[i] = make([]bool, n)
		known[i][i] = true
	}
	if c.cache != nil {
		for i := 0; i < n; i++ {
			hits, err := c.cache.GetMany(ctx, keys[i], keys)
			if err != nil {
				log.Printf("roadsvc: cache lookup failed origin=%s err=%v", keys[i], err)
				break
			}
			for j := 0; j < n; j++ {
				if e, ok := hits[keys[j]]; ok && i != j {
					out[i][j], known[i][j] = e, true
				}
			}
		}
	}
	chunk := c.maxPoints / 2
	fetched := 0
	for s := 0; s < n; s += chunk {
		src := span(s, min(s+chunk, n))
		for d := 0; d < n; d += chunk {
			dst := span(d, min(d+chunk, n))
			if !missing(known, src, dst) {
				continue
			}
			if err := c.fetchBlock(ctx, points, src, dst, out); err != nil {
				return nil, err
			}
			fetched++
		}
	}
	if fetched > 0 {
		log.Printf("roadsvc: table points=%d requests=%d", n, fetched)
		c.store(ctx, keys, out, known)
	}
	return out, nil
}

func (c *Client) fetchBlock(ctx context.Context, points []opt.Point, src, dst []int, out [][]opt.Estimate) error {
	coords := make([]string, 0, len(src)+len(dst))
	sources := make([]string, len(src))
	dests := make([]string, len(dst))
	for k, i := range src {
		coords = append(coords, lonLat(points[i]))
		sources[k] = strconv.Itoa(k)
	}
	for k, j := range dst {
		coords = append(coords, lonLat(points[j]))
		dests[k] = strconv.Itoa(len(src) + k)
	}
	url := fmt.Sprintf("%s/table/v1/%s/%s?sources=%s&destinations=%s&annotations=distance,duration",
		c.baseURL, c.profile, strings.Join(coords, ";"), strings.Join(sources, ";"), strings.Join(dests, ";"))
	resp, err := c.caller.Do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	})
	if err != nil {
		return fmt.Errorf("osrm table: %w", err)
	}
	defer resp.Body.Close()
	var tr tableResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return fmt.Errorf("osrm table: decode: %w", err)
	}
	if tr.Code != "Ok" {
		return fmt.Errorf("osrm table: code %s: %s", tr.Code, tr.Message)
	}
	if len(tr.Distances) != len(src) || len(tr.Durations) != len(src) {
		return fmt.Errorf("osrm table: got %d rows for %d sources", len(tr.Distances), len(src))
	}
	for a, i := range src {
		if len(tr.Distances[a]) != len(dst) || len(tr.Durations[a]) != len(dst) {
			return fmt.Errorf("osrm table: row %d has %d columns for %d destinations", a, len(tr.Distances[a]), len(dst))
		}
		for b, j := range dst {
			if i == j {
				continue
			}
			dm, ds := tr.Distances[a][b], tr.Durations[a][b]
			if dm == nil || ds == nil {
				out[i][j] = opt.Estimate{Km: opt.Haversine(points[i], points[j]), Approximate: true}
				continue
			}
			out[i][j] = opt.Estimate{Km: *dm / 1000, Minutes: *ds / 60}
		}
	}
	return nil
}

func (c *Client) store(ctx context.Context, keys []string, out [][]opt.Estimate, known [][]bool) {
	if c.cache == nil {
		return
	}
	for i := range keys {
		fresh := map[string]opt.Estimate{}
		for j := range keys {
			if i == j || known[i][j] || out[i][j].Approximate || keys[i] == keys[j] {
				continue
			}
			fresh[keys[j]] = out[i][j]
		}
		if len(fresh) == 0 {
			continue
		}
		if err := c.cache.PutMany(ctx, keys[i], fresh); err != nil {
			log.Printf("roadsvc: cache store failed origin=%s err=%v", keys[i], err)
			return
		}
	}
}

func lonLat(p opt.Point) string {
	return strconv.FormatFloat(p.Lon, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lat, 'f', 6, 64)
}

func span(from, to int) []int {
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

func missing(known [][]bool, src, dst []int) bool {
	for _, i := range src {
		for _, j := range dst {
			if !known[i][j] {
				return true
			}
		}
	}
	return false
}
