package roadsvc

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"fleetopt/internal/opt"
	"fleetopt/internal/upstream"
)

// fakeOSRM answers table requests with 100 km per degree of longitude and
// one minute per km. Pairs touching lon >= unroutableLon come back null.
func fakeOSRM(t *testing.T, calls *atomic.Int32, unroutableLon float64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		rest := strings.TrimPrefix(r.URL.Path, "/table/v1/driving/")
		if rest == r.URL.Path {
			http.Error(w, "bad path", http.StatusNotFound)
			return
		}
		var lons []float64
		for _, c := range strings.Split(rest, ";") {
			lon, err := strconv.ParseFloat(strings.Split(c, ",")[0], 64)
			if err != nil {
				http.Error(w, "bad coordinate", http.StatusBadRequest)
				return
			}
			lons = append(lons, lon)
		}
		idx := func(param string) []int {
			var out []int
			for _, s := range strings.Split(r.URL.Query().Get(param), ";") {
				i, _ := strconv.Atoi(s)
				out = append(out, i)
			}
			return out
		}
		src, dst := idx("sources"), idx("destinations")
		resp := tableResponse{Code: "Ok"}
		for _, a := range src {
			var drow, trow []*float64
			for _, b := range dst {
				if lons[a] >= unroutableLon || lons[b] >= unroutableLon {
					drow, trow = append(drow, nil), append(trow, nil)
					continue
				}
				km := math.Abs(lons[a]-lons[b]) * 100
				m, s := km*1000, km*60
				drow, trow = append(drow, &m), append(trow, &s)
			}
			resp.Distances = append(resp.Distances, drow)
			resp.Durations = append(resp.Durations, trow)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func line(n int) []opt.Point {
	pts := make([]opt.Point, n)
	for i := range pts {
		pts[i] = opt.Point{Lat: 40, Lon: float64(i) * 0.01}
	}
	return pts
}

func testCaller() *upstream.Caller {
	c := upstream.NewCaller("osrm", time.Second, 0)
	c.Backoff = time.Millisecond
	return c
}

func TestEstimateMatrixBatches(t *testing.T) {
	var calls atomic.Int32
	srv := fakeOSRM(t, &calls, 1e9)
	defer srv.Close()
	c := New(srv.URL, "driving", 4, testCaller(), nil)
	pts := line(5)
	m, err := c.EstimateMatrix(context.Background(), pts)
	if err != nil {
		t.Fatalf("matrix: %v", err)
	}
	// 3x3 blocks of at most 2 points each; the lone diagonal block is skipped
	if calls.Load() != 8 {
		t.Fatalf("expected 8 requests, got %d", calls.Load())
	}
	for i := range pts {
		for j := range pts {
			want := math.Abs(float64(i-j)) * 1.0
			if math.Abs(m[i][j].Km-want) > 1e-6 || math.Abs(m[i][j].Minutes-want) > 1e-6 {
				t.Fatalf("m[%d][%d]=%+v want %v km", i, j, m[i][j], want)
			}
			if m[i][j].Approximate {
				t.Fatalf("m[%d][%d] unexpectedly approximate", i, j)
			}
		}
	}
}

func TestUnroutablePairsFallBackToHaversine(t *testing.T) {
	var calls atomic.Int32
	srv := fakeOSRM(t, &calls, 0.015)
	defer srv.Close()
	c := New(srv.URL, "", 100, testCaller(), nil)
	pts := line(3)
	m, err := c.EstimateMatrix(context.Background(), pts)
	if err != nil {
		t.Fatalf("matrix: %v", err)
	}
	if m[0][1].Approximate {
		t.Fatalf("0->1 should be routed")
	}
	if !m[0][2].Approximate || math.Abs(m[0][2].Km-opt.Haversine(pts[0], pts[2])) > 1e-9 {
		t.Fatalf("0->2 should be haversine, got %+v", m[0][2])
	}
	if m[0][2].Minutes != 0 {
		t.Fatalf("approximate estimate should leave minutes to the cost model")
	}
}

func TestEstimateSinglePair(t *testing.T) {
	var calls atomic.Int32
	srv := fakeOSRM(t, &calls, 1e9)
	defer srv.Close()
	c := New(srv.URL, "driving", 100, testCaller(), nil)
	pts := line(4)
	e, err := c.Estimate(context.Background(), pts[0], pts[3])
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if math.Abs(e.Km-3) > 1e-6 {
		t.Fatalf("expected 3 km, got %v", e.Km)
	}
}

func TestUpstreamFailureIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	c := New(srv.URL, "driving", 100, testCaller(), nil)
	if _, err := c.EstimateMatrix(context.Background(), line(3)); err == nil {
		t.Fatalf("expected error from failing upstream")
	}
}

func TestNonOkCodeIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"InvalidQuery","message":"too many coordinates"}`))
	}))
	defer srv.Close()
	c := New(srv.URL, "driving", 100, testCaller(), nil)
	_, err := c.EstimateMatrix(context.Background(), line(2))
	if err == nil || !strings.Contains(err.Error(), "InvalidQuery") {
		t.Fatalf("expected InvalidQuery error, got %v", err)
	}
}

func TestCacheAvoidsRepeatRequests(t *testing.T) {
	var calls atomic.Int32
	srv := fakeOSRM(t, &calls, 1e9)
	defer srv.Close()
	cache, err := OpenSQLiteCache(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer cache.Close()
	c := New(srv.URL, "driving", 100, testCaller(), cache)
	pts := line(4)
	first, err := c.EstimateMatrix(context.Background(), pts)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	before := calls.Load()
	second, err := c.EstimateMatrix(context.Background(), pts)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if calls.Load() != before {
		t.Fatalf("second call hit upstream: %d -> %d", before, calls.Load())
	}
	for i := range pts {
		for j := range pts {
			if first[i][j] != second[i][j] {
				t.Fatalf("cached [%d][%d]=%+v differs from %+v", i, j, second[i][j], first[i][j])
			}
		}
	}
}

func TestSQLiteCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache, err := OpenSQLiteCache(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer cache.Close()
	if err := cache.PutMany(ctx, "a", map[string]opt.Estimate{"b": {Km: 2, Minutes: 3}, "c": {Km: 4, Minutes: 5}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := cache.PutMany(ctx, "a", map[string]opt.Estimate{"b": {Km: 7, Minutes: 8}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := cache.GetMany(ctx, "a", []string{"b", "c", "d", "b"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 2 || got["b"].Km != 7 || got["c"].Minutes != 5 {
		t.Fatalf("unexpected cache contents: %+v", got)
	}
	none, err := cache.GetMany(ctx, "z", []string{"b"})
	if err != nil || len(none) != 0 {
		t.Fatalf("expected empty result for unknown origin, got %+v %v", none, err)
	}
}
