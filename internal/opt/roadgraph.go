package opt

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/katalvlaran/lvlath/core"
	"github.com/katalvlaran/lvlath/dijkstra"
	"golang.org/x/sync/errgroup"
)

type RoadNode struct {
	ID  string
	Pos Point
}

// RoadSegment is a directed edge unless TwoWay is set.
type RoadSegment struct {
	From, To string
	Km       float64
	SpeedKph float64
	TwoWay   bool
}

// Segment travel times are stored as integer milliseconds on the graph.
const msPerMinute = 60000.0

type arcKey struct{ from, to int }

// RoadGraph answers shortest-time queries over a road network. It is never
// mutated after NewRoadGraph returns, so concurrent queries are safe.
type RoadGraph struct {
	nodes       []RoadNode
	index       map[string]int
	graph       *core.Graph
	arcKm       map[arcKey]float64
	accessSpeed float64
}

// NewRoadGraph validates and indexes a road network. accessSpeedKph is used
// for the legs between a query point and its nearest road node. Parallel
// segments collapse to the fastest one.
func NewRoadGraph(nodes []RoadNode, segments []RoadSegment, accessSpeedKph float64) (*RoadGraph, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: road graph has no nodes", ErrMalformedInput)
	}
	if accessSpeedKph <= 0 {
		accessSpeedKph = DefaultSpeedKph
	}
	g := &RoadGraph{
		nodes:       append([]RoadNode(nil), nodes...),
		index:       make(map[string]int, len(nodes)),
		graph:       core.NewGraph(core.WithDirected(true), core.WithWeighted()),
		arcKm:       make(map[arcKey]float64),
		accessSpeed: accessSpeedKph,
	}
	for i, n := range nodes {
		if _, dup := g.index[n.ID]; dup || n.ID == "" {
			return nil, fmt.Errorf("%w: duplicate or empty road node id %q", ErrMalformedInput, n.ID)
		}
		if !n.Pos.valid() {
			return nil, fmt.Errorf("%w: road node %q has invalid coordinates", ErrMalformedInput, n.ID)
		}
		g.index[n.ID] = i
		if err := g.graph.AddVertex(n.ID); err != nil {
			return nil, fmt.Errorf("road node %q: %w", n.ID, err)
		}
	}
	weights := make(map[arcKey]int64)
	var order []arcKey
	add := func(k arcKey, ms int64, km float64) {
		if k.from == k.to {
			return
		}
		if w, ok := weights[k]; ok && w <= ms {
			return
		} else if !ok {
			order = append(order, k)
		}
		weights[k] = ms
		g.arcKm[k] = km
	}
	for _, s := range segments {
		from, ok := g.index[s.From]
		if !ok {
			return nil, fmt.Errorf("%w: segment references unknown node %q", ErrMalformedInput, s.From)
		}
		to, ok := g.index[s.To]
		if !ok {
			return nil, fmt.Errorf("%w: segment references unknown node %q", ErrMalformedInput, s.To)
		}
		if s.Km < 0 || s.SpeedKph <= 0 || math.IsNaN(s.Km) || math.IsInf(s.Km, 0) || math.IsNaN(s.SpeedKph) {
			return nil, fmt.Errorf("%w: segment %s->%s has invalid length or speed", ErrMalformedInput, s.From, s.To)
		}
		ms := int64(math.Round(s.Km / s.SpeedKph * msPerMinute * 60))
		add(arcKey{from, to}, ms, s.Km)
		if s.TwoWay {
			add(arcKey{to, from}, ms, s.Km)
		}
	}
	for _, k := range order {
		if _, err := g.graph.AddEdge(g.nodes[k.from].ID, g.nodes[k.to].ID, weights[k]); err != nil {
			return nil, fmt.Errorf("road segment %s->%s: %w", g.nodes[k.from].ID, g.nodes[k.to].ID, err)
		}
	}
	return g, nil
}

func (g *RoadGraph) Len() int { return len(g.nodes) }

func (g *RoadGraph) nearest(p Point) (int, float64) {
	best, bestKm := 0, math.Inf(1)
	for i, n := range g.nodes {
		if d := Haversine(p, n.Pos); d < bestKm {
			best, bestKm = i, d
		}
	}
	return best, bestKm
}

type pathCost struct {
	minutes float64
	km      float64
}

// shortest returns the fastest path from src to every node. Unreachable
// nodes keep +Inf minutes.
func (g *RoadGraph) shortest(src int) ([]pathCost, error) {
	dist, prev, err := dijkstra.Dijkstra(g.graph, dijkstra.Source(g.nodes[src].ID), dijkstra.WithReturnPath())
	if err != nil {
		return nil, fmt.Errorf("road graph: %w", err)
	}
	out := make([]pathCost, len(g.nodes))
	known := make([]bool, len(g.nodes))
	out[src], known[src] = pathCost{}, true
	var chain []int
	for i, n := range g.nodes {
		if known[i] {
			continue
		}
		d, ok := dist[n.ID]
		if !ok || d == math.MaxInt64 {
			out[i] = pathCost{minutes: math.Inf(1), km: math.Inf(1)}
			known[i] = true
			continue
		}
		// walk predecessors up to a node whose km is already known
		chain = chain[:0]
		v := i
		for !known[v] {
			chain = append(chain, v)
			v = g.index[prev[g.nodes[v].ID]]
		}
		for k := len(chain) - 1; k >= 0; k-- {
			c := chain[k]
			u := g.index[prev[g.nodes[c].ID]]
			out[c] = pathCost{
				minutes: float64(dist[g.nodes[c].ID]) / msPerMinute,
				km:      out[u].km + g.arcKm[arcKey{u, c}],
			}
			known[c] = true
		}
	}
	return out, nil
}

func (g *RoadGraph) combine(from, to Point, src int, srcKm float64, dst int, dstKm float64, paths []pathCost) Estimate {
	pc := paths[dst]
	if math.IsInf(pc.minutes, 1) {
		return Estimate{Km: Haversine(from, to), Approximate: true}
	}
	access := srcKm + dstKm
	return Estimate{
		Km:      access + pc.km,
		Minutes: pc.minutes + access/g.accessSpeed*60,
	}
}

// Estimate snaps both points to the network and returns the fastest path.
// Disconnected pairs fall back to haversine and are flagged approximate.
func (g *RoadGraph) Estimate(ctx context.Context, from, to Point) (Estimate, error) {
	if err := ctx.Err(); err != nil {
		return Estimate{}, err
	}
	if from == to {
		return Estimate{}, nil
	}
	src, srcKm := g.nearest(from)
	dst, dstKm := g.nearest(to)
	paths, err := g.shortest(src)
	if err != nil {
		return Estimate{}, err
	}
	return g.combine(from, to, src, srcKm, dst, dstKm, paths), nil
}

// EstimateMatrix runs one Dijkstra per distinct origin node.
func (g *RoadGraph) EstimateMatrix(ctx context.Context, points []Point) ([][]Estimate, error) {
	n := len(points)
	snap := make([]int, n)
	snapKm := make([]float64, n)
	for i, p := range points {
		snap[i], snapKm[i] = g.nearest(p)
	}
	out := make([][]Estimate, n)
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(defaultWorkers())
	for i := 0; i < n; i++ {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			paths, err := g.shortest(snap[i])
			if err != nil {
				return err
			}
			row := make([]Estimate, n)
			for j := 0; j < n; j++ {
				if i == j {
					continue
				}
				row[j] = g.combine(points[i], points[j], snap[i], snapKm[i], snap[j], snapKm[j], paths)
			}
			out[i] = row
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// RoadGraphHolder publishes road graph versions copy-on-write. Builds pin
// the current version through Snapshot.
type RoadGraphHolder struct {
	cur atomic.Pointer[RoadGraph]
}

func NewRoadGraphHolder(g *RoadGraph) *RoadGraphHolder {
	h := &RoadGraphHolder{}
	h.cur.Store(g)
	return h
}

// Swap replaces the published graph; in-flight builds keep their snapshot.
func (h *RoadGraphHolder) Swap(g *RoadGraph) { h.cur.Store(g) }

func (h *RoadGraphHolder) Snapshot() DistanceProvider {
	if g := h.cur.Load(); g != nil {
		return g
	}
	return HaversineProvider{}
}

func (h *RoadGraphHolder) Estimate(ctx context.Context, from, to Point) (Estimate, error) {
	return h.Snapshot().Estimate(ctx, from, to)
}
