// Package topology builds the per-direction measurement-point graph from a
// normalized record set and enumerates the source->sink paths the journey
// reconstructor walks.
package topology

import (
	"fmt"
	"sort"
	"strings"

	"github.com/m-lab/latrace/pkg/trace"
)

// Point is one measurement-point node in the graph.
type Point struct {
	// Successors is the set of labels observed (directly or as an
	// abstract dotted prefix) as dst_point when this label appeared as
	// src_point.
	Successors map[string]struct{}

	// DirectionsSeen records which directions this point has appeared in.
	DirectionsSeen map[trace.Direction]struct{}

	// OccurrenceCount is the number of records naming this point as
	// either endpoint.
	OccurrenceCount int

	// ResidencySamples maps a journey id to the residency duration, in
	// milliseconds, this journey spent at this point. Populated by the
	// journey reconstructor, not by Build.
	ResidencySamples map[int]float64
}

func newPoint() *Point {
	return &Point{
		Successors:       map[string]struct{}{},
		DirectionsSeen:   map[trace.Direction]struct{}{},
		ResidencySamples: map[int]float64{},
	}
}

// Config supplies externally configured source/sink sets, overriding the
// hard-coded defaults when non-empty.
type Config struct {
	SourcesDownlink []string
	SinksDownlink   []string
	SourcesUplink   []string
	SinksUplink     []string
}

// defaultSources and defaultSinks are the spec's hard-coded fallbacks, used
// whenever Config leaves a direction's set empty. This package never
// attempts to infer source/sink sets dynamically from the graph.
var (
	defaultSourcesDownlink = []string{"ip", "rlc.tx.am"}
	defaultSinksDownlink   = []string{"phy.out.proc"}
	defaultSourcesUplink   = []string{"phy.in.proc"}
	defaultSinksUplink     = []string{"ip"}
)

// Topology is the built graph plus its per-direction source/sink sets and
// enumerated paths.
type Topology struct {
	Graph   map[string]*Point
	Sources map[trace.Direction][]string
	Sinks   map[trace.Direction][]string
	Paths   map[trace.Direction][][]string
}

// Error reports that topology construction failed: either a direction has
// no usable source/sink set, or it enumerates zero paths.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return "topology: " + e.Reason
}

// Build constructs the directed measurement-point graph from records and
// enumerates all simple source->sink paths per direction.
func Build(records []trace.Record, cfg Config) (*Topology, error) {
	t := &Topology{
		Graph:   map[string]*Point{},
		Sources: map[trace.Direction][]string{},
		Sinks:   map[trace.Direction][]string{},
		Paths:   map[trace.Direction][][]string{},
	}

	for _, r := range records {
		src := t.node(r.SrcPoint)
		src.DirectionsSeen[r.Direction] = struct{}{}
		src.OccurrenceCount++

		dst := t.node(r.DstPoint)
		dst.DirectionsSeen[r.Direction] = struct{}{}
		dst.OccurrenceCount++

		for _, prefix := range dottedPrefixes(r.DstPoint) {
			src.Successors[prefix] = struct{}{}
		}
	}

	t.Sources[trace.Downlink] = choose(cfg.SourcesDownlink, defaultSourcesDownlink)
	t.Sinks[trace.Downlink] = choose(cfg.SinksDownlink, defaultSinksDownlink)
	t.Sources[trace.Uplink] = choose(cfg.SourcesUplink, defaultSourcesUplink)
	t.Sinks[trace.Uplink] = choose(cfg.SinksUplink, defaultSinksUplink)

	for _, dir := range []trace.Direction{trace.Downlink, trace.Uplink} {
		if len(t.Sources[dir]) == 0 {
			return nil, &Error{Reason: fmt.Sprintf("%s has no source points configured", dir)}
		}
		if len(t.Sinks[dir]) == 0 {
			return nil, &Error{Reason: fmt.Sprintf("%s has no sink points configured", dir)}
		}

		var paths [][]string
		for _, src := range t.Sources[dir] {
			for _, sink := range t.Sinks[dir] {
				paths = append(paths, allSimplePaths(t.Graph, src, sink)...)
			}
		}
		if len(paths) == 0 {
			return nil, &Error{Reason: fmt.Sprintf("%s enumerates zero source->sink paths", dir)}
		}
		t.Paths[dir] = paths
	}

	return t, nil
}

func (t *Topology) node(label string) *Point {
	p, ok := t.Graph[label]
	if !ok {
		p = newPoint()
		t.Graph[label] = p
	}
	return p
}

// dottedPrefixes returns label's dot-separated prefixes in order, e.g.
// "a.b.c" -> ["a", "a.b", "a.b.c"].
func dottedPrefixes(label string) []string {
	parts := strings.Split(label, ".")
	prefixes := make([]string, len(parts))
	for i := range parts {
		prefixes[i] = strings.Join(parts[:i+1], ".")
	}
	return prefixes
}

func choose(configured, fallback []string) []string {
	if len(configured) > 0 {
		return configured
	}
	return fallback
}

// allSimplePaths enumerates every simple path from src to sink via
// depth-first search over graph successor sets.
func allSimplePaths(graph map[string]*Point, src, sink string) [][]string {
	if _, ok := graph[src]; !ok {
		return nil
	}

	var paths [][]string
	visited := map[string]bool{src: true}
	path := []string{src}

	var walk func(current string)
	walk = func(current string) {
		if current == sink {
			found := make([]string, len(path))
			copy(found, path)
			paths = append(paths, found)
			return
		}
		point, ok := graph[current]
		if !ok {
			return
		}
		successors := make([]string, 0, len(point.Successors))
		for s := range point.Successors {
			successors = append(successors, s)
		}
		sort.Strings(successors)
		for _, next := range successors {
			if visited[next] {
				continue
			}
			visited[next] = true
			path = append(path, next)
			walk(next)
			path = path[:len(path)-1]
			visited[next] = false
		}
	}
	walk(src)

	return paths
}

// String renders the enumerated paths per direction, one per line, for
// diagnostic / CLI listing use.
func (t *Topology) String() string {
	var b strings.Builder
	for _, dir := range []trace.Direction{trace.Downlink, trace.Uplink} {
		fmt.Fprintf(&b, "%s:\n", dir)
		for _, p := range t.Paths[dir] {
			fmt.Fprintf(&b, "  %s\n", strings.Join(p, " -> "))
		}
	}
	return b.String()
}
