// Package journey implements the reconstructor: given a normalized,
// timestamp-ordered record stream and a topology, it chains records into
// journeys, one per logical packet, materializing segmentation forks as
// sibling journeys.
//
// Only the recursive reconstruction strategy is implemented. An earlier,
// sequential variant existed upstream and is superseded; it is not
// reproduced here, not even as a disabled code path.
package journey

import (
	"github.com/m-lab/latrace/pkg/topology"
	"github.com/m-lab/latrace/pkg/trace"
)

// DefaultForwardDepth and DefaultForkDepth are the reconstruction window
// sizes carried over unchanged from the source implementation: they trade
// completeness for tractable cost by bounding how far ahead, in record
// count, the reconstructor looks for a journey's next member or a fork
// sibling.
const (
	DefaultForwardDepth = 20
	DefaultForkDepth    = 10
)

// Config holds the reconstructor's two search-depth parameters. Unlike the
// source implementation, these are passed explicitly rather than read off
// module-level constants, so callers (and tests) can exercise bounded
// windows deterministically.
type Config struct {
	ForwardDepth int
	ForkDepth    int
}

// resolved fills in zero fields with the package defaults.
func (c Config) resolved() Config {
	if c.ForwardDepth <= 0 {
		c.ForwardDepth = DefaultForwardDepth
	}
	if c.ForkDepth <= 0 {
		c.ForkDepth = DefaultForkDepth
	}
	return c
}

// Journey is an ordered chain of record indices believed to belong to one
// logical packet's traversal of the stack.
type Journey struct {
	ID                 int
	Direction          trace.Direction
	GlobalIDs          map[string]string
	Members            []int
	ReconciledLocalIDs map[string]string
	NextPoints         map[string]struct{}
	TsIn, TsOut        float64
	Completed          bool
	PathID             int

	// lastLocalIDs is a private working copy of the current last
	// member's local ids. It starts as a copy of that member's original
	// LocalIDs and is mutated in place as ambiguous (list-valued)
	// entries resolve against a successor's value; the original
	// trace.Record is never touched.
	lastLocalIDs map[string]trace.IDValue
}

// LatencyMillis returns the journey's end-to-end latency in milliseconds.
// Only meaningful once Completed.
func (j *Journey) LatencyMillis() float64 {
	return (j.TsOut - j.TsIn) * 1000
}

// Result is the outcome of one reconstruction pass.
type Result struct {
	Journeys          []*Journey
	OrphanCount       int
	AbandonedCount    int
	ForksMaterialized int
}

// forkSibling is a fork candidate discovered while committing a member:
// another record with the same src_point and direction that also matched
// the journey's *previous* last member.
type forkSibling struct {
	idx     int
	matched map[string]string
}

// Reconstruct chains records into journeys. It is infallible: unmatched
// records become orphans, and journeys that never complete within the
// forward window are silently dropped rather than surfaced as errors.
func Reconstruct(records []trace.Record, topo *topology.Topology, cfg Config) Result {
	cfg = cfg.resolved()
	r := &reconstructor{records: records, topo: topo, cfg: cfg, attached: map[int]bool{}}
	return r.run()
}

type reconstructor struct {
	records           []trace.Record
	topo              *topology.Topology
	cfg               Config
	nextID            int
	completed         []*Journey
	attached          map[int]bool
	abandoned         int
	forksMaterialized int
}

func (r *reconstructor) run() Result {
	for i, rec := range r.records {
		if !inSet(rec.SrcPoint, r.topo.Sources[rec.Direction]) {
			continue
		}
		j := r.spawn(rec, i)
		r.extend(j, i+1)
	}

	for _, j := range r.completed {
		j.PathID = resolvePathID(r.topo, j, r.records)
		recordResidencies(r.topo, j, r.records)
	}

	orphans := 0
	for i := range r.records {
		if !r.attached[i] {
			orphans++
		}
	}

	return Result{
		Journeys:          r.completed,
		OrphanCount:       orphans,
		AbandonedCount:    r.abandoned,
		ForksMaterialized: r.forksMaterialized,
	}
}

func (r *reconstructor) spawn(rec trace.Record, idx int) *Journey {
	j := &Journey{
		ID:                 r.nextID,
		Direction:          rec.Direction,
		GlobalIDs:          copyStringMap(rec.GlobalIDs),
		Members:            []int{idx},
		ReconciledLocalIDs: map[string]string{},
		NextPoints:         successorsOf(r.topo, rec.SrcPoint),
		TsIn:               rec.Timestamp,
		lastLocalIDs:       copyIDMap(rec.LocalIDs),
	}
	r.nextID++
	r.attached[idx] = true
	return j
}

// extend walks records[startK:] forward, committing matches to j until it
// completes or the forward window is exhausted. Forks discovered along the
// way are materialized only if j ultimately completes, mirroring the
// source behavior of discarding fork candidates belonging to an abandoned
// journey.
func (r *reconstructor) extend(j *Journey, startK int) {
	forkList := map[int][]forkSibling{}

	maxK := startK + r.cfg.ForwardDepth
	if maxK > len(r.records) {
		maxK = len(r.records)
	}

	for k := startK; !j.Completed && k < maxK; k++ {
		cand := r.records[k]

		if cand.Direction != j.Direction {
			continue
		}
		if inSet(cand.SrcPoint, r.topo.Sources[j.Direction]) {
			continue
		}
		if _, ok := j.NextPoints[cand.SrcPoint]; !ok {
			continue
		}

		matched, ok := matchIDs(cand, j.GlobalIDs, j.lastLocalIDs)
		if !ok {
			continue
		}

		r.attached[k] = true
		j.Members = append(j.Members, k)
		for name, v := range matched {
			j.ReconciledLocalIDs[name] = v
		}

		// prevLocalIDs is j.lastLocalIDs as it stood (and was possibly
		// just mutated by matchIDs above) before the candidate becomes
		// the new last member. Fork siblings are evaluated against
		// this predecessor state, not against the candidate.
		prevLocalIDs := j.lastLocalIDs
		prevGlobalIDs := j.GlobalIDs

		forkEnd := k + r.cfg.ForkDepth
		if forkEnd > len(r.records)-1 {
			forkEnd = len(r.records) - 1
		}
		for s := k + 1; s < forkEnd; s++ {
			sibling := r.records[s]
			if sibling.Direction != j.Direction || sibling.SrcPoint != cand.SrcPoint {
				continue
			}
			if sMatched, ok := matchIDs(sibling, prevGlobalIDs, prevLocalIDs); ok {
				forkList[k] = append(forkList[k], forkSibling{idx: s, matched: sMatched})
			}
		}

		j.lastLocalIDs = copyIDMap(cand.LocalIDs)
		r.commit(j, cand)
	}

	if !j.Completed {
		r.abandoned++
		return
	}

	r.completed = append(r.completed, j)
	r.materializeForks(j, forkList)
}

// commit applies the terminal-or-continue transition for a just-matched
// member.
func (r *reconstructor) commit(j *Journey, rec trace.Record) {
	if inSet(rec.DstPoint, r.topo.Sinks[j.Direction]) {
		j.TsOut = rec.Timestamp
		j.NextPoints = nil
		j.Completed = true
		return
	}
	j.NextPoints = successorsOf(r.topo, rec.SrcPoint)
}

// materializeForks clones j once per recorded fork sibling, truncating the
// clone's member list to the prefix shared with j up to (but not
// including) the forked-at member, then resumes extension from the
// sibling.
func (r *reconstructor) materializeForks(j *Journey, forkList map[int][]forkSibling) {
	for pos, memberIdx := range j.Members {
		siblings, ok := forkList[memberIdx]
		if !ok {
			continue
		}
		for _, sib := range siblings {
			r.forksMaterialized++
			prefix := append([]int{}, j.Members[:pos]...)
			clone := &Journey{
				ID:                 r.nextID,
				Direction:          j.Direction,
				GlobalIDs:          j.GlobalIDs,
				Members:            append(prefix, sib.idx),
				ReconciledLocalIDs: copyStringMap(j.ReconciledLocalIDs),
				TsIn:               j.TsIn,
			}
			r.nextID++
			for name, v := range sib.matched {
				clone.ReconciledLocalIDs[name] = v
			}

			siblingRecord := r.records[sib.idx]
			clone.lastLocalIDs = copyIDMap(siblingRecord.LocalIDs)
			r.attached[sib.idx] = true

			r.commit(clone, siblingRecord)
			if clone.Completed {
				r.completed = append(r.completed, clone)
				continue
			}
			r.extend(clone, sib.idx+1)
		}
	}
}

// matchIDs is the identifier-matching predicate shared by the main
// extension loop and fork detection: global ids must be a subset-equal
// match, and local ids present on both sides must agree, resolving any
// multi-valued entry in lastLocalIDs to the single value the candidate
// confirms.
func matchIDs(p trace.Record, journeyGlobalIDs map[string]string, lastLocalIDs map[string]trace.IDValue) (map[string]string, bool) {
	for name, v := range p.GlobalIDs {
		jv, ok := journeyGlobalIDs[name]
		if !ok || jv != v {
			return nil, false
		}
	}

	matched := map[string]string{}
	for name, pv := range p.LocalIDs {
		mv, ok := lastLocalIDs[name]
		if !ok {
			continue
		}
		// Find the first value of mv (in list order) that pv.Resolve
		// confirms, collapsing mv to that single value.
		// IDValue.Resolve is the matcher contract: a single-valued mv has
		// exactly one candidate to try, a multi-valued mv tries each
		// in turn.
		found := false
		for _, candidate := range mv.Values {
			if resolved, ok := pv.Resolve(candidate); ok {
				lastLocalIDs[name] = resolved
				matched[name] = candidate
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}
	}
	return matched, true
}

func inSet(label string, set []string) bool {
	for _, s := range set {
		if s == label {
			return true
		}
	}
	return false
}

func successorsOf(topo *topology.Topology, label string) map[string]struct{} {
	point, ok := topo.Graph[label]
	if !ok {
		return map[string]struct{}{}
	}
	out := make(map[string]struct{}, len(point.Successors))
	for s := range point.Successors {
		out[s] = struct{}{}
	}
	return out
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyIDMap(m map[string]trace.IDValue) map[string]trace.IDValue {
	out := make(map[string]trace.IDValue, len(m))
	for k, v := range m {
		values := make([]string, len(v.Values))
		copy(values, v.Values)
		out[k] = trace.IDValue{Values: values}
	}
	return out
}

// resolvePathID finds the topology path whose endpoints match j's observed
// source and sink labels. It returns -1 when no path's endpoints match,
// per spec.md's "when resolvable" qualifier on Journey.PathID.
func resolvePathID(topo *topology.Topology, j *Journey, records []trace.Record) int {
	if !j.Completed || len(j.Members) == 0 {
		return -1
	}
	first := records[j.Members[0]].SrcPoint
	last := records[j.Members[len(j.Members)-1]].DstPoint

	for i, path := range topo.Paths[j.Direction] {
		if len(path) == 0 {
			continue
		}
		if path[0] == first && path[len(path)-1] == last {
			return i
		}
	}
	return -1
}

// recordResidencies writes this journey's per-point dwell times into the
// topology's Point.ResidencySamples. The residency attributed to a member's
// src_point is the gap since the previous member's timestamp; the first
// (source-point) member always gets a zero sample.
func recordResidencies(topo *topology.Topology, j *Journey, records []trace.Record) {
	var prevTs float64
	for i, memberIdx := range j.Members {
		rec := records[memberIdx]
		point, ok := topo.Graph[rec.SrcPoint]
		if !ok {
			continue
		}
		if i == 0 {
			point.ResidencySamples[j.ID] = 0
			prevTs = rec.Timestamp
			continue
		}
		point.ResidencySamples[j.ID] = (rec.Timestamp - prevTs) * 1000
		prevTs = rec.Timestamp
	}
}
