package topology

import (
	"testing"

	"github.com/m-lab/latrace/pkg/trace"
)

func rec(dir trace.Direction, src, dst string) trace.Record {
	return trace.Record{Direction: dir, SrcPoint: src, DstPoint: dst}
}

func TestBuildDefaultSourcesAndSinks(t *testing.T) {
	records := []trace.Record{
		rec(trace.Downlink, "ip", "rlc.tx.am"),
		rec(trace.Downlink, "rlc.tx.am", "phy.out.proc"),
		rec(trace.Uplink, "phy.in.proc", "ip"),
	}
	topo, err := Build(records, Config{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(topo.Paths[trace.Downlink]) == 0 {
		t.Errorf("expected at least one downlink path")
	}
	if len(topo.Paths[trace.Uplink]) == 0 {
		t.Errorf("expected at least one uplink path")
	}
}

func TestBuildAbstractDottedPrefixes(t *testing.T) {
	records := []trace.Record{
		rec(trace.Downlink, "ip", "rlc.tx.am"),
		rec(trace.Downlink, "rlc.tx.am", "phy.out.proc"),
		rec(trace.Uplink, "phy.in.proc", "ip"),
	}
	topo, err := Build(records, Config{
		SourcesDownlink: []string{"ip"},
		SinksDownlink:   []string{"phy.out.proc"},
		SourcesUplink:   []string{"phy.in.proc"},
		SinksUplink:     []string{"ip"},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	rlc := topo.Graph["ip"]
	if _, ok := rlc.Successors["rlc"]; !ok {
		t.Errorf("expected abstract prefix successor %q on ip's successor set: %v", "rlc", rlc.Successors)
	}
	if _, ok := rlc.Successors["rlc.tx"]; !ok {
		t.Errorf("expected abstract prefix successor %q", "rlc.tx")
	}
	if _, ok := rlc.Successors["rlc.tx.am"]; !ok {
		t.Errorf("expected full successor %q", "rlc.tx.am")
	}
}

func TestBuildFailsOnZeroPaths(t *testing.T) {
	records := []trace.Record{
		rec(trace.Downlink, "ip", "somewhere.unrelated"),
	}
	_, err := Build(records, Config{})
	if err == nil {
		t.Fatalf("expected an Error since no path reaches phy.out.proc")
	}
	if _, ok := err.(*Error); !ok {
		t.Errorf("err = %T, want *Error", err)
	}
}

func TestAllSimplePathsNoDuplicateNodes(t *testing.T) {
	graph := map[string]*Point{
		"a": {Successors: map[string]struct{}{"b": {}}},
		"b": {Successors: map[string]struct{}{"a": {}, "c": {}}},
		"c": {Successors: map[string]struct{}{}},
	}
	paths := allSimplePaths(graph, "a", "c")
	if len(paths) != 1 {
		t.Fatalf("paths = %v, want exactly 1 simple path", paths)
	}
	want := []string{"a", "b", "c"}
	for i, n := range want {
		if paths[0][i] != n {
			t.Errorf("paths[0][%d] = %q, want %q", i, paths[0][i], n)
		}
	}
}

func TestDottedPrefixes(t *testing.T) {
	got := dottedPrefixes("a.b.c")
	want := []string{"a", "a.b", "a.b.c"}
	if len(got) != len(want) {
		t.Fatalf("dottedPrefixes() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dottedPrefixes()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
