package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/m-lab/latrace/pkg/config"
	"github.com/m-lab/latrace/pkg/journey"
	"github.com/m-lab/latrace/pkg/topology"
	"github.com/m-lab/latrace/pkg/trace"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	records := []trace.Record{
		{Timestamp: 1.0, Direction: trace.Downlink, SrcPoint: "ip", DstPoint: "rlc.tx.am"},
	}
	topo := &topology.Topology{
		Sources: map[trace.Direction][]string{trace.Downlink: {"ip"}},
		Sinks:   map[trace.Direction][]string{trace.Downlink: {"phy.out.proc"}},
		Paths:   map[trace.Direction][][]string{trace.Downlink: {{"ip", "phy.out.proc"}}},
	}
	result := journey.Result{
		Journeys:    []*journey.Journey{{ID: 0, Direction: trace.Downlink, Members: []int{0}, Completed: true}},
		OrphanCount: 2,
	}

	entry := NewEntry(records, topo, result)
	path := filepath.Join(dir, "entry.gz")
	if err := Save(path, entry); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded.Records) != 1 || loaded.Records[0].SrcPoint != "ip" {
		t.Errorf("loaded.Records = %+v", loaded.Records)
	}
	if loaded.OrphanCount != 2 {
		t.Errorf("loaded.OrphanCount = %d, want 2", loaded.OrphanCount)
	}
	if len(loaded.Journeys) != 1 || !loaded.Journeys[0].Completed {
		t.Errorf("loaded.Journeys = %+v", loaded.Journeys)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/cache/entry.gz"); err == nil {
		t.Errorf("expected an error loading a missing cache file")
	}
}

func TestKeyChangesWithConfig(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "input.trace")
	if err := os.WriteFile(inputPath, []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	k1, err := Key(inputPath, config.Config{ForwardDepth: 20})
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	k2, err := Key(inputPath, config.Config{ForwardDepth: 30})
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	if k1 == k2 {
		t.Errorf("keys should differ when ForwardDepth differs: %s == %s", k1, k2)
	}
}

func TestKeyMissingInputErrors(t *testing.T) {
	if _, err := Key("/nonexistent/input.trace", config.Config{}); err == nil {
		t.Errorf("expected an error for a missing input file")
	}
}
