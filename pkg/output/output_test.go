package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/m-lab/latrace/pkg/journey"
	"github.com/m-lab/latrace/pkg/trace"
)

func TestShapeSortsByTimestampAndSkipsOrphans(t *testing.T) {
	records := []trace.Record{
		{Timestamp: 2.000, Direction: trace.Downlink, SrcPoint: "rlc.tx.am", DstPoint: "phy.out.proc", LocalIDs: map[string]trace.IDValue{}},
		{Timestamp: 1.000, Direction: trace.Downlink, SrcPoint: "ip", DstPoint: "rlc.tx.am", LocalIDs: map[string]trace.IDValue{}},
		{Timestamp: 1.500, Direction: trace.Downlink, SrcPoint: "pdcp", DstPoint: "phy.out.proc", LocalIDs: map[string]trace.IDValue{}},
	}
	journeys := []*journey.Journey{
		{ID: 0, Completed: true, Members: []int{1, 0}, GlobalIDs: map[string]string{"rnti": "1"}},
	}

	entries := Shape(records, journeys)
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2 (orphan excluded)", len(entries))
	}
	if entries[0].Timestamp != 1.000 || entries[1].Timestamp != 2.000 {
		t.Errorf("entries not sorted by timestamp: %+v", entries)
	}
}

func TestShapeMultiOwnerIDString(t *testing.T) {
	records := []trace.Record{
		{Timestamp: 1.000, Direction: trace.Downlink, SrcPoint: "ip", DstPoint: "rlc.tx.am", LocalIDs: map[string]trace.IDValue{}},
	}
	journeys := []*journey.Journey{
		{ID: 0, Completed: true, Members: []int{0}, GlobalIDs: map[string]string{"rnti": "1"}},
		{ID: 1, Completed: true, Members: []int{0}, GlobalIDs: map[string]string{"rnti": "1"}},
	}
	entries := Shape(records, journeys)
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if !strings.HasPrefix(entries[0].IDString, "uid1.uid0.") {
		t.Errorf("IDString = %q, want the higher (forked) id leftmost", entries[0].IDString)
	}
}

func TestTextEmitterOnEntry(t *testing.T) {
	var buf bytes.Buffer
	e := NewTextEmitter(&buf)
	entry := Entry{
		Timestamp:  1700000000.5,
		Direction:  trace.Downlink,
		Segment:    "ip--rlc.tx.am",
		Properties: map[string]string{"len": "100"},
		IDString:   "uid0.rnti=1",
	}
	if err := e.OnEntry(entry); err != nil {
		t.Fatalf("OnEntry() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "D (len100)\tip--rlc.tx.am\tuid0.rnti=1") {
		t.Errorf("output = %q, missing expected fields", out)
	}
}

func TestJSONEmitterRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	e := NewJSONEmitter(&buf)
	if err := e.OnEntry(Entry{Timestamp: 1.5, Direction: trace.Uplink, Segment: "a--b", IDString: "uid0"}); err != nil {
		t.Fatalf("OnEntry() error = %v", err)
	}
	if !strings.Contains(buf.String(), `"direction":"uplink"`) {
		t.Errorf("output = %q, missing direction field", buf.String())
	}
}
