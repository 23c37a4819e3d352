// Package output shapes reconstructed journeys and their source records
// into the flat, timestamp-sorted listing described by the wire format,
// and defines the Emitter interface used to render it.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/m-lab/latrace/pkg/journey"
	"github.com/m-lab/latrace/pkg/trace"
)

// Entry is one line of the flat output: one measurement's participation in
// one or more journeys.
type Entry struct {
	Timestamp  float64
	Direction  trace.Direction
	Segment    string
	Properties map[string]string
	IDString   string
}

// Shape builds the flat, timestamp-sorted entry list from the normalized
// records and the completed journeys that reference them. A record
// touched by more than one journey (the shared prefix of a fork) yields a
// single Entry whose IDString carries every owning journey's uid prefix.
func Shape(records []trace.Record, journeys []*journey.Journey) []Entry {
	owners := make([][]*journey.Journey, len(records))
	for _, j := range journeys {
		if !j.Completed {
			continue
		}
		for _, idx := range j.Members {
			owners[idx] = append(owners[idx], j)
		}
	}

	entries := make([]Entry, 0, len(records))
	for i, rec := range records {
		js := owners[i]
		if len(js) == 0 {
			continue
		}
		entries = append(entries, Entry{
			Timestamp:  rec.Timestamp,
			Direction:  rec.Direction,
			Segment:    rec.Segment(),
			Properties: rec.Properties,
			IDString:   idString(js, rec),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp < entries[j].Timestamp
	})

	return entries
}

// idString renders "uidN[.uidM...].key=value.key=value...": one uid tag
// per owning journey, highest id (most recently forked) leftmost and the
// original/parent journey's id closest to the global/local id fields —
// each fork prepends its own uid to what came before, same as the
// original's out_journeys mutation order — then the parent journey's
// global ids, then the record's own local ids.
func idString(owners []*journey.Journey, rec trace.Record) string {
	sort.Slice(owners, func(i, j int) bool { return owners[i].ID < owners[j].ID })

	var parts []string
	for i := len(owners) - 1; i >= 0; i-- {
		parts = append(parts, fmt.Sprintf("uid%d", owners[i].ID))
	}

	globalNames := sortedKeys(owners[0].GlobalIDs)
	for _, name := range globalNames {
		parts = append(parts, fmt.Sprintf("%s=%s", name, owners[0].GlobalIDs[name]))
	}

	localNames := sortedLocalKeys(rec.LocalIDs)
	for _, name := range localNames {
		parts = append(parts, fmt.Sprintf("%s=%s", name, joinValues(rec.LocalIDs[name])))
	}

	return strings.Join(parts, ".")
}

func joinValues(v trace.IDValue) string {
	return strings.Join(v.Values, ",")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedLocalKeys(m map[string]trace.IDValue) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Emitter renders entries and a closing summary. Implementations are
// responsible for their own buffering and newline conventions.
type Emitter interface {
	OnEntry(e Entry) error
	OnSummary(orphanCount int, journeyCount int) error
}

// TextEmitter writes the wire text format:
//
//	YYYYMMDD_HHMMSS.ffffff <D|U> (len<N>)\t<src>--<dst>\t<id_string>
type TextEmitter struct {
	w io.Writer
}

// NewTextEmitter wraps w as a TextEmitter.
func NewTextEmitter(w io.Writer) *TextEmitter {
	return &TextEmitter{w: w}
}

func (e *TextEmitter) OnEntry(entry Entry) error {
	ts := time.Unix(0, int64(entry.Timestamp*1e9)).UTC().Format("20060102_150405.000000")
	length := entry.Properties["len"]
	if length == "" {
		length = "0"
	}
	_, err := fmt.Fprintf(e.w, "%s %c (len%s)\t%s\t%s\n", ts, entry.Direction.Code(), length, entry.Segment, entry.IDString)
	return err
}

func (e *TextEmitter) OnSummary(orphanCount, journeyCount int) error {
	_, err := fmt.Fprintf(e.w, "# %d journeys, %d orphans\n", journeyCount, orphanCount)
	return err
}

// JSONEmitter writes one JSON object per line (newline-delimited JSON), a
// machine-readable complement to TextEmitter. It is a supplemented
// feature: the original's own TODO list calls for "a json more practical
// to use" than its pickle-based caching.
type JSONEmitter struct {
	w   io.Writer
	enc *json.Encoder
}

// NewJSONEmitter wraps w as a JSONEmitter.
func NewJSONEmitter(w io.Writer) *JSONEmitter {
	return &JSONEmitter{w: w, enc: json.NewEncoder(w)}
}

type jsonEntry struct {
	Timestamp  string            `json:"timestamp"`
	Direction  string            `json:"direction"`
	Segment    string            `json:"segment"`
	Properties map[string]string `json:"properties,omitempty"`
	IDString   string            `json:"id"`
}

func (e *JSONEmitter) OnEntry(entry Entry) error {
	return e.enc.Encode(jsonEntry{
		Timestamp:  strconv.FormatFloat(entry.Timestamp, 'f', 6, 64),
		Direction:  entry.Direction.String(),
		Segment:    entry.Segment,
		Properties: entry.Properties,
		IDString:   entry.IDString,
	})
}

type jsonSummary struct {
	Journeys int `json:"journeys"`
	Orphans  int `json:"orphans"`
}

func (e *JSONEmitter) OnSummary(orphanCount, journeyCount int) error {
	return e.enc.Encode(jsonSummary{Journeys: journeyCount, Orphans: orphanCount})
}
