// Package normalize turns raw trace text lines into typed trace.Record
// values. It is the only package that ever touches the wire text format.
package normalize

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/m-lab/latrace/pkg/trace"
)

// entryRe matches one dot-separated id/property entry: an alphabetic name
// followed immediately by a numeric value, e.g. "rnti501" or "len1400".
var entryRe = regexp.MustCompile(`^([a-zA-Z]+)(\d+)$`)

// rntiUnassigned is the sentinel value emitted by the instrumentation for an
// unassigned radio network temporary identifier. Lines carrying it anywhere
// are discarded before they are split into fields.
const rntiUnassigned = "rnti65535"

// Warning describes one non-fatal problem encountered while normalizing a
// single input line. The line is always skipped in part or in full; the
// caller decides whether to surface warnings to a user.
type Warning struct {
	Line   int
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("line %d: %s", w.Line, w.Reason)
}

// ParseError is returned when an entire input yields zero valid records.
type ParseError struct {
	RawLines int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("no valid records parsed from %d input lines", e.RawLines)
}

// Stats summarizes one normalization pass, for ingest-time reporting
// ahead of reconstruction.
type Stats struct {
	RawLines     int
	ValidRecords int
	Points       []string
}

// Lines reads newline-delimited trace text from r and returns the parsed
// records, sorted by timestamp with ties broken by input order, along with
// any non-fatal warnings encountered. It returns a *ParseError if the input
// yields no valid record, whether its lines were malformed or were all
// comments, blank lines or sentinel-filtered lines.
func Lines(r io.Reader) ([]trace.Record, []Warning, error) {
	records, warnings, stats, err := scan(r)
	if err != nil {
		return nil, warnings, err
	}
	if stats.ValidRecords == 0 {
		return nil, warnings, &ParseError{RawLines: stats.RawLines}
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp < records[j].Timestamp
	})

	return records, warnings, nil
}

// LinesWithStats behaves like Lines but also returns file-level stats,
// computed regardless of whether parsing ultimately fails.
func LinesWithStats(r io.Reader) ([]trace.Record, []Warning, Stats, error) {
	records, warnings, stats, err := scan(r)
	if err != nil {
		return nil, warnings, stats, err
	}
	if stats.ValidRecords == 0 {
		return nil, warnings, stats, &ParseError{RawLines: stats.RawLines}
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp < records[j].Timestamp
	})

	return records, warnings, stats, nil
}

func scan(r io.Reader) ([]trace.Record, []Warning, Stats, error) {
	var (
		records  []trace.Record
		warnings []Warning
		stats    Stats
		seen     = map[string]struct{}{}
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		stats.RawLines++

		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		if strings.Contains(trimmed, rntiUnassigned) {
			continue
		}

		fields := strings.Fields(trimmed)
		if len(fields) < 4 {
			warnings = append(warnings, Warning{Line: lineNo, Reason: "fewer than 4 fields"})
			continue
		}

		rec, recWarnings, ok := parseRecord(fields, lineNo)
		warnings = append(warnings, recWarnings...)
		if !ok {
			continue
		}

		stats.ValidRecords++
		records = append(records, rec)

		for _, p := range []string{rec.SrcPoint, rec.DstPoint} {
			if _, dup := seen[p]; !dup {
				seen[p] = struct{}{}
				stats.Points = append(stats.Points, p)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, warnings, stats, fmt.Errorf("normalize: reading input: %w", err)
	}

	return records, warnings, stats, nil
}

// parseRecord parses the four-plus-field body of one already-filtered line.
func parseRecord(fields []string, lineNo int) (trace.Record, []Warning, bool) {
	var warnings []Warning

	ts, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		warnings = append(warnings, Warning{Line: lineNo, Reason: "unparseable timestamp " + fields[0]})
		return trace.Record{}, warnings, false
	}

	dir, err := trace.ParseDirection(fields[1])
	if err != nil {
		warnings = append(warnings, Warning{Line: lineNo, Reason: err.Error()})
		return trace.Record{}, warnings, false
	}

	src, dst, ok := strings.Cut(fields[2], "--")
	if !ok {
		warnings = append(warnings, Warning{Line: lineNo, Reason: "src--dst field missing '--' separator: " + fields[2]})
		return trace.Record{}, warnings, false
	}

	idsField := fields[3]
	sections := strings.SplitN(idsField, ":", 3)
	if len(sections) != 3 {
		warnings = append(warnings, Warning{Line: lineNo, Reason: "ids field does not have 3 colon-separated sections"})
		return trace.Record{}, warnings, false
	}

	properties, w := parseEntries(sections[0], lineNo)
	warnings = append(warnings, w...)

	globalStrs, w := parseEntries(sections[1], lineNo)
	warnings = append(warnings, w...)
	globalIDs := make(map[string]string, len(globalStrs))
	for k, v := range globalStrs {
		globalIDs[k] = v
	}

	localIDs, w := parseLocalEntries(sections[2], lineNo)
	warnings = append(warnings, w...)

	return trace.Record{
		Timestamp:  ts,
		Direction:  dir,
		SrcPoint:   src,
		DstPoint:   dst,
		Properties: properties,
		GlobalIDs:  globalIDs,
		LocalIDs:   localIDs,
	}, warnings, true
}

// parseEntries parses a dot-separated "name(digits)" section into a flat
// name->value map. Entries that fail entryRe are dropped with a warning.
func parseEntries(section string, lineNo int) (map[string]string, []Warning) {
	out := map[string]string{}
	var warnings []Warning
	if section == "" {
		return out, warnings
	}
	for _, entry := range strings.Split(section, ".") {
		m := entryRe.FindStringSubmatch(entry)
		if m == nil {
			warnings = append(warnings, Warning{Line: lineNo, Reason: "malformed id entry " + entry})
			continue
		}
		out[m[1]] = m[2]
	}
	return out, warnings
}

// parseLocalEntries behaves like parseEntries but aggregates repeated names
// into a multi-valued trace.IDValue, preserving first-seen order.
func parseLocalEntries(section string, lineNo int) (map[string]trace.IDValue, []Warning) {
	out := map[string]trace.IDValue{}
	var warnings []Warning
	if section == "" {
		return out, warnings
	}
	for _, entry := range strings.Split(section, ".") {
		m := entryRe.FindStringSubmatch(entry)
		if m == nil {
			warnings = append(warnings, Warning{Line: lineNo, Reason: "malformed id entry " + entry})
			continue
		}
		name, value := m[1], m[2]
		if existing, ok := out[name]; ok {
			existing.Values = append(existing.Values, value)
			out[name] = existing
		} else {
			out[name] = trace.NewSingleID(value)
		}
	}
	return out, warnings
}
