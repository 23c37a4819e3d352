// Package cache persists a fully reconstructed run to disk, keyed by a
// hash of the input file's identity and the configuration that produced
// it, so a repeat run against unchanged input can skip reprocessing.
//
// This is a boundary collaborator, not part of the core's contract: the
// core never reads or writes a cache itself.
package cache

import (
	"compress/gzip"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/m-lab/latrace/pkg/config"
	"github.com/m-lab/latrace/pkg/journey"
	"github.com/m-lab/latrace/pkg/topology"
	"github.com/m-lab/latrace/pkg/trace"
)

// version is bumped whenever the on-disk layout changes; a cache file
// written by a different version is treated as a miss, never as corrupt.
const version = uint8(1)

// Entry is the full reconstructed state worth skipping recomputation for.
type Entry struct {
	Records     []trace.Record
	Topology    TopologySnapshot
	Journeys    []journey.Journey
	OrphanCount int
}

// TopologySnapshot is the gob-serializable subset of topology.Topology;
// the reconstructor only needs the source/sink/path data back, not the
// Point graph (which is cheap to rebuild from Records and isn't needed to
// skip the reconstruction pass itself).
type TopologySnapshot struct {
	Sources map[trace.Direction][]string
	Sinks   map[trace.Direction][]string
	Paths   map[trace.Direction][][]string
}

func snapshotTopology(t *topology.Topology) TopologySnapshot {
	return TopologySnapshot{Sources: t.Sources, Sinks: t.Sinks, Paths: t.Paths}
}

// Key derives a cache filename from the input path, its modification
// time, and the reconstruction parameters that affect output: any change
// to any of these invalidates the cache by producing a different key.
func Key(inputPath string, cfg config.Config) (string, error) {
	info, err := os.Stat(inputPath)
	if err != nil {
		return "", fmt.Errorf("cache: stat %s: %w", inputPath, err)
	}
	h := sha256.New()
	fmt.Fprintf(h, "v%d|%s|%d|%d|%v|%v|%v|%v|%d|%d",
		version, inputPath, info.Size(), info.ModTime().UnixNano(),
		cfg.SourcesDownlink, cfg.SinksDownlink, cfg.SourcesUplink, cfg.SinksUplink,
		cfg.ForwardDepth, cfg.ForkDepth)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Path returns the on-disk path for a given cache key under dir.
func Path(dir, key string) string {
	return filepath.Join(dir, key+".latrace.gz")
}

// Load reads and decodes a cache entry. A missing file or version mismatch
// is reported as a plain "not found" condition via os.IsNotExist or a
// wrapped error; callers should treat either as a cache miss, not a fatal
// error.
func Load(path string) (*Entry, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	gz, err := gzip.NewReader(fp)
	if err != nil {
		return nil, fmt.Errorf("cache: opening gzip stream: %w", err)
	}
	defer gz.Close()

	var fileVersion uint8
	if err := readByte(gz, &fileVersion); err != nil {
		return nil, fmt.Errorf("cache: reading version: %w", err)
	}
	if fileVersion != version {
		return nil, fmt.Errorf("cache: version mismatch: file is v%d, want v%d", fileVersion, version)
	}

	var entry Entry
	if err := gob.NewDecoder(gz).Decode(&entry); err != nil {
		return nil, fmt.Errorf("cache: decoding: %w", err)
	}
	return &entry, nil
}

// Save writes a cache entry, creating dir if needed.
func Save(path string, entry Entry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cache: creating directory: %w", err)
	}
	fp, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cache: creating %s: %w", path, err)
	}
	defer fp.Close()

	gz, err := gzip.NewWriterLevel(fp, gzip.BestSpeed)
	if err != nil {
		return fmt.Errorf("cache: creating gzip writer: %w", err)
	}
	defer gz.Close()

	if _, err := gz.Write([]byte{version}); err != nil {
		return fmt.Errorf("cache: writing version: %w", err)
	}
	if err := gob.NewEncoder(gz).Encode(entry); err != nil {
		return fmt.Errorf("cache: encoding: %w", err)
	}
	return nil
}

// NewEntry assembles a cache Entry from a completed reconstruction pass.
func NewEntry(records []trace.Record, topo *topology.Topology, result journey.Result) Entry {
	journeys := make([]journey.Journey, len(result.Journeys))
	for i, j := range result.Journeys {
		journeys[i] = *j
	}
	return Entry{
		Records:     records,
		Topology:    snapshotTopology(topo),
		Journeys:    journeys,
		OrphanCount: result.OrphanCount,
	}
}

func readByte(r io.Reader, out *uint8) error {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	*out = buf[0]
	return nil
}
