// Command latrace reconstructs per-packet journeys from a LATSEQ-style
// trace log: it normalizes raw lines, builds the measurement-point
// topology, reconstructs journeys, and emits a flat, timestamp-sorted
// listing plus summary statistics.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/m-lab/go/rtx"

	charmlog "github.com/charmbracelet/log"

	"github.com/m-lab/latrace/internal/cache"
	"github.com/m-lab/latrace/internal/metrics"
	"github.com/m-lab/latrace/internal/normalize"
	"github.com/m-lab/latrace/pkg/config"
	"github.com/m-lab/latrace/pkg/journey"
	"github.com/m-lab/latrace/pkg/output"
	"github.com/m-lab/latrace/pkg/stats"
	"github.com/m-lab/latrace/pkg/topology"
	"github.com/m-lab/latrace/pkg/trace"
	"github.com/m-lab/latrace/pkg/version"
)

var (
	flagIn        = flag.String("in", "", "Input trace file (required)")
	flagOut       = flag.String("out", "", "Output file (default: stdout)")
	flagConfig    = flag.String("config", "", "Optional YAML config file")
	flagJSON      = flag.Bool("json", false, "Emit newline-delimited JSON instead of the text wire format")
	flagForward   = flag.Int("forward-depth", 0, "Forward search window, in records (0: use config/default)")
	flagFork      = flag.Int("fork-depth", 0, "Fork search window, in records (0: use config/default)")
	flagNoCache   = flag.Bool("no-cache", false, "Disable the on-disk reconstruction cache")
	flagCacheDir  = flag.String("cache-dir", "", "Cache directory (empty: use config/default)")
	flagListPaths = flag.Bool("list-paths", false, "Print the resolved source->sink topology and exit")
	flagRunID     = flag.String("run-id", uuid.NewString(), "Identifier for this run, used only in log lines")
	flagVersion   = flag.Bool("version", false, "Print the build version and exit")

	flagSourceDownlink = sourceSinkFlag{}
	flagSinkDownlink   = sourceSinkFlag{}
	flagSourceUplink   = sourceSinkFlag{}
	flagSinkUplink     = sourceSinkFlag{}
)

func init() {
	flag.Var(&flagSourceDownlink, "source-downlink", "Downlink source point (repeatable)")
	flag.Var(&flagSinkDownlink, "sink-downlink", "Downlink sink point (repeatable)")
	flag.Var(&flagSourceUplink, "source-uplink", "Uplink source point (repeatable)")
	flag.Var(&flagSinkUplink, "sink-uplink", "Uplink sink point (repeatable)")
}

// sourceSinkFlag is a repeatable string flag.Value, in the shape of
// flagx.FileBytesArray: Set appends rather than replaces, so the flag can
// be passed more than once on one command line.
type sourceSinkFlag []string

func (f *sourceSinkFlag) String() string {
	if f == nil {
		return ""
	}
	return fmt.Sprint([]string(*f))
}

func (f *sourceSinkFlag) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func main() {
	flag.Parse()

	if *flagVersion {
		fmt.Printf("latrace %s (%s)\n", version.Version, version.GitCommit)
		return
	}

	log := charmlog.NewWithOptions(os.Stderr, charmlog.Options{Prefix: "latrace"})
	log = log.With("run_id", *flagRunID, "version", version.Version)

	if *flagIn == "" {
		log.Fatal("missing required -in flag")
	}

	overrides := config.Config{
		SourcesDownlink: []string(flagSourceDownlink),
		SinksDownlink:   []string(flagSinkDownlink),
		SourcesUplink:   []string(flagSourceUplink),
		SinksUplink:     []string(flagSinkUplink),
		ForwardDepth:    *flagForward,
		ForkDepth:       *flagFork,
		InputPath:       *flagIn,
		OutputPath:      *flagOut,
		JSON:            *flagJSON,
		CacheDir:        *flagCacheDir,
		CacheDisabled:   *flagNoCache,
	}

	cfg, err := config.Load(*flagConfig, overrides)
	rtx.Must(err, "failed to load configuration")

	records, topo, result, err := reconstruct(log, cfg)
	rtx.Must(err, "reconstruction failed")

	if *flagListPaths {
		fmt.Println(topo.String())
		return
	}

	out := os.Stdout
	if cfg.OutputPath != "" {
		out, err = os.Create(cfg.OutputPath)
		rtx.Must(err, "failed to create output file %s", cfg.OutputPath)
		defer out.Close()
	}

	var emitter output.Emitter
	if cfg.JSON {
		emitter = output.NewJSONEmitter(out)
	} else {
		emitter = output.NewTextEmitter(out)
	}

	entries := output.Shape(records, result.Journeys)
	for _, e := range entries {
		rtx.Must(emitter.OnEntry(e), "failed writing output entry")
	}
	rtx.Must(emitter.OnSummary(result.OrphanCount, len(result.Journeys)), "failed writing output summary")

	latencies := stats.JourneyLatencies(result.Journeys)
	summary := stats.Summarize(latencies)
	log.Info("latency summary", "n", summary.Size, "mean_ms", summary.Mean, "stdev_ms", summary.Stdev,
		"p50_ms", summary.Quantiles[2], "p90_ms", summary.Quantiles[4])

	snap := metrics.Read()
	log.Info("run complete", "journeys", len(result.Journeys), "orphans", result.OrphanCount,
		"parse_warnings", snap.ParseWarnings, "forks", snap.ForksMaterialized, "abandoned", snap.JourneysAbandoned,
		"build", version.Version, "commit", version.GitCommit)
}

// reconstruct runs the normalize -> topology -> reconstruct pipeline,
// serving a cached result when one exists and the cache is enabled.
func reconstruct(log *charmlog.Logger, cfg config.Config) ([]trace.Record, *topology.Topology, journey.Result, error) {
	var cacheKey, cachePath string
	if !cfg.CacheDisabled {
		var err error
		cacheKey, err = cache.Key(cfg.InputPath, cfg)
		if err == nil {
			cachePath = cache.Path(cfg.CacheDir, cacheKey)
			if entry, err := cache.Load(cachePath); err == nil {
				log.Info("cache hit", "path", cachePath)
				topo, terr := topology.Build(entry.Records, cfg.Topology())
				if terr == nil {
					journeys := make([]*journey.Journey, len(entry.Journeys))
					for i := range entry.Journeys {
						journeys[i] = &entry.Journeys[i]
					}
					return entry.Records, topo, journey.Result{Journeys: journeys, OrphanCount: entry.OrphanCount}, nil
				}
			}
		} else {
			log.Warn("cache key unavailable", "reason", err)
		}
	}

	fp, err := os.Open(cfg.InputPath)
	if err != nil {
		return nil, nil, journey.Result{}, fmt.Errorf("opening input %s: %w", cfg.InputPath, err)
	}
	defer fp.Close()

	records, warnings, err := normalize.Lines(fp)
	if err != nil {
		return nil, nil, journey.Result{}, err
	}
	for _, w := range warnings {
		metrics.ParseWarnings.Inc()
		log.Debug("parse warning", "detail", w.String())
	}

	topo, err := topology.Build(records, cfg.Topology())
	if err != nil {
		return nil, nil, journey.Result{}, err
	}

	result := journey.Reconstruct(records, topo, cfg.Journey())
	metrics.OrphanRecords.Add(float64(result.OrphanCount))
	metrics.JourneysAbandoned.Add(float64(result.AbandonedCount))
	metrics.ForksMaterialized.Add(float64(result.ForksMaterialized))
	for _, j := range result.Journeys {
		metrics.JourneysCompleted.WithLabelValues(j.Direction.String()).Inc()
	}

	if !cfg.CacheDisabled && cachePath != "" {
		if err := cache.Save(cachePath, cache.NewEntry(records, topo, result)); err != nil {
			log.Warn("cache save failed", "reason", err)
		}
	}

	return records, topo, result, nil
}
