// Command osmflex imports OpenStreetMap data into PostgreSQL.
//
// It reads OPL formatted objects from -input, caches them in the configured
// middle backend, and routes every object through the output sinks named in
// the -config file. A run either starts from empty tables (create mode) or
// updates existing rows in place (-append).
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"osmflex/internal/config"
	"osmflex/internal/metrics"
	"osmflex/internal/metrics/datadog"

	// register all middle and output backends with their factories.
	// config selects which to use but we need to build in support for all of them.
	_ "osmflex/internal/middle/all"
	_ "osmflex/internal/output/all"
)

const usageLine = "usage: osmflex -config import.json -input extract.opl [-append] [-validate] [-metrics-backend none|datadog] [-v]"

// runOptions carries the per-run flags that are not part of the config file.
type runOptions struct {
	Input    string
	Validate bool
	Verbose  bool
}

// runner executes one import run. The real implementation lives in run.go;
// tests substitute a fake.
type runner interface {
	Run(ctx context.Context, cfg *config.Config, opts runOptions) error
}

// appDeps bundles the seams runMain depends on. Production wiring comes from
// defaultDeps; tests replace individual fields.
type appDeps struct {
	loadConfig  func(path string) (*config.Config, error)
	newRunner   func() runner
	initMetrics func(ctx context.Context, jobName, backendName string) (func(), error)
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig:  config.Load,
		newRunner:   func() runner { return &importRunner{} },
		initMetrics: initMetrics,
	}
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, defaultDeps()))
}

// runMain is main without the process exit, so tests can drive the CLI end
// to end. Exit codes: 0 success, 1 runtime failure, 2 usage error.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("osmflex", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath           string
		inputPath         string
		appendFlg         bool
		validate          bool
		metricsBackendFlg string
		verbose           bool
	)
	fs.StringVar(&cfgPath, "config", "", "run config JSON path")
	fs.StringVar(&inputPath, "input", "", "OPL input file")
	fs.BoolVar(&appendFlg, "append", false, "update existing tables instead of starting from empty ones")
	fs.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	fs.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend to use (none, datadog)")
	fs.BoolVar(&verbose, "v", false, "enable verbose logs")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(cfgPath) == "" {
		fmt.Fprintln(stderr, usageLine)
		return 2
	}
	// -validate compiles the config offline, so only that mode may run
	// without an input file.
	if !validate && strings.TrimSpace(inputPath) == "" {
		fmt.Fprintln(stderr, usageLine)
		return 2
	}

	cfg, err := deps.loadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "osmflex: %v\n", err)
		return 1
	}
	if appendFlg {
		cfg.Append = true
	}

	// A validate run never reports anywhere; skip metrics entirely.
	if !validate {
		cleanup, err := deps.initMetrics(ctx, "osmflex", metricsBackendFlg)
		if err != nil {
			fmt.Fprintf(stderr, "osmflex: init metrics: %v\n", err)
			return 1
		}
		defer cleanup()
	}

	r := deps.newRunner()
	if err := r.Run(ctx, cfg, runOptions{Input: inputPath, Validate: validate, Verbose: verbose}); err != nil {
		fmt.Fprintf(stderr, "osmflex: run: %v\n", err)
		return 1
	}
	if validate {
		fmt.Fprintf(stdout, "configuration valid: %s\n", cfgPath)
	}
	return 0
}

// metricsBackend is the closable surface of a flushing metrics backend.
type metricsBackend interface {
	Close() error
}

// Seams for initMetrics so tests can intercept backend construction and the
// global wiring.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	setMetricsBackend = func(b any) {
		if b == nil {
			metrics.SetBackend(nil)
			return
		}
		metrics.SetBackend(b.(metrics.Backend))
	}
	logPrintf = log.Printf
)

// initMetrics wires the named metrics backend into the metrics package and
// returns a cleanup that flushes and detaches it. The cleanup is always
// non-nil, also on error. An empty name falls back to the METRICS_BACKEND
// environment variable.
func initMetrics(ctx context.Context, jobName, backendName string) (func(), error) {
	name := strings.ToLower(strings.TrimSpace(backendName))
	if name == "" {
		name = strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_BACKEND")))
	}
	switch name {
	case "", "none", "noop":
		// metrics disabled; the nop backend remains
		return func() {}, nil

	case "datadog", "dd":
		// The backend buffers and submits periodically, plus one final
		// submit from Close. Long imports show up as an actual series
		// instead of a single spike at the end.
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName: jobName,
			Tags:    datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
		})
		if err != nil {
			return func() {}, err
		}
		setMetricsBackend(b)
		return func() {
			setMetricsBackend(nil)
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil

	default:
		return func() {}, fmt.Errorf("unknown metrics backend %q (want none|datadog)", backendName)
	}
}
