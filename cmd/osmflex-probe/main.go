// Command osmflex-probe generates a starter run config by sampling an OPL
// input.
//
// This command is intended for quickly bootstrapping run configs from real
// extracts without loading the full dataset. It reads a bounded prefix of
// the input, counts objects and tag keys, and emits a config for
// cmd/osmflex: one table per object type, the most frequent tag keys as
// dedicated text columns, and a jsonb catch-all for the rest.
//
// Output modes
//
//   - Default mode: prints the JSON config to stdout.
//   - Report mode (-report): prints a tag usage report to stdout and
//     suppresses config output. This makes the command convenient for
//     interactive analysis and scripting.
//
// The generated conninfo is empty unless -conninfo is given, so operators
// can point the config at a real database without editing JSON by hand.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"osmflex/internal/probe"
)

func main() {
	var (
		// flagInput is the OPL file to sample.
		flagInput = flag.String("input", "", "OPL input file to sample")

		// flagObjects controls how many objects are sampled from the start of
		// the input. Larger values improve column selection at the cost of a
		// slightly longer probe run.
		flagObjects = flag.Int("objects", 10000, "Number of objects to sample from the start of the input")

		// flagBytes bounds the raw read, so inputs full of unparseable lines
		// still terminate quickly.
		flagBytes = flag.Int("bytes", 8<<20, "Number of bytes to read from the input at most")

		// flagPrefix names the generated tables ([prefix]_point, [prefix]_line,
		// [prefix]_relation).
		flagPrefix = flag.String("prefix", "osm", "Prefix for generated table names")

		// flagColumns caps how many tag keys become dedicated text columns per
		// table; the rest stays in the jsonb catch-all.
		flagColumns = flag.Int("columns", 8, "Dedicated tag columns per table")

		// flagConninfo is recorded into the generated config as-is.
		flagConninfo = flag.String("conninfo", "", "Connection string recorded into the generated config")

		// flagPretty controls JSON indentation for config output. Ignored in
		// report mode, because no JSON is printed.
		flagPretty = flag.Bool("pretty", true, "Pretty-print JSON output")

		// flagReport enables report mode. When true, the command prints a
		// human-readable tag usage report and suppresses JSON config output.
		flagReport = flag.Bool("report", false, "Print tag usage report (suppresses JSON output)")
	)
	flag.Parse()

	if strings.TrimSpace(*flagInput) == "" {
		fmt.Fprintln(os.Stderr, "missing -input")
		flag.Usage()
		os.Exit(2)
	}

	// Bound the probe run. Probing should be fast and predictable; if the
	// input is on slow storage we prefer to fail quickly rather than hang.
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	f, err := os.Open(*flagInput)
	if err != nil {
		log.Fatalf("probe: %v", err)
	}
	defer f.Close()

	opt := probe.Options{
		MaxObjects: *flagObjects,
		MaxBytes:   *flagBytes,
		Prefix:     *flagPrefix,
		Columns:    *flagColumns,
	}

	sum, err := probe.Sample(ctx, f, opt)
	if err != nil {
		log.Fatalf("probe: %v", err)
	}

	// Report mode: print the report and suppress JSON output. The report is
	// intended for humans and scripts as a standalone artifact; emitting
	// JSON alongside it makes the output noisy and harder to use.
	if *flagReport {
		fmt.Fprintln(os.Stdout, probe.FormatReport(sum))
		return
	}

	out := probe.GenerateConfig(sum, opt)
	if s := strings.TrimSpace(*flagConninfo); s != "" {
		out["conninfo"] = s
	}

	enc := json.NewEncoder(os.Stdout)
	if *flagPretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(out); err != nil {
		log.Fatalf("encode config: %v", err)
	}
}
