// Package probe implements OPL sampling, tag usage inference, and starter
// run-config generation.
//
// The probe package is responsible for:
//   - Reading a bounded sample of an OPL input
//   - Counting objects and tag keys per object type
//   - Selecting the tag keys worth a dedicated column
//   - Generating a run config for cmd/osmflex
//
// Design constraints:
//   - Sampling must be bounded in memory and time.
//   - All inference is best-effort and must never fail the probe run.
//   - Generated configs must be safe defaults and easy to refine manually.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"osmflex/internal/osm"
	"osmflex/internal/parser/opl"
	"osmflex/internal/pgsql"
)

const (
	// defaultMaxObjects bounds the sample when Options.MaxObjects is zero.
	defaultMaxObjects = 10000

	// defaultMaxBytes bounds the raw input read when Options.MaxBytes is
	// zero, so an input of mostly unparseable lines still terminates.
	defaultMaxBytes = 8 << 20

	// defaultColumns is the per-table cap on dedicated tag columns.
	defaultColumns = 8

	// distinctCapPerKey bounds the per-key distinct value sets. Once a key
	// reaches the cap its set is dropped to bound memory.
	distinctCapPerKey = 100

	// reportTopKeys caps how many keys the report prints per object type.
	reportTopKeys = 15
)

// Options control the sampling and generation behavior.
type Options struct {
	// MaxObjects to sample from the start of the input.
	MaxObjects int

	// MaxBytes to read from the input at most.
	MaxBytes int

	// Prefix is used for generated table names. Defaults to "osm"; a prefix
	// that would produce invalid table names falls back to the default.
	Prefix string

	// Columns caps how many tag keys become dedicated text columns per
	// table.
	Columns int
}

// KeyStat summarizes one tag key within one object type.
type KeyStat struct {
	// Objects counts sampled objects of the type carrying the key.
	Objects int

	// Distinct holds a bounded distinct count of the key's values.
	Distinct int

	// Capped indicates that distinct counting was capped for this key.
	Capped bool
}

// Summary is the result of sampling an OPL input.
type Summary struct {
	// Sampled is the number of objects examined.
	Sampled int

	// Truncated reports that MaxObjects was reached before the input ended.
	Truncated bool

	// BadLines counts lines the parser rejected. They are skipped, never
	// fatal.
	BadLines int

	// Kinds counts sampled objects per object type.
	Kinds map[osm.Type]int

	// Keys holds per-type tag key statistics.
	Keys map[osm.Type]map[string]*KeyStat
}

// Sample reads a bounded sample from r and summarizes object and tag usage.
//
// The input is read through the OPL stream parser, so the sample sees
// exactly what an import run would see. Malformed lines are counted and
// skipped.
func Sample(ctx context.Context, r io.Reader, opt Options) (*Summary, error) {
	maxObjects := opt.MaxObjects
	if maxObjects <= 0 {
		maxObjects = defaultMaxObjects
	}
	maxBytes := opt.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	sum := &Summary{
		Kinds: make(map[osm.Type]int, 3),
		Keys: map[osm.Type]map[string]*KeyStat{
			osm.TypeNode:     {},
			osm.TypeWay:      {},
			osm.TypeRelation: {},
		},
	}

	// sets holds distinct values per key until the cap is reached. Once
	// capped, the set is dropped and only the flag remains.
	sets := map[osm.Type]map[string]map[string]struct{}{
		osm.TypeNode:     {},
		osm.TypeWay:      {},
		osm.TypeRelation: {},
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	changes := make(chan opl.Change, 64)
	errCh := make(chan error, 1)
	go func() {
		defer close(changes)
		errCh <- opl.Stream(ctx, io.LimitReader(r, int64(maxBytes)), false, changes, func(int, error) {
			sum.BadLines++
		})
	}()

	for c := range changes {
		t := c.Type()
		sum.Sampled++
		sum.Kinds[t]++

		stats := sum.Keys[t]
		for _, tag := range changeTags(c) {
			stat := stats[tag.Key]
			if stat == nil {
				stat = &KeyStat{}
				stats[tag.Key] = stat
				sets[t][tag.Key] = make(map[string]struct{})
			}
			stat.Objects++

			if stat.Capped {
				continue
			}
			set := sets[t][tag.Key]
			set[tag.Value] = struct{}{}
			if len(set) >= distinctCapPerKey {
				stat.Capped = true
				delete(sets[t], tag.Key)
			}
		}

		if sum.Sampled >= maxObjects {
			sum.Truncated = true
			cancel()
			break
		}
	}

	if err := <-errCh; err != nil {
		if !sum.Truncated || !errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("sample: %w", err)
		}
	}

	// Finalize distinct counts, respecting caps.
	for t, stats := range sum.Keys {
		for key, stat := range stats {
			if stat.Capped {
				stat.Distinct = distinctCapPerKey
				continue
			}
			stat.Distinct = len(sets[t][key])
		}
	}
	return sum, nil
}

func changeTags(c opl.Change) osm.Tags {
	switch {
	case c.Node != nil:
		return c.Node.Tags
	case c.Way != nil:
		return c.Way.Tags
	case c.Relation != nil:
		return c.Relation.Tags
	}
	return nil
}

// SelectColumns picks the tag keys of one object type that deserve a
// dedicated column, most frequent first.
//
// Selection rules:
//   - Keys that are not valid column identifiers stay in the jsonb
//     catch-all and are never selected.
//   - Keys colliding with generated column names are excluded.
//   - Selection is capped at limit (or the package default when limit <= 0).
//
// The returned slice is deterministic and stable across runs.
func SelectColumns(stats map[string]*KeyStat, limit int) []string {
	if limit <= 0 {
		limit = defaultColumns
	}

	type cand struct {
		key     string
		objects int
	}

	cands := make([]cand, 0, len(stats))
	for key, stat := range stats {
		if stat.Objects <= 0 {
			continue
		}
		if key == "tags" || key == "geom" || strings.HasSuffix(key, "_id") {
			continue
		}
		if pgsql.CheckIdentifier(key, "column names") != nil {
			continue
		}
		cands = append(cands, cand{key: key, objects: stat.Objects})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].objects == cands[j].objects {
			return cands[i].key < cands[j].key
		}
		return cands[i].objects > cands[j].objects
	})

	out := make([]string, 0, limit)
	for _, c := range cands {
		out = append(out, c.key)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// GenerateConfig builds a starter run config from a sample summary. The
// result marshals to the JSON shape cmd/osmflex loads with -config.
//
// One table is generated per object type seen in the sample: selected tag
// keys become text columns, everything else lands in a jsonb catch-all, and
// node and way tables get a geometry column. conninfo is left empty for the
// operator to fill in.
func GenerateConfig(sum *Summary, opt Options) map[string]any {
	prefix := opt.Prefix
	if prefix == "" || pgsql.CheckIdentifier(prefix+"_point", "table names") != nil {
		prefix = "osm"
	}

	tables := make([]any, 0, 3)
	if sum.Kinds[osm.TypeNode] > 0 {
		tables = append(tables, tableDef(
			prefix+"_point", "node", "node_id",
			SelectColumns(sum.Keys[osm.TypeNode], opt.Columns), "point"))
	}
	if sum.Kinds[osm.TypeWay] > 0 {
		tables = append(tables, tableDef(
			prefix+"_line", "way", "way_id",
			SelectColumns(sum.Keys[osm.TypeWay], opt.Columns), "linestring"))
	}
	if sum.Kinds[osm.TypeRelation] > 0 {
		tables = append(tables, tableDef(
			prefix+"_relation", "relation", "relation_id",
			SelectColumns(sum.Keys[osm.TypeRelation], opt.Columns), ""))
	}

	return map[string]any{
		"conninfo": "",
		"middle":   map[string]any{"kind": "ram"},
		"outputs":  []any{"flex"},
		"tables":   tables,
	}
}

func tableDef(name, idType, idColumn string, keys []string, geomType string) map[string]any {
	cols := make([]any, 0, len(keys)+2)
	for _, k := range keys {
		cols = append(cols, map[string]any{"column": k, "type": "text"})
	}
	cols = append(cols, map[string]any{"column": "tags", "type": "jsonb"})
	if geomType != "" {
		cols = append(cols, map[string]any{"column": "geom", "type": geomType})
	}
	return map[string]any{
		"name":    name,
		"ids":     map[string]any{"type": idType, "id_column": idColumn},
		"columns": cols,
	}
}

// FormatReport renders a per-type tag usage summary for human eyes. The
// share column is relative to the objects of that type.
func FormatReport(sum *Summary) string {
	if sum.Sampled <= 0 {
		return "tag report: no objects sampled"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "tag report:\tsampled_objects=%d", sum.Sampled)
	if sum.Truncated {
		b.WriteString(" (truncated)")
	}
	if sum.BadLines > 0 {
		fmt.Fprintf(&b, "\tbad_lines=%d", sum.BadLines)
	}
	b.WriteByte('\n')

	for _, t := range []osm.Type{osm.TypeNode, osm.TypeWay, osm.TypeRelation} {
		total := sum.Kinds[t]
		if total == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s\t%d objects\t%d keys\n", t, total, len(sum.Keys[t]))

		type row struct {
			Key  string
			Stat *KeyStat
		}
		rows := make([]row, 0, len(sum.Keys[t]))
		for key, stat := range sum.Keys[t] {
			rows = append(rows, row{Key: key, Stat: stat})
		}
		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].Stat.Objects == rows[j].Stat.Objects {
				return rows[i].Key < rows[j].Key
			}
			return rows[i].Stat.Objects > rows[j].Stat.Objects
		})

		fmt.Fprintf(&b, "  %-20s\t%-7s\t%-7s\tshare\tcapped\n", "key", "objects", "unique")
		for i, r := range rows {
			if i >= reportTopKeys {
				fmt.Fprintf(&b, "  (+%d more keys)\n", len(rows)-reportTopKeys)
				break
			}
			share := float64(r.Stat.Objects) / float64(total)
			fmt.Fprintf(
				&b,
				"  %-20s\t%-7d\t%-7d\t%.1f%%\t%t\n",
				r.Key,
				r.Stat.Objects,
				r.Stat.Distinct,
				share*100,
				r.Stat.Capped,
			)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
