package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
		"conninfo": "postgres://osm@localhost/gis",
		"middle": {"kind": "sqlite", "path": ":memory:"},
		"tables": [
			{"name": "points", "ids": {"type": "node", "id_column": "osm_id"},
			 "columns": [{"column": "tags", "type": "jsonb"}]}
		]
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Conninfo != "postgres://osm@localhost/gis" {
		t.Fatalf("Conninfo = %q", cfg.Conninfo)
	}
	if cfg.Middle.Kind != "sqlite" || cfg.Middle.Path != ":memory:" {
		t.Fatalf("Middle = %+v", cfg.Middle)
	}
	if len(cfg.Outputs) != 1 || cfg.Outputs[0] != DefaultOutput {
		t.Fatalf("Outputs default = %v", cfg.Outputs)
	}
	if len(cfg.Tables) != 1 {
		t.Fatalf("Tables = %d", len(cfg.Tables))
	}
	// Table definitions stay dynamic for the schema compiler.
	def := cfg.Tables[0]
	if name, _ := def.Field("name").AsString(); name != "points" {
		t.Fatalf("table name = %q", name)
	}
	if typ, _ := def.Field("ids").Field("type").AsString(); typ != "node" {
		t.Fatalf("ids type = %q", typ)
	}
}

func TestLoadDefaultsMiddleToRAM(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, `{"conninfo": "x"}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Middle.Kind != "ram" {
		t.Fatalf("Middle.Kind = %q, want ram", cfg.Middle.Kind)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		body    string
		wantSub string
	}{
		{"malformed", `{`, "parse config"},
		{"unknown middle", `{"middle":{"kind":"flatnodes"}}`, "unknown middle kind"},
		{"sqlite without path", `{"middle":{"kind":"sqlite"}}`, "requires a path"},
		{"empty output", `{"outputs":[""]}`, "empty output name"},
		{"duplicate output", `{"outputs":["flex","flex"]}`, "listed twice"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatalf("Load accepted %s", tc.name)
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("error = %q, want substring %q", err, tc.wantSub)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("Load accepted missing file")
	}
}
