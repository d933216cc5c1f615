package pgsql

import (
	"errors"
	"strings"
	"testing"
)

func TestCheckIdentifier(t *testing.T) {
	t.Parallel()

	good := []string{
		"planet_osm_point",
		"osm_id",
		"Highway",
		"way_área", // non-ASCII letters are fine, the name gets quoted
		"a1234",
		"_private",
		strings.Repeat("x", 63),
	}
	for _, name := range good {
		name := name
		t.Run("ok/"+name, func(t *testing.T) {
			t.Parallel()
			if err := CheckIdentifier(name, "table names"); err != nil {
				t.Fatalf("CheckIdentifier(%q) = %v, want nil", name, err)
			}
		})
	}

	bad := []struct {
		name    string
		in      string
		wantSub string
	}{
		{"empty", "", "Empty names are not allowed in table names."},
		{"too long", strings.Repeat("x", 64), "longer than 63 bytes"},
		{"leading digit", "1st_table", "starting with a digit"},
		{"double quote", `o"ops`, "Special characters"},
		{"single quote", "it's", "Special characters"},
		{"comma", "a,b", "Special characters"},
		{"dot", "public.points", "Special characters"},
		{"semicolon", "x;DROP", "Special characters"},
		{"dollar", "pri$e", "Special characters"},
		{"percent", "100%", "Special characters"},
		{"parens", "f(x)", "Special characters"},
		{"angle", "a<b", "Special characters"},
		{"braces", "{set}", "Special characters"},
		{"equals", "a=b", "Special characters"},
		{"question", "why?", "Special characters"},
		{"caret", "a^b", "Special characters"},
		{"star", "every*", "Special characters"},
		{"hash", "nr#1", "Special characters"},
		{"space", "my table", "Special characters"},
		{"tab", "a\tb", "Special characters"},
		{"newline", "a\nb", "Special characters"},
	}
	for _, tc := range bad {
		tc := tc
		t.Run("reject/"+tc.name, func(t *testing.T) {
			t.Parallel()
			err := CheckIdentifier(tc.in, "table names")
			if err == nil {
				t.Fatalf("CheckIdentifier(%q) passed, want error", tc.in)
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("error = %q, want substring %q", err, tc.wantSub)
			}
			var ierr *IdentifierError
			if !errors.As(err, &ierr) {
				t.Fatalf("error type = %T, want *IdentifierError", err)
			}
			if ierr.Name != tc.in || ierr.Context != "table names" {
				t.Fatalf("error detail = %+v", ierr)
			}
		})
	}
}

func TestCheckIdentifierMessage(t *testing.T) {
	t.Parallel()

	err := CheckIdentifier("bad.name", "schema field")
	want := "Special characters are not allowed in schema field: 'bad.name'."
	if err == nil || err.Error() != want {
		t.Fatalf("error = %q, want %q", err, want)
	}
}

func TestQualifiedName(t *testing.T) {
	t.Parallel()

	if got := QualifiedName("", "points"); got != `"points"` {
		t.Fatalf("QualifiedName no schema = %s", got)
	}
	if got := QualifiedName("osm", "points"); got != `"osm"."points"` {
		t.Fatalf("QualifiedName with schema = %s", got)
	}
}

func TestTablespaceClause(t *testing.T) {
	t.Parallel()

	if got := TablespaceClause(""); got != "" {
		t.Fatalf("TablespaceClause empty = %q", got)
	}
	if got := TablespaceClause("fastspace"); got != ` TABLESPACE "fastspace"` {
		t.Fatalf("TablespaceClause = %q", got)
	}
}
