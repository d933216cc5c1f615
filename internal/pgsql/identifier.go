// Package pgsql holds the PostgreSQL-facing plumbing shared by the schema
// compiler and the output sinks: identifier checking and quoting, the
// capability snapshot (which schemas and tablespaces exist on the target),
// and the minimal command interface the sinks need from a connection pool.
package pgsql

import (
	"fmt"
	"strings"
	"unicode"
)

// specialChars are rejected in identifiers even though quoting would make
// most of them legal. Keeping them out avoids quoting bugs in every piece
// of generated SQL downstream.
const specialChars = "\"',.;$%&/()<>{}=?^*#"

// maxIdentifierLen is NAMEDATALEN-1; PostgreSQL truncates longer names,
// which would silently break name-based lookups.
const maxIdentifierLen = 63

// IdentifierError reports a name that cannot be used as a database
// identifier. Context describes what kind of name was checked, e.g.
// "table names" or "schema field".
type IdentifierError struct {
	Name    string
	Context string
	msg     string
}

func (e *IdentifierError) Error() string { return e.msg }

func identErr(name, context, format string, args ...any) *IdentifierError {
	return &IdentifierError{
		Name:    name,
		Context: context,
		msg:     fmt.Sprintf(format, args...),
	}
}

// CheckIdentifier validates a user-supplied name before it is embedded in
// generated SQL. Quoting handles the rest; this check only has to keep out
// names that stay dangerous or ambiguous even when quoted.
//
// Errors: *IdentifierError describing the first violation found.
func CheckIdentifier(name, context string) error {
	if name == "" {
		return identErr(name, context, "Empty names are not allowed in %s.", context)
	}
	if len(name) > maxIdentifierLen {
		return identErr(name, context,
			"Names longer than %d bytes are not allowed in %s: '%s'.",
			maxIdentifierLen, context, name)
	}
	if name[0] >= '0' && name[0] <= '9' {
		return identErr(name, context,
			"Names starting with a digit are not allowed in %s: '%s'.",
			context, name)
	}
	for _, r := range name {
		if strings.ContainsRune(specialChars, r) || unicode.IsSpace(r) || unicode.IsControl(r) {
			return identErr(name, context,
				"Special characters are not allowed in %s: '%s'.", context, name)
		}
	}
	return nil
}

// QuoteIdent wraps a name in double quotes. The name must already have
// passed CheckIdentifier; embedded quotes are not escaped here.
func QuoteIdent(name string) string {
	return `"` + name + `"`
}

// QualifiedName renders an optionally schema-qualified, quoted table name
// for use in SQL text.
func QualifiedName(schema, name string) string {
	if schema == "" {
		return QuoteIdent(name)
	}
	return QuoteIdent(schema) + "." + QuoteIdent(name)
}

// TablespaceClause renders the TABLESPACE part of a CREATE statement, or ""
// when no tablespace is set.
func TablespaceClause(name string) string {
	if name == "" {
		return ""
	}
	return ` TABLESPACE "` + name + `"`
}
