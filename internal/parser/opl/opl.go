// Package opl parses the OPL text format, one object per line:
//
//	n17 v3 dV c456 t2020-01-01T00:00:00Z uAlice Tamenity=bench x13.4 y52.5
//	w8 v1 dV Thighway=primary Nn1,n2,n3
//	r2 v1 dV Ttype=route Mw8@outer,n17@stop
//
// Every field starts with a one-letter key: the lead field carries the
// object type and id (n/w/r), then v version, d V|D visible/deleted,
// c changeset, t timestamp, i uid, u user, T tags (k=v, comma separated),
// x/y lon/lat, N way node refs, M relation members (type-id@role). Values
// carry %-escapes of the form %<hex codepoint>% for separator characters.
package opl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-spatial/geom"

	"osmflex/internal/osm"
)

// Op classifies what a change does to its object.
type Op uint8

const (
	OpCreate Op = iota
	OpModify
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Change is one parsed object plus the operation to apply to it. Exactly one
// of Node, Way, Relation is set.
type Change struct {
	Op       Op
	Node     *osm.Node
	Way      *osm.Way
	Relation *osm.Relation
}

// Type returns the object kind of the change.
func (c Change) Type() osm.Type {
	switch {
	case c.Node != nil:
		return osm.TypeNode
	case c.Way != nil:
		return osm.TypeWay
	case c.Relation != nil:
		return osm.TypeRelation
	default:
		return osm.TypeAny
	}
}

// ID returns the object id of the change.
func (c Change) ID() osm.ID {
	switch {
	case c.Node != nil:
		return c.Node.ID
	case c.Way != nil:
		return c.Way.ID
	case c.Relation != nil:
		return c.Relation.ID
	default:
		return 0
	}
}

// Ways routinely carry 2000 refs; give the scanner room for long lines.
const maxLineBytes = 1 << 20

// Stream parses OPL from r and sends one Change per line into out.
//
// Operation derivation: a dD line is always a delete; a visible line is a
// modify when update is true (append run against existing data) and a
// create otherwise (fresh import).
//
// Errors:
//   - A malformed line is reported through onParseErr with its 1-based line
//     number and skipped; parsing continues.
//   - Read errors and ctx cancellation abort the stream and are returned.
func Stream(ctx context.Context, r io.Reader, update bool, out chan<- Change, onParseErr func(line int, err error)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if text == "" {
			continue
		}

		ch, err := parseLine(text, update)
		if err != nil {
			if onParseErr != nil {
				onParseErr(line, err)
			}
			continue
		}

		select {
		case out <- ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("opl: read line %d: %w", line+1, err)
	}
	return nil
}

func parseLine(s string, update bool) (Change, error) {
	fields := strings.Split(s, " ")

	lead := fields[0]
	if len(lead) < 2 {
		return Change{}, fmt.Errorf("opl: missing object lead field in %q", s)
	}
	id, err := strconv.ParseInt(lead[1:], 10, 64)
	if err != nil {
		return Change{}, fmt.Errorf("opl: bad object id %q: %w", lead, err)
	}

	var (
		meta     osm.Metadata
		tags     osm.Tags
		deleted  bool
		lon, lat float64
		hasLon   bool
		hasLat   bool
		refs     []osm.ID
		members  []osm.Member
	)

	for _, f := range fields[1:] {
		if f == "" {
			continue
		}
		val := f[1:]

		switch f[0] {
		case 'v':
			v, err := strconv.ParseInt(val, 10, 32)
			if err != nil {
				return Change{}, fmt.Errorf("opl: bad version %q: %w", val, err)
			}
			meta.Version = int32(v)

		case 'd':
			switch val {
			case "V":
				deleted = false
			case "D":
				deleted = true
			default:
				return Change{}, fmt.Errorf("opl: bad deleted flag %q (want V or D)", val)
			}

		case 'c':
			cs, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return Change{}, fmt.Errorf("opl: bad changeset %q: %w", val, err)
			}
			meta.Changeset = cs

		case 't':
			if val == "" {
				break
			}
			ts, err := time.Parse(time.RFC3339, val)
			if err != nil {
				return Change{}, fmt.Errorf("opl: bad timestamp %q: %w", val, err)
			}
			meta.Timestamp = ts.Unix()

		case 'i':
			// uid; the entity model does not keep it.

		case 'u':
			u, err := unescape(val)
			if err != nil {
				return Change{}, err
			}
			meta.User = u

		case 'T':
			tags, err = parseTags(val)
			if err != nil {
				return Change{}, err
			}

		case 'x':
			lon, err = strconv.ParseFloat(val, 64)
			if err != nil {
				return Change{}, fmt.Errorf("opl: bad longitude %q: %w", val, err)
			}
			hasLon = true

		case 'y':
			lat, err = strconv.ParseFloat(val, 64)
			if err != nil {
				return Change{}, fmt.Errorf("opl: bad latitude %q: %w", val, err)
			}
			hasLat = true

		case 'N':
			refs, err = parseRefs(val)
			if err != nil {
				return Change{}, err
			}

		case 'M':
			members, err = parseMembers(val)
			if err != nil {
				return Change{}, err
			}

		default:
			return Change{}, fmt.Errorf("opl: unknown field %q", f)
		}
	}

	op := deriveOp(update, deleted)
	ch := Change{Op: op}

	switch lead[0] {
	case 'n':
		if !deleted && (!hasLon || !hasLat) {
			return Change{}, fmt.Errorf("opl: node %d is missing x/y", id)
		}
		ch.Node = &osm.Node{ID: osm.ID(id), Tags: tags, Meta: meta, Location: geom.Point{lon, lat}}

	case 'w':
		ch.Way = &osm.Way{ID: osm.ID(id), Tags: tags, Meta: meta, Nodes: refs}

	case 'r':
		ch.Relation = &osm.Relation{ID: osm.ID(id), Tags: tags, Meta: meta, Members: members}

	default:
		return Change{}, fmt.Errorf("opl: unknown object type in %q", lead)
	}

	return ch, nil
}

func deriveOp(update, deleted bool) Op {
	if deleted {
		return OpDelete
	}
	if update {
		return OpModify
	}
	return OpCreate
}

func parseTags(val string) (osm.Tags, error) {
	if val == "" {
		return nil, nil
	}
	parts := strings.Split(val, ",")
	tags := make(osm.Tags, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		eq := strings.IndexByte(p, '=')
		if eq < 0 {
			return nil, fmt.Errorf("opl: tag %q has no '='", p)
		}
		k, err := unescape(p[:eq])
		if err != nil {
			return nil, err
		}
		v, err := unescape(p[eq+1:])
		if err != nil {
			return nil, err
		}
		tags = append(tags, osm.Tag{Key: k, Value: v})
	}
	return tags, nil
}

func parseRefs(val string) ([]osm.ID, error) {
	if val == "" {
		return nil, nil
	}
	parts := strings.Split(val, ",")
	refs := make([]osm.ID, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if p[0] != 'n' {
			return nil, fmt.Errorf("opl: way node ref %q does not start with 'n'", p)
		}
		id, err := strconv.ParseInt(p[1:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("opl: bad way node ref %q: %w", p, err)
		}
		refs = append(refs, osm.ID(id))
	}
	return refs, nil
}

func parseMembers(val string) ([]osm.Member, error) {
	if val == "" {
		return nil, nil
	}
	parts := strings.Split(val, ",")
	members := make([]osm.Member, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}

		var typ osm.Type
		switch p[0] {
		case 'n':
			typ = osm.TypeNode
		case 'w':
			typ = osm.TypeWay
		case 'r':
			typ = osm.TypeRelation
		default:
			return nil, fmt.Errorf("opl: member %q has unknown type", p)
		}

		at := strings.IndexByte(p, '@')
		if at < 1 {
			return nil, fmt.Errorf("opl: member %q has no role separator", p)
		}
		id, err := strconv.ParseInt(p[1:at], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("opl: bad member id in %q: %w", p, err)
		}
		role, err := unescape(p[at+1:])
		if err != nil {
			return nil, err
		}

		members = append(members, osm.Member{Type: typ, Ref: osm.ID(id), Role: role})
	}
	return members, nil
}

// unescape decodes %<hex codepoint>% escapes, e.g. "%20%" into a space.
func unescape(s string) (string, error) {
	if !strings.ContainsRune(s, '%') {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		c := s[i]
		if c != '%' {
			b.WriteByte(c)
			i++
			continue
		}
		end := strings.IndexByte(s[i+1:], '%')
		if end < 0 {
			return "", fmt.Errorf("opl: unterminated escape in %q", s)
		}
		hex := s[i+1 : i+1+end]
		if hex == "" {
			return "", fmt.Errorf("opl: empty escape in %q", s)
		}
		cp, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return "", fmt.Errorf("opl: bad escape %%%s%% in %q", hex, s)
		}
		b.WriteRune(rune(cp))
		i += end + 2
	}
	return b.String(), nil
}
