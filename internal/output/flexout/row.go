package flexout

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkt"

	"osmflex/internal/flex"
	"osmflex/internal/osm"
)

// buildRow fills one copy row for the table. geomOf produces the value for
// a geometry column, nil when the entity has no usable geometry for it.
// Returns ok=false when the row must be dropped because a NOT NULL geometry
// column came up empty.
func buildRow(w *tableWriter, typ osm.Type, id osm.ID, tags osm.Tags,
	geomOf func(col *flex.ColumnSchema) (any, error)) ([]any, bool, error) {

	row := make([]any, len(w.loadCols))
	for i := range w.loadCols {
		col := &w.loadCols[i]
		switch {
		case col.Type == flex.ColIDNum:
			row[i] = int64(id)
		case col.Type == flex.ColIDType:
			row[i] = typ.Discriminator()
		case col.Type.IsGeometry():
			v, err := geomOf(col)
			if err != nil {
				return nil, false, err
			}
			if v == nil && col.NotNull {
				return nil, false, nil
			}
			row[i] = v
		case col.Type == flex.ColArea:
			// Area assembly is not done here; the column stays empty.
			row[i] = nil
		default:
			row[i] = convertTag(col, tags)
		}
	}
	return row, true, nil
}

func (s *Sink) nodeRow(w *tableWriter, n *osm.Node) ([]any, bool, error) {
	return buildRow(w, osm.TypeNode, n.ID, n.Tags, func(col *flex.ColumnSchema) (any, error) {
		if col.Type != flex.ColPoint && col.Type != flex.ColGeometry {
			return nil, nil
		}
		return ewkt(col.SRID, projectPoint(col.SRID, n.Location)), nil
	})
}

func (s *Sink) wayRow(ctx context.Context, w *tableWriter, way *osm.Way) ([]any, bool, error) {
	// Node locations come from the middle cache; resolve them once even
	// when several geometry columns use them.
	var pts geom.LineString
	for i := range w.loadCols {
		if t := w.loadCols[i].Type; t == flex.ColLineString || t == flex.ColGeometry {
			resolved, err := s.wayPoints(ctx, way)
			if err != nil {
				return nil, false, err
			}
			pts = resolved
			break
		}
	}

	return buildRow(w, osm.TypeWay, way.ID, way.Tags, func(col *flex.ColumnSchema) (any, error) {
		if col.Type != flex.ColLineString && col.Type != flex.ColGeometry {
			return nil, nil
		}
		// A line needs at least two located nodes.
		if len(pts) < 2 {
			return nil, nil
		}
		line := make(geom.LineString, len(pts))
		for i, p := range pts {
			line[i] = projectPoint(col.SRID, p)
		}
		return ewkt(col.SRID, line), nil
	})
}

func (s *Sink) relationRow(w *tableWriter, r *osm.Relation) ([]any, bool, error) {
	// Relations carry no geometry of their own: member assembly into
	// multipolygons is out of scope, so geometry columns stay empty.
	return buildRow(w, osm.TypeRelation, r.ID, r.Tags, func(col *flex.ColumnSchema) (any, error) {
		return nil, nil
	})
}

// wayPoints resolves the way's node list into locations, silently skipping
// nodes missing from the cache. Partial geometry beats no geometry on
// incomplete extracts.
func (s *Sink) wayPoints(ctx context.Context, way *osm.Way) (geom.LineString, error) {
	pts := make(geom.LineString, 0, len(way.Nodes))
	for _, id := range way.Nodes {
		loc, found, err := s.mid.NodeLocation(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("way %d: resolve node %d: %w", way.ID, id, err)
		}
		if !found {
			continue
		}
		pts = append(pts, loc)
	}
	return pts, nil
}

// convertTag turns the tag matching the column name into the column's value
// type. Anything unparseable becomes NULL; the database enforces NOT NULL
// declarations.
func convertTag(col *flex.ColumnSchema, tags osm.Tags) any {
	if col.Type == flex.ColJSON || col.Type == flex.ColJSONB {
		return tagsJSON(tags)
	}

	v, ok := tags.Get(col.Name)
	if !ok {
		return nil
	}
	switch col.Type {
	case flex.ColText:
		return v
	case flex.ColBoolean:
		switch v {
		case "yes", "true", "1":
			return true
		case "no", "false", "0":
			return false
		}
		return nil
	case flex.ColInt2:
		return parseIntValue(v, math.MinInt16, math.MaxInt16)
	case flex.ColInt4:
		return parseIntValue(v, math.MinInt32, math.MaxInt32)
	case flex.ColInt8:
		return parseIntValue(v, math.MinInt64, math.MaxInt64)
	case flex.ColReal:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		return f
	case flex.ColDirection:
		switch v {
		case "yes", "true", "1":
			return int16(1)
		case "no", "false", "0":
			return int16(0)
		case "-1":
			return int16(-1)
		}
		return nil
	}
	return nil
}

func parseIntValue(v string, min, max int64) any {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < min || n > max {
		return nil
	}
	return n
}

// tagsJSON renders the full tag set as one JSON object. Repeated keys keep
// the first value, matching Tags.Get.
func tagsJSON(tags osm.Tags) any {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		if _, ok := m[t.Key]; !ok {
			m[t.Key] = t.Value
		}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return string(b)
}

const earthRadius = 6378137.0

// projectPoint moves a lon/lat point into the column's projection. Only
// 4326 (keep as is) and 3857 (spherical mercator) exist here; the sink
// constructor rejects everything else.
func projectPoint(srid int, p geom.Point) geom.Point {
	if srid != flex.SRIDWebMercator {
		return p
	}
	x := earthRadius * p[0] * math.Pi / 180.0
	y := earthRadius * math.Log(math.Tan(math.Pi/4.0+p[1]*math.Pi/360.0))
	return geom.Point{x, y}
}

// ewkt renders a geometry as EWKT with a leading SRID tag, the text form
// PostGIS accepts in COPY input.
func ewkt(srid int, g geom.Geometry) string {
	return fmt.Sprintf("SRID=%d;%s", srid, wkt.MustEncode(g))
}
