package station

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-fleetmap/internal/geo"
	"github.com/joeblew999/plat-fleetmap/internal/logging"
)

// ErrInvalidFeature marks a GeoJSON feature that is not a station.
var ErrInvalidFeature = errors.New("invalid station feature")

// LoadGeoJSON reads a FeatureCollection of Point features. The station id
// comes from the feature id or an "id" property, the name from "name".
// Features with out-of-range coordinates are skipped, like rows in
// LoadDuckDB; any other malformed feature rejects the file.
func LoadGeoJSON(r io.Reader) ([]Station, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read stations: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse stations: %w", err)
	}

	out := make([]Station, 0, len(fc.Features))
	for i, f := range fc.Features {
		p, ok := f.Geometry.(orb.Point)
		if !ok {
			return nil, fmt.Errorf("feature %d: %w: geometry %T is not a point", i, ErrInvalidFeature, f.Geometry)
		}
		id, ok := featureID(f)
		if !ok {
			return nil, fmt.Errorf("feature %d: %w: missing numeric id", i, ErrInvalidFeature)
		}
		if !geo.Valid(p) {
			skipInvalid(id, p)
			continue
		}
		out = append(out, Station{ID: id, Name: f.Properties.MustString("name", ""), Coordinates: p})
	}
	return out, nil
}

func featureID(f *geojson.Feature) (int, bool) {
	switch v := f.ID.(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	if v, ok := f.Properties["id"].(float64); ok {
		return int(v), true
	}
	return 0, false
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// LoadDuckDB reads stations from table, which must have id, name, lng and
// lat columns.
func LoadDuckDB(ctx context.Context, db *sql.DB, table string) ([]Station, error) {
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT id, name, lng, lat FROM %s ORDER BY id", table))
	if err != nil {
		return nil, fmt.Errorf("query stations: %w", err)
	}
	defer rows.Close()

	var out []Station
	for rows.Next() {
		var (
			st       Station
			lng, lat float64
		)
		if err := rows.Scan(&st.ID, &st.Name, &lng, &lat); err != nil {
			return nil, fmt.Errorf("scan station: %w", err)
		}
		st.Coordinates = orb.Point{lng, lat}
		if !geo.Valid(st.Coordinates) {
			skipInvalid(st.ID, st.Coordinates)
			continue
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stations: %w", err)
	}
	return out, nil
}

func skipInvalid(id int, p orb.Point) {
	logging.Warn().Int("station", id).Float64("lng", p.Lon()).Float64("lat", p.Lat()).Msg("skipping station with out-of-range coordinates")
}
