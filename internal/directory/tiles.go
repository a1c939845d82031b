package directory

import (
	"context"
	"fmt"

	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
)

// TileLayer is the vector tile layer holding directory pins.
const TileLayer = "businesses"

// Tile renders the listings inside t as a gzipped Mapbox Vector Tile, so a
// client can draw the whole directory at zooms where search results would
// be too sparse. An empty tile returns nil.
func (s *Store) Tile(ctx context.Context, t maptile.Tile) ([]byte, error) {
	b := t.Bound()
	rows, err := s.db.QueryContext(ctx, selectListings+` WHERE lng >= ? AND lng < ? AND lat >= ? AND lat < ? ORDER BY id`,
		b.Min.Lon(), b.Max.Lon(), b.Min.Lat(), b.Max.Lat())
	if err != nil {
		return nil, fmt.Errorf("tile %d/%d/%d: %w", t.Z, t.X, t.Y, err)
	}
	defer rows.Close()

	now := s.opts.Now()
	fc := geojson.NewFeatureCollection()
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		f := geojson.NewFeature(point(l))
		f.Properties["id"] = l.ID
		f.Properties["name"] = l.Name
		f.Properties["tier"] = l.Tier.String()
		f.Properties["rating"] = l.Rating
		f.Properties["open"] = l.OpenAt(now)
		fc.Append(f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(fc.Features) == 0 {
		return nil, nil
	}

	// Points need no clipping or simplification, only projection to the
	// 4096 extent.
	layer := mvt.NewLayer(TileLayer, fc)
	layer.ProjectToTile(t)
	data, err := mvt.MarshalGzipped(mvt.Layers{layer})
	if err != nil {
		return nil, fmt.Errorf("encode tile %d/%d/%d: %w", t.Z, t.X, t.Y, err)
	}
	return data, nil
}
