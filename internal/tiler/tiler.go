// Package tiler encodes rendered cluster tiles as Mapbox Vector Tiles and
// bakes whole pyramids into PMTiles archives.
//
// Tiles are rendered by the cluster index in tile pixel space already, so
// encoding only wraps them in a single point layer. Baking walks every zoom,
// renders the tiles that can hold a feature and writes them, sorted by
// Hilbert tile id, into a clustered PMTiles v3 archive.
package tiler

import (
	"encoding/json"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"

	"github.com/joeblew999/geocluster/internal/cluster"
)

// DefaultLayer is the vector tile layer name used when none is configured.
const DefaultLayer = "clusters"

// Encode renders t as a gzipped MVT with a single point layer. extent must
// match the extent the index rendered the tile with.
func Encode(t *cluster.Tile, layer string, extent int) ([]byte, error) {
	if layer == "" {
		layer = DefaultLayer
	}

	fc := geojson.NewFeatureCollection()
	for _, tf := range t.Features {
		for _, g := range tf.Geometry {
			f := geojson.NewFeature(orb.Point{float64(g[0]), float64(g[1])})
			f.ID = tf.ID
			f.Properties = tileTags(tf.Tags)
			fc.Append(f)
		}
	}

	l := mvt.NewLayer(layer, fc)
	l.Extent = uint32(extent)

	data, err := mvt.MarshalGzipped(mvt.Layers{l})
	if err != nil {
		return nil, errors.Wrap(err, "encoding mvt")
	}
	return data, nil
}

// tileTags keeps the property values MVT can carry. Nulls are dropped and
// nested objects or arrays are flattened to their JSON text.
func tileTags(props geojson.Properties) geojson.Properties {
	out := make(geojson.Properties, len(props))
	for k, v := range props {
		switch t := v.(type) {
		case nil:
		case string, bool, float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			out[k] = t
		default:
			b, err := json.Marshal(t)
			if err != nil {
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}
