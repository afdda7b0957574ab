package cluster

import (
	"math"

	"github.com/paulmach/orb/geojson"
)

// TileFeatureType is the vector tile geometry type of every rendered feature.
const TileFeatureType = 1 // point

// Tile is the rendered content of one z/x/y tile.
type Tile struct {
	Features []TileFeature `json:"features"`
}

// TileFeature is a point in tile pixel space, 0..Extent on both axes for
// points inside the tile and slightly outside for padded neighbours.
type TileFeature struct {
	Type     int                `json:"type"`
	Geometry [][2]int           `json:"geometry"`
	Tags     geojson.Properties `json:"tags"`
	ID       any                `json:"id,omitempty"`
}

// Tile renders the clusters and points of tile z/x/y. The query window is
// padded by the cluster radius so markers crossing the tile edge are drawn on
// both sides, and tiles on the antimeridian also pull in the features just
// across it. Tile returns nil when the window holds nothing.
func (idx *Index) Tile(z, x, y int) *Tile {
	p := idx.snapshot()
	l := p.level(idx.limitZoom(z))
	if l == nil {
		return nil
	}

	z2 := math.Pow(2, float64(z))
	pad := idx.opts.Radius / float64(idx.opts.Extent)
	fx, fy := float64(x), float64(y)
	top := (fy - pad) / z2
	bottom := (fy + 1 + pad) / z2

	t := &Tile{}
	idx.addTileFeatures(p, l, t, l.tree.Range((fx-pad)/z2, top, (fx+1+pad)/z2, bottom), fx, fy, z2)
	if x == 0 {
		idx.addTileFeatures(p, l, t, l.tree.Range(1-pad/z2, top, 1, bottom), z2, fy, z2)
	}
	if x == int(z2)-1 {
		idx.addTileFeatures(p, l, t, l.tree.Range(0, top, pad/z2, bottom), -1, fy, z2)
	}

	if len(t.Features) == 0 {
		return nil
	}
	return t
}

func (idx *Index) addTileFeatures(p *pyramid, l *level, t *Tile, ids []int, x, y, z2 float64) {
	extent := float64(idx.opts.Extent)
	for _, i := range ids {
		ref := l.refs[i]
		n := &p.nodes[ref]

		f := TileFeature{
			Type: TileFeatureType,
			Geometry: [][2]int{{
				int(math.Floor(extent*(n.x*z2-x) + 0.5)),
				int(math.Floor(extent*(n.y*z2-y) + 0.5)),
			}},
		}

		switch {
		case n.cluster:
			f.Tags = clusterProperties(n)
			f.ID = n.id
		case idx.opts.GenerateID:
			f.Tags = p.points[n.index].Properties
			f.ID = n.index
		default:
			point := p.points[n.index]
			f.Tags = point.Properties
			if point.ID != nil {
				f.ID = point.ID
			}
		}

		t.Features = append(t.Features, f)
	}
}
