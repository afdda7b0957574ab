package cluster

import (
	"math"
	"testing"

	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTileSinglePoint(t *testing.T) {
	f := point(0, 0, geojson.Properties{"name": "null island"})
	f.ID = "a"
	idx := loaded(t, DefaultOptions(), []*geojson.Feature{f})

	tile := idx.Tile(0, 0, 0)
	require.NotNil(t, tile)
	require.Len(t, tile.Features, 1)

	got := tile.Features[0]
	assert.Equal(t, TileFeatureType, got.Type)
	assert.Equal(t, [][2]int{{256, 256}}, got.Geometry)
	assert.Equal(t, geojson.Properties{"name": "null island"}, got.Tags)
	assert.Equal(t, "a", got.ID)
}

func TestTileGenerateID(t *testing.T) {
	o := DefaultOptions()
	o.GenerateID = true
	fs := []*geojson.Feature{point(-100, 40, nil), point(100, -40, nil)}
	fs[0].ID = "ignored"
	idx := loaded(t, o, fs)

	tile := idx.Tile(0, 0, 0)
	require.NotNil(t, tile)
	ids := []any{}
	for _, f := range tile.Features {
		ids = append(ids, f.ID)
	}
	assert.ElementsMatch(t, []any{0, 1}, ids)
}

func TestTileWithoutIDs(t *testing.T) {
	idx := loaded(t, DefaultOptions(), []*geojson.Feature{point(30, 30, nil)})
	tile := idx.Tile(0, 0, 0)
	require.NotNil(t, tile)
	assert.Nil(t, tile.Features[0].ID)
}

func TestTileCluster(t *testing.T) {
	idx := loaded(t, DefaultOptions(), []*geojson.Feature{point(0, 0, nil), point(0.01, 0, nil)})

	tile := idx.Tile(0, 0, 0)
	require.NotNil(t, tile)
	require.Len(t, tile.Features, 1)

	got := tile.Features[0]
	assert.Equal(t, true, got.Tags["cluster"])
	assert.Equal(t, 2, got.Tags["point_count"])
	assert.Equal(t, got.Tags["cluster_id"], got.ID)

	clusters := idx.Clusters(globe, 0)
	require.Len(t, clusters, 1)
	assert.Equal(t, clusters[0].ID, got.ID)
}

func TestTileWrapsAntimeridian(t *testing.T) {
	idx := loaded(t, DefaultOptions(), []*geojson.Feature{point(-179.9, 10, nil)})

	west := idx.Tile(2, 0, 1)
	require.NotNil(t, west)
	require.Len(t, west.Features, 1)
	assert.Equal(t, 1, west.Features[0].Geometry[0][0])

	// the easternmost tile draws the same point just past its right edge
	east := idx.Tile(2, 3, 1)
	require.NotNil(t, east)
	require.Len(t, east.Features, 1)
	assert.Equal(t, 513, east.Features[0].Geometry[0][0])
	assert.Equal(t, west.Features[0].Geometry[0][1], east.Features[0].Geometry[0][1])

	assert.Nil(t, idx.Tile(2, 2, 1))
}

func TestTileEmptiness(t *testing.T) {
	o := DefaultOptions()
	idx := loaded(t, o, randomFeatures(60, 21))

	const z = 3
	tree, err := idx.Tree(z, true)
	require.NoError(t, err)

	z2 := math.Pow(2, z)
	pad := o.Radius / float64(o.Extent)
	for x := 0; x < int(z2); x++ {
		for y := 0; y < int(z2); y++ {
			fx, fy := float64(x), float64(y)
			top, bottom := (fy-pad)/z2, (fy+1+pad)/z2

			n := len(tree.Range((fx-pad)/z2, top, (fx+1+pad)/z2, bottom))
			if x == 0 {
				n += len(tree.Range(1-pad/z2, top, 1, bottom))
			}
			if x == int(z2)-1 {
				n += len(tree.Range(0, top, pad/z2, bottom))
			}

			tile := idx.Tile(z, x, y)
			if n == 0 {
				assert.Nil(t, tile, "tile %d/%d/%d", z, x, y)
				continue
			}
			require.NotNil(t, tile, "tile %d/%d/%d", z, x, y)
			assert.Len(t, tile.Features, n)
		}
	}
}
