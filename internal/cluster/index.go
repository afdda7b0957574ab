// Package cluster builds a zoom pyramid of greedy point clusters for map
// rendering and answers bounding box, hierarchy and tile queries against it.
//
// Loading projects every point onto the unit square, indexes it at the
// virtual zoom MaxZoom+1 and then walks the zoom levels down to MinZoom. At
// each level a node claims every unclaimed neighbour within the pixel radius
// and, when enough points were claimed, is replaced by an aggregate cluster
// node positioned at the weighted centroid. Nodes live in a single arena
// shared by all levels, so claiming a neighbour through one level's index is
// visible to every level that references it.
package cluster

import (
	"math"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"

	"github.com/joeblew999/geocluster/internal/kdbush"
)

// infinityZoom marks a node that no clustering pass has claimed yet.
const infinityZoom = math.MaxInt32

// node is either a leaf, referencing the point store, or an aggregate cluster.
type node struct {
	x, y      float64
	zoom      int // finest zoom at which the node was still processed as distinct
	parentID  int // id of the cluster that absorbed this node, -1 if none
	cluster   bool
	index     int // point store position, leaves only
	id        int // cluster id, aggregates only
	numPoints int
	props     geojson.Properties // reduced properties, aggregates only
}

// level is one finalized zoom of the pyramid.
type level struct {
	tree *kdbush.KDBush
	refs []int // arena positions in sequence order
}

// pyramid is the immutable result of one Load.
type pyramid struct {
	points []*geojson.Feature
	nodes  []node
	levels []*level // indexed by zoom, nil below MinZoom
}

// levelPoints adapts a reference sequence to kdbush.Points.
type levelPoints struct {
	nodes []node
	refs  []int
}

func (l levelPoints) Len() int { return len(l.refs) }

func (l levelPoints) At(i int) (float64, float64) {
	n := &l.nodes[l.refs[i]]
	return n.x, n.y
}

// Index is a clustered point pyramid. The zero value is not usable; create one
// with New. After Load returns, queries are safe for concurrent use and a
// later Load swaps the whole pyramid atomically.
type Index struct {
	opts Options

	mu sync.RWMutex
	p  *pyramid
}

// New validates opts and returns an empty index.
func New(opts Options) (*Index, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Map == nil {
		opts.Map = identity
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	return &Index{opts: opts, p: &pyramid{}}, nil
}

// Options returns the configuration the index was created with.
func (idx *Index) Options() Options {
	return idx.opts
}

// Len returns the number of points in the point store.
func (idx *Index) Len() int {
	return len(idx.snapshot().points)
}

// Tree returns the spatial index of a zoom level. With limit set the zoom is
// clamped to the built range first.
func (idx *Index) Tree(zoom int, limit bool) (*kdbush.KDBush, error) {
	if limit {
		zoom = idx.limitZoom(zoom)
	}
	l := idx.snapshot().level(zoom)
	if l == nil {
		return nil, errors.Wrapf(ErrNotFound, "zoom %d", zoom)
	}
	return l.tree, nil
}

func (idx *Index) snapshot() *pyramid {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.p
}

func (idx *Index) limitZoom(z int) int {
	return max(idx.opts.MinZoom, min(z, idx.opts.MaxZoom+1))
}

func (p *pyramid) level(z int) *level {
	if z < 0 || z >= len(p.levels) {
		return nil
	}
	return p.levels[z]
}

func (p *pyramid) newLevel(refs []int, nodeSize int) *level {
	return &level{
		tree: kdbush.New(levelPoints{nodes: p.nodes, refs: refs}, nodeSize),
		refs: refs,
	}
}

// pointOf returns the location of a feature, or false when it has none.
func pointOf(f *geojson.Feature) (orb.Point, bool) {
	if f == nil || f.Geometry == nil {
		return orb.Point{}, false
	}
	pt, ok := f.Geometry.(orb.Point)
	if !ok || !finite(pt[0]) || !finite(pt[1]) {
		return orb.Point{}, false
	}
	return pt, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
