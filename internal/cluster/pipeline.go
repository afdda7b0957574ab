package cluster

import (
	"fmt"
	"math"

	"github.com/paulmach/orb/geojson"
)

// Load replaces the point store and rebuilds the whole pyramid. Features
// without a finite point geometry are skipped.
func (idx *Index) Load(features []*geojson.Feature) {
	o := idx.opts
	total := startTimer(o.Observer, PhaseTotal)

	prepare := startTimer(o.Observer, PhasePrepare)
	p := &pyramid{
		points: make([]*geojson.Feature, 0, len(features)),
		nodes:  make([]node, 0, len(features)),
		levels: make([]*level, o.MaxZoom+2),
	}
	for _, f := range features {
		pt, ok := pointOf(f)
		if !ok {
			continue
		}
		p.nodes = append(p.nodes, node{
			x:         LngX(pt.Lon()),
			y:         LatY(pt.Lat()),
			zoom:      infinityZoom,
			parentID:  -1,
			index:     len(p.points),
			numPoints: 1,
		})
		p.points = append(p.points, f)
	}

	refs := make([]int, len(p.nodes))
	for i := range refs {
		refs[i] = i
	}
	p.levels[o.MaxZoom+1] = p.newLevel(refs, o.NodeSize)
	prepare.stop(fmt.Sprintf("%d points", len(p.points)))

	for z := o.MaxZoom; z >= o.MinZoom; z-- {
		pass := startTimer(o.Observer, ZoomPhase(z))
		refs = p.cluster(z, &o)
		p.levels[z] = p.newLevel(refs, o.NodeSize)
		pass.stop(fmt.Sprintf("%d clusters", len(refs)))
	}

	idx.mu.Lock()
	idx.p = p
	idx.mu.Unlock()

	total.stop(fmt.Sprintf("%d points, %d nodes", len(p.points), len(p.nodes)))
}

// cluster runs the greedy pass for zoom z over level z+1 and returns the
// node sequence of level z. Nodes are claimed in place, later iterations of
// the same pass skip everything already claimed.
func (p *pyramid) cluster(z int, o *Options) []int {
	prev := p.levels[z+1]
	r := o.Radius / (float64(o.Extent) * math.Pow(2, float64(z)))
	numPoints := len(p.points)
	next := make([]int, 0, len(prev.refs))

	for i, ref := range prev.refs {
		if p.nodes[ref].zoom <= z {
			continue
		}
		p.nodes[ref].zoom = z

		px, py := p.nodes[ref].x, p.nodes[ref].y
		own := p.nodes[ref].numPoints
		neighbors := prev.tree.Within(px, py, r)

		count := own
		for _, j := range neighbors {
			if b := &p.nodes[prev.refs[j]]; b.zoom > z {
				count += b.numPoints
			}
		}

		if count > own && count >= o.MinPoints {
			id := EncodeID(i, z, numPoints)
			wx := px * float64(own)
			wy := py * float64(own)

			var props geojson.Properties
			if o.Reduce != nil {
				props = cloneProps(p.mapped(ref, o))
			}

			for _, j := range neighbors {
				nref := prev.refs[j]
				b := &p.nodes[nref]
				if b.zoom <= z {
					continue
				}
				b.zoom = z
				b.parentID = id
				wx += b.x * float64(b.numPoints)
				wy += b.y * float64(b.numPoints)
				if o.Reduce != nil {
					o.Reduce(props, p.mapped(nref, o))
				}
			}

			p.nodes[ref].parentID = id
			p.nodes = append(p.nodes, node{
				x:         wx / float64(count),
				y:         wy / float64(count),
				zoom:      infinityZoom,
				parentID:  -1,
				cluster:   true,
				id:        id,
				numPoints: count,
				props:     props,
			})
			next = append(next, len(p.nodes)-1)
			continue
		}

		next = append(next, ref)
		if count > 1 {
			for _, j := range neighbors {
				nref := prev.refs[j]
				if b := &p.nodes[nref]; b.zoom > z {
					b.zoom = z
					next = append(next, nref)
				}
			}
		}
	}

	return next
}

// mapped returns the reducible properties of the node at ref.
func (p *pyramid) mapped(ref int, o *Options) geojson.Properties {
	n := &p.nodes[ref]
	if n.cluster {
		return n.props
	}
	return o.Map(p.points[n.index].Properties)
}

func cloneProps(props geojson.Properties) geojson.Properties {
	out := make(geojson.Properties, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
