package cluster

import (
	"math"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
)

// Clusters returns the clusters and points visible at zoom inside
// bbox = [west, south, east, north] in degrees. Longitudes are normalized,
// latitudes clamped, and a box crossing the antimeridian is answered as its
// eastern half followed by its western half.
func (idx *Index) Clusters(bbox [4]float64, zoom int) []*geojson.Feature {
	return idx.clusters(idx.snapshot(), bbox, zoom)
}

func (idx *Index) clusters(p *pyramid, bbox [4]float64, zoom int) []*geojson.Feature {
	minLng := normalizeLng(bbox[0])
	minLat := clampLat(bbox[1])
	maxLng := 180.0
	if bbox[2] != 180 {
		maxLng = normalizeLng(bbox[2])
	}
	maxLat := clampLat(bbox[3])

	if bbox[2]-bbox[0] >= 360 {
		minLng, maxLng = -180, 180
	} else if minLng > maxLng {
		east := idx.clusters(p, [4]float64{minLng, minLat, 180, maxLat}, zoom)
		west := idx.clusters(p, [4]float64{-180, minLat, maxLng, maxLat}, zoom)
		return append(east, west...)
	}

	l := p.level(idx.limitZoom(zoom))
	if l == nil {
		return []*geojson.Feature{}
	}

	ids := l.tree.Range(LngX(minLng), LatY(maxLat), LngX(maxLng), LatY(minLat))
	result := make([]*geojson.Feature, 0, len(ids))
	for _, id := range ids {
		result = append(result, p.feature(l.refs[id]))
	}
	return result
}

// Children returns the immediate children of a cluster one zoom level finer.
func (idx *Index) Children(clusterID int) ([]*geojson.Feature, error) {
	p := idx.snapshot()
	refs, err := idx.children(p, clusterID)
	if err != nil {
		return nil, err
	}

	result := make([]*geojson.Feature, len(refs))
	for i, ref := range refs {
		result[i] = p.feature(ref)
	}
	return result, nil
}

// ExpansionZoom returns the zoom at which a cluster splits into more than one
// child, following chains of single child clusters.
func (idx *Index) ExpansionZoom(clusterID int) (int, error) {
	p := idx.snapshot()
	_, originZoom := DecodeID(clusterID, len(p.points))
	zoom := originZoom - 1

	for {
		refs, err := idx.children(p, clusterID)
		if err != nil {
			return 0, err
		}
		zoom++
		if zoom > idx.opts.MaxZoom || len(refs) != 1 || !p.nodes[refs[0]].cluster {
			return zoom, nil
		}
		clusterID = p.nodes[refs[0]].id
	}
}

// Leaves returns the original points under a cluster in depth-first order,
// skipping the first offset and returning at most limit of them. A negative
// limit returns all remaining points.
func (idx *Index) Leaves(clusterID, limit, offset int) ([]*geojson.Feature, error) {
	result := []*geojson.Feature{}
	if limit == 0 {
		return result, nil
	}
	if _, err := idx.appendLeaves(idx.snapshot(), &result, clusterID, limit, max(offset, 0), 0); err != nil {
		return nil, err
	}
	return result, nil
}

func (idx *Index) appendLeaves(p *pyramid, result *[]*geojson.Feature, clusterID, limit, offset, skipped int) (int, error) {
	refs, err := idx.children(p, clusterID)
	if err != nil {
		return skipped, err
	}

	for _, ref := range refs {
		c := &p.nodes[ref]
		switch {
		case c.cluster && skipped+c.numPoints <= offset:
			// the whole subtree falls before the page
			skipped += c.numPoints
		case c.cluster:
			skipped, err = idx.appendLeaves(p, result, c.id, limit, offset, skipped)
			if err != nil {
				return skipped, err
			}
		case skipped < offset:
			skipped++
		default:
			*result = append(*result, p.points[c.index])
		}

		if limit > 0 && len(*result) >= limit {
			break
		}
	}
	return skipped, nil
}

// children resolves a cluster id to the arena refs of its children.
func (idx *Index) children(p *pyramid, clusterID int) ([]int, error) {
	originIndex, originZoom := DecodeID(clusterID, len(p.points))

	l := p.level(originZoom)
	if l == nil {
		return nil, errors.Wrapf(ErrNotFound, "cluster %d: no level at zoom %d", clusterID, originZoom)
	}
	if originIndex < 0 || originIndex >= len(l.refs) {
		return nil, errors.Wrapf(ErrNotFound, "cluster %d: no origin node", clusterID)
	}

	origin := &p.nodes[l.refs[originIndex]]
	r := idx.opts.Radius / (float64(idx.opts.Extent) * math.Pow(2, float64(originZoom-1)))

	var refs []int
	for _, id := range l.tree.Within(origin.x, origin.y, r) {
		ref := l.refs[id]
		if p.nodes[ref].parentID == clusterID {
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "cluster %d: no children", clusterID)
	}
	return refs, nil
}

// feature materializes a node: the original feature for leaves, a new point
// feature for clusters.
func (p *pyramid) feature(ref int) *geojson.Feature {
	n := &p.nodes[ref]
	if !n.cluster {
		return p.points[n.index]
	}

	f := geojson.NewFeature(orb.Point{XLng(n.x), YLat(n.y)})
	f.ID = n.id
	f.Properties = clusterProperties(n)
	return f
}

func clusterProperties(n *node) geojson.Properties {
	props := make(geojson.Properties, len(n.props)+4)
	for k, v := range n.props {
		props[k] = v
	}
	props["cluster"] = true
	props["cluster_id"] = n.id
	props["point_count"] = n.numPoints
	props["point_count_abbreviated"] = abbreviate(n.numPoints)
	return props
}

// abbreviate renders large counts as 1.2k / 15k, smaller ones unchanged.
func abbreviate(count int) any {
	switch {
	case count >= 10000:
		return strconv.Itoa(int(math.Round(float64(count)/1000))) + "k"
	case count >= 1000:
		v := math.Round(float64(count)/100) / 10
		return strconv.FormatFloat(v, 'f', -1, 64) + "k"
	default:
		return count
	}
}

func normalizeLng(lng float64) float64 {
	return math.Mod(math.Mod(lng+180, 360)+360, 360) - 180
}

func clampLat(lat float64) float64 {
	return max(-90, min(90, lat))
}
