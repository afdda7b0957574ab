package cluster

// zoomBits is the width of the zoom field packed into cluster ids.
const zoomBits = 5

// EncodeID builds the id of a cluster formed at zoom from the node at
// sourceIndex of the level zoom+1. numPoints is the size of the point store;
// the offset keeps cluster ids disjoint from point store positions.
func EncodeID(sourceIndex, zoom, numPoints int) int {
	return (sourceIndex << zoomBits) + (zoom + 1) + numPoints
}

// DecodeID returns the position of the cluster's origin node and the zoom of
// the level that holds it. Ids that were never produced by EncodeID decode to
// values that do not resolve in the pyramid.
func DecodeID(id, numPoints int) (originIndex, originZoom int) {
	d := id - numPoints
	return d >> zoomBits, d % (1 << zoomBits)
}
