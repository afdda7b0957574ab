package cluster

import (
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
)

// MaxZoomLimit is the largest usable MaxZoom. Cluster ids reserve five bits
// for zoom+1, and the pyramid also holds a level at MaxZoom+1.
const MaxZoomLimit = 30

var (
	// ErrNotFound is returned when a zoom level or cluster id does not
	// resolve to anything in the loaded pyramid.
	ErrNotFound = errors.New("no cluster with the specified id")

	// ErrInvalidOptions is returned by New for option values the id
	// encoding or the projection cannot represent.
	ErrInvalidOptions = errors.New("invalid cluster options")
)

// MapFunc turns a point's properties into the record that gets reduced.
type MapFunc func(props geojson.Properties) geojson.Properties

// ReduceFunc folds props into acc. acc is always a private copy.
type ReduceFunc func(acc, props geojson.Properties)

// Options configures an Index. Use DefaultOptions as a starting point.
type Options struct {
	MinZoom    int        // minimum zoom level at which clusters are generated
	MaxZoom    int        // maximum zoom level at which clusters are generated
	MinPoints  int        // minimum number of points to form a cluster
	Radius     float64    // cluster radius in pixels
	Extent     int        // tile extent, radius is calculated relative to it
	NodeSize   int        // size of the kd-tree leaf segments
	GenerateID bool       // assign point store positions as ids of tile features
	Map        MapFunc    // properties to reduce, identity when nil
	Reduce     ReduceFunc // cluster property aggregation, none when nil
	Observer   Observer   // build phase notifications, no-op when nil
}

// DefaultOptions returns the standard clustering configuration.
func DefaultOptions() Options {
	return Options{
		MinZoom:   0,
		MaxZoom:   16,
		MinPoints: 2,
		Radius:    40,
		Extent:    512,
		NodeSize:  64,
	}
}

func (o Options) validate() error {
	if o.MinZoom < 0 || o.MaxZoom > MaxZoomLimit || o.MinZoom > o.MaxZoom {
		return errors.Wrapf(ErrInvalidOptions, "zoom range %d..%d must lie within 0..%d",
			o.MinZoom, o.MaxZoom, MaxZoomLimit)
	}
	if o.Extent <= 0 {
		return errors.Wrapf(ErrInvalidOptions, "extent %d must be positive", o.Extent)
	}
	if o.Radius < 0 {
		return errors.Wrapf(ErrInvalidOptions, "radius %g must not be negative", o.Radius)
	}
	if o.NodeSize <= 0 {
		return errors.Wrapf(ErrInvalidOptions, "node size %d must be positive", o.NodeSize)
	}
	if o.MinPoints < 1 {
		return errors.Wrapf(ErrInvalidOptions, "min points %d must be at least 1", o.MinPoints)
	}
	return nil
}

func identity(props geojson.Properties) geojson.Properties {
	return props
}
