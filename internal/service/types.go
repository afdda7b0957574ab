// Package service contains the business logic of the geocluster server:
// dataset definitions, source reading, index builds and tile rendering.
package service

import (
	"time"

	"github.com/joeblew999/geocluster/internal/cluster"
)

// DatasetConfig describes a clustered point dataset.
// Huma reads the tags for OpenAPI and validation, yaml.v3 for persistence.
type DatasetConfig struct {
	ID        string         `json:"id,omitempty" yaml:"id" doc:"Unique dataset identifier" example:"cafes"`
	Name      string         `json:"name" yaml:"name" required:"true" minLength:"1" maxLength:"100" doc:"Display name" example:"Cafes"`
	Source    string         `json:"source" yaml:"source" required:"true" doc:"Source file name in the sources directory" example:"cafes.geojson"`
	LngColumn string         `json:"lngColumn,omitempty" yaml:"lngColumn,omitempty" doc:"Longitude column for CSV and Parquet sources" example:"lon" default:"lng"`
	LatColumn string         `json:"latColumn,omitempty" yaml:"latColumn,omitempty" doc:"Latitude column for CSV and Parquet sources" example:"lat" default:"lat"`
	Layer     string         `json:"layer,omitempty" yaml:"layer,omitempty" doc:"Vector tile layer name" example:"clusters" default:"clusters"`
	Options   ClusterOptions `json:"options,omitempty" yaml:"options,omitempty" doc:"Clustering parameters"`
	Reducers  []string       `json:"reducers,omitempty" yaml:"reducers,omitempty" doc:"Cluster property aggregations: sum:<prop>, min:<prop>, max:<prop>, count:<prop>"`
}

// ClusterOptions is the serializable subset of cluster.Options. Unset fields
// select the defaults. MaxZoom and Radius are pointers because zero is a
// meaningful value for both; the remaining fields must be positive when set.
type ClusterOptions struct {
	MinZoom    int      `json:"minZoom,omitempty" yaml:"minZoom,omitempty" minimum:"0" maximum:"30" doc:"Minimum zoom level at which clusters are generated"`
	MaxZoom    *int     `json:"maxZoom,omitempty" yaml:"maxZoom,omitempty" minimum:"0" maximum:"30" doc:"Maximum zoom level at which clusters are generated" example:"16"`
	MinPoints  int      `json:"minPoints,omitempty" yaml:"minPoints,omitempty" minimum:"1" doc:"Minimum points to form a cluster" example:"2"`
	Radius     *float64 `json:"radius,omitempty" yaml:"radius,omitempty" minimum:"0" doc:"Cluster radius in pixels" example:"40"`
	Extent     int      `json:"extent,omitempty" yaml:"extent,omitempty" minimum:"1" doc:"Tile extent, radius is relative to it" example:"512"`
	NodeSize   int      `json:"nodeSize,omitempty" yaml:"nodeSize,omitempty" minimum:"1" doc:"Spatial index leaf size" example:"64"`
	GenerateID bool     `json:"generateId,omitempty" yaml:"generateId,omitempty" doc:"Use point positions as tile feature ids"`
}

// Cluster converts o to cluster.Options, filling unset fields from
// cluster.DefaultOptions.
func (o ClusterOptions) Cluster() cluster.Options {
	opts := cluster.DefaultOptions()
	opts.MinZoom = o.MinZoom
	if o.MaxZoom != nil {
		opts.MaxZoom = *o.MaxZoom
	}
	if o.MinPoints > 0 {
		opts.MinPoints = o.MinPoints
	}
	if o.Radius != nil {
		opts.Radius = *o.Radius
	}
	if o.Extent > 0 {
		opts.Extent = o.Extent
	}
	if o.NodeSize > 0 {
		opts.NodeSize = o.NodeSize
	}
	opts.GenerateID = o.GenerateID
	return opts
}

// DatasetStatus reports the state of a dataset's built index.
type DatasetStatus struct {
	ID       string    `json:"id" doc:"Dataset identifier"`
	Built    bool      `json:"built" doc:"Whether an index has been built"`
	BuiltAt  time.Time `json:"builtAt,omitempty" doc:"Time the current index finished building"`
	Points   int       `json:"points" doc:"Number of points in the index"`
	Skipped  int       `json:"skipped" doc:"Source features or rows dropped for lacking a point geometry"`
	Duration string    `json:"duration,omitempty" doc:"Build duration" example:"120ms"`
	MinZoom  int       `json:"minZoom" doc:"Minimum clustered zoom"`
	MaxZoom  int       `json:"maxZoom" doc:"Maximum clustered zoom"`
}

// SourceFile represents a source data file.
type SourceFile struct {
	Name     string `json:"name" doc:"File name" example:"cafes.geojson"`
	Size     string `json:"size" doc:"Human-readable file size" example:"1.2 MB"`
	FileType string `json:"fileType" doc:"File type: GeoJSON, CSV or Parquet" example:"GeoJSON"`
}

// TileFile represents a baked PMTiles archive.
type TileFile struct {
	Name string `json:"name" doc:"PMTiles file name" example:"cafes.pmtiles"`
	Size string `json:"size" doc:"Human-readable file size" example:"5.4 MB"`
}
