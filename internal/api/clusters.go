package api

import (
	"context"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/geocluster/internal/cluster"
	"github.com/joeblew999/geocluster/internal/humastar"
)

type ClustersInput struct {
	DatasetIDInput
	Zoom int    `query:"zoom" minimum:"0" doc:"Zoom level" example:"2"`
	BBox string `query:"bbox" default:"-180,-85,180,85" doc:"Bounding box as west,south,east,north in degrees" example:"-10,35,30,60"`
}

type ClusterIDInput struct {
	DatasetIDInput
	ClusterID int `path:"clusterId" doc:"Cluster ID from a cluster feature's cluster_id property"`
}

type LeavesInput struct {
	ClusterIDInput
	Limit  int `query:"limit" minimum:"1" maximum:"1000" default:"10" doc:"Page size"`
	Offset int `query:"offset" minimum:"0" default:"0" doc:"Number of leaves to skip"`
}

type TileInput struct {
	DatasetIDInput
	Z int `path:"z" minimum:"0" maximum:"30" doc:"Tile zoom"`
	X int `path:"x" minimum:"0" doc:"Tile column"`
	Y int `path:"y" minimum:"0" doc:"Tile row"`
}

type FeatureCollectionOutput struct {
	Body *geojson.FeatureCollection
}

type ExpansionZoomBody struct {
	ClusterID int `json:"clusterId" doc:"Cluster ID"`
	Zoom      int `json:"zoom" doc:"Smallest zoom at which the cluster splits into several children"`
}

// RegisterClusters registers the cluster query routes.
func (h *APIHandler) RegisterClusters(api huma.API) {
	huma.Get(api, "/api/v1/datasets/{id}/clusters", h.GetClusters, huma.OperationTags("clusters"))
	huma.Get(api, "/api/v1/datasets/{id}/clusters/{clusterId}/children", h.GetChildren, huma.OperationTags("clusters"))
	huma.Get(api, "/api/v1/datasets/{id}/clusters/{clusterId}/expansion-zoom", h.GetExpansionZoom, huma.OperationTags("clusters"))
	huma.Get(api, "/api/v1/datasets/{id}/clusters/{clusterId}/leaves", h.GetLeaves, huma.OperationTags("clusters"))
	huma.Get(api, "/api/v1/datasets/{id}/tiles/{z}/{x}/{y}", h.GetTile, huma.OperationTags("clusters"))
}

func (h *APIHandler) GetClusters(ctx context.Context, input *ClustersInput) (*FeatureCollectionOutput, error) {
	bbox, err := parseBBox(input.BBox)
	if err != nil {
		return nil, err
	}
	idx, err := h.svc.Datasets.Index(input.ID)
	if err != nil {
		return nil, h.humaError(err)
	}
	return featureCollection(idx.Clusters(bbox, input.Zoom)), nil
}

func (h *APIHandler) GetChildren(ctx context.Context, input *ClusterIDInput) (*FeatureCollectionOutput, error) {
	idx, err := h.svc.Datasets.Index(input.ID)
	if err != nil {
		return nil, h.humaError(err)
	}
	children, err := idx.Children(input.ClusterID)
	if err != nil {
		return nil, h.humaError(err)
	}
	return featureCollection(children), nil
}

func (h *APIHandler) GetExpansionZoom(ctx context.Context, input *ClusterIDInput) (*struct{ Body ExpansionZoomBody }, error) {
	idx, err := h.svc.Datasets.Index(input.ID)
	if err != nil {
		return nil, h.humaError(err)
	}
	zoom, err := idx.ExpansionZoom(input.ClusterID)
	if err != nil {
		return nil, h.humaError(err)
	}
	return &struct{ Body ExpansionZoomBody }{Body: ExpansionZoomBody{ClusterID: input.ClusterID, Zoom: zoom}}, nil
}

func (h *APIHandler) GetLeaves(ctx context.Context, input *LeavesInput) (*struct {
	Body humastar.PageBody[*geojson.Feature]
}, error) {
	idx, err := h.svc.Datasets.Index(input.ID)
	if err != nil {
		return nil, h.humaError(err)
	}
	leaves, err := idx.Leaves(input.ClusterID, input.Limit, input.Offset)
	if err != nil {
		return nil, h.humaError(err)
	}
	total, err := pointCount(idx, input.ClusterID)
	if err != nil {
		return nil, h.humaError(err)
	}
	return &struct {
		Body humastar.PageBody[*geojson.Feature]
	}{Body: humastar.NewPage(total, input.Offset, input.Limit, leaves)}, nil
}

func (h *APIHandler) GetTile(ctx context.Context, input *TileInput) (*struct{ Body *cluster.Tile }, error) {
	if n := 1 << input.Z; input.X >= n || input.Y >= n {
		return nil, huma.Error400BadRequest("tile coordinates out of range")
	}
	idx, err := h.svc.Datasets.Index(input.ID)
	if err != nil {
		return nil, h.humaError(err)
	}
	t := idx.Tile(input.Z, input.X, input.Y)
	if t == nil {
		return nil, huma.Error404NotFound("empty tile")
	}
	return &struct{ Body *cluster.Tile }{Body: t}, nil
}

// pointCount returns the number of leaves below a cluster.
func pointCount(idx *cluster.Index, clusterID int) (int, error) {
	children, err := idx.Children(clusterID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, c := range children {
		if n, ok := c.Properties["point_count"].(int); ok && c.Properties["cluster"] == true {
			total += n
		} else {
			total++
		}
	}
	return total, nil
}

func featureCollection(features []*geojson.Feature) *FeatureCollectionOutput {
	fc := geojson.NewFeatureCollection()
	fc.Features = append(fc.Features, features...)
	return &FeatureCollectionOutput{Body: fc}
}

// parseBBox parses "west,south,east,north".
func parseBBox(s string) ([4]float64, error) {
	var bbox [4]float64
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return bbox, huma.Error422UnprocessableEntity("bbox must have four comma separated values")
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return bbox, huma.Error422UnprocessableEntity("bbox value " + strconv.Quote(p) + " is not a number")
		}
		bbox[i] = v
	}
	return bbox, nil
}
