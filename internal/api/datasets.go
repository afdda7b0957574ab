package api

import (
	"context"
	"net/http"
	"sort"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/geocluster/internal/humastar"
	"github.com/joeblew999/geocluster/internal/service"
	"github.com/joeblew999/geocluster/internal/tiler"
)

type DatasetIDInput struct {
	ID string `path:"id" doc:"Dataset ID" example:"cafes"`
}

// DatasetBody is a dataset configuration together with its build state.
type DatasetBody struct {
	service.DatasetConfig
	Status service.DatasetStatus `json:"status" doc:"Build state of the dataset index"`
}

var datasetActions = []humastar.ActionDef{
	{Rel: "build", Pattern: "/api/v1/datasets/%s/build", Method: http.MethodPost, Title: "Build index"},
	{Rel: "bake", Pattern: "/api/v1/datasets/%s/bake", Method: http.MethodPost, Title: "Bake PMTiles archive"},
}

var builtActions = []humastar.ActionDef{
	{Rel: "clusters", Pattern: "/api/v1/datasets/%s/clusters", Method: http.MethodGet, Title: "Clusters in a bounding box"},
	{Rel: "tiles", Pattern: "/mvt/%s/{z}/{x}/{y}", Method: http.MethodGet, Title: "Vector tiles"},
}

// Actions offers the query links only once the dataset has an index.
func (b DatasetBody) Actions() []humastar.Action {
	actions := humastar.ActionsFor(b.ID, datasetActions...)
	if b.Status.Built {
		actions = append(actions, humastar.ActionsFor(b.ID, builtActions...)...)
	}
	return actions
}

type DatasetOutput struct {
	Body DatasetBody
}

type DatasetsOutput struct {
	Body []DatasetBody
}

// RegisterDatasets registers dataset CRUD and build routes.
func (h *APIHandler) RegisterDatasets(api huma.API) {
	huma.Get(api, "/api/v1/datasets", h.GetDatasets, huma.OperationTags("datasets"))
	huma.Post(api, "/api/v1/datasets", h.CreateDataset, huma.OperationTags("datasets"))
	huma.Get(api, "/api/v1/datasets/{id}", h.GetDataset, huma.OperationTags("datasets"))
	huma.Put(api, "/api/v1/datasets/{id}", h.PutDataset, huma.OperationTags("datasets"))
	huma.Delete(api, "/api/v1/datasets/{id}", h.DeleteDataset, huma.OperationTags("datasets"))
	huma.Post(api, "/api/v1/datasets/{id}/build", h.BuildDataset, huma.OperationTags("datasets"))
	huma.Post(api, "/api/v1/datasets/{id}/bake", h.BakeDataset, huma.OperationTags("datasets"))
}

func (h *APIHandler) datasetBody(ds service.DatasetConfig) DatasetBody {
	status, err := h.svc.Datasets.Status(ds.ID)
	if err != nil {
		status = service.DatasetStatus{ID: ds.ID}
	}
	return DatasetBody{DatasetConfig: ds, Status: status}
}

func (h *APIHandler) GetDatasets(ctx context.Context, input *struct{}) (*DatasetsOutput, error) {
	all := h.svc.Datasets.List()
	out := make([]DatasetBody, 0, len(all))
	for _, ds := range all {
		out = append(out, h.datasetBody(ds))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return &DatasetsOutput{Body: out}, nil
}

func (h *APIHandler) CreateDataset(ctx context.Context, input *struct{ Body service.DatasetConfig }) (*DatasetOutput, error) {
	created, err := h.svc.Datasets.Create(input.Body)
	if err != nil {
		return nil, h.humaError(err)
	}
	return &DatasetOutput{Body: h.datasetBody(created)}, nil
}

func (h *APIHandler) GetDataset(ctx context.Context, input *DatasetIDInput) (*DatasetOutput, error) {
	ds, ok := h.svc.Datasets.Get(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("dataset not found")
	}
	return &DatasetOutput{Body: h.datasetBody(ds)}, nil
}

func (h *APIHandler) PutDataset(ctx context.Context, input *struct {
	DatasetIDInput
	Body service.DatasetConfig
}) (*DatasetOutput, error) {
	updated, err := h.svc.Datasets.Update(input.ID, input.Body)
	if err != nil {
		return nil, h.humaError(err)
	}
	return &DatasetOutput{Body: h.datasetBody(updated)}, nil
}

func (h *APIHandler) DeleteDataset(ctx context.Context, input *DatasetIDInput) (*struct{ Body MessageBody }, error) {
	if err := h.svc.Datasets.Delete(input.ID); err != nil {
		return nil, h.humaError(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Dataset deleted"}}, nil
}

func (h *APIHandler) BuildDataset(ctx context.Context, input *DatasetIDInput) (*struct{ Body service.DatasetStatus }, error) {
	status, err := h.svc.Datasets.Build(ctx, input.ID)
	if err != nil {
		return nil, h.humaError(err)
	}
	return &struct{ Body service.DatasetStatus }{Body: status}, nil
}

func (h *APIHandler) BakeDataset(ctx context.Context, input *DatasetIDInput) (*struct{ Body tiler.Stats }, error) {
	stats, err := h.svc.Datasets.Bake(ctx, input.ID)
	if err != nil {
		return nil, h.humaError(err)
	}
	return &struct{ Body tiler.Stats }{Body: stats}, nil
}
