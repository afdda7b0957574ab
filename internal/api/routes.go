// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/pkg/errors"

	"github.com/joeblew999/geocluster/internal/cluster"
	"github.com/joeblew999/geocluster/internal/humastar"
	"github.com/joeblew999/geocluster/internal/service"
	"github.com/joeblew999/geocluster/internal/tiler"
)

// Version is the API version reported by /health and /api/v1/info.
const Version = "0.1.0"

// maxSourceBytes bounds source uploads.
const maxSourceBytes = 512 << 20

// Services holds the service dependencies for API handlers.
type Services struct {
	Datasets *service.DatasetService
	Sources  *service.SourceService
	Tiles    *service.TileService
	Bus      *service.EventBus
	DataDir  string
	DB       bool
	Logger   *slog.Logger
}

// Types

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"0.1.0"`
}

type InfoBody struct {
	Name     string   `json:"name" doc:"Service name"`
	Version  string   `json:"version" doc:"Service version"`
	DataDir  string   `json:"dataDir" doc:"Data directory path"`
	DB       bool     `json:"db" doc:"Whether DuckDB is available for CSV and Parquet sources"`
	Datasets int      `json:"datasets" doc:"Number of configured datasets"`
	Features []string `json:"features" doc:"Available features"`
}

type SourceNameInput struct {
	Name string `path:"name" doc:"Source file name" example:"cafes.geojson"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	if svc.Logger == nil {
		svc.Logger = slog.Default()
	}
	if svc.Bus == nil {
		svc.Bus = service.DefaultBus
	}
	return &APIHandler{svc: svc}
}

// WithLinks installs a hypermedia link transformer in config. Call
// Discover on the returned Linker once the routes are registered.
func WithLinks(config huma.Config) (huma.Config, *humastar.Linker) {
	linker := humastar.NewLinker("/health", "events")
	config.Transformers = append(config.Transformers, linker.Transformer())
	return config, linker
}

// Mount creates the Huma API on mux, registers every route and derives the
// hypermedia links.
func Mount(mux *http.ServeMux, config huma.Config, svc *Services) (huma.API, *humastar.Linker) {
	config, linker := WithLinks(config)
	api := humago.New(mux, config)
	RegisterRoutes(api, svc)
	linker.Discover(api)
	return api, linker
}

// RegisterRoutes registers every API route on api.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
}

// RegisterHealth registers health and info routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
	huma.Get(api, "/api/v1/metrics", h.GetMetrics, huma.OperationTags("health"))
}

// RegisterSources registers source file routes.
func (h *APIHandler) RegisterSources(api huma.API) {
	huma.Get(api, "/api/v1/sources", h.GetSources, huma.OperationTags("sources"))
	huma.Put(api, "/api/v1/sources/{name}", h.PutSource, huma.OperationTags("sources"),
		func(o *huma.Operation) { o.MaxBodyBytes = maxSourceBytes })
	huma.Delete(api, "/api/v1/sources/{name}", h.DeleteSource, huma.OperationTags("sources"))
}

// RegisterTiles registers baked archive listing routes.
func (h *APIHandler) RegisterTiles(api huma.API) {
	huma.Get(api, "/api/v1/tiles", h.GetTiles, huma.OperationTags("tiles"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}

func (h *APIHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:     "geocluster",
		Version:  Version,
		DataDir:  h.svc.DataDir,
		DB:       h.svc.DB,
		Datasets: len(h.svc.Datasets.IDs()),
		Features: []string{"clusters", "mvt", "pmtiles", "duckdb"},
	}}, nil
}

func (h *APIHandler) GetMetrics(ctx context.Context, input *struct{}) (*struct{ Body []service.MetricValue }, error) {
	return &struct{ Body []service.MetricValue }{Body: h.svc.Datasets.Metrics().Snapshot()}, nil
}

func (h *APIHandler) GetSources(ctx context.Context, input *struct{}) (*struct{ Body []service.SourceFile }, error) {
	sources, err := h.svc.Sources.List()
	if err != nil {
		return nil, h.humaError(err)
	}
	return &struct{ Body []service.SourceFile }{Body: sources}, nil
}

func (h *APIHandler) PutSource(ctx context.Context, input *struct {
	SourceNameInput
	RawBody []byte `contentType:"application/octet-stream"`
}) (*struct{ Body service.SourceFile }, error) {
	saved, err := h.svc.Sources.Save(input.Name, input.RawBody)
	if err != nil {
		return nil, h.humaError(err)
	}
	h.svc.Bus.Publish(service.Event{Resource: "sources", Action: "updated", ID: input.Name})
	return &struct{ Body service.SourceFile }{Body: saved}, nil
}

func (h *APIHandler) DeleteSource(ctx context.Context, input *SourceNameInput) (*struct{ Body MessageBody }, error) {
	if err := h.svc.Sources.Delete(input.Name); err != nil {
		return nil, h.humaError(err)
	}
	h.svc.Bus.Publish(service.Event{Resource: "sources", Action: "deleted", ID: input.Name})
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Source deleted"}}, nil
}

func (h *APIHandler) GetTiles(ctx context.Context, input *struct{}) (*struct{ Body []service.TileFile }, error) {
	tiles, err := h.svc.Tiles.List()
	if err != nil {
		return nil, h.humaError(err)
	}
	return &struct{ Body []service.TileFile }{Body: tiles}, nil
}

// humaError maps service and index errors to HTTP errors.
func (h *APIHandler) humaError(err error) error {
	switch {
	case errors.Is(err, service.ErrDatasetNotFound),
		errors.Is(err, service.ErrSourceNotFound),
		errors.Is(err, service.ErrArchiveNotFound),
		errors.Is(err, cluster.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, service.ErrNotBuilt),
		errors.Is(err, service.ErrDatasetExists),
		errors.Is(err, tiler.ErrNoTiles):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, service.ErrInvalidDataset),
		errors.Is(err, service.ErrInvalidReducer),
		errors.Is(err, service.ErrUnsupportedSource),
		errors.Is(err, service.ErrInvalidName):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, service.ErrNoDatabase):
		return huma.NewError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return huma.NewError(499, "request canceled")
	default:
		h.svc.Logger.Error("request failed", "err", err)
		return huma.Error500InternalServerError("internal error", err)
	}
}
