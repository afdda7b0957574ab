package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/geocluster/internal/humastar"
	"github.com/joeblew999/geocluster/internal/logging"
	"github.com/joeblew999/geocluster/internal/service"
)

const cafesJSON = `{"type":"FeatureCollection","features":[
{"type":"Feature","id":1,"geometry":{"type":"Point","coordinates":[0,0]},"properties":{"name":"a"}},
{"type":"Feature","id":2,"geometry":{"type":"Point","coordinates":[0,0.0001]},"properties":{"name":"b"}},
{"type":"Feature","id":3,"geometry":{"type":"Point","coordinates":[0.0001,0]},"properties":{"name":"c"}},
{"type":"Feature","id":4,"geometry":{"type":"Point","coordinates":[100,-40]},"properties":{"name":"d"}}
]}`

func newServices(t *testing.T) *Services {
	t.Helper()
	dir := t.TempDir()
	bus := service.NewEventBus()
	logger := logging.New(os.Stderr, slog.LevelError)
	sources := service.NewSourceService(dir, nil)
	tiles := service.NewTileService(dir)
	return &Services{
		Datasets: service.NewDatasetService(dir, service.DatasetDeps{
			Sources: sources, Tiles: tiles, Bus: bus, Logger: logger,
		}),
		Sources: sources,
		Tiles:   tiles,
		Bus:     bus,
		DataDir: dir,
		Logger:  logger,
	}
}

func newTestAPI(t *testing.T) (humatest.TestAPI, *Services) {
	t.Helper()
	svc := newServices(t)
	config, linker := WithLinks(huma.DefaultConfig("test", Version))
	_, api := humatest.New(t, config)
	RegisterRoutes(api, svc)
	linker.Discover(api)
	return api, svc
}

// builtAPI returns an API with the "cafes" dataset uploaded and built.
func builtAPI(t *testing.T) humatest.TestAPI {
	t.Helper()
	api, _ := newTestAPI(t)
	resp := api.Put("/api/v1/sources/cafes.geojson", strings.NewReader(cafesJSON))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = api.Post("/api/v1/datasets", map[string]any{
		"id": "cafes", "name": "Cafes", "source": "cafes.geojson",
		"options": map[string]any{"maxZoom": 16},
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = api.Post("/api/v1/datasets/cafes/build")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	return api
}

type featureCollectionResponse struct {
	Type     string `json:"type"`
	Features []struct {
		ID         any            `json:"id"`
		Properties map[string]any `json:"properties"`
	} `json:"features"`
}

func decode[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestHealthAndInfo(t *testing.T) {
	api, _ := newTestAPI(t)

	resp := api.Get("/health")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, HealthBody{Status: "ok", Version: Version}, decode[HealthBody](t, resp.Body.String()))

	resp = api.Get("/api/v1/info")
	require.Equal(t, http.StatusOK, resp.Code)
	info := decode[InfoBody](t, resp.Body.String())
	assert.Equal(t, "geocluster", info.Name)
	assert.False(t, info.DB)
}

func TestSourceRoutes(t *testing.T) {
	api, _ := newTestAPI(t)

	resp := api.Put("/api/v1/sources/cafes.geojson", strings.NewReader(cafesJSON))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = api.Get("/api/v1/sources")
	require.Equal(t, http.StatusOK, resp.Code)
	files := decode[[]service.SourceFile](t, resp.Body.String())
	require.Len(t, files, 1)
	assert.Equal(t, "GeoJSON", files[0].FileType)

	resp = api.Put("/api/v1/sources/notes.txt", strings.NewReader("x"))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = api.Delete("/api/v1/sources/cafes.geojson")
	assert.Equal(t, http.StatusOK, resp.Code)
	resp = api.Delete("/api/v1/sources/cafes.geojson")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestDatasetRoutes(t *testing.T) {
	api, _ := newTestAPI(t)

	resp := api.Get("/api/v1/datasets/nope")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = api.Post("/api/v1/datasets", map[string]any{"name": "Cafes", "source": "cafes.geojson"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	created := decode[DatasetBody](t, resp.Body.String())
	assert.Equal(t, "cafes", created.ID)
	assert.False(t, created.Status.Built)
	assert.Contains(t, resp.Result().Header.Values("Link"), `</api/v1/datasets/cafes/build>; rel="build"; method="POST"; title="Build index"`)

	resp = api.Post("/api/v1/datasets", map[string]any{"id": "cafes", "name": "Cafes", "source": "cafes.geojson"})
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = api.Post("/api/v1/datasets", map[string]any{"name": "Bad", "source": "x.geojson", "reducers": []string{"avg:x"}})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = api.Put("/api/v1/datasets/cafes", map[string]any{"name": "Cafes 2", "source": "cafes.geojson"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = api.Get("/api/v1/datasets")
	require.Equal(t, http.StatusOK, resp.Code)
	all := decode[[]DatasetBody](t, resp.Body.String())
	require.Len(t, all, 1)
	assert.Equal(t, "Cafes 2", all[0].Name)

	// not built yet
	resp = api.Get("/api/v1/datasets/cafes/clusters?zoom=0")
	assert.Equal(t, http.StatusConflict, resp.Code)

	// source missing
	resp = api.Post("/api/v1/datasets/cafes/build")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = api.Delete("/api/v1/datasets/cafes")
	assert.Equal(t, http.StatusOK, resp.Code)
	resp = api.Delete("/api/v1/datasets/cafes")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestClusterRoutes(t *testing.T) {
	api := builtAPI(t)

	resp := api.Get("/api/v1/datasets/cafes")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, decode[DatasetBody](t, resp.Body.String()).Status.Built)
	assert.Contains(t, resp.Result().Header.Values("Link"), `</mvt/cafes/{z}/{x}/{y}>; rel="tiles"; method="GET"; title="Vector tiles"`)

	resp = api.Get("/api/v1/datasets/cafes/clusters?zoom=0&bbox=-180,-85,180,85")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	fc := decode[featureCollectionResponse](t, resp.Body.String())
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 2)

	var clusterID int
	for _, f := range fc.Features {
		if f.Properties["cluster"] == true {
			clusterID = int(f.Properties["cluster_id"].(float64))
			assert.Equal(t, 3.0, f.Properties["point_count"])
		}
	}
	require.NotZero(t, clusterID)

	resp = api.Get(fmt.Sprintf("/api/v1/datasets/cafes/clusters/%d/children", clusterID))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.NotEmpty(t, decode[featureCollectionResponse](t, resp.Body.String()).Features)

	resp = api.Get(fmt.Sprintf("/api/v1/datasets/cafes/clusters/%d/expansion-zoom", clusterID))
	require.Equal(t, http.StatusOK, resp.Code)
	ez := decode[ExpansionZoomBody](t, resp.Body.String())
	assert.Equal(t, clusterID, ez.ClusterID)
	assert.Positive(t, ez.Zoom)

	resp = api.Get(fmt.Sprintf("/api/v1/datasets/cafes/clusters/%d/leaves?limit=2&offset=0", clusterID))
	require.Equal(t, http.StatusOK, resp.Code)
	page := decode[humastar.PageBody[json.RawMessage]](t, resp.Body.String())
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Data, 2)
	path := fmt.Sprintf("/api/v1/datasets/cafes/clusters/%d/leaves", clusterID)
	assert.Contains(t, resp.Result().Header.Values("Link"), fmt.Sprintf(`<%s?offset=2&limit=2>; rel="next"`, path))

	resp = api.Get("/api/v1/datasets/cafes/clusters/-5/children")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = api.Get("/api/v1/datasets/cafes/clusters?zoom=0&bbox=1,2,3")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestTileRoute(t *testing.T) {
	api := builtAPI(t)

	resp := api.Get("/api/v1/datasets/cafes/tiles/0/0/0")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var tile struct {
		Features []struct {
			Type     int      `json:"type"`
			Geometry [][2]int `json:"geometry"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &tile))
	require.Len(t, tile.Features, 2)
	assert.Equal(t, 1, tile.Features[0].Type)

	resp = api.Get("/api/v1/datasets/cafes/tiles/3/0/0")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = api.Get("/api/v1/datasets/cafes/tiles/1/5/0")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestBakeAndMetricsRoutes(t *testing.T) {
	api := builtAPI(t)

	resp := api.Post("/api/v1/datasets/cafes/bake")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = api.Get("/api/v1/tiles")
	require.Equal(t, http.StatusOK, resp.Code)
	files := decode[[]service.TileFile](t, resp.Body.String())
	require.Len(t, files, 1)
	assert.Equal(t, "cafes.pmtiles", files[0].Name)

	resp = api.Get("/api/v1/metrics")
	require.Equal(t, http.StatusOK, resp.Code)
	metrics := decode[[]service.MetricValue](t, resp.Body.String())
	names := make([]string, 0, len(metrics))
	for _, m := range metrics {
		names = append(names, m.Name)
	}
	assert.Contains(t, names, service.MetricBuilds)
	assert.Contains(t, names, "build.cafes.total")
}

func TestEventStream(t *testing.T) {
	svc := newServices(t)
	mux := http.NewServeMux()
	Mount(mux, huma.DefaultConfig("test", Version), svc)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// publish until the subscriber has attached and the event arrives
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				svc.Bus.Publish(service.Event{Resource: "datasets", Action: "built", ID: "cafes"})
			}
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	var sawSignals bool
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "lastEvent") && strings.Contains(line, `"cafes"`) {
			sawSignals = true
			break
		}
	}
	assert.True(t, sawSignals)
}
