package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb/encoding/mvt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/geocluster/internal/logging"
	"github.com/joeblew999/geocluster/internal/service"
)

const pointsJSON = `{"type":"FeatureCollection","features":[
{"type":"Feature","geometry":{"type":"Point","coordinates":[10,10]},"properties":{"kind":"x"}},
{"type":"Feature","geometry":{"type":"Point","coordinates":[10.001,10]},"properties":{"kind":"y"}}
]}`

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	s := New(Config{Host: "localhost", Port: "0", DataDir: dir, Logger: logging.New(os.Stderr, slog.LevelError)})

	svc := s.Services()
	_, err := svc.Sources.Save("points.geojson", []byte(pointsJSON))
	require.NoError(t, err)
	_, err = svc.Datasets.Create(service.DatasetConfig{ID: "points", Name: "Points", Source: "points.geojson", Layer: "points"})
	require.NoError(t, err)

	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return s, ts
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	// keep the transport from transparently decoding the gzipped tiles
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestMVT(t *testing.T) {
	s, ts := newTestServer(t)

	resp := get(t, ts.URL+"/mvt/points/0/0/0")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	require.NoError(t, s.BuildAll(context.Background()))

	resp = get(t, ts.URL+"/mvt/points/0/0/0.mvt")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
	assert.Equal(t, "application/vnd.mapbox-vector-tile", resp.Header.Get("Content-Type"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	layers, err := mvt.UnmarshalGzipped(data)
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, "points", layers[0].Name)
	assert.Len(t, layers[0].Features, 1)

	resp = get(t, ts.URL+"/mvt/points/2/0/0")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = get(t, ts.URL+"/mvt/points/1/2/0")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = get(t, ts.URL+"/mvt/nope/0/0/0")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTilesServesBakedArchives(t *testing.T) {
	s, ts := newTestServer(t)
	require.NoError(t, s.BuildAll(context.Background()))
	_, err := s.Services().Datasets.Bake(context.Background(), "points")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(s.Services().Tiles.TilesDir(), "points.pmtiles"))

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/tiles/points.pmtiles", nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=0-6")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	magic, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "PMTiles", string(magic))

	req, err = http.NewRequest(http.MethodOptions, ts.URL+"/tiles/points.pmtiles", nil)
	require.NoError(t, err)
	opts, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer opts.Body.Close()
	assert.Equal(t, http.StatusOK, opts.StatusCode)
	assert.Equal(t, "Range", opts.Header.Get("Access-Control-Allow-Headers"))
}

func TestRootAndOpenAPI(t *testing.T) {
	s, ts := newTestServer(t)

	resp := get(t, ts.URL+"/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	links := strings.Join(resp.Header.Values("Link"), ",")
	assert.Contains(t, links, `</api/v1/datasets>; rel="datasets"`)
	assert.NotContains(t, links, "/api/v1/events")

	resp = get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, ts.URL+"/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	oapi := s.OpenAPI()
	assert.Contains(t, oapi.Paths, "/api/v1/datasets/{id}/clusters")
	assert.Contains(t, oapi.Paths, "/api/v1/datasets/{id}/clusters/{clusterId}/leaves")
}
