package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/pkg/errors"

	"github.com/joeblew999/geocluster/internal/api"
	"github.com/joeblew999/geocluster/internal/db"
	"github.com/joeblew999/geocluster/internal/humastar"
	"github.com/joeblew999/geocluster/internal/service"
)

// Config holds the server configuration.
type Config struct {
	Host         string
	Port         string
	DataDir      string
	TileCacheTTL time.Duration
	Logger       *slog.Logger
}

// Server is the geocluster HTTP server.
type Server struct {
	config   Config
	mux      *http.ServeMux
	humaAPI  huma.API
	linker   *humastar.Linker
	db       *sql.DB
	services *api.Services
	logger   *slog.Logger
}

// New creates a new geocluster server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	s := &Server{
		config: cfg,
		mux:    mux,
		logger: logger,
	}

	// DuckDB only serves CSV and Parquet sources, GeoJSON works without it
	conn, err := db.Get(db.Config{
		DataDir: cfg.DataDir,
		DBName:  "geocluster",
	})
	if err != nil {
		logger.Warn("duckdb unavailable, CSV and Parquet sources disabled", "err", err)
	} else {
		s.db = conn
	}

	bus := service.DefaultBus
	sources := service.NewSourceService(cfg.DataDir, s.db)
	tiles := service.NewTileService(cfg.DataDir)
	s.services = &api.Services{
		Datasets: service.NewDatasetService(cfg.DataDir, service.DatasetDeps{
			Sources:  sources,
			Tiles:    tiles,
			Bus:      bus,
			Logger:   logger,
			CacheTTL: cfg.TileCacheTTL,
		}),
		Sources: sources,
		Tiles:   tiles,
		Bus:     bus,
		DataDir: cfg.DataDir,
		DB:      s.db != nil,
		Logger:  logger,
	}

	humaConfig := huma.DefaultConfig("geocluster API", api.Version)
	humaConfig.Info.Description = "Point clustering server: datasets, cluster queries, vector tiles and PMTiles export."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}

	s.humaAPI, s.linker = api.Mount(mux, humaConfig, s.services)
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the OpenAPI document of the registered routes.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Services exposes the services behind the API.
func (s *Server) Services() *api.Services {
	return s.services
}

// BuildAll builds every configured dataset.
func (s *Server) BuildAll(ctx context.Context) error {
	return s.services.Datasets.BuildAll(ctx)
}

// Close closes server resources.
func (s *Server) Close() error {
	return db.Close()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /mvt/{id}/{z}/{x}/{y}", s.handleMVT)
	s.mux.Handle("/tiles/", http.StripPrefix("/tiles/", s.handleTiles(s.services.Tiles.TilesDir())))
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	for _, link := range s.linker.EntryLinks() {
		w.Header().Add("Link", link)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "geocluster",
		"status":  "running",
	})
}

// handleMVT serves tile z/x/y of a dataset as a gzipped Mapbox Vector Tile.
// Empty tiles answer 204. A .mvt or .pbf suffix on y is accepted.
func (s *Server) handleMVT(w http.ResponseWriter, r *http.Request) {
	setCORS(w.Header())

	ys := r.PathValue("y")
	ys = strings.TrimSuffix(strings.TrimSuffix(ys, ".mvt"), ".pbf")
	z, errZ := strconv.Atoi(r.PathValue("z"))
	x, errX := strconv.Atoi(r.PathValue("x"))
	y, errY := strconv.Atoi(ys)
	if errZ != nil || errX != nil || errY != nil || z < 0 || z > 30 || x < 0 || y < 0 || x >= 1<<z || y >= 1<<z {
		http.Error(w, "invalid tile coordinates", http.StatusBadRequest)
		return
	}

	data, err := s.services.Datasets.MVT(r.PathValue("id"), z, x, y)
	switch {
	case errors.Is(err, service.ErrDatasetNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, service.ErrNotBuilt):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		s.logger.Error("rendering tile failed", "dataset", r.PathValue("id"), "z", z, "x", x, "y", y, "err", err)
		http.Error(w, "rendering tile failed", http.StatusInternalServerError)
		return
	}

	if data == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.mapbox-vector-tile")
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func (s *Server) handleTiles(tilesDir string) http.Handler {
	files := http.FileServer(http.Dir(tilesDir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORS(w.Header())
		w.Header().Set("Access-Control-Allow-Headers", "Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		files.ServeHTTP(w, r)
	})
}

func setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
}
