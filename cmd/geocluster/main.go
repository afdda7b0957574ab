package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/geocluster/internal/cluster"
	"github.com/joeblew999/geocluster/internal/db"
	"github.com/joeblew999/geocluster/internal/logging"
	"github.com/joeblew999/geocluster/internal/server"
	"github.com/joeblew999/geocluster/internal/service"
	"github.com/joeblew999/geocluster/internal/tiler"
)

// Options defines all CLI flags and env vars for the geocluster server.
// Flags: --host, --port, --data-dir, --log-level, --log-file, --tile-cache-ttl, --build-on-start
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, ...
type Options struct {
	Host         string `doc:"Host to bind to" default:"0.0.0.0"`
	Port         int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir      string `doc:"Directory for sources, datasets and baked tiles" default:".data"`
	LogLevel     string `doc:"Log level: debug, info, warn or error" default:"info"`
	LogFile      string `doc:"Also write logs to this file, rotated by size"`
	TileCacheTTL string `doc:"How long rendered vector tiles stay cached" default:"10m"`
	BuildOnStart bool   `doc:"Build every dataset when the server starts" default:"true"`
}

func setupLogging(opts *Options) (*slog.Logger, func()) {
	logger, closer, err := logging.Setup(logging.Config{Level: opts.LogLevel, Filename: opts.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logging: %v\n", err)
		os.Exit(1)
	}
	return logger, func() { closer.Close() }
}

func newServer(opts *Options, logger *slog.Logger) *server.Server {
	ttl, err := time.ParseDuration(opts.TileCacheTTL)
	if err != nil {
		logger.Warn("invalid tile cache ttl, using default", "value", opts.TileCacheTTL, "default", service.DefaultTileCacheTTL)
		ttl = service.DefaultTileCacheTTL
	}
	return server.New(server.Config{
		Host:         opts.Host,
		Port:         strconv.Itoa(opts.Port),
		DataDir:      opts.DataDir,
		TileCacheTTL: ttl,
		Logger:       logger,
	})
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		var httpServer *http.Server
		var closeLog func()

		hooks.OnStart(func() {
			var logger *slog.Logger
			logger, closeLog = setupLogging(opts)
			srv := newServer(opts, logger)
			defer srv.Close()

			if opts.BuildOnStart {
				go func() {
					if err := srv.BuildAll(context.Background()); err != nil {
						logger.Warn("some datasets failed to build", "err", err)
					}
				}()
			}

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("geocluster server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Data:    %s\n", opts.DataDir)
			fmt.Println()
			fmt.Printf("  Tiles:   %s/mvt/{dataset}/{z}/{x}/{y}\n", baseURL)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Println()

			httpServer = &http.Server{Addr: addr, Handler: srv}
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("server error", "err", err)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			if httpServer != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				httpServer.Shutdown(ctx)
			}
			if closeLog != nil {
				closeLog()
			}
		})
	})

	cli.Root().Use = "geocluster"
	cli.Root().Short = "Point clustering server with vector tiles and PMTiles export"
	cli.Root().Version = "0.1.0"

	cli.Root().AddCommand(specCommand(), bakeCommand(), clustersCommand())
	cli.Run()
}

// specCommand exports the OpenAPI spec.
func specCommand() *cobra.Command {
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			logger := logging.New(os.Stderr, slog.LevelError)
			srv := newServer(opts, logger)
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			var err error
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	return specCmd
}

// addIndexFlags registers the clustering flags shared by bake and clusters.
func addIndexFlags(cmd *cobra.Command) {
	defaults := cluster.DefaultOptions()
	cmd.Flags().Int("min-zoom", defaults.MinZoom, "Minimum zoom level at which clusters are generated")
	cmd.Flags().Int("max-zoom", defaults.MaxZoom, "Maximum zoom level at which clusters are generated")
	cmd.Flags().Int("min-points", defaults.MinPoints, "Minimum points to form a cluster")
	cmd.Flags().Float64("radius", defaults.Radius, "Cluster radius in pixels")
	cmd.Flags().Int("extent", defaults.Extent, "Tile extent the radius is relative to")
	cmd.Flags().StringSlice("reduce", nil, "Cluster property aggregations, e.g. sum:visits,max:rating")
	cmd.Flags().String("lng", "lng", "Longitude column of CSV and Parquet input")
	cmd.Flags().String("lat", "lat", "Latitude column of CSV and Parquet input")
}

// loadIndex reads the point file at path and builds an index from the
// command's clustering flags.
func loadIndex(cmd *cobra.Command, path string, logger *slog.Logger) (*cluster.Index, error) {
	flags := cmd.Flags()
	opts := cluster.DefaultOptions()
	opts.MinZoom, _ = flags.GetInt("min-zoom")
	opts.MaxZoom, _ = flags.GetInt("max-zoom")
	opts.MinPoints, _ = flags.GetInt("min-points")
	opts.Radius, _ = flags.GetFloat64("radius")
	opts.Extent, _ = flags.GetInt("extent")
	opts.Observer = logging.Observer{Logger: logger}

	reducers, _ := flags.GetStringSlice("reduce")
	mapFn, reduceFn, err := service.ParseReducers(reducers)
	if err != nil {
		return nil, err
	}
	opts.Map, opts.Reduce = mapFn, reduceFn

	idx, err := cluster.New(opts)
	if err != nil {
		return nil, err
	}

	var conn *sql.DB
	if service.NeedsDatabase(path) {
		if conn, err = db.Open(db.Config{}); err != nil {
			return nil, err
		}
		defer conn.Close()
	}
	lngCol, _ := flags.GetString("lng")
	latCol, _ := flags.GetString("lat")
	features, dropped, err := service.NewSourceService("", conn).ReadPath(cmd.Context(), path, lngCol, latCol)
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		logger.Warn("dropped rows without numeric coordinates", "dropped", dropped)
	}

	idx.Load(features)
	return idx, nil
}

// bakeCommand clusters a point file and writes every tile to a PMTiles archive.
func bakeCommand() *cobra.Command {
	bakeCmd := &cobra.Command{
		Use:   "bake <points-file>",
		Short: "Cluster a GeoJSON, CSV or Parquet point file into a PMTiles archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New(os.Stderr, slog.LevelInfo)
			idx, err := loadIndex(cmd, args[0], logger)
			if err != nil {
				return err
			}

			out, _ := cmd.Flags().GetString("output")
			layer, _ := cmd.Flags().GetString("layer")
			if out == "" {
				out = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".pmtiles"
			}
			stats, err := tiler.Bake(cmd.Context(), idx, out, tiler.Config{
				Layer:  layer,
				Name:   strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0])),
				Logger: logger,
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d tiles, %d bytes, zoom %d-%d in %s\n",
				out, stats.Tiles, stats.Bytes, stats.MinZoom, stats.MaxZoom, stats.Duration.Round(time.Millisecond))
			return nil
		},
	}
	addIndexFlags(bakeCmd)
	bakeCmd.Flags().StringP("output", "o", "", "Output archive (default: input name with .pmtiles)")
	bakeCmd.Flags().StringP("layer", "l", tiler.DefaultLayer, "Vector tile layer name")
	return bakeCmd
}

// clustersCommand prints the clusters of one zoom level as GeoJSON.
func clustersCommand() *cobra.Command {
	clustersCmd := &cobra.Command{
		Use:   "clusters <points-file>",
		Short: "Print the clusters of a point file at one zoom level as GeoJSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New(os.Stderr, slog.LevelWarn)
			idx, err := loadIndex(cmd, args[0], logger)
			if err != nil {
				return err
			}

			zoom, _ := cmd.Flags().GetInt("zoom")
			bboxFlag, _ := cmd.Flags().GetFloat64Slice("bbox")
			if len(bboxFlag) != 4 {
				return errors.Errorf("--bbox needs four values, got %d", len(bboxFlag))
			}
			bbox := [4]float64{bboxFlag[0], bboxFlag[1], bboxFlag[2], bboxFlag[3]}

			fc := geojson.NewFeatureCollection()
			fc.Features = append(fc.Features, idx.Clusters(bbox, zoom)...)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(fc)
		},
	}
	addIndexFlags(clustersCmd)
	clustersCmd.Flags().IntP("zoom", "z", 0, "Zoom level")
	clustersCmd.Flags().Float64Slice("bbox", []float64{-180, -85, 180, 85}, "Bounding box west,south,east,north")
	return clustersCmd
}
