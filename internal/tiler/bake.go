package tiler

import (
	"bytes"
	"context"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/pkg/errors"
	"github.com/protomaps/go-pmtiles/pmtiles"

	"github.com/joeblew999/geocluster/internal/cluster"
)

// ErrNoTiles is returned when a bake produced no tile at all.
var ErrNoTiles = errors.New("no tiles to write")

// clients fetch the first 16 KiB of an archive and expect the whole root
// directory inside it
const maxRootLen = 16384 - pmtiles.HeaderV3LenBytes

// Config controls a bake. Zero zooms select the index's clustered range.
type Config struct {
	Layer       string
	Name        string
	Description string
	MinZoom     int
	MaxZoom     int
	Logger      *slog.Logger
}

// Stats summarizes a finished bake.
type Stats struct {
	Tiles    int           `json:"tiles" doc:"Number of tiles written"`
	Bytes    int64         `json:"bytes" doc:"Archive size in bytes"`
	MinZoom  int           `json:"minZoom" doc:"Lowest baked zoom"`
	MaxZoom  int           `json:"maxZoom" doc:"Highest baked zoom"`
	Duration time.Duration `json:"duration" doc:"Bake duration in nanoseconds"`
}

type tileEntry struct {
	id   uint64
	data []byte
}

// Bake renders every non-empty tile of idx between the configured zooms and
// writes them to a PMTiles archive at path. The archive is written to a
// temporary file first and renamed into place.
func Bake(ctx context.Context, idx *cluster.Index, path string, cfg Config) (Stats, error) {
	start := time.Now()
	opts := idx.Options()
	if cfg.MinZoom == 0 && cfg.MaxZoom == 0 {
		cfg.MinZoom, cfg.MaxZoom = opts.MinZoom, opts.MaxZoom
	}
	if cfg.MinZoom < 0 || cfg.MaxZoom > cluster.MaxZoomLimit || cfg.MinZoom > cfg.MaxZoom {
		return Stats{}, errors.Errorf("invalid bake zoom range %d..%d", cfg.MinZoom, cfg.MaxZoom)
	}
	if cfg.Layer == "" {
		cfg.Layer = DefaultLayer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var entries []tileEntry
	for z := cfg.MinZoom; z <= cfg.MaxZoom; z++ {
		if err := ctx.Err(); err != nil {
			return Stats{}, err
		}

		n := 0
		for _, t := range tileCandidates(idx, z) {
			rendered := idx.Tile(z, int(t.X), int(t.Y))
			if rendered == nil {
				continue
			}
			data, err := Encode(rendered, cfg.Layer, opts.Extent)
			if err != nil {
				return Stats{}, errors.Wrapf(err, "tile %d/%d/%d", z, t.X, t.Y)
			}
			entries = append(entries, tileEntry{
				id:   pmtiles.ZxyToID(uint8(z), t.X, t.Y),
				data: data,
			})
			n++
		}
		logger.Debug("baked zoom", "zoom", z, "tiles", n)
	}
	if len(entries) == 0 {
		return Stats{}, ErrNoTiles
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })

	header := pmtiles.HeaderV3{
		MinZoom:    uint8(cfg.MinZoom),
		MaxZoom:    uint8(cfg.MaxZoom),
		CenterZoom: uint8(cfg.MinZoom),
	}
	setBounds(&header, idx)

	metadata := map[string]interface{}{
		"name":        cfg.Name,
		"description": cfg.Description,
		"format":      "pbf",
		"generator":   "geocluster",
		"vector_layers": []map[string]interface{}{{
			"id":      cfg.Layer,
			"minzoom": cfg.MinZoom,
			"maxzoom": cfg.MaxZoom,
			"fields": map[string]string{
				"cluster":                 "Boolean",
				"cluster_id":              "Number",
				"point_count":             "Number",
				"point_count_abbreviated": "String",
			},
		}},
	}

	size, err := writeArchive(path, header, metadata, entries)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Tiles:    len(entries),
		Bytes:    size,
		MinZoom:  cfg.MinZoom,
		MaxZoom:  cfg.MaxZoom,
		Duration: time.Since(start),
	}
	logger.Info("baked archive", "path", path, "tiles", stats.Tiles, "bytes", stats.Bytes, "elapsed", stats.Duration)
	return stats, nil
}

// tileCandidates returns every tile of zoom z whose padded window can hold a
// node of that zoom, including the wrapped tiles across the antimeridian.
func tileCandidates(idx *cluster.Index, z int) []maptile.Tile {
	opts := idx.Options()
	z2 := math.Pow(2, float64(z))
	n := int(z2)
	pad := opts.Radius/float64(opts.Extent) + 1e-9

	seen := make(map[maptile.Tile]struct{})
	for _, f := range idx.Clusters([4]float64{-180, -90, 180, 90}, z) {
		pt := f.Geometry.(orb.Point)
		px := cluster.LngX(pt.Lon()) * z2
		py := cluster.LatY(pt.Lat()) * z2

		for y := int(math.Floor(py - pad)); y <= int(math.Floor(py+pad)); y++ {
			if y < 0 || y >= n {
				continue
			}
			for x := int(math.Floor(px - pad)); x <= int(math.Floor(px+pad)); x++ {
				wx := ((x % n) + n) % n
				seen[maptile.New(uint32(wx), uint32(y), maptile.Zoom(z))] = struct{}{}
			}
		}
	}

	tiles := make([]maptile.Tile, 0, len(seen))
	for t := range seen {
		tiles = append(tiles, t)
	}
	sort.Slice(tiles, func(i, j int) bool {
		if tiles[i].Y != tiles[j].Y {
			return tiles[i].Y < tiles[j].Y
		}
		return tiles[i].X < tiles[j].X
	})
	return tiles
}

// setBounds stores the extent of the raw points in the header.
func setBounds(h *pmtiles.HeaderV3, idx *cluster.Index) {
	var b orb.Bound
	first := true
	for _, f := range idx.Clusters([4]float64{-180, -90, 180, 90}, idx.Options().MaxZoom+1) {
		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			continue
		}
		if first {
			b = pt.Bound()
			first = false
			continue
		}
		b = b.Extend(pt)
	}
	if first {
		return
	}

	h.MinLonE7 = int32(b.Min.Lon() * 1e7)
	h.MinLatE7 = int32(b.Min.Lat() * 1e7)
	h.MaxLonE7 = int32(b.Max.Lon() * 1e7)
	h.MaxLatE7 = int32(b.Max.Lat() * 1e7)
	c := b.Center()
	h.CenterLonE7 = int32(c.Lon() * 1e7)
	h.CenterLatE7 = int32(c.Lat() * 1e7)
}

// buildDirectories serializes the tile entries, splitting them into leaf
// directories once the root alone would not fit.
func buildDirectories(entries []pmtiles.EntryV3) (root, leaves []byte) {
	root = pmtiles.SerializeEntries(entries, pmtiles.Gzip)
	if len(root) <= maxRootLen {
		return root, nil
	}

	for leafSize := 4096; ; leafSize *= 2 {
		var rootEntries []pmtiles.EntryV3
		var buf bytes.Buffer
		for i := 0; i < len(entries); i += leafSize {
			chunk := entries[i:min(i+leafSize, len(entries))]
			leaf := pmtiles.SerializeEntries(chunk, pmtiles.Gzip)
			rootEntries = append(rootEntries, pmtiles.EntryV3{
				TileID: chunk[0].TileID,
				Offset: uint64(buf.Len()),
				Length: uint32(len(leaf)),
			})
			buf.Write(leaf)
		}
		root = pmtiles.SerializeEntries(rootEntries, pmtiles.Gzip)
		if len(root) <= maxRootLen {
			return root, buf.Bytes()
		}
	}
}

// writeArchive lays out header, root directory, metadata, leaf directories
// and tile data, in that order.
func writeArchive(path string, header pmtiles.HeaderV3, metadata map[string]interface{}, tiles []tileEntry) (int64, error) {
	entries := make([]pmtiles.EntryV3, 0, len(tiles))
	var tileData bytes.Buffer
	for _, t := range tiles {
		entries = append(entries, pmtiles.EntryV3{
			TileID:    t.id,
			Offset:    uint64(tileData.Len()),
			Length:    uint32(len(t.data)),
			RunLength: 1,
		})
		tileData.Write(t.data)
	}

	metadataBytes, err := pmtiles.SerializeMetadata(metadata, pmtiles.Gzip)
	if err != nil {
		return 0, errors.Wrap(err, "serializing metadata")
	}
	root, leaves := buildDirectories(entries)

	header.SpecVersion = 3
	header.RootOffset = pmtiles.HeaderV3LenBytes
	header.RootLength = uint64(len(root))
	header.MetadataOffset = header.RootOffset + header.RootLength
	header.MetadataLength = uint64(len(metadataBytes))
	header.LeafDirectoryOffset = header.MetadataOffset + header.MetadataLength
	header.LeafDirectoryLength = uint64(len(leaves))
	header.TileDataOffset = header.LeafDirectoryOffset + header.LeafDirectoryLength
	header.TileDataLength = uint64(tileData.Len())
	header.AddressedTilesCount = uint64(len(entries))
	header.TileEntriesCount = uint64(len(entries))
	header.TileContentsCount = uint64(len(entries))
	header.Clustered = true
	header.InternalCompression = pmtiles.Gzip
	header.TileCompression = pmtiles.Gzip
	header.TileType = pmtiles.Mvt

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, errors.Wrap(err, "creating archive directory")
	}
	f, err := os.CreateTemp(filepath.Dir(path), ".bake-*.pmtiles")
	if err != nil {
		return 0, errors.Wrap(err, "creating archive")
	}
	defer os.Remove(f.Name())

	var size int64
	for _, part := range [][]byte{pmtiles.SerializeHeader(header), root, metadataBytes, leaves, tileData.Bytes()} {
		n, err := f.Write(part)
		size += int64(n)
		if err != nil {
			f.Close()
			return 0, errors.Wrap(err, "writing archive")
		}
	}
	if err := f.Close(); err != nil {
		return 0, errors.Wrap(err, "closing archive")
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return 0, errors.Wrap(err, "moving archive into place")
	}
	return size, nil
}

