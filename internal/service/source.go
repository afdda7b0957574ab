package service

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"

	"github.com/joeblew999/geocluster/internal/db"
)

var (
	// ErrSourceNotFound is returned for names missing from the sources directory.
	ErrSourceNotFound = errors.New("source not found")
	// ErrUnsupportedSource is returned for file types that cannot be read.
	ErrUnsupportedSource = errors.New("unsupported source type")
	// ErrNoDatabase is returned when a tabular source is read without DuckDB.
	ErrNoDatabase = errors.New("database not available")
	// ErrInvalidName is returned for file names that would leave their directory.
	ErrInvalidName = errors.New("invalid file name")
)

// Supported source file extensions and their types.
var extToType = map[string]string{
	".geojson":    "GeoJSON",
	".json":       "GeoJSON",
	".csv":        "CSV",
	".parquet":    "Parquet",
	".geoparquet": "Parquet",
}

// SourceService manages source data files.
type SourceService struct {
	sourcesDir string
	db         *sql.DB
}

// NewSourceService creates a new source service. conn may be nil, in which
// case only GeoJSON sources can be read.
func NewSourceService(dataDir string, conn *sql.DB) *SourceService {
	return &SourceService{
		sourcesDir: filepath.Join(dataDir, "sources"),
		db:         conn,
	}
}

// List returns all available source files.
func (s *SourceService) List() ([]SourceFile, error) {
	entries, err := os.ReadDir(s.sourcesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []SourceFile{}, nil
		}
		return nil, err
	}

	files := []SourceFile{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(entry.Name()))
		fileType, ok := extToType[ext]
		if !ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, SourceFile{
			Name:     entry.Name(),
			Size:     formatSize(info.Size()),
			FileType: fileType,
		})
	}

	return files, nil
}

// SourcesDir returns the path to the sources directory.
func (s *SourceService) SourcesDir() string {
	return s.sourcesDir
}

// Save writes a source file, replacing any file of the same name.
func (s *SourceService) Save(name string, data []byte) (SourceFile, error) {
	if err := validName(name); err != nil {
		return SourceFile{}, err
	}
	fileType, ok := extToType[strings.ToLower(filepath.Ext(name))]
	if !ok {
		return SourceFile{}, errors.Wrapf(ErrUnsupportedSource, "%q", name)
	}
	if err := os.MkdirAll(s.sourcesDir, 0755); err != nil {
		return SourceFile{}, errors.Wrap(err, "creating sources directory")
	}
	if err := os.WriteFile(filepath.Join(s.sourcesDir, name), data, 0644); err != nil {
		return SourceFile{}, errors.Wrapf(err, "writing source %q", name)
	}
	return SourceFile{Name: name, Size: formatSize(int64(len(data))), FileType: fileType}, nil
}

// Delete removes a source file.
func (s *SourceService) Delete(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.sourcesDir, name)); err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(ErrSourceNotFound, "%q", name)
		}
		return errors.Wrapf(err, "deleting source %q", name)
	}
	return nil
}

// ReadFeatures reads the point features of a source. GeoJSON is decoded
// directly; CSV and Parquet are read through DuckDB, taking coordinates from
// lngCol/latCol and every other column as a property. Rows without numeric
// coordinates are dropped and counted in dropped.
func (s *SourceService) ReadFeatures(ctx context.Context, name, lngCol, latCol string) (features []*geojson.Feature, dropped int, err error) {
	if err := validName(name); err != nil {
		return nil, 0, err
	}
	return s.ReadPath(ctx, filepath.Join(s.sourcesDir, name), lngCol, latCol)
}

// ReadPath reads the point features of the file at path, which need not live
// in the sources directory.
func (s *SourceService) ReadPath(ctx context.Context, path, lngCol, latCol string) (features []*geojson.Feature, dropped int, err error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, 0, errors.Wrapf(ErrSourceNotFound, "%q", filepath.Base(path))
		}
		return nil, 0, errors.Wrapf(err, "reading source %q", filepath.Base(path))
	}

	switch extToType[strings.ToLower(filepath.Ext(path))] {
	case "GeoJSON":
		features, err = readGeoJSON(path)
		return features, 0, err
	case "CSV":
		return s.readTable(ctx, "read_csv_auto", path, lngCol, latCol)
	case "Parquet":
		return s.readTable(ctx, "read_parquet", path, lngCol, latCol)
	default:
		return nil, 0, errors.Wrapf(ErrUnsupportedSource, "%q", filepath.Base(path))
	}
}

// NeedsDatabase reports whether reading path requires DuckDB.
func NeedsDatabase(path string) bool {
	switch extToType[strings.ToLower(filepath.Ext(path))] {
	case "CSV", "Parquet":
		return true
	}
	return false
}

func readGeoJSON(path string) ([]*geojson.Feature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading geojson")
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, errors.Wrap(err, "parsing geojson")
	}
	return explodeMultiPoints(fc.Features), nil
}

// explodeMultiPoints replaces every MultiPoint feature by one point feature
// per member sharing its properties.
func explodeMultiPoints(features []*geojson.Feature) []*geojson.Feature {
	out := make([]*geojson.Feature, 0, len(features))
	for _, f := range features {
		mp, ok := f.Geometry.(orb.MultiPoint)
		if !ok {
			out = append(out, f)
			continue
		}
		for _, p := range mp {
			pf := geojson.NewFeature(p)
			pf.ID = f.ID
			pf.Properties = f.Properties
			out = append(out, pf)
		}
	}
	return out
}

func (s *SourceService) readTable(ctx context.Context, fn, path, lngCol, latCol string) ([]*geojson.Feature, int, error) {
	if s.db == nil {
		return nil, 0, ErrNoDatabase
	}
	if lngCol == "" {
		lngCol = "lng"
	}
	if latCol == "" {
		latCol = "lat"
	}

	rows, err := db.Query(ctx, s.db, fmt.Sprintf("SELECT * FROM %s(%s)", fn, db.QuoteLiteral(path)))
	if err != nil {
		return nil, 0, errors.Wrapf(err, "querying %s", filepath.Base(path))
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, 0, errors.Wrap(err, "reading columns")
	}
	lngIdx, latIdx := -1, -1
	for i, c := range columns {
		switch {
		case strings.EqualFold(c, lngCol):
			lngIdx = i
		case strings.EqualFold(c, latCol):
			latIdx = i
		}
	}
	if lngIdx < 0 || latIdx < 0 {
		return nil, 0, errors.Errorf("%s: coordinate columns %q, %q not found in %v",
			filepath.Base(path), lngCol, latCol, columns)
	}

	var features []*geojson.Feature
	dropped := 0
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, 0, errors.Wrap(err, "scanning row")
		}
		lng, ok1 := toFloat(values[lngIdx])
		lat, ok2 := toFloat(values[latIdx])
		if !ok1 || !ok2 {
			dropped++
			continue
		}

		f := geojson.NewFeature(orb.Point{lng, lat})
		for i, c := range columns {
			if i == lngIdx || i == latIdx {
				continue
			}
			f.Properties[c] = propertyValue(values[i])
		}
		features = append(features, f)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "reading rows")
	}
	return features, dropped, nil
}

// propertyValue converts a scanned DuckDB value to a JSON friendly one.
func propertyValue(v any) any {
	switch t := v.(type) {
	case nil, bool, string, float64, float32, int, int8, int16, int32, int64, uint8, uint16, uint32, uint64:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return errors.Wrapf(ErrInvalidName, "%q", name)
	}
	return nil
}
