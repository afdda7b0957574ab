package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/geocluster/internal/cluster"
	"github.com/joeblew999/geocluster/internal/logging"
	"github.com/joeblew999/geocluster/internal/tiler"
)

var (
	// ErrDatasetNotFound is returned for unknown dataset ids.
	ErrDatasetNotFound = errors.New("dataset not found")
	// ErrDatasetExists is returned when creating a dataset whose id is taken.
	ErrDatasetExists = errors.New("dataset already exists")
	// ErrNotBuilt is returned when querying a dataset that has no index yet.
	ErrNotBuilt = errors.New("dataset index not built")
	// ErrInvalidDataset is returned for configurations that cannot be built.
	ErrInvalidDataset = errors.New("invalid dataset")
)

// DatasetDeps are the collaborators of a DatasetService. Nil fields get
// working defaults.
type DatasetDeps struct {
	Sources  *SourceService
	Tiles    *TileService
	Bus      *EventBus
	Metrics  *Metrics
	Logger   *slog.Logger
	CacheTTL time.Duration
}

// built is the current index of one dataset together with its tile cache.
type built struct {
	idx    *cluster.Index
	tiles  *tileCache
	layer  string
	status DatasetStatus
}

// DatasetService manages dataset definitions and their built indexes.
type DatasetService struct {
	dataDir  string
	datasets map[string]DatasetConfig
	mu       sync.RWMutex

	deps  DatasetDeps
	built map[string]*built
	bmu   sync.RWMutex
}

// NewDatasetService creates a dataset service persisting to
// <dataDir>/datasets.yaml.
func NewDatasetService(dataDir string, deps DatasetDeps) *DatasetService {
	if deps.Sources == nil {
		deps.Sources = NewSourceService(dataDir, nil)
	}
	if deps.Tiles == nil {
		deps.Tiles = NewTileService(dataDir)
	}
	if deps.Bus == nil {
		deps.Bus = DefaultBus
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &DatasetService{
		dataDir:  dataDir,
		datasets: make(map[string]DatasetConfig),
		deps:     deps,
		built:    make(map[string]*built),
	}
	s.loadFromDisk()
	return s
}

// List returns all dataset configurations.
func (s *DatasetService) List() map[string]DatasetConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]DatasetConfig, len(s.datasets))
	for k, v := range s.datasets {
		result[k] = v
	}
	return result
}

// IDs returns the dataset ids in sorted order.
func (s *DatasetService) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.datasets))
	for id := range s.datasets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Get returns a dataset by ID.
func (s *DatasetService) Get(id string) (DatasetConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ds, ok := s.datasets[id]
	return ds, ok
}

// Create adds a new dataset configuration.
func (s *DatasetService) Create(ds DatasetConfig) (DatasetConfig, error) {
	if ds.ID == "" {
		ds.ID = generateID(ds.Name)
	}
	if err := validateDataset(ds); err != nil {
		return DatasetConfig{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.datasets[ds.ID]; exists {
		return DatasetConfig{}, errors.Wrapf(ErrDatasetExists, "%q", ds.ID)
	}

	s.datasets[ds.ID] = ds
	if err := s.saveToDisk(); err != nil {
		delete(s.datasets, ds.ID)
		return DatasetConfig{}, err
	}

	s.deps.Bus.Publish(Event{Resource: "datasets", Action: "created", ID: ds.ID})
	return ds, nil
}

// Update replaces a dataset configuration by ID. The built index, if any,
// stays in service until the next Build.
func (s *DatasetService) Update(id string, ds DatasetConfig) (DatasetConfig, error) {
	ds.ID = id
	if err := validateDataset(ds); err != nil {
		return DatasetConfig{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.datasets[id]
	if !exists {
		return DatasetConfig{}, errors.Wrapf(ErrDatasetNotFound, "%q", id)
	}

	s.datasets[id] = ds
	if err := s.saveToDisk(); err != nil {
		s.datasets[id] = prev
		return DatasetConfig{}, err
	}

	s.deps.Bus.Publish(Event{Resource: "datasets", Action: "updated", ID: id})
	return ds, nil
}

// Delete removes a dataset and drops its index.
func (s *DatasetService) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.datasets[id]; !exists {
		return errors.Wrapf(ErrDatasetNotFound, "%q", id)
	}

	delete(s.datasets, id)
	if err := s.saveToDisk(); err != nil {
		return err
	}

	s.bmu.Lock()
	delete(s.built, id)
	s.bmu.Unlock()

	s.deps.Bus.Publish(Event{Resource: "datasets", Action: "deleted", ID: id})
	return nil
}

// Build reads the dataset's source and builds a fresh index. Queries keep
// using the previous index until the new one is complete.
func (s *DatasetService) Build(ctx context.Context, id string) (DatasetStatus, error) {
	ds, ok := s.Get(id)
	if !ok {
		return DatasetStatus{}, errors.Wrapf(ErrDatasetNotFound, "%q", id)
	}
	logger := s.deps.Logger.With("dataset", id)

	features, dropped, err := s.deps.Sources.ReadFeatures(ctx, ds.Source, ds.LngColumn, ds.LatColumn)
	if err != nil {
		return DatasetStatus{}, errors.Wrapf(err, "dataset %q", id)
	}
	if err := ctx.Err(); err != nil {
		return DatasetStatus{}, err
	}

	opts, err := clusterOptions(ds)
	if err != nil {
		return DatasetStatus{}, err
	}
	opts.Observer = cluster.MultiObserver{
		logging.Observer{Logger: logger},
		s.deps.Metrics.Observer(id),
		busObserver{bus: s.deps.Bus, id: id},
	}

	idx, err := cluster.New(opts)
	if err != nil {
		return DatasetStatus{}, errors.Wrapf(ErrInvalidDataset, "%q: %v", id, err)
	}

	start := time.Now()
	idx.Load(features)
	elapsed := time.Since(start)

	skipped := dropped + len(features) - idx.Len()
	if skipped > 0 {
		logger.Warn("skipped features without point geometry", "skipped", skipped)
	}

	layer := ds.Layer
	if layer == "" {
		layer = tiler.DefaultLayer
	}
	b := &built{
		idx:   idx,
		tiles: newTileCache(s.deps.CacheTTL),
		layer: layer,
		status: DatasetStatus{
			ID:       id,
			Built:    true,
			BuiltAt:  time.Now(),
			Points:   idx.Len(),
			Skipped:  skipped,
			Duration: elapsed.String(),
			MinZoom:  opts.MinZoom,
			MaxZoom:  opts.MaxZoom,
		},
	}

	if !s.install(id, b) {
		logger.Warn("dataset deleted during build, discarding index")
		return DatasetStatus{}, errors.Wrapf(ErrDatasetNotFound, "%q", id)
	}

	s.deps.Metrics.Inc(MetricBuilds)
	s.deps.Bus.Publish(Event{Resource: "datasets", Action: "built", ID: id, Elapsed: elapsed, Detail: b.status.Duration})
	return b.status, nil
}

// install swaps in a finished build unless the dataset was deleted while it
// was building.
func (s *DatasetService) install(id string, b *built) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, exists := s.datasets[id]; !exists {
		return false
	}

	s.bmu.Lock()
	s.built[id] = b
	s.bmu.Unlock()
	return true
}

// BuildAll builds every dataset, logging failures and returning the first.
func (s *DatasetService) BuildAll(ctx context.Context) error {
	var first error
	for _, id := range s.IDs() {
		if _, err := s.Build(ctx, id); err != nil {
			s.deps.Logger.Error("dataset build failed", "dataset", id, "err", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Status reports the build state of a dataset.
func (s *DatasetService) Status(id string) (DatasetStatus, error) {
	if _, ok := s.Get(id); !ok {
		return DatasetStatus{}, errors.Wrapf(ErrDatasetNotFound, "%q", id)
	}
	s.bmu.RLock()
	defer s.bmu.RUnlock()
	if b, ok := s.built[id]; ok {
		return b.status, nil
	}
	return DatasetStatus{ID: id}, nil
}

// Index returns the current index of a dataset.
func (s *DatasetService) Index(id string) (*cluster.Index, error) {
	b, err := s.current(id)
	if err != nil {
		return nil, err
	}
	return b.idx, nil
}

// MVT returns tile z/x/y of a dataset as a gzipped vector tile, or nil when
// the tile is empty. Encoded tiles are cached until the next build.
func (s *DatasetService) MVT(id string, z, x, y int) ([]byte, error) {
	b, err := s.current(id)
	if err != nil {
		return nil, err
	}

	if data, ok := b.tiles.get(z, x, y); ok {
		s.deps.Metrics.Inc(MetricTileHits)
		return data, nil
	}
	s.deps.Metrics.Inc(MetricTileMisses)

	var data []byte
	if t := b.idx.Tile(z, x, y); t != nil {
		data, err = tiler.Encode(t, b.layer, b.idx.Options().Extent)
		if err != nil {
			return nil, errors.Wrapf(err, "dataset %q tile %d/%d/%d", id, z, x, y)
		}
		s.deps.Metrics.Inc(MetricTileRendered)
	} else {
		s.deps.Metrics.Inc(MetricTileEmpty)
	}
	b.tiles.set(z, x, y, data)
	return data, nil
}

// Bake writes the dataset's current index to <dataDir>/tiles/<id>.pmtiles.
func (s *DatasetService) Bake(ctx context.Context, id string) (tiler.Stats, error) {
	ds, ok := s.Get(id)
	if !ok {
		return tiler.Stats{}, errors.Wrapf(ErrDatasetNotFound, "%q", id)
	}
	b, err := s.current(id)
	if err != nil {
		return tiler.Stats{}, err
	}

	stats, err := tiler.Bake(ctx, b.idx, s.deps.Tiles.ArchivePath(id), tiler.Config{
		Layer:   b.layer,
		Name:    ds.Name,
		Logger:  s.deps.Logger.With("dataset", id),
		MinZoom: b.status.MinZoom,
		MaxZoom: b.status.MaxZoom,
	})
	if err != nil {
		return tiler.Stats{}, errors.Wrapf(err, "baking %q", id)
	}

	s.deps.Bus.Publish(Event{Resource: "tiles", Action: "baked", ID: id, Elapsed: stats.Duration})
	return stats, nil
}

// Metrics returns the metrics the service reports to.
func (s *DatasetService) Metrics() *Metrics {
	return s.deps.Metrics
}

func (s *DatasetService) current(id string) (*built, error) {
	if _, ok := s.Get(id); !ok {
		return nil, errors.Wrapf(ErrDatasetNotFound, "%q", id)
	}
	s.bmu.RLock()
	defer s.bmu.RUnlock()
	b, ok := s.built[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotBuilt, "%q", id)
	}
	return b, nil
}

// clusterOptions resolves the cluster options of a dataset including its
// reducers.
func clusterOptions(ds DatasetConfig) (cluster.Options, error) {
	opts := ds.Options.Cluster()
	mapFn, reduceFn, err := ParseReducers(ds.Reducers)
	if err != nil {
		return cluster.Options{}, errors.Wrapf(ErrInvalidDataset, "%q: %v", ds.ID, err)
	}
	opts.Map, opts.Reduce = mapFn, reduceFn
	return opts, nil
}

func validateDataset(ds DatasetConfig) error {
	if ds.ID == "" {
		return errors.Wrap(ErrInvalidDataset, "empty id")
	}
	if err := validName(ds.Source); err != nil {
		return errors.Wrapf(ErrInvalidDataset, "%q: %v", ds.ID, err)
	}
	opts, err := clusterOptions(ds)
	if err != nil {
		return err
	}
	if _, err := cluster.New(opts); err != nil {
		return errors.Wrapf(ErrInvalidDataset, "%q: %v", ds.ID, err)
	}
	return nil
}

// configFile returns the path to the datasets config file.
func (s *DatasetService) configFile() string {
	return filepath.Join(s.dataDir, "datasets.yaml")
}

// loadFromDisk loads dataset configurations from disk.
func (s *DatasetService) loadFromDisk() {
	data, err := os.ReadFile(s.configFile())
	if err != nil {
		return // File doesn't exist yet, start empty
	}

	var datasets map[string]DatasetConfig
	if err := yaml.Unmarshal(data, &datasets); err != nil {
		s.deps.Logger.Warn("ignoring unreadable dataset config", "file", s.configFile(), "err", err)
		return
	}
	for id, ds := range datasets {
		ds.ID = id
		s.datasets[id] = ds
	}
}

// saveToDisk persists dataset configurations to disk.
func (s *DatasetService) saveToDisk() error {
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return errors.Wrap(err, "creating data directory")
	}

	data, err := yaml.Marshal(s.datasets)
	if err != nil {
		return errors.Wrap(err, "encoding datasets")
	}

	return errors.Wrap(os.WriteFile(s.configFile(), data, 0644), "writing datasets")
}

// generateID creates a URL-safe ID from a name.
func generateID(name string) string {
	id := strings.ToLower(name)
	id = strings.ReplaceAll(id, " ", "_")
	// Remove any characters that aren't alphanumeric or underscore
	var result strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
