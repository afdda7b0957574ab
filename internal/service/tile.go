package service

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// ErrArchiveNotFound is returned for unknown baked archives.
var ErrArchiveNotFound = errors.New("archive not found")

// TileService manages baked PMTiles archives.
type TileService struct {
	tilesDir string
}

// NewTileService creates a new tile service.
func NewTileService(dataDir string) *TileService {
	return &TileService{
		tilesDir: filepath.Join(dataDir, "tiles"),
	}
}

// List returns all available PMTiles archives.
func (s *TileService) List() ([]TileFile, error) {
	entries, err := os.ReadDir(s.tilesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []TileFile{}, nil
		}
		return nil, err
	}

	files := []TileFile{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".pmtiles" {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, TileFile{
			Name: entry.Name(),
			Size: formatSize(info.Size()),
		})
	}

	return files, nil
}

// TilesDir returns the path to the tiles directory.
func (s *TileService) TilesDir() string {
	return s.tilesDir
}

// ArchivePath returns the path the archive of dataset id is baked to.
func (s *TileService) ArchivePath(id string) string {
	return filepath.Join(s.tilesDir, id+".pmtiles")
}

// Stat describes a baked archive.
func (s *TileService) Stat(name string) (TileFile, error) {
	if err := validName(name); err != nil {
		return TileFile{}, err
	}
	info, err := os.Stat(filepath.Join(s.tilesDir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return TileFile{}, errors.Wrapf(ErrArchiveNotFound, "%q", name)
		}
		return TileFile{}, err
	}
	return TileFile{Name: name, Size: formatSize(info.Size())}, nil
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
