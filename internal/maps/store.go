// Package maps implements the filesystem-backed map image store. Map images
// are produced by an upstream GIS pipeline and uploaded through the API; the
// report pipeline resolves them by (county, variable, period) at assembly
// time. A missing map is a normal outcome, surfaced as an explicit Missing
// reference rather than an error.
package maps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"climascope/internal/types"
)

// metaSuffix is appended to the image filename for the metadata sidecar.
const metaSuffix = ".meta.json"

// Store is a filesystem MapStore rooted at a base directory. The on-disk
// layout is {base}/{county}/{year}/{week}/{county}_{variable}_{start}_{end}.{ext}
// with a .meta.json sidecar next to each image.
type Store struct {
	basePath string
	maxBytes int64
	logger   *slog.Logger
	clock    types.Clock
}

// StoreConfig holds the filesystem store's settings.
type StoreConfig struct {
	BasePath string
	MaxBytes int64
	Logger   *slog.Logger
	Clock    types.Clock
}

// NewStore creates the store and its base directory.
func NewStore(cfg StoreConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.BasePath, 0o755); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalMapStore,
			"failed to create map store base directory",
			err,
		)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}

	return &Store{
		basePath: cfg.BasePath,
		maxBytes: cfg.MaxBytes,
		logger:   logger,
		clock:    clock,
	}, nil
}

// dirFor returns the directory for a key's county and ISO week.
func (s *Store) dirFor(key types.MapKey) string {
	year, week := key.PeriodStart.ISOWeek()
	return filepath.Join(s.basePath, key.CountyID, fmt.Sprintf("%d", year), fmt.Sprintf("%02d", week))
}

// pathFor returns the image path for a key with the given format.
func (s *Store) pathFor(key types.MapKey, format types.MapFormat) string {
	return filepath.Join(s.dirFor(key), key.String()+"."+string(format))
}

// Resolve looks up a stored map by key. Absence yields a Missing reference
// with a reason; only I/O faults touching the image itself return an error.
// An image whose metadata sidecar is missing or corrupt resolves as Missing,
// never as a fault: the pipeline degrades on Missing but fails the execution
// on a store error, and a half-written upload must not poison every report
// for that key.
func (s *Store) Resolve(_ context.Context, key types.MapKey) (types.MapReference, error) {
	dir := s.dirFor(key)
	for _, format := range []types.MapFormat{types.MapFormatPNG, types.MapFormatJPEG, types.MapFormatSVG} {
		imagePath := filepath.Join(dir, key.String()+"."+string(format))
		if _, err := os.Stat(imagePath); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return types.MapReference{}, types.NewAppError(
				types.ErrCodeInternalMapStore,
				"failed to stat map image",
				err,
			)
		}

		meta, err := s.readMeta(imagePath)
		if err != nil {
			s.logger.Warn("map image has no readable metadata sidecar; treating as missing",
				slog.String("key", key.String()),
				slog.String("path", imagePath),
				slog.String("error", err.Error()),
			)
			return types.MissingMap(key, fmt.Sprintf("map metadata unavailable for %s", key)), nil
		}
		return types.FoundMap(key, imagePath, meta), nil
	}

	return types.MissingMap(key, fmt.Sprintf("no map stored for %s", key)), nil
}

// Store writes a map image and its metadata sidecar. The image format is
// detected from the content, never from a client-supplied name. Re-storing
// identical bytes under an existing key succeeds without rewriting (unless
// the sidecar needs repair); differing bytes are rejected unless overwrite is
// set.
func (s *Store) Store(ctx context.Context, key types.MapKey, image []byte, meta types.MapMetadata, overwrite bool) (types.MapReference, error) {
	if s.maxBytes > 0 && int64(len(image)) > s.maxBytes {
		return types.MapReference{}, types.NewAppError(
			types.ErrCodeValidationImageSize,
			fmt.Sprintf("map image is %d bytes; limit is %d", len(image), s.maxBytes),
			nil,
		)
	}

	format, err := DetectFormat(image)
	if err != nil {
		return types.MapReference{}, err
	}

	imagePath := s.pathFor(key, format)

	if existing, err := os.ReadFile(imagePath); err == nil {
		if bytes.Equal(existing, image) {
			if meta, metaErr := s.readMeta(imagePath); metaErr == nil {
				return types.FoundMap(key, imagePath, meta), nil
			}
			// Identical bytes but no readable sidecar: a prior upload was
			// interrupted. Fall through and rewrite both files to repair.
			s.logger.Warn("repairing map with missing metadata sidecar",
				slog.String("key", key.String()),
			)
		} else if !overwrite {
			return types.MapReference{}, types.NewAppError(
				types.ErrCodeConflictMapExists,
				fmt.Sprintf("a different map already exists for %s", key),
				nil,
			)
		}
	} else if !os.IsNotExist(err) {
		return types.MapReference{}, types.NewAppError(
			types.ErrCodeInternalMapStore,
			"failed to read existing map image",
			err,
		)
	}

	if err := os.MkdirAll(s.dirFor(key), 0o755); err != nil {
		return types.MapReference{}, types.NewAppError(
			types.ErrCodeInternalMapStore,
			"failed to create map directory",
			err,
		)
	}

	meta.CountyID = key.CountyID
	meta.Variable = key.Variable
	meta.PeriodStart = key.PeriodStart
	meta.PeriodEnd = key.PeriodEnd
	meta.Format = format
	meta.SizeBytes = int64(len(image))
	if meta.GeneratedAt.IsZero() {
		meta.GeneratedAt = s.clock.Now()
	}

	// Sidecar goes first so a crash between the two writes leaves an orphan
	// sidecar, which Resolve never sees, rather than an image with no
	// metadata.
	if err := s.writeMeta(imagePath, &meta); err != nil {
		return types.MapReference{}, err
	}
	if err := writeFileAtomic(imagePath, image); err != nil {
		return types.MapReference{}, types.NewAppError(
			types.ErrCodeInternalMapStore,
			"failed to write map image",
			err,
		)
	}

	s.logger.Info("map stored",
		slog.String("key", key.String()),
		slog.String("format", string(format)),
		slog.Int("size_bytes", len(image)),
		slog.Bool("overwrite", overwrite),
	)

	return types.FoundMap(key, imagePath, &meta), nil
}

// List returns metadata for every map stored under a county, newest period
// first within the walk order of the filesystem.
func (s *Store) List(_ context.Context, countyID string) ([]types.MapMetadata, error) {
	countyDir := filepath.Join(s.basePath, countyID)
	if _, err := os.Stat(countyDir); os.IsNotExist(err) {
		return []types.MapMetadata{}, nil
	}

	var metas []types.MapMetadata
	err := filepath.WalkDir(countyDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, metaSuffix) {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var meta types.MapMetadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			return fmt.Errorf("corrupt metadata sidecar %s: %w", path, err)
		}
		metas = append(metas, meta)
		return nil
	})
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalMapStore,
			"failed to list county maps",
			err,
		)
	}

	if metas == nil {
		metas = []types.MapMetadata{}
	}
	return metas, nil
}

func (s *Store) readMeta(imagePath string) (*types.MapMetadata, error) {
	raw, err := os.ReadFile(imagePath + metaSuffix)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalMapStore,
			"failed to read map metadata sidecar",
			err,
		)
	}
	var meta types.MapMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalMapStore,
			"corrupt map metadata sidecar",
			err,
		)
	}
	return &meta, nil
}

func (s *Store) writeMeta(imagePath string, meta *types.MapMetadata) error {
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return types.NewAppError(
			types.ErrCodeInternalMapStore,
			"failed to encode map metadata",
			err,
		)
	}
	if err := writeFileAtomic(imagePath+metaSuffix, raw); err != nil {
		return types.NewAppError(
			types.ErrCodeInternalMapStore,
			"failed to write map metadata sidecar",
			err,
		)
	}
	return nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place, so readers never observe a partially written file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

var _ types.MapStore = (*Store)(nil)
