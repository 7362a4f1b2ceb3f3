// Package artifact persists final pipeline outputs on disk: the rendered PDF
// and the gzip-compressed complete-report document, both addressed by
// execution id. Artifacts are write-once; an execution never overwrites its
// own outputs.
package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"climascope/internal/types"
)

const (
	pdfFilename    = "report.pdf"
	reportFilename = "report.json.gz"
)

// Store is a filesystem ArtifactStore rooted at a base directory, one
// subdirectory per execution.
type Store struct {
	basePath string
	logger   *slog.Logger
}

// NewStore creates the store and its base directory.
func NewStore(basePath string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalStorage,
			"failed to create artifact store base directory",
			err,
		)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{basePath: basePath, logger: logger}, nil
}

func (s *Store) executionDir(executionID string) string {
	return filepath.Join(s.basePath, executionID)
}

// SavePDF writes the rendered PDF for an execution and returns its path.
// A second save for the same execution is a conflict.
func (s *Store) SavePDF(_ context.Context, executionID string, pdf []byte) (string, error) {
	path := filepath.Join(s.executionDir(executionID), pdfFilename)
	if err := s.writeOnce(executionID, path, pdf); err != nil {
		return "", err
	}
	s.logger.Info("pdf artifact saved",
		slog.String("execution_id", executionID),
		slog.Int("size_bytes", len(pdf)),
	)
	return path, nil
}

// SaveCompleteReport writes the gzip-compressed complete report and returns
// its path. Write-once, same as the PDF.
func (s *Store) SaveCompleteReport(_ context.Context, executionID string, report *types.CompleteReport) (string, error) {
	raw, err := json.Marshal(report)
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalStorage,
			"failed to encode complete report",
			err,
		)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalStorage,
			"failed to compress complete report",
			err,
		)
	}
	if err := gz.Close(); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalStorage,
			"failed to finalize compressed report",
			err,
		)
	}
	compressed := buf.Bytes()

	path := filepath.Join(s.executionDir(executionID), reportFilename)
	if err := s.writeOnce(executionID, path, compressed); err != nil {
		return "", err
	}
	s.logger.Info("complete report artifact saved",
		slog.String("execution_id", executionID),
		slog.Int("raw_bytes", len(raw)),
		slog.Int("compressed_bytes", len(compressed)),
	)
	return path, nil
}

// GetPDF returns the stored PDF bytes.
func (s *Store) GetPDF(_ context.Context, executionID string) ([]byte, error) {
	path := filepath.Join(s.executionDir(executionID), pdfFilename)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewAppError(
				types.ErrCodeNotFoundArtifact,
				fmt.Sprintf("no PDF artifact for execution %s", executionID),
				nil,
			)
		}
		return nil, types.NewAppError(
			types.ErrCodeInternalStorage,
			"failed to read PDF artifact",
			err,
		)
	}
	return raw, nil
}

// GetCompleteReport returns the stored complete report, decompressed.
func (s *Store) GetCompleteReport(_ context.Context, executionID string) (*types.CompleteReport, error) {
	path := filepath.Join(s.executionDir(executionID), reportFilename)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewAppError(
				types.ErrCodeNotFoundArtifact,
				fmt.Sprintf("no report artifact for execution %s", executionID),
				nil,
			)
		}
		return nil, types.NewAppError(
			types.ErrCodeInternalStorage,
			"failed to open report artifact",
			err,
		)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalStorage,
			"corrupt report artifact",
			err,
		)
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalStorage,
			"failed to decompress report artifact",
			err,
		)
	}

	var report types.CompleteReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalStorage,
			"failed to decode report artifact",
			err,
		)
	}
	return &report, nil
}

// writeOnce creates the execution directory and writes the file, refusing to
// replace an existing artifact.
func (s *Store) writeOnce(executionID, path string, data []byte) error {
	if err := os.MkdirAll(s.executionDir(executionID), 0o755); err != nil {
		return types.NewAppError(
			types.ErrCodeInternalStorage,
			"failed to create execution artifact directory",
			err,
		)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return types.NewAppError(
				types.ErrCodeConflictArtifactExists,
				fmt.Sprintf("artifact %s already exists for execution %s", filepath.Base(path), executionID),
				nil,
			)
		}
		return types.NewAppError(
			types.ErrCodeInternalStorage,
			"failed to create artifact file",
			err,
		)
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		return types.NewAppError(
			types.ErrCodeInternalStorage,
			"failed to write artifact file",
			err,
		)
	}
	return nil
}

var _ types.ArtifactStore = (*Store)(nil)
