// Package packager は生成されたファイル一式をZIPアーカイブに固め、
// ダウンロードURLを払い出します。
package packager

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/yourusername/app-forge/internal/agents"
)

// Service はジョブ成果物のZIP化と読み出しを担当します。
type Service struct {
	outputDir string
	baseURL   string
}

// NewService は Service を作成します。outputDir が存在しない場合は作成します。
// baseURL が空の場合、ダウンロードURLは相対パスになります。
func NewService(outputDir, baseURL string) (*Service, error) {
	if outputDir == "" {
		outputDir = "output"
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Service{
		outputDir: outputDir,
		baseURL:   strings.TrimRight(baseURL, "/"),
	}, nil
}

// Package はファイル一式を <outputDir>/<jobID>.zip に書き出し、
// ダウンロードURLを返します。パスはアーカイブ内でそのまま維持されます。
func (s *Service) Package(ctx context.Context, files agents.FileSet, jobID string) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("no files to package for job %s", jobID)
	}

	path := s.artifactPath(jobID)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, name := range files.Paths() {
		if err := ctx.Err(); err != nil {
			zw.Close()
			return "", err
		}
		w, err := zw.Create(name)
		if err != nil {
			zw.Close()
			return "", fmt.Errorf("failed to add %s to archive: %w", name, err)
		}
		if _, err := io.WriteString(w, files[name]); err != nil {
			zw.Close()
			return "", fmt.Errorf("failed to write %s to archive: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize archive: %w", err)
	}

	return s.buildDownloadURL(jobID), nil
}

// OpenArtifact はジョブのZIPアーカイブを読み出し用に開きます。
// 未生成の場合は fs.ErrNotExist を内包したエラーを返します。
func (s *Service) OpenArtifact(jobID string) (io.ReadSeekCloser, os.FileInfo, error) {
	f, err := os.Open(s.artifactPath(jobID))
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, info, nil
}

func (s *Service) artifactPath(jobID string) string {
	return filepath.Join(s.outputDir, jobID+".zip")
}

func (s *Service) buildDownloadURL(jobID string) string {
	path := fmt.Sprintf("/api/jobs/%s/download", jobID)
	if s.baseURL == "" {
		return path
	}
	return s.baseURL + path
}
