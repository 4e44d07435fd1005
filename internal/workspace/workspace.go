// Package workspace owns the on-disk layout of uploaded projects and render
// outputs:
//
//	{data}/{projectID}/{archive}            the uploaded zip
//	{data}/{projectID}/extract/...          unpacked scene sources
//	{data}/{projectID}/{jobID}/rendered/... produced frames
//	{logs}/render_jobs/{jobID}.log          renderer output
package workspace

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/renderdeck/api/internal/model"
)

const (
	extractDirName = "extract"
	renderDirName  = "rendered"
	jobLogDirName  = "render_jobs"
	sceneExtension = ".blend"
)

var (
	ErrArchiveNotFound = errors.New("project archive not found")
	ErrSceneNotFound   = errors.New("no scene file found in archive")
	ErrSceneAmbiguous  = errors.New("more than one scene file found in archive")
)

// Manager resolves and maintains the per-project directory tree.
type Manager struct {
	dataDir string
	logsDir string
}

func NewManager(dataDir, logsDir string) *Manager {
	return &Manager{dataDir: dataDir, logsDir: logsDir}
}

func (m *Manager) ProjectDir(projectID string) string {
	return filepath.Join(m.dataDir, projectID)
}

func (m *Manager) ArchivePath(project *model.Project) string {
	return filepath.Join(m.ProjectDir(project.ID), project.ArchiveFilename)
}

func (m *Manager) ExtractDir(projectID string) string {
	return filepath.Join(m.ProjectDir(projectID), extractDirName)
}

func (m *Manager) OutputDir(projectID, jobID string) string {
	return filepath.Join(m.ProjectDir(projectID), jobID, renderDirName)
}

func (m *Manager) JobLogPath(jobID string) string {
	return filepath.Join(m.logsDir, jobLogDirName, jobID+".log")
}

// SaveArchive stages an uploaded archive under the project directory.
// Creating an already existing directory is not an error.
func (m *Manager) SaveArchive(project *model.Project, src io.Reader) error {
	if err := os.MkdirAll(m.ProjectDir(project.ID), 0o755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}
	dst, err := os.Create(m.ArchivePath(project))
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	return nil
}

// HasArchive reports whether the staged archive is present on disk.
func (m *Manager) HasArchive(project *model.Project) bool {
	_, err := os.Stat(m.ArchivePath(project))
	return err == nil
}

// Unpack extracts the project archive into the extract directory. If a
// previous attempt already populated it, the existing contents are reused
// instead of re-extracting, so a crashed run can be restarted cheaply.
func (m *Manager) Unpack(project *model.Project) error {
	archivePath := m.ArchivePath(project)
	if _, err := os.Stat(archivePath); err != nil {
		return ErrArchiveNotFound
	}

	dest := m.ExtractDir(project.ID)
	if entries, err := os.ReadDir(dest); err == nil && len(entries) > 0 {
		return nil
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create extract dir: %w", err)
	}

	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer reader.Close()

	for _, entry := range reader.File {
		if err := extractEntry(entry, dest); err != nil {
			return err
		}
	}
	return nil
}

// extractEntry writes one archive entry, refusing entries whose resolved
// path escapes the destination directory.
func extractEntry(entry *zip.File, dest string) error {
	target := filepath.Join(dest, entry.Name)
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return fmt.Errorf("archive entry %q escapes extraction directory", entry.Name)
	}

	if entry.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open archive entry %q: %w", entry.Name, err)
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("extract %q: %w", entry.Name, err)
	}
	return nil
}

// LocateSceneFile finds the single .blend file in the extracted sources.
// Zero matches and multiple matches are both rejected; the service never
// guesses which scene the client meant.
func (m *Manager) LocateSceneFile(projectID string) (string, error) {
	entries, err := os.ReadDir(m.ExtractDir(projectID))
	if err != nil {
		return "", ErrSceneNotFound
	}
	var found string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), sceneExtension) {
			continue
		}
		if found != "" {
			return "", ErrSceneAmbiguous
		}
		found = filepath.Join(m.ExtractDir(projectID), entry.Name())
	}
	if found == "" {
		return "", ErrSceneNotFound
	}
	return found, nil
}

// EnsureOutputDir creates the per-job render output directory.
func (m *Manager) EnsureOutputDir(projectID, jobID string) (string, error) {
	dir := m.OutputDir(projectID, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return dir, nil
}

// OpenJobLog opens (creating if needed) the append-only log sink for a job.
func (m *Manager) OpenJobLog(jobID string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Join(m.logsDir, jobLogDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return os.OpenFile(m.JobLogPath(jobID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// ListResults enumerates the files a job produced. mediaURL is the public
// prefix under which the data dir is served.
func (m *Manager) ListResults(projectID, jobID, mediaURL string) ([]model.RenderResult, error) {
	dir := m.OutputDir(projectID, jobID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []model.RenderResult{}, nil
		}
		return nil, err
	}
	results := make([]model.RenderResult, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		results = append(results, model.RenderResult{
			Filename:  entry.Name(),
			Path:      fmt.Sprintf("%s/%s/%s/%s/%s", mediaURL, projectID, jobID, renderDirName, entry.Name()),
			Timestamp: info.ModTime().Format(time.RFC3339),
		})
	}
	return results, nil
}

// PurgeProject removes a project's directory tree, archive and outputs
// included.
func (m *Manager) PurgeProject(projectID string) error {
	return os.RemoveAll(m.ProjectDir(projectID))
}

// ProjectIDs lists the project directories currently on disk.
func (m *Manager) ProjectIDs() ([]string, error) {
	entries, err := os.ReadDir(m.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}
