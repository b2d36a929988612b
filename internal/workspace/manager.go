// Package workspace creates and manages the isolated directory trees that
// hold one pipeline run's inputs, outputs, logs and temp files.
package workspace

import (
	"archive/zip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	// Suffix marks a directory as a pipeline workspace.
	Suffix = "_workdir"

	metadataFile = "workspace_metadata.json"
	timeLayout   = "20060102_150405"
)

// Standard subdirectories created in every workspace.
var subdirs = []string{
	filepath.Join("data", "input"),
	filepath.Join("data", "output"),
	"logs",
	"temp",
}

// Metadata is the JSON document written at the workspace root.
type Metadata struct {
	WorkspaceName  string            `json:"workspace_name"`
	WorkspacePath  string            `json:"workspace_path"`
	CreatedAt      time.Time         `json:"created_at"`
	SourceFile     string            `json:"source_file,omitempty"`
	CustomName     string            `json:"custom_name,omitempty"`
	Subdirectories map[string]string `json:"subdirectories"`
}

// DirSummary aggregates file counts and sizes for one standard subdirectory.
type DirSummary struct {
	FileCount   int     `json:"file_count"`
	TotalSizeMB float64 `json:"total_size_mb"`
}

// Summary describes the current workspace contents.
type Summary struct {
	WorkspaceName string                `json:"workspace_name"`
	WorkspacePath string                `json:"workspace_path"`
	CreatedAt     time.Time             `json:"created_at"`
	SourceFile    string                `json:"source_file,omitempty"`
	Directories   map[string]DirSummary `json:"directories"`
}

// Manager creates, loads and removes workspaces under a base directory.
type Manager struct {
	baseDir  string
	current  string
	metadata Metadata
}

// NewManager returns a manager rooted at baseDir, creating it if needed.
func NewManager(baseDir string) (*Manager, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "workspace: create base dir %s", baseDir)
	}
	return &Manager{baseDir: baseDir}, nil
}

// Current returns the active workspace path, or empty if none.
func (m *Manager) Current() string { return m.current }

// Metadata returns the active workspace metadata.
func (m *Manager) Metadata() Metadata { return m.metadata }

// Create makes a new workspace directory named
// "<stem-or-name-or-default>_<timestamp>_<token>_workdir", creates the
// standard subdirectories, writes the metadata file and registers the
// workspace as current. The short random token avoids collisions between
// processes started within the same second.
func (m *Manager) Create(name, sourceFile string) (string, error) {
	base := "pipeline"
	switch {
	case sourceFile != "":
		stem := filepath.Base(sourceFile)
		base = strings.TrimSuffix(stem, filepath.Ext(stem))
	case name != "":
		base = name
	}

	token := uuid.NewString()[:8]
	wsName := base + "_" + time.Now().Format(timeLayout) + "_" + token + Suffix
	wsPath := filepath.Join(m.baseDir, wsName)

	created := map[string]string{}
	for _, sub := range subdirs {
		p := filepath.Join(wsPath, sub)
		if err := os.MkdirAll(p, 0o755); err != nil {
			return "", eris.Wrapf(err, "workspace: create %s", p)
		}
		created[strings.ReplaceAll(sub, string(filepath.Separator), "/")] = p
	}

	m.metadata = Metadata{
		WorkspaceName:  wsName,
		WorkspacePath:  wsPath,
		CreatedAt:      time.Now(),
		SourceFile:     sourceFile,
		CustomName:     name,
		Subdirectories: created,
	}

	if err := m.writeMetadata(wsPath); err != nil {
		return "", err
	}

	m.current = wsPath
	zap.L().Info("workspace created", zap.String("path", wsPath))
	return wsPath, nil
}

// Load attaches to an existing workspace directory. A missing metadata file
// is not an error; metadata is synthesized from filesystem timestamps.
func (m *Manager) Load(wsPath string) error {
	info, err := os.Stat(wsPath)
	if err != nil || !info.IsDir() {
		return eris.Errorf("workspace: not found: %s", wsPath)
	}

	metaPath := filepath.Join(wsPath, metadataFile)
	if data, readErr := os.ReadFile(metaPath); readErr == nil {
		var meta Metadata
		if jsonErr := json.Unmarshal(data, &meta); jsonErr == nil {
			m.metadata = meta
		} else {
			zap.L().Warn("workspace: unreadable metadata, synthesizing",
				zap.String("path", metaPath), zap.Error(jsonErr))
			m.metadata = synthesizeMetadata(wsPath, info)
		}
	} else {
		m.metadata = synthesizeMetadata(wsPath, info)
	}

	m.current = wsPath
	zap.L().Info("workspace loaded", zap.String("path", wsPath))
	return nil
}

// Path returns a path inside the current workspace. Subdir accepts the short
// aliases "input", "output", "logs", "temp" as well as literal relative paths.
func (m *Manager) Path(subdir string, elems ...string) (string, error) {
	if m.current == "" {
		return "", eris.New("workspace: no active workspace")
	}

	switch subdir {
	case "input", "data_input":
		subdir = filepath.Join("data", "input")
	case "output", "data_output":
		subdir = filepath.Join("data", "output")
	}

	parts := append([]string{m.current, subdir}, elems...)
	return filepath.Join(parts...), nil
}

// CopyFileIn copies a file into the workspace's data/input directory and
// returns the destination path.
func (m *Manager) CopyFileIn(sourceFile string) (string, error) {
	destDir, err := m.Path("input")
	if err != nil {
		return "", err
	}

	src, err := os.Open(sourceFile)
	if err != nil {
		return "", eris.Wrapf(err, "workspace: open source %s", sourceFile)
	}
	defer src.Close() //nolint:errcheck

	dest := filepath.Join(destDir, filepath.Base(sourceFile))
	out, err := os.Create(dest)
	if err != nil {
		return "", eris.Wrapf(err, "workspace: create %s", dest)
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, src); err != nil {
		return "", eris.Wrapf(err, "workspace: copy to %s", dest)
	}
	return dest, nil
}

// List scans the base directory for workspaces and returns their metadata,
// newest first. Directories without a metadata file are still listed.
func (m *Manager) List() ([]Metadata, error) {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		return nil, eris.Wrapf(err, "workspace: read base dir %s", m.baseDir)
	}

	var out []Metadata
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasSuffix(entry.Name(), Suffix) {
			continue
		}
		wsPath := filepath.Join(m.baseDir, entry.Name())
		metaPath := filepath.Join(wsPath, metadataFile)

		var meta Metadata
		if data, readErr := os.ReadFile(metaPath); readErr == nil && json.Unmarshal(data, &meta) == nil {
			out = append(out, meta)
			continue
		}
		info, statErr := entry.Info()
		if statErr != nil {
			continue
		}
		out = append(out, synthesizeMetadata(wsPath, info))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Cleanup recursively deletes a workspace. With an empty path the current
// workspace is removed.
func (m *Manager) Cleanup(wsPath string) error {
	if wsPath == "" {
		wsPath = m.current
	}
	if wsPath == "" {
		return eris.New("workspace: no workspace specified for cleanup")
	}

	if err := os.RemoveAll(wsPath); err != nil {
		return eris.Wrapf(err, "workspace: remove %s", wsPath)
	}
	if m.current == wsPath {
		m.current = ""
		m.metadata = Metadata{}
	}
	zap.L().Info("workspace deleted", zap.String("path", wsPath))
	return nil
}

// Summary walks the standard subdirectories of the current workspace and
// aggregates file counts and sizes.
func (m *Manager) Summary() (*Summary, error) {
	if m.current == "" {
		return nil, eris.New("workspace: no active workspace")
	}

	s := &Summary{
		WorkspaceName: filepath.Base(m.current),
		WorkspacePath: m.current,
		CreatedAt:     m.metadata.CreatedAt,
		SourceFile:    m.metadata.SourceFile,
		Directories:   make(map[string]DirSummary, len(subdirs)),
	}

	for _, sub := range subdirs {
		var count int
		var size int64
		root := filepath.Join(m.current, sub)
		_ = filepath.WalkDir(root, func(_ string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil //nolint:nilerr // missing subdirs count as empty
			}
			if info, infoErr := d.Info(); infoErr == nil {
				count++
				size += info.Size()
			}
			return nil
		})
		key := strings.ReplaceAll(sub, string(filepath.Separator), "/")
		s.Directories[key] = DirSummary{
			FileCount:   count,
			TotalSizeMB: float64(size) / (1024 * 1024),
		}
	}
	return s, nil
}

// ExportArchive writes a zip of the whole workspace tree. With an empty
// output path the archive lands next to the workspace.
func (m *Manager) ExportArchive(outputPath string) (string, error) {
	if m.current == "" {
		return "", eris.New("workspace: no active workspace")
	}
	if outputPath == "" {
		outputPath = filepath.Join(m.baseDir, filepath.Base(m.current)+".zip")
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return "", eris.Wrapf(err, "workspace: create archive %s", outputPath)
	}
	defer f.Close() //nolint:errcheck

	zw := zip.NewWriter(f)
	walkErr := filepath.WalkDir(m.current, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(m.current, path)
		if relErr != nil {
			return relErr
		}
		w, createErr := zw.Create(filepath.ToSlash(rel))
		if createErr != nil {
			return createErr
		}
		src, openErr := os.Open(path)
		if openErr != nil {
			return openErr
		}
		defer src.Close() //nolint:errcheck
		_, copyErr := io.Copy(w, src)
		return copyErr
	})
	if walkErr != nil {
		zw.Close() //nolint:errcheck
		return "", eris.Wrap(walkErr, "workspace: archive walk")
	}
	if err := zw.Close(); err != nil {
		return "", eris.Wrap(err, "workspace: close archive")
	}

	zap.L().Info("workspace archived", zap.String("archive", outputPath))
	return outputPath, nil
}

func (m *Manager) writeMetadata(wsPath string) error {
	data, err := json.MarshalIndent(m.metadata, "", "  ")
	if err != nil {
		return eris.Wrap(err, "workspace: marshal metadata")
	}
	metaPath := filepath.Join(wsPath, metadataFile)
	if err := os.WriteFile(metaPath, data, 0o644); err != nil {
		return eris.Wrapf(err, "workspace: write %s", metaPath)
	}
	return nil
}

func synthesizeMetadata(wsPath string, info os.FileInfo) Metadata {
	return Metadata{
		WorkspaceName: filepath.Base(wsPath),
		WorkspacePath: wsPath,
		CreatedAt:     info.ModTime(),
	}
}
