// Package artifacts handles exporting generated artifacts to disk with
// canonical file extensions per artifact type.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"agentdeck/pkg/domain"
)

// languageExtensions maps a code artifact's language tag to its file
// extension.
var languageExtensions = map[string]string{
	"go":         ".go",
	"python":     ".py",
	"javascript": ".js",
	"typescript": ".ts",
	"java":       ".java",
	"c":          ".c",
	"cpp":        ".cpp",
	"c++":        ".cpp",
	"rust":       ".rs",
	"ruby":       ".rb",
	"bash":       ".sh",
	"shell":      ".sh",
	"sql":        ".sql",
	"html":       ".html",
	"css":        ".css",
	"json":       ".json",
	"yaml":       ".yaml",
	"markdown":   ".md",
}

// Extension returns the canonical file extension for an artifact.
// Code derives from the language tag and falls back to plain text.
func Extension(a domain.Artifact) string {
	switch a.Type {
	case domain.ArtifactCode:
		if ext, ok := languageExtensions[strings.ToLower(a.Language)]; ok {
			return ext
		}
		return ".txt"
	case domain.ArtifactDocument:
		return ".md"
	case domain.ArtifactHTML:
		return ".html"
	case domain.ArtifactTable:
		return ".csv"
	case domain.ArtifactChart:
		return ".json"
	case domain.ArtifactImage:
		return ".png"
	default:
		return ".txt"
	}
}

// Filename derives a filesystem-safe name for the artifact from its
// title, falling back to its ID.
func Filename(a domain.Artifact) string {
	name := slug(a.Title)
	if name == "" {
		name = "artifact-" + shortID(a.ID)
	}
	return name + Extension(a)
}

// Exporter writes artifacts into a target directory.
type Exporter struct {
	dir string
}

// NewExporter creates an exporter rooted at dir. The directory is
// created on first export.
func NewExporter(dir string) *Exporter {
	return &Exporter{dir: dir}
}

// Export writes the artifact's content to disk and returns the path.
// Name collisions get a numeric suffix rather than overwriting.
func (e *Exporter) Export(a domain.Artifact) (string, error) {
	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	base := Filename(a)
	path := filepath.Join(e.dir, base)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for n := 1; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(e.dir, fmt.Sprintf("%s-%d%s", stem, n, ext))
	}

	if err := os.WriteFile(path, []byte(a.Content), 0644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return path, nil
}

// slug lowercases the title and collapses everything outside
// [a-z0-9] into single dashes.
func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
