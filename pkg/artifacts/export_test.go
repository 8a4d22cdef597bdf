package artifacts

import (
	"os"
	"path/filepath"
	"testing"

	"agentdeck/pkg/domain"
)

func TestExtension(t *testing.T) {
	cases := []struct {
		artifact domain.Artifact
		want     string
	}{
		{domain.Artifact{Type: domain.ArtifactCode, Language: "go"}, ".go"},
		{domain.Artifact{Type: domain.ArtifactCode, Language: "Python"}, ".py"},
		{domain.Artifact{Type: domain.ArtifactCode, Language: "c++"}, ".cpp"},
		{domain.Artifact{Type: domain.ArtifactCode, Language: "brainfuck"}, ".txt"},
		{domain.Artifact{Type: domain.ArtifactCode}, ".txt"},
		{domain.Artifact{Type: domain.ArtifactDocument}, ".md"},
		{domain.Artifact{Type: domain.ArtifactHTML}, ".html"},
		{domain.Artifact{Type: domain.ArtifactTable}, ".csv"},
		{domain.Artifact{Type: domain.ArtifactChart}, ".json"},
		{domain.Artifact{Type: domain.ArtifactImage}, ".png"},
		{domain.Artifact{Type: domain.ArtifactText}, ".txt"},
		{domain.Artifact{Type: "mystery"}, ".txt"},
	}
	for _, tc := range cases {
		if got := Extension(tc.artifact); got != tc.want {
			t.Errorf("Extension(%s/%s) = %q, want %q", tc.artifact.Type, tc.artifact.Language, got, tc.want)
		}
	}
}

func TestFilename(t *testing.T) {
	cases := []struct {
		artifact domain.Artifact
		want     string
	}{
		{domain.Artifact{Type: domain.ArtifactCode, Language: "go", Title: "Fibonacci Generator"}, "fibonacci-generator.go"},
		{domain.Artifact{Type: domain.ArtifactDocument, Title: "Q3 Report (draft)"}, "q3-report-draft.md"},
		{domain.Artifact{Type: domain.ArtifactText, Title: "  !!  ", ID: "0123abcd-4567"}, "artifact-0123abcd.txt"},
		{domain.Artifact{Type: domain.ArtifactText, ID: "short"}, "artifact-short.txt"},
	}
	for _, tc := range cases {
		if got := Filename(tc.artifact); got != tc.want {
			t.Errorf("Filename(%q) = %q, want %q", tc.artifact.Title, got, tc.want)
		}
	}
}

func TestSlug(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Hello World", "hello-world"},
		{"already-slugged", "already-slugged"},
		{"Mixed_CASE  &  symbols!", "mixed-case-symbols"},
		{"---", ""},
		{"", ""},
		{"trailing! ", "trailing"},
	}
	for _, tc := range cases {
		if got := slug(tc.in); got != tc.want {
			t.Errorf("slug(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestExportWritesContent(t *testing.T) {
	dir := t.TempDir()
	e := NewExporter(filepath.Join(dir, "exports"))

	a := domain.Artifact{
		ID:       "a1",
		Type:     domain.ArtifactCode,
		Language: "go",
		Title:    "Example",
		Content:  "package main\n",
	}
	path, err := e.Export(a)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if filepath.Base(path) != "example.go" {
		t.Errorf("path = %q, want example.go", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "package main\n" {
		t.Errorf("content = %q", data)
	}
}

func TestExportCollisionSuffix(t *testing.T) {
	e := NewExporter(t.TempDir())

	a := domain.Artifact{Type: domain.ArtifactText, Title: "notes", Content: "v1"}
	first, err := e.Export(a)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	a.Content = "v2"
	second, err := e.Export(a)
	if err != nil {
		t.Fatalf("Export (collision): %v", err)
	}

	if filepath.Base(first) != "notes.txt" {
		t.Errorf("first = %q, want notes.txt", first)
	}
	if filepath.Base(second) != "notes-1.txt" {
		t.Errorf("second = %q, want notes-1.txt", second)
	}

	data, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "v1" {
		t.Errorf("first export overwritten: %q", data)
	}
}
