package request

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aicouncil/council-orchestrator/internal/domain"
)

const sampleRequest = `---
languages:
  - python
  - typescript
branch: feat/shortener
priority: high
---

# URL shortener

Shorten URLs to 6-character codes and resolve them back.
`

func writeRequest(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseFile(t *testing.T) {
	path := writeRequest(t, "shortener.md", sampleRequest)

	req, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if len(req.Languages) != 2 || req.Languages[0] != "python" {
		t.Errorf("Languages = %v", req.Languages)
	}
	if req.Branch != "feat/shortener" {
		t.Errorf("Branch = %q", req.Branch)
	}
	if req.Priority != domain.PriorityHigh {
		t.Errorf("Priority = %q, want high", req.Priority)
	}
	if !strings.HasPrefix(req.Feature, "URL shortener") {
		t.Errorf("Feature = %q, want title first", req.Feature)
	}
	if !strings.Contains(req.Feature, "6-character codes") {
		t.Errorf("Feature = %q, want body prose", req.Feature)
	}
}

func TestParseFileRequiresLanguages(t *testing.T) {
	path := writeRequest(t, "bad.md", "---\nbranch: x\n---\n\n# Feature\n")
	if _, err := ParseFile(path); err == nil {
		t.Fatal("ParseFile() accepted request without languages")
	}
}

func TestParseFileRequiresBody(t *testing.T) {
	path := writeRequest(t, "empty.md", "---\nlanguages: [python]\n---\n")
	if _, err := ParseFile(path); err == nil {
		t.Fatal("ParseFile() accepted empty feature description")
	}
}

func TestParseFileWithoutFrontmatter(t *testing.T) {
	path := writeRequest(t, "plain.md", "# Just a title\n")
	if _, err := ParseFile(path); err == nil {
		t.Fatal("ParseFile() accepted file without frontmatter languages")
	}
}

func TestParseDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"good.md":   sampleRequest,
		"bad.md":    "---\n---\nno languages\n",
		"notes.txt": "ignored",
		".draft.md": sampleRequest,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	requests, errs := ParseDir(dir)
	if len(requests) != 1 {
		t.Errorf("got %d requests, want 1", len(requests))
	}
	if len(errs) != 1 {
		t.Errorf("got %d errors, want 1 (bad.md)", len(errs))
	}
}

func TestToPriority(t *testing.T) {
	tests := []struct {
		in   string
		want domain.Priority
	}{
		{"high", domain.PriorityHigh},
		{"low", domain.PriorityLow},
		{"", domain.PriorityNormal},
		{"whatever", domain.PriorityNormal},
	}
	for _, tt := range tests {
		if got := ToPriority(tt.in); got != tt.want {
			t.Errorf("ToPriority(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
