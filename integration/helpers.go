//go:build integration

package integration

import (
	"os"
	"path/filepath"
	"testing"
)

// TempDBPath creates a temporary database path for testing
func TempDBPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "test.db")
}

// SampleRequestsDir writes a set of feature request files and returns the
// directory holding them
func SampleRequestsDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	requests := map[string]string{
		"profile-editing.md": `---
languages: [python, typescript]
branch: feat/profile-editing
priority: high
---

# Profile editing

Users should be able to edit their display name and avatar from the
settings page. Changes are persisted immediately.
`,
		"csv-export.md": `---
languages: [python]
---

# CSV export

Reports can be downloaded as CSV with one row per entry.
`,
		"notes.txt": "not a feature request\n",
	}

	for name, content := range requests {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	return dir
}
