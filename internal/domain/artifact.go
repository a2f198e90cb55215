package domain

import (
	"path"
	"strings"
	"time"
)

// Artifact is a generated or refined file. Artifacts are never mutated in
// place: a refine produces a new version for the same logical path, so the
// full attempt history stays retrievable.
type Artifact struct {
	RunID     string
	Path      string // logical path, e.g. "tests/test_profile.py"
	Language  string
	Stage     ArtifactStage
	Version   int // monotonically increasing per (run, path)
	Content   string
	CreatedAt time.Time
}

// ValidPath reports whether p is an acceptable logical path: relative,
// normalized, and not escaping the artifact root.
func ValidPath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") {
		return false
	}
	clean := path.Clean(p)
	if clean != p {
		return false
	}
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return false
	}
	return true
}

// IsTest returns true for artifacts produced by the test-generation stage
func (a *Artifact) IsTest() bool {
	return a.Stage == StageTests
}
