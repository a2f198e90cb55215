// Package request parses feature request files: markdown documents with a
// YAML frontmatter naming the target languages and an optional branch, and a
// body describing the feature to build.
package request

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aicouncil/council-orchestrator/internal/domain"
)

var titleRegex = regexp.MustCompile(`^#\s+(.+)$`)

// Frontmatter is the YAML header of a feature request file
type Frontmatter struct {
	Languages []string `yaml:"languages"`
	Branch    string   `yaml:"branch"`
	Priority  string   `yaml:"priority"`
}

// FeatureRequest is one parsed request file
type FeatureRequest struct {
	Path      string
	Feature   string // title line plus body text
	Languages []string
	Branch    string
	Priority  domain.Priority
}

// ParseFrontmatter extracts YAML frontmatter from markdown content.
// Returns the frontmatter, remaining content, and any error.
func ParseFrontmatter(content []byte) (*Frontmatter, []byte, error) {
	if !bytes.HasPrefix(content, []byte("---\n")) {
		return &Frontmatter{}, content, nil
	}

	rest := content[4:]
	endIdx := bytes.Index(rest, []byte("\n---"))
	if endIdx == -1 {
		return &Frontmatter{}, content, nil
	}

	fmData := rest[:endIdx]
	remaining := rest[endIdx+4:]

	var fm Frontmatter
	if err := yaml.Unmarshal(fmData, &fm); err != nil {
		return nil, nil, err
	}

	return &fm, bytes.TrimLeft(remaining, "\n"), nil
}

// ParseFile parses a single feature request file
func ParseFile(path string) (*FeatureRequest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	fm, body, err := ParseFrontmatter(content)
	if err != nil {
		return nil, fmt.Errorf("parsing frontmatter: %w", err)
	}
	if len(fm.Languages) == 0 {
		return nil, fmt.Errorf("%s: frontmatter names no languages", path)
	}

	feature := extractFeature(body)
	if feature == "" {
		return nil, fmt.Errorf("%s: empty feature description", path)
	}

	return &FeatureRequest{
		Path:      path,
		Feature:   feature,
		Languages: fm.Languages,
		Branch:    fm.Branch,
		Priority:  ToPriority(fm.Priority),
	}, nil
}

// ParseDir parses every markdown file in a requests directory. Files that
// fail to parse are reported together so one bad request does not hide the
// rest.
func ParseDir(dir string) ([]*FeatureRequest, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []error{err}
	}

	var requests []*FeatureRequest
	var errs []error
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".md") || strings.HasPrefix(name, ".") {
			continue
		}
		req, err := ParseFile(filepath.Join(dir, name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		requests = append(requests, req)
	}
	return requests, errs
}

// ToPriority converts a frontmatter string to a Priority
func ToPriority(s string) domain.Priority {
	switch s {
	case "high":
		return domain.PriorityHigh
	case "low":
		return domain.PriorityLow
	default:
		return domain.PriorityNormal
	}
}

// extractFeature joins the title heading and the body prose into the feature
// description handed to the planner.
func extractFeature(body []byte) string {
	var title string
	var prose []string

	for _, line := range strings.Split(string(body), "\n") {
		if title == "" {
			if m := titleRegex.FindStringSubmatch(line); m != nil {
				title = strings.TrimSpace(m[1])
				continue
			}
		}
		prose = append(prose, line)
	}

	text := strings.TrimSpace(strings.Join(prose, "\n"))
	switch {
	case title == "":
		return text
	case text == "":
		return title
	default:
		return title + "\n\n" + text
	}
}
