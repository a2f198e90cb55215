package prompts

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"text/template"
)

// Loader manages prompt templates with override support.
// Directories are checked in order; first match wins, falling back to the
// embedded defaults.
type Loader struct {
	overrideDirs []string
	cache        map[string]*template.Template
	mu           sync.RWMutex
}

// NewLoader creates a loader with the given override directories
func NewLoader(overrideDirs ...string) *Loader {
	return &Loader{
		overrideDirs: overrideDirs,
		cache:        make(map[string]*template.Template),
	}
}

// DefaultLoader creates a loader with the standard override path
// ~/.config/council-orchestrator/prompts/
func DefaultLoader() *Loader {
	home, _ := os.UserHomeDir()
	return NewLoader(filepath.Join(home, ".config", "council-orchestrator", "prompts"))
}

func (l *Loader) loadContent(path string) ([]byte, error) {
	for _, dir := range l.overrideDirs {
		if data, err := os.ReadFile(filepath.Join(dir, path)); err == nil {
			return data, nil
		}
	}
	return fs.ReadFile(embeddedFS, path)
}

// LoadTemplate loads and compiles a template by path (e.g. "roles/planner.md")
func (l *Loader) LoadTemplate(path string) (*template.Template, error) {
	l.mu.RLock()
	if tmpl, ok := l.cache[path]; ok {
		l.mu.RUnlock()
		return tmpl, nil
	}
	l.mu.RUnlock()

	content, err := l.loadContent(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	tmpl, err := template.New(path).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("compile template %s: %w", path, err)
	}

	l.mu.Lock()
	l.cache[path] = tmpl
	l.mu.Unlock()

	return tmpl, nil
}

// Execute loads and executes a template with the given data
func (l *Loader) Execute(path string, data interface{}) (string, error) {
	tmpl, err := l.LoadTemplate(path)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute %s: %w", path, err)
	}
	return buf.String(), nil
}

// ClearCache clears the template cache (useful for development/testing)
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]*template.Template)
	l.mu.Unlock()
}

// PlannerData holds template variables for the planner prompt
type PlannerData struct {
	Feature   string
	Languages string
}

// ContextData holds template variables for the context-gatherer prompt
type ContextData struct {
	Feature string
	Specs   string
}

// GenerateTestsData holds template variables for test generation
type GenerateTestsData struct {
	Language    string
	Description string
	Context     string
}

// GenerateCodeData holds template variables for code generation
type GenerateCodeData struct {
	Language string
	Tests    string
	Context  string
}

// RefineData holds template variables for the refiner prompt
type RefineData struct {
	Language  string
	Outcome   string
	Failures  string
	Artifacts string
}

// ReviewData holds template variables for the reviewer prompt
type ReviewData struct {
	Feature   string
	Artifacts string
}

// BuildPlannerPrompt loads and executes the planner template
func (l *Loader) BuildPlannerPrompt(data PlannerData) (string, error) {
	return l.Execute("roles/planner.md", data)
}

// BuildContextPrompt loads and executes the context-gatherer template
func (l *Loader) BuildContextPrompt(data ContextData) (string, error) {
	return l.Execute("roles/context.md", data)
}

// BuildTestGenPrompt loads and executes the test-generation template
func (l *Loader) BuildTestGenPrompt(data GenerateTestsData) (string, error) {
	return l.Execute("roles/generator_tests.md", data)
}

// BuildCodeGenPrompt loads and executes the code-generation template
func (l *Loader) BuildCodeGenPrompt(data GenerateCodeData) (string, error) {
	return l.Execute("roles/generator_code.md", data)
}

// BuildRefinePrompt loads and executes the refiner template
func (l *Loader) BuildRefinePrompt(data RefineData) (string, error) {
	return l.Execute("roles/refiner.md", data)
}

// BuildReviewPrompt loads and executes the reviewer template
func (l *Loader) BuildReviewPrompt(data ReviewData) (string, error) {
	return l.Execute("roles/reviewer.md", data)
}
