// Package harness executes a run's generated test suite against its
// generated code inside a disposable workspace, one language at a time.
package harness

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aicouncil/council-orchestrator/internal/config"
	"github.com/aicouncil/council-orchestrator/internal/domain"
)

// Toolchain is the compiled form of one language's execution config
type Toolchain struct {
	Language     string
	SetupCommand string
	TestCommand  string
	Timeout      time.Duration

	failurePattern *regexp.Regexp
}

// NewToolchain compiles a language config. A missing test command or an
// invalid failure pattern is a configuration error, not a runtime one.
func NewToolchain(language string, cfg config.LanguageConfig) (Toolchain, error) {
	if cfg.TestCommand == "" {
		return Toolchain{}, fmt.Errorf("language %s: test_command is required", language)
	}

	tc := Toolchain{
		Language:     language,
		SetupCommand: cfg.SetupCommand,
		TestCommand:  cfg.TestCommand,
		Timeout:      time.Duration(cfg.TimeoutSecs) * time.Second,
	}
	if tc.Timeout <= 0 {
		tc.Timeout = 10 * time.Minute
	}

	if cfg.FailurePattern != "" {
		re, err := regexp.Compile(cfg.FailurePattern)
		if err != nil {
			return Toolchain{}, fmt.Errorf("language %s: failure_pattern: %w", language, err)
		}
		tc.failurePattern = re
	}
	return tc, nil
}

// Toolchains compiles every configured language
func Toolchains(languages map[string]config.LanguageConfig) (map[string]Toolchain, error) {
	out := make(map[string]Toolchain, len(languages))
	for name, cfg := range languages {
		tc, err := NewToolchain(name, cfg)
		if err != nil {
			return nil, err
		}
		out[name] = tc
	}
	return out, nil
}

// ParseFailures extracts structured failures from raw test output using the
// toolchain's failure pattern. The first capture group is the test name and
// the optional second group is the message. Without a pattern, or when
// nothing matches, the raw output is the only diagnostic.
func (t Toolchain) ParseFailures(output string) []domain.TestFailure {
	if t.failurePattern == nil {
		return nil
	}

	var failures []domain.TestFailure
	for _, line := range strings.Split(output, "\n") {
		m := t.failurePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		f := domain.TestFailure{Test: strings.TrimSpace(m[0])}
		if len(m) > 1 && m[1] != "" {
			f.Test = strings.TrimSpace(m[1])
		}
		if len(m) > 2 {
			f.Message = strings.TrimSpace(m[2])
		}
		failures = append(failures, f)
	}
	return failures
}
