// Package prompts provides externalized role prompt templates with override support.
package prompts

import "embed"

//go:embed roles/*.md
var embeddedFS embed.FS
