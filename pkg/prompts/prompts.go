// Package prompts holds the LLM prompt templates as embedded data so they
// can be tuned without touching pipeline code.
package prompts

import (
	_ "embed"
	"strings"
)

//go:embed planner.txt
var Planner string

//go:embed extractor.txt
var Extractor string

//go:embed synthesizer.txt
var Synthesizer string

//go:embed episode_summary.txt
var EpisodeSummary string

// Render substitutes {{NAME}} placeholders. Unknown placeholders are left
// in place so a missing binding is visible in debug output instead of
// silently vanishing.
func Render(tmpl string, vars map[string]string) string {
	out := tmpl
	for name, value := range vars {
		out = strings.ReplaceAll(out, "{{"+name+"}}", value)
	}
	return out
}
