package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Placeholders each template must carry; pipeline code binds exactly these.
var templateContracts = map[string]struct {
	body         string
	placeholders []string
}{
	"planner":         {Planner, []string{"CONTEXT", "MESSAGE"}},
	"extractor":       {Extractor, []string{"PREDICATES", "MESSAGE"}},
	"synthesizer":     {Synthesizer, []string{"STYLE", "SITUATIONAL", "CONTEXT", "TASK_RESULTS", "MESSAGE"}},
	"episode_summary": {EpisodeSummary, []string{"TRANSCRIPT"}},
}

func TestTemplatePlaceholders(t *testing.T) {
	for name, contract := range templateContracts {
		t.Run(name, func(t *testing.T) {
			assert.NotEmpty(t, strings.TrimSpace(contract.body))
			for _, p := range contract.placeholders {
				assert.Contains(t, contract.body, "{{"+p+"}}", "template %s must declare %s", name, p)
			}
		})
	}
}

func TestRender(t *testing.T) {
	out := Render("Merhaba {{NAME}}, {{NAME}} tekrar", map[string]string{"NAME": "Deniz"})
	assert.Equal(t, "Merhaba Deniz, Deniz tekrar", out)

	t.Run("unknown placeholder stays visible", func(t *testing.T) {
		out := Render("a {{MISSING}} b", map[string]string{"NAME": "x"})
		assert.Equal(t, "a {{MISSING}} b", out)
	})
}
