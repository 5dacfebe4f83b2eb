package prompts

import (
	"bytes"
	"text/template"

	"github.com/antigravity-dev/videoloom/internal/pipelineerr"
)

// Render executes a resolved fragment as a text/template against data.
// Grounded on scheduler.RenderPrompt convention (text/template
// over an embedded fragment); unlike built-in-only templates,
// fragments here may come from an external override root, so a malformed
// template is a ConfigurationError rather than a panic.
func Render(fragment string, data any) (string, error) {
	tmpl, err := template.New("prompt").Parse(fragment)
	if err != nil {
		return "", pipelineerr.ConfigurationError("parse prompt template", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", pipelineerr.ConfigurationError("execute prompt template", err)
	}
	return buf.String(), nil
}
