// ABOUTME: Chat-history export: renders a project's prompt/response exchanges as Markdown or a standalone HTML page.
// ABOUTME: Markdown is converted with goldmark; raw HTML in responses is not passed through.
package history

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389-research/buildpilot/backend"
)

var outcomeLabels = map[backend.Outcome]string{
	backend.OutcomeSuccess: "completed",
	backend.OutcomeError:   "failed",
	backend.OutcomeStopped: "stopped",
}

// Markdown renders entries as one Markdown document, oldest first.
func Markdown(project string, entries []backend.HistoryEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", project)
	if len(entries) == 0 {
		b.WriteString("_No builds yet._\n")
		return b.String()
	}
	for i, e := range entries {
		label, ok := outcomeLabels[e.Outcome]
		if !ok {
			label = string(e.Outcome)
		}
		fmt.Fprintf(&b, "## Build %d (%s)", i+1, label)
		if !e.At.IsZero() {
			fmt.Fprintf(&b, " %s", e.At.UTC().Format(time.RFC3339))
		}
		b.WriteString("\n\n")
		for _, line := range strings.Split(strings.TrimSpace(e.Prompt), "\n") {
			fmt.Fprintf(&b, "> %s\n", line)
		}
		b.WriteString("\n")
		if resp := strings.TrimSpace(e.Response); resp != "" {
			b.WriteString(resp)
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

// RenderMarkdown converts Markdown to an HTML fragment.
func RenderMarkdown(input string) (string, error) {
	var buf bytes.Buffer
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(input), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

var pageTemplate = template.Must(template.New("history").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Project}} build history</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; color: #1f2937; }
blockquote { border-left: 3px solid #6366f1; margin: 0; padding: 0.25rem 1rem; color: #4b5563; }
pre { background: #f3f4f6; padding: 0.75rem; overflow-x: auto; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// WriteHTML writes a standalone HTML page for the project's history.
func WriteHTML(w io.Writer, project string, entries []backend.HistoryEntry) error {
	body, err := RenderMarkdown(Markdown(project, entries))
	if err != nil {
		return err
	}
	data := struct {
		Project string
		Body    template.HTML
	}{Project: project, Body: template.HTML(body)}
	if err := pageTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("write history page: %w", err)
	}
	return nil
}
