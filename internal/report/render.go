package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"go.uber.org/zap"
)

const defaultMarkdown = `# {{ .Title }}
{{ range .Sections }}
## {{ .Title }}

{{ trim .Content }}
{{ end }}
---
_Template: {{ .Metadata.Template }} · Sections: {{ len .Sections }} · Length: {{ .Metadata.WordCount }} characters{{ if .Metadata.Omitted }} · Omitted: {{ join .Metadata.Omitted ", " }}{{ end }}_
`

// templateFuncs provides helper functions available in templates.
var templateFuncs = template.FuncMap{
	"trim":  strings.TrimSpace,
	"join":  strings.Join,
	"upper": strings.ToUpper,
	"add":   func(a, b int) int { return a + b },
}

var (
	renderCache = make(map[string]*template.Template)
	renderMu    sync.RWMutex

	defaultRender = template.Must(template.New("report").Funcs(templateFuncs).Parse(defaultMarkdown))
)

// LoadRenderTemplate loads dir/report.md.tmpl, caching by path. It returns the
// built-in template when dir is empty or the file is missing or invalid.
func LoadRenderTemplate(dir string, logger *zap.Logger) *template.Template {
	if dir == "" {
		return defaultRender
	}
	path := filepath.Join(dir, "report.md.tmpl")

	renderMu.RLock()
	if tmpl, ok := renderCache[path]; ok {
		renderMu.RUnlock()
		return tmpl
	}
	renderMu.RUnlock()

	content, err := os.ReadFile(path)
	if err != nil {
		logger.Debug("Report template not found, using built-in", zap.String("path", path))
		return defaultRender
	}
	tmpl, err := template.New("report").Funcs(templateFuncs).Parse(string(content))
	if err != nil {
		logger.Warn("Failed to parse report template, using built-in", zap.String("path", path), zap.Error(err))
		return defaultRender
	}

	renderMu.Lock()
	renderCache[path] = tmpl
	renderMu.Unlock()
	logger.Info("Loaded report template", zap.String("path", path))
	return tmpl
}

// Render writes the report as Markdown. A nil template uses the built-in one.
func Render(tmpl *template.Template, rep *Report) (string, error) {
	if rep == nil {
		return "", fmt.Errorf("report is nil")
	}
	if tmpl == nil {
		tmpl = defaultRender
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, rep); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return buf.String(), nil
}
