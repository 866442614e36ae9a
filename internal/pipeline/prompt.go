package pipeline

import (
	"embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/phrazzld/signal-api/internal/analysis"
	"github.com/phrazzld/signal-api/internal/domain"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var promptFuncs = template.FuncMap{
	"pct": func(v float64) string { return fmt.Sprintf("%.0f", v*100) },
	"num": func(v float64) string { return fmt.Sprintf("%.2f", v) },
	"opt": func(v *float64) string {
		if v == nil {
			return "N/A"
		}
		return fmt.Sprintf("%.2f", *v)
	},
}

type analysisPromptData struct {
	Symbol     string
	Name       string
	Keyword    string
	Weights    domain.Weights
	Indicators *analysis.Indicators
}

type screeningPromptData struct {
	Keyword string
	Count   int
	Pool    []domain.Instrument
}

type prompts struct {
	analysis  *template.Template
	screening *template.Template
}

// loadPrompts parses the built-in templates. A non-empty analysisPath
// replaces the analysis template with the file's contents.
func loadPrompts(analysisPath string) (*prompts, error) {
	screening, err := template.New("screening.tmpl").Funcs(promptFuncs).
		ParseFS(templateFS, "templates/screening.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse screening template: %w", err)
	}

	var analysisTmpl *template.Template
	if analysisPath != "" {
		content, err := os.ReadFile(analysisPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt template from %s: %w", analysisPath, err)
		}
		analysisTmpl, err = template.New("analysis").Funcs(promptFuncs).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse prompt template: %w", err)
		}
	} else {
		analysisTmpl, err = template.New("analysis.tmpl").Funcs(promptFuncs).
			ParseFS(templateFS, "templates/analysis.tmpl")
		if err != nil {
			return nil, fmt.Errorf("failed to parse analysis template: %w", err)
		}
	}

	return &prompts{analysis: analysisTmpl, screening: screening}, nil
}

func (p *prompts) renderAnalysis(data analysisPromptData) (string, error) {
	var b strings.Builder
	if err := p.analysis.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render analysis prompt: %w", err)
	}
	return b.String(), nil
}

func (p *prompts) renderScreening(data screeningPromptData) (string, error) {
	var b strings.Builder
	if err := p.screening.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render screening prompt: %w", err)
	}
	return b.String(), nil
}
