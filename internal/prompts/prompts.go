// Package prompts renders the system and summarization prompts.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const (
	systemTemplate        = "system_prompt.tmpl"
	summarizationTemplate = "summarization_prompt.tmpl"
)

var builtin = template.Must(template.New("prompts").Option("missingkey=error").ParseFS(templateFS, "templates/*.tmpl"))

// SystemInput selects the variant of the system prompt.
type SystemInput struct {
	UseSummarization bool
}

// SummarizationInput is the data for one paper summary request.
type SummarizationInput struct {
	ChatSummary string
	Question    string
	Contents    string
}

// System renders the built-in system prompt.
func System(useSummarization bool) (string, error) {
	return render(builtin, systemTemplate, SystemInput{UseSummarization: useSummarization})
}

// LoadSystem renders the system prompt from path, or the built-in one when
// path is empty.
func LoadSystem(path string, useSummarization bool) (string, error) {
	if path == "" {
		return System(useSummarization)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	tmpl, err := template.New(systemTemplate).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return "", fmt.Errorf("parse system prompt %s: %w", path, err)
	}
	return render(tmpl, systemTemplate, SystemInput{UseSummarization: useSummarization})
}

// Summarization renders the summarization prompt.
func Summarization(in SummarizationInput) (string, error) {
	return render(builtin, summarizationTemplate, in)
}

func render(tmpl *template.Template, name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
