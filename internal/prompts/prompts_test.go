package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSystemVariants(t *testing.T) {
	tests := []struct {
		useSummarization bool
		want             string
		notWant          string
	}{
		{false, "fetch_content_from_arxiv_paper", "summarize_papers_for_conversation"},
		{true, "summarize_papers_for_conversation", "fetch_content_from_arxiv_paper"},
	}
	for _, tt := range tests {
		got, err := System(tt.useSummarization)
		if err != nil {
			t.Fatalf("System(%v) error = %v", tt.useSummarization, err)
		}
		if !strings.Contains(got, tt.want) || strings.Contains(got, tt.notWant) {
			t.Errorf("System(%v) tool mention mismatch:\n%s", tt.useSummarization, got)
		}
		if !strings.Contains(got, "search_arxiv") {
			t.Errorf("System(%v) missing search tool", tt.useSummarization)
		}
	}
}

func TestSummarization(t *testing.T) {
	got, err := Summarization(SummarizationInput{
		ChatSummary: "talked about log analysis",
		Question:    "how does LogRCA rank lines?",
		Contents:    `{"title":"LogRCA"}`,
	})
	if err != nil {
		t.Fatalf("Summarization() error = %v", err)
	}
	for _, want := range []string{"talked about log analysis", "how does LogRCA rank lines?", `{"title":"LogRCA"}`} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestLoadSystemOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "system.tmpl")
	if err := os.WriteFile(path, []byte("custom{{if .UseSummarization}} summaries{{end}}"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := LoadSystem(path, true)
	if err != nil {
		t.Fatalf("LoadSystem() error = %v", err)
	}
	if got != "custom summaries" {
		t.Fatalf("LoadSystem() = %q", got)
	}

	if _, err := LoadSystem(filepath.Join(t.TempDir(), "missing"), false); err == nil {
		t.Fatal("expected error for missing file")
	}
	builtin, err := LoadSystem("", false)
	if err != nil || !strings.Contains(builtin, "search_arxiv") {
		t.Fatalf("LoadSystem(\"\") = %q, %v", builtin, err)
	}
}
