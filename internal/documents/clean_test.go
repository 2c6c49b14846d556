package documents

import "testing"

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"hyphenated break", "self-super-\nvised   learning\n\tworks", "self-supervised learning works"},
		{"whitespace only", " \n\t ", ""},
		{"already clean", "plain text", "plain text"},
		{"hyphen with space kept", "state- of-the-art", "state- of-the-art"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.in); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRemoveHeadersAndFooters(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"arxiv stamp", "arXiv:2405.13599v1 [cs.SE] 22 May 2024\nIntroduction", "Introduction"},
		{"page number", "Results\nPage 12\nmore", "Results\nmore"},
		{"mentions arxiv anywhere", "Preprint on ArXiv\nBody", "Body"},
		{"paged word not matched", "Pages 12\nBody", "Pages 12\nBody"},
		{"untouched", "line one\nline two", "line one\nline two"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RemoveHeadersAndFooters(tt.in); got != tt.want {
				t.Errorf("RemoveHeadersAndFooters(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCleanBlock(t *testing.T) {
	in := "  arXiv:2405.13599v1 [cs.SE]\nWe pro-\npose   LogRCA.\nPage 3 \n"
	if got := CleanBlock(in); got != "We propose LogRCA." {
		t.Fatalf("CleanBlock() = %q", got)
	}
}
