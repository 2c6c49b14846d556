package documents

import (
	"regexp"
	"strings"
)

var (
	arxivStampPattern = regexp.MustCompile(`arXiv:\d{4}\.\d{5}`)
	pageNumberPattern = regexp.MustCompile(`\bPage \d+\b`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// RemoveHeadersAndFooters drops lines that look like arXiv stamps or page
// numbers, and any line mentioning arXiv.
func RemoveHeadersAndFooters(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0:0]
	for _, line := range lines {
		if arxivStampPattern.MatchString(line) ||
			pageNumberPattern.MatchString(line) ||
			strings.Contains(strings.ToLower(line), "arxiv") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// Clean joins hyphenated line breaks, collapses whitespace runs to a single
// space and trims the result.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "-\n", "")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// CleanBlock prepares one extracted block for the model.
func CleanBlock(text string) string {
	return Clean(RemoveHeadersAndFooters(strings.TrimSpace(text)))
}
