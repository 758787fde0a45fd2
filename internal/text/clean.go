package text

import (
	"regexp"
	"strings"
)

var (
	stageDirections = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]`)
	emphasisMarks   = regexp.MustCompile("[*_`#]+")
	whitespaceRuns  = regexp.MustCompile(`\s+`)
)

// Clean prepares model output for speech synthesis: stage directions in
// parentheses or brackets, markdown emphasis, and whitespace runs all
// read badly aloud, so they are removed or collapsed.
func Clean(s string) string {
	s = stageDirections.ReplaceAllString(s, " ")
	s = emphasisMarks.ReplaceAllString(s, "")
	s = whitespaceRuns.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
