package text

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Normalizer applies pronunciation substitutions loaded from a rules
// file before text reaches the synthesizer. Rules come in two forms:
//
//	API => A P I            literal, case-insensitive, all occurrences
//	s/\bdr\.?\b/doctor/g    sed-style regex, flags i m s g
//
// Blank lines and lines starting with # are skipped. A missing or empty
// path yields a no-op normalizer.
type Normalizer struct {
	rules     []rule
	loopLimit int
}

type rule struct {
	re          *regexp.Regexp
	replacement string
	firstOnly   bool
}

func NewNormalizer(path string, loopLimit int) (*Normalizer, error) {
	if loopLimit <= 0 {
		loopLimit = 30
	}
	n := &Normalizer{loopLimit: loopLimit}

	if strings.TrimSpace(path) == "" {
		return n, nil
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return n, nil
		}
		return nil, fmt.Errorf("reading pronunciation rules %q: %w", path, err)
	}

	for index, raw := range strings.Split(string(contents), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r, err := parseRule(line)
		if err != nil {
			return nil, fmt.Errorf("pronunciation rules %q line %d: %w", path, index+1, err)
		}
		n.rules = append(n.rules, r)
	}
	return n, nil
}

// Apply rewrites text until no rule matches or the loop limit is hit.
// The limit bounds mutually-feeding rules.
func (n *Normalizer) Apply(text string) string {
	if len(n.rules) == 0 {
		return text
	}

	result := text
	for i := 0; i < n.loopLimit; i++ {
		changed := false
		for _, r := range n.rules {
			next := r.apply(result)
			if next != result {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return result
}

func (r rule) apply(input string) string {
	if !r.firstOnly {
		return r.re.ReplaceAllString(input, r.replacement)
	}
	loc := r.re.FindStringIndex(input)
	if loc == nil {
		return input
	}
	segment := r.re.ReplaceAllString(input[loc[0]:loc[1]], r.replacement)
	return input[:loc[0]] + segment + input[loc[1]:]
}

func parseRule(line string) (rule, error) {
	if isRegexRule(line) {
		return parseRegexRule(line)
	}
	if strings.Contains(line, "=>") {
		return parseLiteralRule(line)
	}
	return rule{}, errors.New("unsupported rule format")
}

func parseLiteralRule(line string) (rule, error) {
	parts := strings.SplitN(line, "=>", 2)
	from := strings.TrimSpace(parts[0])
	to := strings.TrimSpace(parts[1])
	if from == "" {
		return rule{}, errors.New("literal rule source cannot be empty")
	}
	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(from))
	if err != nil {
		return rule{}, err
	}
	return rule{re: re, replacement: to}, nil
}

func isRegexRule(line string) bool {
	return len(line) > 1 && line[0] == 's' && !isWordByte(line[1])
}

func parseRegexRule(line string) (rule, error) {
	delim := line[1]
	pattern, pos, err := readUntil(line, 2, delim)
	if err != nil {
		return rule{}, fmt.Errorf("invalid pattern: %w", err)
	}
	replacement, pos, err := readUntil(line, pos, delim)
	if err != nil {
		return rule{}, fmt.Errorf("invalid replacement: %w", err)
	}

	prefix := "i"
	firstOnly := true
	for _, flag := range strings.TrimSpace(line[pos:]) {
		switch flag {
		case 'i':
			// default
		case 'g':
			firstOnly = false
		case 'm':
			prefix += "m"
		case 's':
			prefix += "s"
		case ' ':
		default:
			return rule{}, fmt.Errorf("unsupported flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + prefix + ")" + pattern)
	if err != nil {
		return rule{}, err
	}
	return rule{re: re, replacement: replacement, firstOnly: firstOnly}, nil
}

func readUntil(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}
	var b strings.Builder
	escaped := false
	for i := start; i < len(line); i++ {
		c := line[i]
		if escaped {
			b.WriteByte(c)
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			b.WriteByte(c)
			continue
		}
		if c == delim {
			return b.String(), i + 1, nil
		}
		b.WriteByte(c)
	}
	return "", 0, errors.New("unterminated expression")
}

func isWordByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') || c == ' ' || c == '\t'
}
