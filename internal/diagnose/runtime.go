package diagnose

import (
	"regexp"
	"strings"
)

// TailChars is how much of the stderr tail ParseRuntimeError keeps when it
// finds nothing more specific.
const TailChars = 2000

// tracebackRe also matches the boxed header rich prints for manim tracebacks.
var tracebackRe = regexp.MustCompile(`(?i)Traceback \(most recent call last\)`)

var fixablePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)SyntaxError`),
	regexp.MustCompile(`(?i)NameError`),
	regexp.MustCompile(`(?i)AttributeError`),
	regexp.MustCompile(`(?i)IndentationError`),
	regexp.MustCompile(`(?i)unbalanced parenthesis`),
	regexp.MustCompile(`(?i)was never closed`),
	regexp.MustCompile(`(?i)invalid syntax`),
}

// ParseRuntimeError reduces the stderr of a failed scene run to a one-line
// summary. With a traceback it is the last non-empty line, otherwise the first
// SyntaxError line, otherwise the trimmed tail of stderr.
func ParseRuntimeError(stderr string) string {
	lines := strings.Split(stderr, "\n")

	if tracebackRe.MatchString(stderr) {
		for i := len(lines) - 1; i >= 0; i-- {
			if ln := strings.TrimSpace(lines[i]); ln != "" {
				return ln
			}
		}
	}

	for _, ln := range lines {
		if strings.Contains(ln, "SyntaxError:") {
			return strings.TrimSpace(ln)
		}
	}

	return strings.TrimSpace(Tail(stderr, TailChars))
}

// PrimaryErrorLine picks the most telling line of an error blob: the last line
// naming an error, exception or traceback, or else the first non-empty line.
func PrimaryErrorLine(errText string) string {
	var lines []string
	for _, ln := range strings.Split(errText, "\n") {
		if strings.TrimSpace(ln) != "" {
			lines = append(lines, ln)
		}
	}
	for i := len(lines) - 1; i >= 0; i-- {
		ln := lines[i]
		if strings.Contains(ln, "Error") || strings.Contains(ln, "Exception") || strings.Contains(ln, "Traceback") {
			return strings.TrimSpace(ln)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[0])
}

// IsFixable reports whether errText looks like something regenerating the
// scene source could fix.
func IsFixable(errText string) bool {
	if errText == "" {
		return false
	}
	for _, re := range fixablePatterns {
		if re.MatchString(errText) {
			return true
		}
	}
	return false
}

// Tail returns the last n bytes of s, starting on a UTF-8 boundary.
func Tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8Start(s[start]) {
		start++
	}
	return s[start:]
}
