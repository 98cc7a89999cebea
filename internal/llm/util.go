package llm

import (
	"regexp"
	"strings"
)

var codeFenceRe = regexp.MustCompile("(?i)```(?:python|py)?[ \t]*\\r?\\n?([\\s\\S]*?)```")

// CleanCodeBlock extracts scene source from a model reply. The first fenced
// block wins when there is one, otherwise the whole reply is used.
func CleanCodeBlock(text string) string {
	if m := codeFenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}

	code := strings.TrimSpace(text)
	code = strings.TrimPrefix(code, "```")
	code = strings.TrimSuffix(code, "```")
	return strings.TrimSpace(code)
}
