// Package diagnose turns raw runtime failure text from a scene subprocess into
// a classification the orchestrator can act on.
package diagnose

import (
	"regexp"
	"strings"
)

// Category names a class of runtime failure.
type Category string

// Categories in precedence order. The first matching rule wins.
const (
	MissingAxisLabel      Category = "MissingAxisLabel"
	MissingDataColumn     Category = "MissingDataColumn"
	DataTypeIssue         Category = "DataTypeIssue"
	EnvironmentDependency Category = "EnvironmentDependency"
	ResourceLimit         Category = "ResourceLimit"
	SceneSyntax           Category = "SceneSyntax"
	PerformanceTimeout    Category = "PerformanceTimeout"
	UnknownRuntime        Category = "UnknownRuntime"
)

// MaxMessageLen bounds the length of a classification rendered for clients.
const MaxMessageLen = 500

// Classification is the outcome of Classify.
type Classification struct {
	Category Category `json:"category"`
	Message  string   `json:"message"`
	AllowFix bool     `json:"allow_llm_fix"`
}

// String renders the classification as "[Category] message", truncated to
// MaxMessageLen.
func (c Classification) String() string {
	return Truncate("["+string(c.Category)+"] "+c.Message, MaxMessageLen)
}

type rule struct {
	match func(e string) bool
	class Classification
}

// keyErrorRe matches a KeyError that names a key, which for scene code built
// from a dataset is a column lookup.
var keyErrorRe = regexp.MustCompile(`keyerror:?\s*['"\[]`)

var rules = []rule{
	{
		match: func(e string) bool {
			return strings.Contains(e, "nonetype") && strings.Contains(e, "text(") &&
				(strings.Contains(e, ".find") || strings.Contains(e, "'find'"))
		},
		class: Classification{MissingAxisLabel, "Axis label constant was None. Supply X_LABEL/Y_LABEL or remove axis label code.", false},
	},
	{
		match: func(e string) bool {
			return strings.Contains(e, "keyerror") &&
				(strings.Contains(e, "column") || strings.Contains(e, "[") || keyErrorRe.MatchString(e))
		},
		class: Classification{MissingDataColumn, "Scene code references a missing dataset column. Verify melted dataset headers and data binding.", false},
	},
	{
		match: func(e string) bool {
			return strings.Contains(e, "could not convert") || (strings.Contains(e, "nan") && strings.Contains(e, "value"))
		},
		class: Classification{DataTypeIssue, "Non-numeric / NaN data encountered. Clean or coerce values before rendering.", false},
	},
	{
		match: func(e string) bool {
			return strings.Contains(e, "modulenotfounderror") || strings.Contains(e, "importerror")
		},
		class: Classification{EnvironmentDependency, "Missing Python dependency for template. Ensure required libraries are installed.", false},
	},
	{
		match: func(e string) bool {
			return strings.Contains(e, "memoryerror") || (strings.Contains(e, "killed") && strings.Contains(e, "process"))
		},
		class: Classification{ResourceLimit, "Render exceeded resource limits. Sample fewer groups/time points or reduce frame count.", false},
	},
	{
		match: func(e string) bool {
			return strings.Contains(e, "syntaxerror") || strings.Contains(e, "nameerror")
		},
		class: Classification{SceneSyntax, "Scene code has a syntax/name issue. Attempting automated fix.", true},
	},
	{
		match: func(e string) bool {
			return strings.Contains(e, "timed out") && strings.Contains(e, "preview")
		},
		class: Classification{PerformanceTimeout, "Preview timed out. Reduce dataset size (sampling) or increase preview_timeout_seconds.", false},
	},
}

var unknown = Classification{UnknownRuntime, "Preview failed with an unknown error. Attempting limited fix.", true}

// Classify maps raw error text to a classification. Matching is
// case-insensitive and the rules are tried in precedence order.
func Classify(errText string) Classification {
	e := strings.ToLower(errText)
	for _, r := range rules {
		if r.match(e) {
			return r.class
		}
	}
	return unknown
}

// Truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut]
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
