package diagnose

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err      string
		want     Category
		allowFix bool
	}{
		{"AttributeError: 'NoneType' object has no attribute 'find' in Text(", MissingAxisLabel, false},
		{"KeyError: 'value'", MissingDataColumn, false},
		{"KeyError: column 'year' not found", MissingDataColumn, false},
		{"ValueError: could not convert string to float: 'abc'", DataTypeIssue, false},
		{"ModuleNotFoundError: No module named 'foo'", EnvironmentDependency, false},
		{"ImportError: cannot import name 'Bar'", EnvironmentDependency, false},
		{"MemoryError: killed", ResourceLimit, false},
		{"process was killed by the OOM killer", ResourceLimit, false},
		{"SyntaxError: invalid syntax", SceneSyntax, true},
		{"NameError: name 'Circel' is not defined", SceneSyntax, true},
		{"Manim preview timed out after 600s", PerformanceTimeout, false},
		{"Random obscure error", UnknownRuntime, true},
		{"", UnknownRuntime, true},
	}

	for _, tt := range tests {
		t.Run(tt.err, func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.want, got.Category)
			assert.Equal(t, tt.allowFix, got.AllowFix)
			assert.NotEmpty(t, got.Message)
		})
	}
}

func TestClassify_Precedence(t *testing.T) {
	tests := []struct {
		name string
		err  string
		want Category
	}{
		{"syntax beats timeout", "SyntaxError while preview timed out", SceneSyntax},
		{"missing column beats syntax", "KeyError: 'x' then SyntaxError", MissingDataColumn},
		{"dependency beats memory", "ImportError after MemoryError", EnvironmentDependency},
		{"axis label beats key error", "KeyError: 'a' NoneType .find Text(", MissingAxisLabel},
		{"data type beats dependency", "could not convert; ModuleNotFoundError", DataTypeIssue},
		{"resource beats name error", "MemoryError inside NameError handler", ResourceLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err).Category)
		})
	}
}

func TestClassify_CaseInsensitiveAndDeterministic(t *testing.T) {
	assert.Equal(t, Classify("syntaxerror: bad"), Classify("SYNTAXERROR: bad"))
	for i := 0; i < 3; i++ {
		assert.Equal(t, Classify("KeyError: 'value'"), Classify("KeyError: 'value'"))
	}
}

func TestClassification_String(t *testing.T) {
	c := Classify("SyntaxError: invalid syntax")
	assert.Equal(t, "[SceneSyntax] Scene code has a syntax/name issue. Attempting automated fix.", c.String())

	long := Classification{Category: UnknownRuntime, Message: strings.Repeat("x", 1000)}
	assert.Len(t, long.String(), MaxMessageLen)
}

func TestParseRuntimeError(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   string
	}{
		{
			name:   "traceback takes last line",
			stderr: "Traceback (most recent call last):\n  File \"scene.py\", line 5\n    foo()\nNameError: name 'foo' is not defined\n\n",
			want:   "NameError: name 'foo' is not defined",
		},
		{
			name:   "rich traceback header",
			stderr: "╭──── Traceback (most recent call last) ────╮\n│ scene.py:4 │\n╰────╯\nValueError: bad value\n",
			want:   "ValueError: bad value",
		},
		{
			name:   "syntax error without traceback",
			stderr: "File \"scene.py\", line 3\n  SyntaxError: invalid syntax\nmore noise",
			want:   "SyntaxError: invalid syntax",
		},
		{
			name:   "tail fallback",
			stderr: "  something broke  \n",
			want:   "something broke",
		},
		{name: "empty", stderr: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRuntimeError(tt.stderr))
		})
	}
}

func TestParseRuntimeError_TailIsBounded(t *testing.T) {
	stderr := strings.Repeat("a", 5000) + strings.Repeat("b", TailChars)
	got := ParseRuntimeError(stderr)
	assert.Equal(t, strings.Repeat("b", TailChars), got)
}

func TestPrimaryErrorLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"\n\n", ""},
		{"first\nsecond", "first"},
		{"Traceback (most recent call last):\n  File x\nTypeError: nope\n  hint", "TypeError: nope"},
		{"  RuntimeException: boom  ", "RuntimeException: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, PrimaryErrorLine(tt.in))
		})
	}
}

func TestIsFixable(t *testing.T) {
	fixable := []string{
		"SyntaxError: invalid syntax",
		"nameerror: x",
		"AttributeError: 'Circle' has no attribute 'foo'",
		"IndentationError: unexpected indent",
		"'(' was never closed",
		"Bracket balance error: unbalanced parenthesis",
	}
	for _, s := range fixable {
		assert.True(t, IsFixable(s), s)
	}

	notFixable := []string{"", "KeyError: 'value'", "MemoryError", "timed out"}
	for _, s := range notFixable {
		assert.False(t, IsFixable(s), s)
	}
}

func TestTail(t *testing.T) {
	assert.Equal(t, "abc", Tail("abc", 10))
	assert.Equal(t, "bc", Tail("abc", 2))
	assert.Equal(t, "é", Tail("aé", 2))
	assert.Equal(t, "", Tail("aé", 1))
}
