package validation

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexicalChecker_Accepts(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{"minimal", minimalScene},
		{"full", fullScene},
		{"comments and blank lines", "class GenScene(Scene):\n\n    # setup\n    def construct(self):\n\n        # nothing\n        pass\n"},
		{"one-line if", "if x: y = 1\nz = 2"},
		{"lambda and dict", "f = lambda a: a\nd = {'a': 1, \"b\": [1, 2]}"},
		{"triple quoted", "s = \"\"\"line one\nline (two\n\"\"\"\nt = 1"},
		{"single quotes with escapes", "s = 'it\\'s (fine'\nt = \"say \\\"hi\\\"\""},
		{"f-string with nested quotes", "label = f\"{data['name']}: {value:.2f}\""},
		{"hash inside string", "s = \"# not a comment\""},
		{"backslash continuation", "x = 1 + \\\n    2"},
		{"multi-line call", "self.play(\n    Create(c),\n    run_time=2,\n)"},
		{"async def", "async def f():\n    await g()"},
		{"tabs", "if x:\n\ty = 1\n\tif y:\n\t\tz = 2"},
		{"dedent to outer level", "class A:\n    def f(self):\n        if x:\n            pass\n    def g(self):\n        pass\nb = 1"},
		{"type annotation", "x: int = 3"},
		{"windows newlines", "class GenScene(Scene):\r\n    def construct(self):\r\n        pass\r\n"},
		{"identifier starting with keyword", "classes = 1\ndefaults = 2\nformat = 3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, LexicalChecker{}.Check(tt.source))
		})
	}
}

func TestLexicalChecker_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		wantMsg  string
		wantLine int
	}{
		{"missing colon", "def f()\n    pass", "expected ':'", 1},
		{"class missing colon", "class A(Scene)\n    pass", "expected ':'", 1},
		{"missing block", "def f():\nx = 1", "expected an indented block after function definition on line 1", 2},
		{"missing block at eof", "for i in range(3):\n", "expected an indented block after 'for' statement on line 1", 2},
		{"unexpected indent", "x = 1\n    y = 2", "unexpected indent", 2},
		{"bad dedent", "if x:\n        a = 1\n    b = 2", "unindent does not match any outer indentation level", 3},
		{"unterminated string", "s = 'abc\nt = 1", "unterminated string literal (detected at line 1)", 1},
		{"unterminated triple", "s = '''abc\nt = 1", "unterminated triple-quoted string literal (detected at line 2)", 1},
		{"never closed", "x = foo(1,\n  2", "'(' was never closed", 1},
		{"unmatched close", "x = 1]", "unmatched ']'", 1},
		{"mismatch across lines", "x = (1,\n 2]", "closing parenthesis ']' does not match opening parenthesis '(' on line 1", 2},
		{"character after continuation", "x = 1 \\ y", "unexpected character after line continuation character", 1},
		{"string hides brackets", "s = '('\nx = )", "unmatched ')'", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := LexicalChecker{}.Check(tt.source)
			require.NotNil(t, err)
			assert.Equal(t, tt.wantMsg, err.Msg)
			assert.Equal(t, tt.wantLine, err.Line)
		})
	}
}

func TestInterpreterChecker_FallsBackWithoutPython(t *testing.T) {
	checker := InterpreterChecker{Python: "definitely-not-a-python-binary"}

	assert.Nil(t, checker.Check(minimalScene))
	err := checker.Check("def f()\n    pass")
	require.NotNil(t, err)
	assert.Equal(t, "expected ':'", err.Msg)
}

func TestInterpreterChecker_RejectsWhatLexicalAccepts(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not on PATH")
	}

	const head = "from manim import *\n\nclass GenScene(Scene):\n    def construct(self):\n"
	tests := []struct {
		name string
		body string
	}{
		{"doubled operator", "        x = = 1\n"},
		{"missing comma between arguments", "        self.play(Create(c) Write(d))\n"},
		{"repeated keyword", "        return return\n"},
		{"def without name", "        def (self):\n            pass\n"},
		{"for without target", "        for in range(3):\n            pass\n"},
	}

	checker := InterpreterChecker{Python: "python3"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := head + tt.body
			require.Nil(t, LexicalChecker{}.Check(source))

			err := checker.Check(source)
			require.NotNil(t, err)
			assert.Equal(t, 5, err.Line)

			result := New(checker).Validate(source)
			assert.False(t, result.OK)
			assert.Contains(t, result.Error, "SyntaxError")
			assert.Contains(t, result.Error, "line 5")
		})
	}

	assert.Nil(t, checker.Check(fullScene))
}

func TestIndentWidth(t *testing.T) {
	assert.Equal(t, 0, indentWidth(""))
	assert.Equal(t, 4, indentWidth("    "))
	assert.Equal(t, 8, indentWidth("\t"))
	assert.Equal(t, 8, indentWidth("  \t"))
	assert.Equal(t, 10, indentWidth("\t  "))
}
