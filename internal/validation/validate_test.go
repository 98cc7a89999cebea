package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScene = "class GenScene(Scene):\n    def construct(self):\n        pass"

const fullScene = `from manim import *

class GenScene(Scene):
    def construct(self):
        title = Text("Quarterly revenue", font_size=36)
        bars = VGroup(*[
            Rectangle(width=0.5, height=h) for h in [1, 2, 3]
        ])
        if bars:
            self.play(Write(title))
        else:
            pass
        self.play(Create(bars), run_time=2)
        self.wait(1)
`

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		source    string
		wantOK    bool
		wantError string
	}{
		{name: "minimal scene", source: minimalScene, wantOK: true},
		{name: "full scene", source: fullScene, wantOK: true},
		{name: "empty", source: "", wantError: "Empty code."},
		{name: "whitespace only", source: " \n\t ", wantError: "Empty code."},
		{
			name:      "missing class",
			source:    "from manim import *\nclass Other(Scene):\n    def construct(self):\n        pass",
			wantError: "Missing 'class GenScene' definition.",
		},
		{
			name:      "wrong base class",
			source:    "class GenScene(MovingCameraScene):\n    def construct(self):\n        pass",
			wantError: "Expected 'class GenScene(Scene):' with proper parentheses.",
		},
		{
			name:      "missing parentheses",
			source:    "class GenScene:\n    def construct(self):\n        pass",
			wantError: "Expected 'class GenScene(Scene):' with proper parentheses.",
		},
		{
			name:      "missing construct",
			source:    "class GenScene(Scene):\n    def build(self):\n        pass",
			wantError: "Missing 'def construct(self):' method in GenScene.",
		},
		{
			name:      "construct with extra args",
			source:    "class GenScene(Scene):\n    def construct(self, x):\n        pass",
			wantError: "Missing 'def construct(self):' method in GenScene.",
		},
		{
			name:      "unclosed bracket",
			source:    "class GenScene(Scene):\n    def construct(self):\n        self.play(Create(Circle())",
			wantError: "Bracket balance error: Unclosed opening bracket '('",
		},
		{
			name:      "unmatched closing bracket",
			source:    "class GenScene(Scene):\n    def construct(self):\n        x = 1)",
			wantError: "Bracket balance error: Unmatched closing bracket ')'",
		},
		{
			name:      "mismatched brackets",
			source:    "class GenScene(Scene):\n    def construct(self):\n        x = [1, 2)",
			wantError: "Bracket balance error: Mismatched brackets: '['",
		},
		{
			name:      "unterminated string",
			source:    "class GenScene(Scene):\n    def construct(self):\n        t = Text(\"oops)\n",
			wantError: "SyntaxError: unterminated string literal (detected at line 3) at line 3",
		},
		{
			name:      "syntax error reports line and text",
			source:    "class GenScene(Scene):\n    def construct(self):\n        if True\n            pass",
			wantError: "SyntaxError: expected ':' at line 3: if True",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Validate(tt.source)
			assert.Equal(t, tt.wantOK, got.OK)
			if tt.wantOK {
				assert.Empty(t, got.Error)
				return
			}
			assert.Contains(t, got.Error, tt.wantError)
		})
	}
}

func TestValidate_MissingDeclarationMentionsGenScene(t *testing.T) {
	sources := []string{
		"print('hello')",
		"class Scene1(Scene):\n    def construct(self):\n        pass",
		"def construct(self):\n    pass",
	}
	for _, src := range sources {
		got := Validate(src)
		assert.False(t, got.OK)
		assert.Contains(t, got.Error, "GenScene")
	}
}

func TestValidate_Idempotent(t *testing.T) {
	inputs := []string{minimalScene, fullScene, "", "class GenScene(Scene):\n    def construct(self):\n        x = (", "garbage"}
	for _, in := range inputs {
		assert.Equal(t, Validate(in), Validate(in))
	}
}

func TestValidate_UsesInjectedChecker(t *testing.T) {
	v := New(stubChecker{err: &SyntaxError{Msg: "invalid syntax", Line: 2, Text: "  bad  "}})

	got := v.Validate(minimalScene)

	require.False(t, got.OK)
	assert.Equal(t, "SyntaxError: invalid syntax at line 2: bad", got.Error)
	assert.Equal(t, "bad", got.Details)
}

func TestValidate_StructuralChecksRunBeforeSyntax(t *testing.T) {
	checker := &countingChecker{}
	v := New(checker)

	v.Validate("")
	v.Validate("class GenScene(Scene):\n    def construct(self):\n        x = (")
	assert.Equal(t, 0, checker.calls)

	v.Validate(minimalScene)
	assert.Equal(t, 1, checker.calls)
}

func TestCheckBrackets(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"f(a[1], {b: c})", ""},
		{"(", "Unclosed opening bracket '(' at index 0"},
		{"a)", "Unmatched closing bracket ')' at index 1"},
		{"(]", "Mismatched brackets: '(' at index 0 vs ']' at index 1"},
		{"{[(", "Unclosed opening bracket '(' at index 2"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, checkBrackets(tt.in))
		})
	}
}

type stubChecker struct {
	err *SyntaxError
}

func (s stubChecker) Check(string) *SyntaxError { return s.err }

type countingChecker struct {
	calls int
}

func (c *countingChecker) Check(string) *SyntaxError {
	c.calls++
	return nil
}

func TestSyntaxError_Format(t *testing.T) {
	e := &SyntaxError{Msg: "unexpected indent", Line: 4}
	assert.Equal(t, "SyntaxError: unexpected indent at line 4", e.Error())
	assert.True(t, strings.HasPrefix((&SyntaxError{Msg: "x", Line: 1, Text: "y"}).Error(), "SyntaxError: x"))
}
