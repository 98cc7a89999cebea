// Package validation statically checks generated Manim scene source without
// executing it.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// EntryClass and EntryMethod form the structural contract the renderer needs.
const (
	EntryClass  = "GenScene"
	EntryBase   = "Scene"
	EntryMethod = "construct"
)

var (
	classRe     = regexp.MustCompile(`(?m)^\s*class\s+GenScene\s*\(\s*Scene\s*\)\s*:`)
	constructRe = regexp.MustCompile(`(?m)^\s*def\s+construct\s*\(\s*self\s*\)\s*:`)
)

// Result is the outcome of a validation pass. Error is empty when OK.
type Result struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

func fail(msg string) Result {
	return Result{OK: false, Error: msg}
}

// SyntaxChecker performs the full syntax check that runs after the cheap
// structural checks pass. It returns nil when the source parses.
type SyntaxChecker interface {
	Check(source string) *SyntaxError
}

// Validator runs the layered checks: emptiness, entry declaration, bracket
// balance, then full syntax.
type Validator struct {
	syntax SyntaxChecker
}

// New creates a Validator. A nil checker selects the built-in LexicalChecker.
func New(checker SyntaxChecker) *Validator {
	if checker == nil {
		checker = LexicalChecker{}
	}
	return &Validator{syntax: checker}
}

var defaultValidator = New(nil)

// Validate checks source with the built-in syntax checker.
func Validate(source string) Result {
	return defaultValidator.Validate(source)
}

// Validate checks source. It is a pure function of its input.
func (v *Validator) Validate(source string) Result {
	if strings.TrimSpace(source) == "" {
		return fail("Empty code.")
	}

	if !strings.Contains(source, "class "+EntryClass) {
		return fail("Missing 'class GenScene' definition.")
	}
	if !classRe.MatchString(source) {
		return fail("Expected 'class GenScene(Scene):' with proper parentheses.")
	}
	if !strings.Contains(source, "def "+EntryMethod) || !constructRe.MatchString(source) {
		return fail("Missing 'def construct(self):' method in GenScene.")
	}

	if msg := checkBrackets(source); msg != "" {
		return fail(fmt.Sprintf("Bracket balance error: %s", msg))
	}

	if serr := v.syntax.Check(source); serr != nil {
		return Result{OK: false, Error: serr.Error(), Details: strings.TrimSpace(serr.Text)}
	}

	return Result{OK: true}
}

// checkBrackets is a naive stack scan over (), [] and {}. It does not skip
// string literals; the syntax checker handles those precisely.
func checkBrackets(source string) string {
	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}
	type opened struct {
		ch  rune
		idx int
	}
	var stack []opened

	for i, ch := range source {
		switch ch {
		case '(', '[', '{':
			stack = append(stack, opened{ch, i})
		case ')', ']', '}':
			if len(stack) == 0 {
				return fmt.Sprintf("Unmatched closing bracket '%c' at index %d", ch, i)
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if pairs[ch] != top.ch {
				return fmt.Sprintf("Mismatched brackets: '%c' at index %d vs '%c' at index %d", top.ch, top.idx, ch, i)
			}
		}
	}
	if len(stack) > 0 {
		top := stack[len(stack)-1]
		return fmt.Sprintf("Unclosed opening bracket '%c' at index %d", top.ch, top.idx)
	}
	return ""
}
