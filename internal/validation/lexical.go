package validation

import (
	"fmt"
	"strings"
)

// SyntaxError describes where the source stopped parsing.
type SyntaxError struct {
	Msg  string
	Line int
	Col  int
	Text string
}

func (e *SyntaxError) Error() string {
	text := strings.TrimSpace(e.Text)
	if text == "" {
		return fmt.Sprintf("SyntaxError: %s at line %d", e.Msg, e.Line)
	}
	return fmt.Sprintf("SyntaxError: %s at line %d: %s", e.Msg, e.Line, text)
}

// LexicalChecker is a Go-native check of Python source. It tokenizes string
// literals, comments and brackets, tracks the indentation stack and verifies
// that compound statements end in a colon and are followed by a block. It
// catches the failure modes of truncated or sloppy generations without
// needing an interpreter.
type LexicalChecker struct{}

var blockKeywords = map[string]string{
	"class":   "class definition",
	"def":     "function definition",
	"if":      "'if' statement",
	"elif":    "'elif' statement",
	"else":    "'else' statement",
	"for":     "'for' statement",
	"while":   "'while' statement",
	"try":     "'try' statement",
	"except":  "'except' statement",
	"finally": "'finally' statement",
	"with":    "'with' statement",
}

type openBracket struct {
	ch   byte
	line int
	col  int
	text string
}

type lexState struct {
	lines []string

	brackets []openBracket
	indents  []int

	openString      string
	openStringLine  int
	openStringText  string
	lineEndsEscaped bool

	// current logical line
	startLine   int
	startText   string
	keyword     string
	colonAtZero bool
	lastSig     byte

	expectBlock   bool
	headerLine    int
	headerSubject string
}

// Check implements SyntaxChecker.
func (LexicalChecker) Check(source string) *SyntaxError {
	source = strings.ReplaceAll(source, "\r\n", "\n")
	st := &lexState{lines: strings.Split(source, "\n"), indents: []int{0}}

	for i, line := range st.lines {
		if err := st.scanLine(i+1, line); err != nil {
			return err
		}
	}
	return st.finish()
}

func (st *lexState) continuing() bool {
	return st.openString != "" || len(st.brackets) > 0 || st.lineEndsEscaped
}

func (st *lexState) scanLine(lineNo int, line string) *SyntaxError {
	j := 0
	if !st.continuing() {
		stripped := strings.TrimLeft(line, " \t\f")
		if stripped == "" || stripped[0] == '#' {
			return nil
		}
		if err := st.indent(lineNo, line, indentWidth(line[:len(line)-len(stripped)])); err != nil {
			return err
		}
		st.startLine = lineNo
		st.startText = line
		st.keyword = leadingIdentifier(stripped)
		if st.keyword == "async" {
			st.keyword = leadingIdentifier(strings.TrimLeft(stripped[len("async"):], " \t"))
		}
		st.colonAtZero = false
		st.lastSig = 0
		j = len(line) - len(stripped)
	}
	st.lineEndsEscaped = false

	if st.openString != "" {
		next, closed, escaped := scanString(line, 0, st.openString)
		if !closed {
			if len(st.openString) == 1 && !escaped {
				return &SyntaxError{
					Msg:  fmt.Sprintf("unterminated string literal (detected at line %d)", lineNo),
					Line: st.openStringLine, Text: st.openStringText,
				}
			}
			return nil
		}
		st.lastSig = st.openString[0]
		st.openString = ""
		j = next
	}

	for j < len(line) {
		c := line[j]
		switch {
		case c == '#':
			j = len(line)
		case c == '"' || c == '\'':
			delim := string(c)
			if strings.HasPrefix(line[j:], strings.Repeat(delim, 3)) {
				delim = strings.Repeat(delim, 3)
			}
			next, closed, escaped := scanString(line, j+len(delim), delim)
			if !closed {
				if len(delim) == 1 && !escaped {
					return &SyntaxError{
						Msg:  fmt.Sprintf("unterminated string literal (detected at line %d)", lineNo),
						Line: lineNo, Col: j + 1, Text: line,
					}
				}
				st.openString = delim
				st.openStringLine = lineNo
				st.openStringText = line
				return nil
			}
			st.lastSig = c
			j = next
		case c == '(' || c == '[' || c == '{':
			st.brackets = append(st.brackets, openBracket{ch: c, line: lineNo, col: j + 1, text: line})
			st.lastSig = c
			j++
		case c == ')' || c == ']' || c == '}':
			if len(st.brackets) == 0 {
				return &SyntaxError{Msg: fmt.Sprintf("unmatched '%c'", c), Line: lineNo, Col: j + 1, Text: line}
			}
			top := st.brackets[len(st.brackets)-1]
			if closerFor(top.ch) != c {
				msg := fmt.Sprintf("closing parenthesis '%c' does not match opening parenthesis '%c'", c, top.ch)
				if top.line != lineNo {
					msg += fmt.Sprintf(" on line %d", top.line)
				}
				return &SyntaxError{Msg: msg, Line: lineNo, Col: j + 1, Text: line}
			}
			st.brackets = st.brackets[:len(st.brackets)-1]
			st.lastSig = c
			j++
		case c == '\\':
			if strings.TrimSpace(line[j+1:]) == "" {
				st.lineEndsEscaped = true
				j = len(line)
				continue
			}
			return &SyntaxError{Msg: "unexpected character after line continuation character", Line: lineNo, Col: j + 1, Text: line}
		case c == ':':
			if len(st.brackets) == 0 {
				st.colonAtZero = true
			}
			st.lastSig = c
			j++
		case c == ' ' || c == '\t' || c == '\f':
			j++
		default:
			st.lastSig = c
			j++
		}
	}

	if !st.continuing() {
		return st.endLogicalLine()
	}
	return nil
}

func (st *lexState) endLogicalLine() *SyntaxError {
	subject, isBlock := blockKeywords[st.keyword]
	if isBlock && !st.colonAtZero {
		return &SyntaxError{Msg: "expected ':'", Line: st.startLine, Text: st.startText}
	}
	if st.lastSig == ':' && st.colonAtZero {
		st.expectBlock = true
		st.headerLine = st.startLine
		if !isBlock {
			subject = "statement"
		}
		st.headerSubject = subject
	}
	return nil
}

func (st *lexState) indent(lineNo int, line string, width int) *SyntaxError {
	top := st.indents[len(st.indents)-1]
	if st.expectBlock {
		st.expectBlock = false
		if width <= top {
			return st.missingBlock(lineNo, line)
		}
		st.indents = append(st.indents, width)
		return nil
	}
	if width > top {
		return &SyntaxError{Msg: "unexpected indent", Line: lineNo, Text: line}
	}
	for width < st.indents[len(st.indents)-1] {
		st.indents = st.indents[:len(st.indents)-1]
	}
	if width != st.indents[len(st.indents)-1] {
		return &SyntaxError{Msg: "unindent does not match any outer indentation level", Line: lineNo, Text: line}
	}
	return nil
}

func (st *lexState) missingBlock(lineNo int, line string) *SyntaxError {
	return &SyntaxError{
		Msg:  fmt.Sprintf("expected an indented block after %s on line %d", st.headerSubject, st.headerLine),
		Line: lineNo, Text: line,
	}
}

func (st *lexState) finish() *SyntaxError {
	last := len(st.lines)
	switch {
	case st.openString != "":
		msg := fmt.Sprintf("unterminated string literal (detected at line %d)", last)
		if len(st.openString) == 3 {
			msg = fmt.Sprintf("unterminated triple-quoted string literal (detected at line %d)", last)
		}
		return &SyntaxError{Msg: msg, Line: st.openStringLine, Text: st.openStringText}
	case len(st.brackets) > 0:
		top := st.brackets[len(st.brackets)-1]
		return &SyntaxError{Msg: fmt.Sprintf("'%c' was never closed", top.ch), Line: top.line, Col: top.col, Text: top.text}
	case st.lineEndsEscaped:
		return &SyntaxError{Msg: "unexpected EOF while parsing", Line: last}
	case st.expectBlock:
		return st.missingBlock(last, "")
	}
	return nil
}

// scanString looks for delim starting at from. escaped reports that the line
// ended in a backslash inside the literal.
func scanString(line string, from int, delim string) (next int, closed, escaped bool) {
	k := from
	for k < len(line) {
		if line[k] == '\\' {
			if k == len(line)-1 {
				return len(line), false, true
			}
			k += 2
			continue
		}
		if strings.HasPrefix(line[k:], delim) {
			return k + len(delim), true, false
		}
		k++
	}
	return len(line), false, false
}

func closerFor(open byte) byte {
	switch open {
	case '(':
		return ')'
	case '[':
		return ']'
	default:
		return '}'
	}
}

func indentWidth(ws string) int {
	width := 0
	for _, c := range ws {
		switch c {
		case '\t':
			width += 8 - width%8
		case ' ':
			width++
		}
	}
	return width
}

func leadingIdentifier(s string) string {
	end := 0
	for end < len(s) {
		c := s[end]
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (end > 0 && c >= '0' && c <= '9') {
			end++
			continue
		}
		break
	}
	return s[:end]
}
