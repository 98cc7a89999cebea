package validation

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"
)

// parseOnlyScript parses stdin with the ast module. The scene code is never
// imported or executed.
const parseOnlyScript = `import ast, json, sys
src = sys.stdin.read()
try:
    ast.parse(src)
except SyntaxError as e:
    print(json.dumps({"msg": e.msg, "lineno": e.lineno or 0, "offset": e.offset or 0, "text": e.text or ""}))
    sys.exit(1)
`

// DefaultInterpreterTimeout bounds a single parse.
const DefaultInterpreterTimeout = 10 * time.Second

// InterpreterChecker delegates the syntax check to a Python interpreter's
// parser. When the interpreter is missing or misbehaves it falls back to
// Fallback (the LexicalChecker when nil).
type InterpreterChecker struct {
	Python   string
	Timeout  time.Duration
	Fallback SyntaxChecker
}

type interpreterReport struct {
	Msg    string `json:"msg"`
	Lineno int    `json:"lineno"`
	Offset int    `json:"offset"`
	Text   string `json:"text"`
}

// Check implements SyntaxChecker.
func (c InterpreterChecker) Check(source string) *SyntaxError {
	fallback := c.Fallback
	if fallback == nil {
		fallback = LexicalChecker{}
	}

	python := c.Python
	if python == "" {
		python = "python3"
	}
	path, err := exec.LookPath(python)
	if err != nil {
		return fallback.Check(source)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultInterpreterTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, "-I", "-c", parseOnlyScript)
	cmd.Stdin = strings.NewReader(source)
	var stdout strings.Builder
	cmd.Stdout = &stdout

	err = cmd.Run()
	if err == nil {
		return nil
	}

	var report interpreterReport
	if jsonErr := json.Unmarshal([]byte(strings.TrimSpace(stdout.String())), &report); jsonErr != nil || report.Msg == "" {
		return fallback.Check(source)
	}
	return &SyntaxError{Msg: report.Msg, Line: report.Lineno, Col: report.Offset, Text: report.Text}
}
