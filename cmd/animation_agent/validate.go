package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/animation-agent/internal/observability"
	"github.com/jonathan/animation-agent/internal/validation"
)

var errValidationFailed = errors.New("validation failed")

var (
	validatePython  string
	validateTimeout time.Duration
	validateJSON    bool
)

var validateCmd = &cobra.Command{
	Use:   "validate <scene.py>",
	Short: "Statically validate a scene file",
	Long: `Check a scene file for the GenScene entry class, the construct method,
bracket balance and syntax without executing it. Exits 1 when the file is invalid.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validatePython, "python", "python3", "Python interpreter for the syntax check (built-in checker when unavailable)")
	validateCmd.Flags().DurationVar(&validateTimeout, "timeout", validation.DefaultInterpreterTimeout, "Interpreter check timeout")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Print the result as JSON")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := args[0]
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read scene file: %w", err)
	}

	checker := validation.InterpreterChecker{Python: validatePython, Timeout: validateTimeout, Fallback: validation.LexicalChecker{}}
	result := validation.New(checker).Validate(string(content))

	out := cmd.OutOrStdout()
	if validateJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
	} else {
		observability.NewPrinter(out, verbose).PrintValidation(path, result)
	}

	if !result.OK {
		return errValidationFailed
	}
	return nil
}
