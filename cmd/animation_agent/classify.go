package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/animation-agent/internal/diagnose"
	"github.com/jonathan/animation-agent/internal/observability"
)

var classifyJSON bool

var classifyCmd = &cobra.Command{
	Use:   "classify <error text>...",
	Short: "Classify a runtime error",
	Long: `Classify runtime failure text from a scene subprocess and report whether an
automatic fix would be attempted. Pass "-" to read the text from stdin.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().BoolVar(&classifyJSON, "json", false, "Print the classification as JSON")
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	if len(args) == 1 && args[0] == "-" {
		raw, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		text = diagnose.ParseRuntimeError(string(raw))
	}

	class := diagnose.Classify(text)
	out := cmd.OutOrStdout()
	if classifyJSON {
		return json.NewEncoder(out).Encode(class)
	}
	observability.NewPrinter(out, verbose).PrintClassification(class)
	return nil
}
