package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/animation-agent/internal/chartspec"
	"github.com/jonathan/animation-agent/internal/observability"
	"github.com/jonathan/animation-agent/internal/pipeline"
	"github.com/jonathan/animation-agent/internal/registry"
	"github.com/jonathan/animation-agent/internal/types"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run the generate pipeline locally",
	Long: `Generate scene code for a request (or use the Manim code given in the message),
preview it, repair runtime failures when allowed and render the final video.
Ctrl-C cancels the run and stops its subprocesses.`,
	RunE: runGenerate,
}

var (
	generateMessage   string
	generateCodeFile  string
	generateDataset   string
	generateChartSpec string
	generateAspect    string
	generateQuality   string
	generateProject   string
	generateNoFix     bool
)

func init() {
	generateCmd.Flags().StringVarP(&generateMessage, "message", "m", "", "Animation request or inline Manim code")
	generateCmd.Flags().StringVar(&generateCodeFile, "code", "", "Path to a scene file used as the message")
	generateCmd.Flags().StringVar(&generateDataset, "dataset", "", "Path to a CSV dataset")
	generateCmd.Flags().StringVar(&generateChartSpec, "chart-spec", "", "Path to a chart spec JSON file")
	generateCmd.Flags().StringVar(&generateAspect, "aspect", "", "Aspect ratio: 16:9, 9:16 or 1:1")
	generateCmd.Flags().StringVar(&generateQuality, "quality", "", "Render quality: low, medium or high")
	generateCmd.Flags().StringVar(&generateProject, "project", "", "Project name used in output file names")
	generateCmd.Flags().BoolVar(&generateNoFix, "no-fix", false, "Disable automatic code repair")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	message := generateMessage
	if generateCodeFile != "" {
		content, err := os.ReadFile(generateCodeFile)
		if err != nil {
			return fmt.Errorf("failed to read scene file: %w", err)
		}
		message = string(content)
	}

	allowFix := !generateNoFix
	body := types.GenerateRequest{
		Message:     message,
		DatasetPath: generateDataset,
		AspectRatio: generateAspect,
		Quality:     generateQuality,
		AllowFix:    &allowFix,
		Project:     generateProject,
	}
	if generateChartSpec != "" {
		raw, err := os.ReadFile(generateChartSpec)
		if err != nil {
			return fmt.Errorf("failed to read chart spec: %w", err)
		}
		body.ChartSpec = json.RawMessage(raw)
	}
	if err := body.Validate(); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}

	var spec *chartspec.Spec
	if len(body.ChartSpec) > 0 {
		parsed, err := chartspec.Parse(body.ChartSpec)
		if err != nil {
			return err
		}
		spec = &parsed
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	printer := observability.NewPrinter(cmd.OutOrStdout(), verbose)
	snap := a.orchestrator.Generate(ctx, pipeline.GenerateRequest{
		Message:     strings.TrimSpace(body.Message),
		OwnerID:     "local",
		DatasetPath: body.DatasetPath,
		ChartSpec:   spec,
		AspectRatio: body.AspectRatio,
		Quality:     body.Quality,
		AllowFix:    body.FixAllowed(),
		Project:     body.Project,
	}, printer.PrintEvent)
	printer.PrintSnapshot(snap)

	return runOutcome(snap)
}

// runOutcome turns a run that did not complete into a non-zero exit.
func runOutcome(snap registry.Snapshot) error {
	if snap.State == registry.StateCompleted {
		return nil
	}
	return fmt.Errorf("run %s finished %s: %s", snap.RunID, snap.State, snap.Message)
}
