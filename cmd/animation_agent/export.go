package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/animation-agent/internal/observability"
	"github.com/jonathan/animation-agent/internal/pipeline"
)

var exportTitle string

var exportCmd = &cobra.Command{
	Use:   "export <video> <video>...",
	Short: "Merge rendered videos into one",
	Long:  `Merge two or more local videos (paths, file:// URLs or /static/ URLs under the artifacts dir) in the given order.`,
	Args:  cobra.MinimumNArgs(2),
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportTitle, "title", "", "Title used in the merged file name")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	printer := observability.NewPrinter(cmd.OutOrStdout(), verbose)
	snap := a.orchestrator.Export(ctx, pipeline.ExportRequest{
		OwnerID: "local",
		Title:   exportTitle,
		Videos:  args,
	}, printer.PrintEvent)
	printer.PrintSnapshot(snap)

	return runOutcome(snap)
}
