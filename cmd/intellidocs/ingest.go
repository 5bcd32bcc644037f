package main

import (
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/reanm09/intellidocs/pkg/ingest"
	"github.com/reanm09/intellidocs/server"
)

var ingestUser int64

var ingestCmd = &cobra.Command{
	Use:   "ingest [pdf]",
	Short: "Extract, chunk and index a PDF",
	Long: `Registers the PDF as a collection of the given user and indexes it
synchronously. Pages without embedded text are OCR'd when enabled.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().Int64VarP(&ingestUser, "user", "u", 1, "owning user id")
	rootCmd.AddCommand(ingestCmd)
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("chunks"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// progressReporter draws one bar per ingestion stage.
type progressReporter struct {
	stage ingest.Stage
	bar   *progressbar.ProgressBar
}

func (p *progressReporter) report(stage ingest.Stage, done, total int) {
	if stage != p.stage {
		p.finish()
		p.stage = stage
		switch stage {
		case ingest.StageExtract:
			p.bar = getSpinner(" Extracting text...")
		case ingest.StageEmbed:
			p.bar = getProgressBar(total, " Embedding chunks")
		case ingest.StageIndex:
			p.bar = getSpinner(" Writing to vector index...")
		default:
			p.bar = nil
		}
	}
	if p.bar != nil && stage == ingest.StageEmbed {
		_ = p.bar.Set(done)
	}
}

func (p *progressReporter) finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
		fmt.Println()
		p.bar = nil
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	filename := server.SanitizeFilename(filepath.Base(path))
	if filename == "" {
		return fmt.Errorf("invalid filename %q", args[0])
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	progress := &progressReporter{}
	worker, err := a.newWorker(progress.report)
	if err != nil {
		return err
	}

	collection, err := a.registry.CreateCollection(ctx, ingestUser, filename, path)
	if err != nil {
		return err
	}

	color.Blue("Ingesting %s into %s", path, collection.Name())
	err = worker.Process(ctx, ingest.NewJob(*collection))
	progress.finish()
	if err != nil {
		color.Red("✗ Ingestion failed: %v", err)
		return err
	}

	color.Green("✓ %s is ready (collection id %d)", filename, collection.ID)
	return nil
}
