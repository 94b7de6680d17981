// Command doc-translator translates the text of PDF documents in place,
// keeping the page layout. Jobs, translation memory and glossary live in
// the configured store so later commands can inspect and edit them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"doc-translator/internal/layout"
	"doc-translator/internal/pipeline"
	"doc-translator/internal/ui"
)

var (
	cfgFile string
	verbose bool
	noColor bool

	app *App
)

var rootCmd = &cobra.Command{
	Use:   "doc-translator",
	Short: "Translate PDF documents while keeping their layout",
	Long: `doc-translator extracts the text of a PDF page by page, translates every
segment through the glossary, the translation memory and a machine translation
provider, and writes a new PDF with the translated text laid over the original
page graphics.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.Init(noColor)
		a := NewApp()
		if cfgFile != "" {
			var err error
			if a, err = NewAppWithConfig(cfgFile); err != nil {
				return err
			}
		}
		if err := a.startup(context.Background(), verbose); err != nil {
			return err
		}
		app = a
		return nil
	},
}

var (
	translateFrom   string
	translateTo     string
	translateOutput string
)

var translateCmd = &cobra.Command{
	Use:   "translate <file.pdf>",
	Short: "Translate a PDF document",
	Args:  cobra.ExactArgs(1),
	RunE:  runTranslate,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default ~/.config/doc-translator/doc-translator.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	translateCmd.Flags().StringVarP(&translateFrom, "from", "f", "auto", "source language")
	translateCmd.Flags().StringVarP(&translateTo, "to", "t", "", "target language (required)")
	translateCmd.Flags().StringVarP(&translateOutput, "output", "o", "", "output file (default <name>.<lang>.pdf)")
	translateCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(translateCmd)
}

func runTranslate(cmd *cobra.Command, args []string) error {
	path := args[0]
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("input file: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ui.Section("Translating " + path)
	bar := ui.NewProgressBar("pending")
	app.SetStatusCallback(func(s pipeline.Status) {
		label := string(s.State)
		if s.TotalPages > 0 && s.CurrentPage > 0 {
			label = fmt.Sprintf("%s %d/%d", s.State, s.CurrentPage, s.TotalPages)
		}
		bar.Update(s.Progress, label)
	})

	job, err := app.TranslateFile(ctx, path, translateFrom, translateTo)
	app.SetStatusCallback(nil)
	if err != nil {
		return err
	}

	switch job.State {
	case layout.StateCompleted:
		bar.Finish()
		out := translateOutput
		if out == "" {
			out = defaultOutputPath(path, translateTo)
		}
		if err := app.SaveOutput(context.Background(), job.ID, out); err != nil {
			return err
		}
		ui.Success("Translated %d pages in %s", job.TotalPages, job.ProcessingTime.Round(time.Millisecond))
		ui.Message("  job:    %s", job.ID)
		ui.Message("  output: %s", out)
		printQASummary(job.QASummary)
		return nil
	case layout.StateCancelled:
		ui.Newline()
		ui.Warning("Job %s cancelled after page %d of %d (%.0f%%)", job.ID, job.CurrentPage, job.TotalPages, app.GetStatus().Progress)
		return nil
	default:
		ui.Newline()
		return fmt.Errorf("job %s %s: %s", job.ID, job.State, job.ErrorMessage)
	}
}

func printQASummary(summary map[layout.Flag]int) {
	if len(summary) == 0 {
		ui.Success("No QA flags")
		return
	}
	ui.Warning("QA flags:")
	for _, flag := range []layout.Flag{
		layout.FlagEmptyTranslation,
		layout.FlagLengthExplosion,
		layout.FlagUntranslatedPlaceholder,
		layout.FlagLowConfidence,
		layout.FlagTranslationFailed,
		layout.FlagBackgroundIsolationFailed,
	} {
		if n := summary[flag]; n > 0 {
			ui.Message("  %-28s %d", flag, n)
		}
	}
}

func main() {
	err := rootCmd.Execute()
	if app != nil {
		app.shutdown()
	}
	if err != nil {
		ui.Error("%v", err)
		os.Exit(1)
	}
}
