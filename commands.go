package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"doc-translator/internal/config"
	ledger "doc-translator/internal/errors"
	"doc-translator/internal/importer"
	"doc-translator/internal/layout"
	"doc-translator/internal/store"
	"doc-translator/internal/ui"
)

// ---- jobs ----

var (
	listStates   []string
	listFilename string
	listOffset   int
	listLimit    int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage translation jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := store.JobFilter{Filename: listFilename}
		for _, s := range listStates {
			state := layout.State(strings.ToLower(s))
			if !state.Valid() {
				return fmt.Errorf("unknown state %q", s)
			}
			filter.States = append(filter.States, state)
		}
		jobs, total, err := app.Service().List(context.Background(), filter, store.Pagination{Offset: listOffset, Limit: listLimit})
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(jobs))
		for _, j := range jobs {
			rows = append(rows, []string{
				j.ID, j.Filename, j.SourceLang() + "→" + j.TargetLanguage, string(j.State),
				fmt.Sprintf("%.0f%%", j.Progress), j.CreatedAt.Local().Format(time.DateTime),
			})
		}
		ui.Table([]string{"ID", "FILE", "LANG", "STATE", "PROGRESS", "CREATED"}, rows)
		ui.Message("%d of %d jobs", len(jobs), total)
		return nil
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := app.Service().Get(context.Background(), args[0])
		if err != nil {
			return err
		}
		pairs := [][2]string{
			{"ID", job.ID},
			{"File", job.Filename},
			{"Languages", job.SourceLang() + " → " + job.TargetLanguage},
			{"State", string(job.State)},
			{"Progress", fmt.Sprintf("%.1f%%", job.Progress)},
			{"Pages", fmt.Sprintf("%d/%d", job.CurrentPage, job.TotalPages)},
			{"File size", strconv.FormatInt(job.FileSize, 10)},
			{"Created", job.CreatedAt.Local().Format(time.DateTime)},
		}
		if job.StartedAt != nil {
			pairs = append(pairs, [2]string{"Started", job.StartedAt.Local().Format(time.DateTime)})
		}
		if job.CompletedAt != nil {
			pairs = append(pairs, [2]string{"Completed", job.CompletedAt.Local().Format(time.DateTime)})
		}
		if job.ProcessingTime > 0 {
			pairs = append(pairs, [2]string{"Processing time", job.ProcessingTime.Round(time.Millisecond).String()})
		}
		if job.OutputKey != "" {
			pairs = append(pairs, [2]string{"Output", job.OutputKey})
		}
		if job.ErrorMessage != "" {
			pairs = append(pairs, [2]string{"Error", job.ErrorMessage})
		}
		ui.KeyValues(pairs)
		if job.State == layout.StateCompleted {
			printQASummary(job.QASummary)
		}
		return nil
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job that has not finished",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := app.Service().Cancel(context.Background(), args[0])
		if err != nil {
			return err
		}
		ui.Success("Job %s %s", job.ID, job.State)
		return nil
	},
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Delete a job with its pages, segments and files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.Service().Delete(context.Background(), args[0]); err != nil {
			return err
		}
		ui.Success("Job %s deleted", args[0])
		return nil
	},
}

var (
	failuresStage  string
	failuresExport string
	failuresClear  bool
)

var jobsFailuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "List failed jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := app.Service()
		if failuresClear {
			if err := svc.ClearFailures(); err != nil {
				return err
			}
			ui.Success("Failure records cleared")
			return nil
		}
		records := svc.Failures(ledger.ErrorStage(failuresStage))
		if failuresExport != "" {
			if err := svc.ExportFailures(failuresExport); err != nil {
				return err
			}
			ui.Success("Wrote %d job IDs to %s", len(svc.Failures("")), failuresExport)
		}
		if len(records) == 0 {
			ui.Success("No failed jobs")
			return nil
		}
		rows := make([][]string, 0, len(records))
		for _, r := range records {
			rows = append(rows, []string{
				r.JobID, r.Filename, ledger.GetStageDisplayName(r.Stage), r.Code, strconv.FormatBool(r.CanRetry),
				r.Timestamp.Local().Format(time.DateTime), r.ErrorMsg,
			})
		}
		ui.Table([]string{"JOB", "FILE", "STAGE", "CODE", "RETRY", "TIME", "ERROR"}, rows)
		return nil
	},
}

// ---- segments ----

var segmentsFlagged bool

var segmentsCmd = &cobra.Command{
	Use:   "segments",
	Short: "Inspect and post-edit segments",
}

var segmentsListCmd = &cobra.Command{
	Use:   "list <job-id>",
	Short: "List a job's segments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		segs, err := app.Service().Segments(context.Background(), args[0])
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(segs))
		for _, s := range segs {
			if segmentsFlagged && len(s.QAFlags) == 0 {
				continue
			}
			method, text := "-", ""
			if s.Translation != nil {
				method = string(s.Translation.Method.Kind())
				text = s.Translation.Text
			}
			if s.PostEditedText != nil {
				method += "+edit"
				text = *s.PostEditedText
			}
			rows = append(rows, []string{
				strconv.Itoa(s.PageNumber), strconv.Itoa(s.Index), method,
				truncate(s.SourceText, 40), truncate(text, 40), strings.Join(s.QAFlags.Strings(), ","),
			})
		}
		ui.Table([]string{"PAGE", "IDX", "METHOD", "SOURCE", "TRANSLATION", "FLAGS"}, rows)
		return nil
	},
}

var segmentsEditCmd = &cobra.Command{
	Use:   "edit <job-id> <page> <index> <text>",
	Short: "Override a segment's translation (empty text clears it)",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		page, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("page: %w", err)
		}
		index, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("index: %w", err)
		}
		seg, err := app.Service().PostEdit(context.Background(), args[0], page, index, args[3])
		if err != nil {
			return err
		}
		if seg.PostEditedText == nil {
			ui.Success("Post-edit cleared for %s", seg.Key())
		} else {
			ui.Success("Segment %s updated; run rebuild to refresh the output", seg.Key())
		}
		return nil
	},
}

// ---- rebuild ----

var rebuildOutput string

var rebuildCmd = &cobra.Command{
	Use:   "rebuild <job-id>",
	Short: "Render a completed job's output again, applying post-edits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		spin := ui.StartSpinner("rebuilding " + args[0])
		key, err := app.Service().Rebuild(ctx, args[0])
		spin.Stop()
		if err != nil {
			return err
		}
		ui.Success("Output rebuilt (%s)", key)
		if rebuildOutput != "" {
			if err := app.SaveOutput(ctx, args[0], rebuildOutput); err != nil {
				return err
			}
			ui.Message("  output: %s", rebuildOutput)
		}
		return nil
	},
}

// ---- translation memory and glossary ----

var importDefaults importer.Defaults

var tmCmd = &cobra.Command{
	Use:   "tm",
	Short: "Manage the translation memory",
}

var tmImportCmd = &cobra.Command{
	Use:   "import <file.yaml|file.json>",
	Short: "Import translation memory entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := app.ImportTM(context.Background(), args[0], importDefaults)
		if err != nil {
			return err
		}
		ui.Success("Imported %d TM entries", n)
		return nil
	},
}

var tmListCmd = &cobra.Command{
	Use:   "list",
	Short: "List translation memory entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := app.runtime.Store.ListEntries(context.Background())
		if err != nil {
			return err
		}
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].MatchCount > entries[j].MatchCount })
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{
				e.SourceLanguage + "→" + e.TargetLanguage, truncate(e.SourceText, 40), truncate(e.TargetText, 40),
				fmt.Sprintf("%.2f", e.QualityScore), strconv.Itoa(e.MatchCount),
			})
		}
		ui.Table([]string{"LANG", "SOURCE", "TARGET", "QUALITY", "USED"}, rows)
		return nil
	},
}

var glossaryCmd = &cobra.Command{
	Use:   "glossary",
	Short: "Manage the glossary",
}

var glossaryImportCmd = &cobra.Command{
	Use:   "import <file.yaml|file.json>",
	Short: "Import glossary entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := app.ImportGlossary(context.Background(), args[0], importDefaults)
		if err != nil {
			return err
		}
		ui.Success("Imported %d glossary entries", n)
		return nil
	},
}

var glossaryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List glossary entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := app.runtime.Store.ListGlossary(context.Background())
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{
				e.SourceLanguage + "→" + e.TargetLanguage, e.SourceTerm, e.TargetTerm,
				strconv.Itoa(e.Priority), strconv.FormatBool(e.ExactMatchOnly), strconv.Itoa(e.UsageCount),
			})
		}
		ui.Table([]string{"LANG", "TERM", "TRANSLATION", "PRIORITY", "EXACT", "USED"}, rows)
		return nil
	},
}

func init() {
	jobsListCmd.Flags().StringSliceVar(&listStates, "state", nil, "only jobs in these states")
	jobsListCmd.Flags().StringVar(&listFilename, "file", "", "only jobs for this file name")
	jobsListCmd.Flags().IntVar(&listOffset, "offset", 0, "skip this many jobs")
	jobsListCmd.Flags().IntVar(&listLimit, "limit", 20, "show at most this many jobs (0 = all)")
	jobsFailuresCmd.Flags().StringVar(&failuresStage, "stage", "", "only failures of this stage (extracting, translating, ...)")
	jobsFailuresCmd.Flags().StringVar(&failuresExport, "export", "", "write all failed job IDs to this file")
	jobsFailuresCmd.Flags().BoolVar(&failuresClear, "clear", false, "forget all recorded failures")
	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsCancelCmd, jobsDeleteCmd, jobsFailuresCmd)

	segmentsListCmd.Flags().BoolVar(&segmentsFlagged, "flagged", false, "only segments with QA flags")
	segmentsCmd.AddCommand(segmentsListCmd, segmentsEditCmd)

	rebuildCmd.Flags().StringVarP(&rebuildOutput, "output", "o", "", "also write the output to this file")

	for _, c := range []*cobra.Command{tmImportCmd, glossaryImportCmd} {
		c.Flags().StringVar(&importDefaults.SourceLanguage, "from", "", "source language for entries without one")
		c.Flags().StringVar(&importDefaults.TargetLanguage, "to", "", "target language for entries without one")
	}
	tmCmd.AddCommand(tmImportCmd, tmListCmd)
	glossaryCmd.AddCommand(glossaryImportCmd, glossaryListCmd)

	rootCmd.AddCommand(jobsCmd, segmentsCmd, rebuildCmd, tmCmd, glossaryCmd)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// ---- config ----

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or create the configuration file",
	// Config commands only need the file, not the store or the workers.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.Init(noColor)
		a, err := NewAppWithConfig(cfgFile)
		if err != nil {
			return err
		}
		configApp = a
		return nil
	},
}

// configApp is set instead of app for config commands.
var configApp *App

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with default values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := configApp.config
		if _, err := os.Stat(mgr.GetConfigPath()); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", mgr.GetConfigPath())
		}
		mgr.SetConfig(config.DefaultConfig())
		if err := mgr.Save(); err != nil {
			return err
		}
		ui.Success("Wrote %s", mgr.GetConfigPath())
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := configApp.config
		if err := mgr.Load(); err != nil {
			ui.Warning("%v; showing defaults", err)
		}
		cfg := mgr.GetConfig()
		apiKey := "(not set)"
		if k := mgr.GetAPIKey(); k != "" {
			apiKey = "set"
		}
		redisURL := cfg.Storage.RedisURL
		if redisURL == "" {
			redisURL = "(disabled)"
		}
		ui.KeyValues([][2]string{
			{"Config file", mgr.GetConfigPath()},
			{"Provider", cfg.Translation.Provider},
			{"Model", mgr.GetModel()},
			{"Base URL", mgr.GetBaseURL()},
			{"API key", apiKey},
			{"TM threshold", fmt.Sprintf("%.2f", cfg.Translation.TMThreshold)},
			{"Workers", strconv.Itoa(cfg.Pipeline.Workers)},
			{"Segment concurrency", strconv.Itoa(mgr.GetSegmentConcurrency())},
			{"Storage", cfg.Storage.Driver},
			{"Data dir", mgr.GetDataDir()},
			{"Redis", redisURL},
			{"Log level", cfg.Log.Level},
		})
		return mgr.Validate()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
