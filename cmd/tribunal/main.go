package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tribunal/internal/detect"
	"tribunal/internal/llm"
	"tribunal/internal/logging"
	"tribunal/internal/pipeline"
	"tribunal/internal/report"
	"tribunal/internal/rubric"
)

func main() {
	root := &cobra.Command{
		Use:   "tribunal",
		Short: "Evidence-based repository audits by a biased scorer panel",
	}

	root.AddCommand(newAuditCmd())
	root.AddCommand(newRubricCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type auditFlags struct {
	rubricPath  string
	docs        []string
	provider    string
	model       string
	workers     int
	taskTimeout time.Duration
	maxTokens   int
	format      string
	out         string
	logLevel    string
}

func newAuditCmd() *cobra.Command {
	flags := auditFlags{}

	cmd := &cobra.Command{
		Use:   "audit <path>",
		Short: "Collect evidence from a repository and score it against the rubric",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(cmd, args[0], flags)
		},
	}

	cmd.Flags().StringVar(&flags.rubricPath, "rubric", "", "rubric YAML file (default: built-in rubric)")
	cmd.Flags().StringSliceVar(&flags.docs, "docs", nil, "design documents to analyze, relative to the target")
	cmd.Flags().StringVar(&flags.provider, "provider", "anthropic", "LLM provider: anthropic, openai, google")
	cmd.Flags().StringVar(&flags.model, "model", "claude-sonnet-4-20250514", "model name for the provider")
	cmd.Flags().IntVar(&flags.workers, "workers", 4, "maximum concurrent tasks")
	cmd.Flags().DurationVar(&flags.taskTimeout, "task-timeout", 2*time.Minute, "per-task timeout (0 disables)")
	cmd.Flags().IntVar(&flags.maxTokens, "max-tokens", 2048, "maximum tokens per scorer response")
	cmd.Flags().StringVar(&flags.format, "format", "markdown", "output format: markdown, json")
	cmd.Flags().StringVar(&flags.out, "out", "", "write the report to a file instead of stdout")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	return cmd
}

func runAudit(cmd *cobra.Command, target string, flags auditFlags) error {
	log, err := logging.New(flags.logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	r, err := loadRubric(flags.rubricPath)
	if err != nil {
		return err
	}

	var format report.Format
	switch flags.format {
	case "markdown", "md":
		format = report.FormatMarkdown
	case "json":
		format = report.FormatJSON
	default:
		return fmt.Errorf("unknown format %q", flags.format)
	}

	var sink report.Sink
	if flags.out != "" {
		sink = report.FileSink{Path: flags.out, Format: format}
	} else {
		sink = report.WriterSink{W: cmd.OutOrStdout(), Format: format}
	}

	provider, err := llm.NewProvider(flags.provider, flags.model)
	if err != nil {
		return err
	}

	rep, _, err := pipeline.Run(cmd.Context(), pipeline.Config{
		Target:      detect.Target{Root: target, Docs: flags.docs},
		Rubric:      r,
		Provider:    provider,
		MaxTokens:   flags.maxTokens,
		Workers:     flags.workers,
		TaskTimeout: flags.taskTimeout,
		Sink:        sink,
		Log:         log,
	})
	if err != nil {
		return err
	}
	if flags.out != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "report written to %s (run %s)\n", flags.out, rep.RunID)
	}
	return nil
}

func newRubricCmd() *cobra.Command {
	rubricCmd := &cobra.Command{
		Use:   "rubric",
		Short: "Inspect the scoring rubric",
	}

	var rubricPath string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective rubric",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := loadRubric(rubricPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rubric: %s\n\n", r.Name)
			for _, c := range r.Criteria {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s  weight %.1f  %s\n", c.ID, c.Weight, c.Name)
				fmt.Fprintf(cmd.OutOrStdout(), "            sources: %v\n", c.Sources)
			}
			return nil
		},
	}
	show.Flags().StringVar(&rubricPath, "rubric", "", "rubric YAML file (default: built-in rubric)")

	rubricCmd.AddCommand(show)
	return rubricCmd
}

func loadRubric(path string) (rubric.Rubric, error) {
	if path == "" {
		return rubric.Default(), nil
	}
	return rubric.Load(path)
}
