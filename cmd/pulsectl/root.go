package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/review-pulse/backend/internal/bootstrap"
	"github.com/review-pulse/backend/internal/evaluation"
	"github.com/review-pulse/backend/internal/report"
	"github.com/review-pulse/backend/pkg/config"
	"github.com/review-pulse/backend/pkg/logger"
)

type options struct {
	configPath string
	verbose    bool
	timeout    time.Duration

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "pulsectl",
		Short: "Classify app reviews into themes and build weekly reports",
		Long: `pulsectl runs the review pipeline without the API server.

Reviews are validated, filtered, classified by the configured LLM provider
and counted per week. Configuration is read from config.yaml or the file
given with --config, and REVIEW_PULSE_* environment variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(opts.configPath)
			if err != nil {
				return err
			}
			level := cfg.Logging.Level
			if opts.verbose {
				level = "debug"
			}
			if err := logger.Init(level, "console", "stderr"); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			opts.cfg = cfg
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default: ./config.yaml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Minute, "Overall run timeout")

	root.AddCommand(newClassifyCmd(opts))
	root.AddCommand(newThemesCmd(opts))
	root.AddCommand(newEvaluateCmd(opts))
	return root
}

type classifyFlags struct {
	input      string
	reportPath string
	logPath    string
	provider   string
	noStore    bool
}

func newClassifyCmd(opts *options) *cobra.Command {
	flags := &classifyFlags{}

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify reviews from a JSON file or a directory of week_*.json files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(cmd, opts, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.input, "input", "i", "", "Review file or directory (required)")
	cmd.Flags().StringVar(&flags.reportPath, "report", report.AggregationFile, "Aggregation report output path")
	cmd.Flags().StringVar(&flags.logPath, "log", report.ClassificationFile, "Classification log output path")
	cmd.Flags().StringVar(&flags.provider, "provider", "", "Override the LLM provider (openai, anthropic, gemini, stub)")
	cmd.Flags().BoolVar(&flags.noStore, "no-store", false, "Do not persist the run to SQLite")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runClassify(cmd *cobra.Command, opts *options, flags *classifyFlags) error {
	cfg := *opts.cfg
	if flags.provider != "" {
		cfg.LLM.Provider = flags.provider
	}
	if flags.noStore {
		cfg.SQLite.Enabled = false
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	components, err := bootstrap.Build(ctx, &cfg)
	if err != nil {
		return err
	}
	defer components.Close()

	raws, err := components.Processor.LoadPath(flags.input)
	if err != nil {
		return err
	}

	result, err := components.Engine.Run(ctx, raws)
	if err != nil {
		return err
	}

	if err := report.WriteAggregation(flags.reportPath, result.Aggregation); err != nil {
		return err
	}
	if err := report.WriteClassificationLog(flags.logPath, result.Log); err != nil {
		return err
	}

	logger.Debug("Classify command finished", zap.String("run_id", result.ID))

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s\n", result.ID)
	fmt.Fprintf(out, "  reviews: %d loaded, %d rejected, %d duplicates, %d dropped by guardrail\n",
		result.Validation.Total, result.Validation.Rejected, result.Validation.Duplicates, result.DroppedCount)
	fmt.Fprintf(out, "  classified: %d\n", len(result.Log))
	for _, top := range result.Aggregation.TopThemes {
		fmt.Fprintf(out, "  %-28s %d\n", top.ThemeID, top.Count)
	}
	fmt.Fprintf(out, "Report written to %s\nLog written to %s\n", flags.reportPath, flags.logPath)
	return nil
}

func newThemesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "themes",
		Short: "List the configured themes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tax, err := bootstrap.LoadTaxonomy(opts.cfg.Taxonomy)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tDEFAULT\tDESCRIPTION")
			def := tax.DefaultTheme().ID
			for _, theme := range tax.ListThemes() {
				marker := ""
				if theme.ID == def {
					marker = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", theme.ID, theme.Name, marker, theme.Description)
			}
			return w.Flush()
		},
	}
}

func newEvaluateCmd(opts *options) *cobra.Command {
	var datasetPath, provider string

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score the classifier against a labeled review dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *opts.cfg
			cfg.SQLite.Enabled = false
			if provider != "" {
				cfg.LLM.Provider = provider
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			dataset, err := evaluation.LoadDataset(datasetPath)
			if err != nil {
				return err
			}

			components, err := bootstrap.Build(ctx, &cfg)
			if err != nil {
				return err
			}
			defer components.Close()

			scores, err := evaluation.NewEvaluator(components.Classifier, components.Taxonomy).Run(ctx, dataset)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), evaluation.GenerateReport(scores))
			return nil
		},
	}

	cmd.Flags().StringVarP(&datasetPath, "dataset", "d", "", "Labeled dataset JSON file (required)")
	cmd.Flags().StringVar(&provider, "provider", "", "Override the LLM provider (openai, anthropic, gemini, stub)")
	_ = cmd.MarkFlagRequired("dataset")
	return cmd
}
