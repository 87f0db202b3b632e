// Package cli provides the transcript-rag commands.
package cli

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"transcriptrag/internal/config"
	"transcriptrag/internal/logger"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	topK       int
}

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "transcript-rag",
		Short: "Retrieval over a directory of transcripts",
		Long: `transcript-rag indexes a directory of plain-text transcripts into a
vector store and answers questions with the most relevant passages.

The index is built once; run 'transcript-rag build --force' after the
transcripts change.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to YAML config (default ./config.yaml or ~/.config/transcript-rag/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	cmd.PersistentFlags().IntVarP(&opts.topK, "top-k", "k", 0, "Number of chunks to retrieve (default from config)")

	cmd.AddCommand(newBuildCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newContextCmd(opts))
	cmd.AddCommand(newAskCmd(opts))
	cmd.AddCommand(newStatsCmd(opts))
	cmd.AddCommand(newInfoCmd(opts))
	cmd.AddCommand(newChatCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))

	return cmd
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func (o *rootOptions) loadConfig() (*config.AppConfig, error) {
	if o.configPath != "" {
		return config.Load(o.configPath)
	}
	cfg, _, err := config.LoadDefault()
	return cfg, err
}

// open loads config and assembles the core. Callers must Close the App.
func (o *rootOptions) open(cmd *cobra.Command) (*App, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.topK > 0 {
		cfg.Retrieval.TopK = o.topK
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cmd.ErrOrStderr()})
	return NewApp(cmd.Context(), cfg, log)
}

// ensureIndex builds the index on first use; a populated index is left as is.
func ensureIndex(ctx context.Context, app *App) error {
	report, err := app.Service.BuildCorpus(ctx, false)
	if err != nil {
		return err
	}
	if !report.Skipped {
		app.Log.WithFields(logrus.Fields{
			"documents": report.Documents,
			"chunks":    report.Chunks,
		}).Info("index built")
	}
	return nil
}
