package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"transcriptrag/internal/config"
	"transcriptrag/internal/tui"
)

func newBuildCmd(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Index the transcript directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.Service.BuildCorpus(cmd.Context(), force)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case report.Skipped:
				fmt.Fprintf(out, "Index already holds %d chunks; use --force to rebuild.\n", report.ExistingChunks)
			case report.Documents == 0:
				fmt.Fprintf(out, "No transcripts found under %s.\n", app.Config.Corpus.Root)
			default:
				fmt.Fprintf(out, "Indexed %d documents into %d chunks (%d batches).\n",
					report.Documents, report.Chunks, report.Batches)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Clear the index and rebuild it")
	return cmd
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Show the chunks closest to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			if err := ensureIndex(cmd.Context(), app); err != nil {
				return err
			}

			query := strings.Join(args, " ")
			results, err := app.Service.Search(cmd.Context(), query, app.Config.Retrieval.TopK)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(out, "No results.")
				return nil
			}
			for i, r := range results {
				fmt.Fprintf(out, "%d. %s (chunk %d/%d) %s=%.4f\n", i+1,
					r.Metadata.Title, r.Metadata.ChunkIndex+1, r.Metadata.TotalChunks, r.Ranking, r.Score)
				preview := app.Summarizer.Preview(r.Content, query, app.Config.Summarizer.MaxSentences)
				fmt.Fprintf(out, "   %s\n", preview)
			}
			return nil
		},
	}
}

func newContextCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "context <query>",
		Short: "Print the formatted context block for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			if err := ensureIndex(cmd.Context(), app); err != nil {
				return err
			}

			text, err := app.Service.AnswerContext(cmd.Context(), strings.Join(args, " "), app.Config.Retrieval.TopK)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question with the configured generator",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			if err := ensureIndex(cmd.Context(), app); err != nil {
				return err
			}

			resp, err := app.Service.Chat(cmd.Context(), strings.Join(args, " "), app.Config.Retrieval.TopK)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Answer)
			fmt.Fprintf(out, "\n(%d source chunks)\n", resp.ContextChunks)
			return nil
		},
	}
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the transcript directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			s, err := app.Service.CorpusSummary()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Documents:     %d\n", s.TotalDocuments)
			fmt.Fprintf(out, "Words:         %d\n", s.TotalWords)
			fmt.Fprintf(out, "Bytes:         %d\n", s.TotalSize)
			fmt.Fprintf(out, "Average words: %.1f\n", s.AverageWords)
			for _, title := range s.Titles {
				fmt.Fprintf(out, "  - %s\n", title)
			}
			return nil
		},
	}
}

func newInfoCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Describe the vector index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			info, err := app.Service.IndexInfo(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backend:    %s\n", info.Backend)
			fmt.Fprintf(out, "Location:   %s\n", info.Location)
			fmt.Fprintf(out, "Chunks:     %d\n", info.Count)
			fmt.Fprintf(out, "Dimensions: %d\n", info.Dimensions)
			fmt.Fprintf(out, "Ranking:    %s\n", info.Ranking)
			return nil
		},
	}
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return errors.New("chat needs an interactive terminal; use 'ask' or 'search' instead")
			}
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			if err := ensureIndex(cmd.Context(), app); err != nil {
				return err
			}

			summary := "No transcripts loaded"
			if s, err := app.Service.CorpusSummary(); err == nil {
				summary = fmt.Sprintf("%d transcripts, %d words", s.TotalDocuments, s.TotalWords)
			}
			m := tui.New(cmd.Context(), app.Service, app.Config.Retrieval.TopK, summary)
			_, err = tea.NewProgram(m, tea.WithContext(cmd.Context())).Run()
			return err
		},
	}
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	var write string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if write != "" {
				if err := config.Save(write, cfg); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", write)
				return nil
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&write, "write", "w", "", "Write the effective configuration to this path instead")
	return cmd
}
