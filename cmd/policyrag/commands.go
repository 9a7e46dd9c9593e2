package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"policyrag/internal/domain"
	"policyrag/internal/samples"
)

func newOperation(user string) domain.Operation {
	return domain.NewOperation(user, time.Now())
}

func askCMD(cfgPath *string) *cobra.Command {
	var docs []string
	var asJSON bool
	ask := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a single question and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := startup(cmd.Context(), *cfgPath, false)
			if err != nil {
				return err
			}
			defer shutdown(a)

			if len(docs) > 0 {
				if _, err := a.Agent.ProcessDocuments(cmd.Context(), newOperation(a.Config.App.User), docs); err != nil {
					return fmt.Errorf("process documents: %w", err)
				}
			}
			question := strings.Join(args, " ")
			ans := a.Agent.AnswerQuestion(cmd.Context(), newOperation(a.Config.App.User), question)
			return printAnswer(cmd.OutOrStdout(), cmd.ErrOrStderr(), ans, asJSON)
		},
	}
	ask.Flags().StringSliceVarP(&docs, "docs", "d", nil, "Policy files or globs to process before answering")
	ask.Flags().BoolVar(&asJSON, "json", false, "Print the full answer as JSON")
	return ask
}

// printAnswer writes ans for the ask command. A failed answer is still an
// answer: the apology goes to out and the error kind to errOut.
func printAnswer(out, errOut io.Writer, ans domain.Answer, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(ans)
	}
	fmt.Fprintln(out, ans.Response)
	for i, d := range ans.SimilarDocuments {
		fmt.Fprintf(out, "\n%d. [%s] %s\n", i+1, d.PolicyType, d.Metadata[domain.MetaFileName])
	}
	if ans.Status == domain.StatusFailed {
		fmt.Fprintf(errOut, "(error: %s)\n", ans.ErrorKind)
	}
	return nil
}

func ingestCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file.txt|glob> ...",
		Short: "Process policy documents into the configured vector store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := startup(cmd.Context(), *cfgPath, false)
			if err != nil {
				return err
			}
			defer shutdown(a)

			report, err := a.Agent.ProcessDocuments(cmd.Context(), newOperation(a.Config.App.User), args)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func statsCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-collection document counts and ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := startup(cmd.Context(), *cfgPath, false)
			if err != nil {
				return err
			}
			defer shutdown(a)

			stats, err := a.Agent.Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, st := range stats {
				fmt.Fprintf(out, "%s (%s): %d\n", st.Name, st.Type, st.Count)
				for _, id := range st.IDs {
					fmt.Fprintf(out, "  %s\n", id)
				}
			}
			return nil
		},
	}
}

func samplesCMD(cfgPath *string) *cobra.Command {
	var dir string
	samplesCmd := &cobra.Command{
		Use:   "samples",
		Short: "Write the sample health and auto policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				cfg, err := loadConfig(*cfgPath)
				if err != nil {
					return err
				}
				dir = cfg.Samples.DocsDir
			}
			paths, err := samples.Write(dir)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", p)
			}
			return nil
		},
	}
	samplesCmd.Flags().StringVar(&dir, "dir", "", "Target directory (default samples.docs_dir)")
	return samplesCmd
}

func resetCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Remove persisted collections and cached answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			for _, p := range []string{
				cfg.VectorStore.SQLite.Path,
				cfg.VectorStore.SQLite.Path + "-wal",
				cfg.VectorStore.SQLite.Path + "-shm",
				cfg.VectorStore.Bleve.Path,
				cfg.Cache.Dir,
			} {
				if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
					continue
				}
				if err := os.RemoveAll(p); err != nil {
					return fmt.Errorf("remove %s: %w", p, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", p)
			}
			return nil
		},
	}
}
