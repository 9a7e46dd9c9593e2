package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"policyrag/internal/domain"
	"policyrag/internal/samples"
	"policyrag/internal/tui"
)

func chatCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "chat [file.txt ...]",
		Short: "Process policy documents and start an interactive session",
		Long: "Process the given policy documents (globs allowed) and open the chat UI.\n" +
			"Without arguments the sample policies in the configured docs directory are used.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := startup(cmd.Context(), *cfgPath, true)
			if err != nil {
				return err
			}
			defer shutdown(a)
			cfg := a.Config

			paths := args
			if len(paths) == 0 {
				if paths, err = sampleDocs(cfg.Samples.DocsDir); err != nil {
					return err
				}
			}
			op := domain.NewOperation(cfg.App.User, time.Now())
			report, err := a.Agent.ProcessDocuments(cmd.Context(), op, paths)
			if err != nil {
				return fmt.Errorf("process documents: %w", err)
			}

			session := tui.NewSession(a.Agent, a.Router, tui.Questions{
				Auto:   cfg.Samples.Questions.Auto,
				Health: cfg.Samples.Questions.Health,
			}, cfg.App.User)
			banner := strings.Join([]string{
				"Insurance Policy Assistant",
				fmt.Sprintf("Date: %s   User: %s", op.Timestamp(), cfg.App.User),
				fmt.Sprintf("Processed %d file(s) into %d document(s)", len(report.Files), report.Documents),
			}, "\n")
			_, err = tea.NewProgram(tui.New(cmd.Context(), session, banner), tea.WithAltScreen()).Run()
			return err
		},
	}
}

// sampleDocs returns the policies in dir, writing the bundled samples there
// first when it does not exist yet.
func sampleDocs(dir string) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return samples.Write(dir)
	}
	return []string{filepath.Join(dir, "*.txt")}, nil
}
