package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/studyloop/ragcore/internal/app"
	"github.com/studyloop/ragcore/internal/ingest"
	"github.com/studyloop/ragcore/internal/session"
)

var (
	ingestText    string
	ingestSource  string
	ingestSession string
	ingestGlobal  bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Ingest documents into the current session's index",
	Long: `Chunks, embeds, and indexes documents.

Files given as arguments are read from disk; --text ingests a literal
string. Without --session or --global the target is the session set by
"ragcore sessions use"; with neither set, documents land in the shared
global collection.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd, args)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestText, "text", "", "ingest a literal string instead of files")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "provenance label for --text input")
	ingestCmd.Flags().StringVar(&ingestSession, "session", "", "target session id (defaults to the active session)")
	ingestCmd.Flags().BoolVar(&ingestGlobal, "global", false, "ingest into the shared global collection")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestText == "" && len(args) == 0 {
		return fmt.Errorf("nothing to ingest: give file paths or --text")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	sessionID, err := resolveSessionID()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, newLogger(cfg))
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() { _ = a.Close() }()

	if ingestText != "" {
		res, err := a.Ingester.Ingest(ctx, ingest.Request{
			SessionID: sessionID,
			Source:    ingestSource,
			Text:      ingestText,
		})
		if err != nil {
			return fmt.Errorf("ingesting text: %w", err)
		}
		cmd.Printf("indexed %d chunks into %s\n", res.Chunks, res.Collection)
	}

	for _, path := range args {
		res, err := a.Ingester.Ingest(ctx, ingest.Request{
			SessionID: sessionID,
			Path:      path,
		})
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", path, err)
		}
		cmd.Printf("%s: indexed %d chunks into %s\n", path, res.Chunks, res.Collection)
	}

	return nil
}

// resolveSessionID picks the target session for one-shot commands.
// --global wins, then --session, then the persisted active session.
func resolveSessionID() (string, error) {
	if ingestGlobal {
		return "", nil
	}
	if ingestSession != "" {
		return ingestSession, nil
	}

	state, err := session.NewState("")
	if err != nil {
		return "", fmt.Errorf("opening session state: %w", err)
	}
	current, err := state.Current()
	if err != nil {
		return "", fmt.Errorf("reading active session: %w", err)
	}
	return current, nil
}
