package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/studyloop/ragcore/internal/app"
	"github.com/studyloop/ragcore/internal/rag"
	"github.com/studyloop/ragcore/internal/session"
)

var (
	queryTopK    int
	querySession string
	queryGlobal  bool
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Retrieve grounding context for a query",
	Long: `Embeds the query, searches the session's index, and prints the
retrieved chunks as a grounding context block.

When the session has no index of its own the shared global collection
is searched instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, strings.Join(args, " "))
	},
}

func init() {
	queryCmd.Flags().IntVar(&queryTopK, "top-k", 0, "number of chunks to retrieve (default from configuration)")
	queryCmd.Flags().StringVar(&querySession, "session", "", "session id to search (defaults to the active session)")
	queryCmd.Flags().BoolVar(&queryGlobal, "global", false, "search the shared global collection")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, text string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	sessionID := ""
	if !queryGlobal {
		sessionID = querySession
		if sessionID == "" {
			state, err := session.NewState("")
			if err != nil {
				return fmt.Errorf("opening session state: %w", err)
			}
			if sessionID, err = state.Current(); err != nil {
				return fmt.Errorf("reading active session: %w", err)
			}
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, newLogger(cfg))
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() { _ = a.Close() }()

	topK := queryTopK
	if topK == 0 {
		topK = cfg.TopK
	}

	rc, err := a.Engine.Query(ctx, rag.Request{
		Text:      text,
		SessionID: sessionID,
		TopK:      topK,
	})
	if err != nil {
		return fmt.Errorf("querying: %w", err)
	}

	if rc.Empty() {
		cmd.Println("no matching chunks")
		return nil
	}

	if rc.FellBack {
		cmd.Printf("(session index not ready, searched %s)\n\n", rc.Collection)
	}
	cmd.Println(rc.Prompt())
	return nil
}
