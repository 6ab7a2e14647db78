package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/studyloop/ragcore/internal/app"
	"github.com/studyloop/ragcore/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage study sessions and their indexes",
}

var sessionsNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Start a new session and make it active",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := session.NewState("")
		if err != nil {
			return fmt.Errorf("opening session state: %w", err)
		}
		id := session.NewID()
		if err := state.Save(id); err != nil {
			return fmt.Errorf("saving session: %w", err)
		}
		cmd.Println(id)
		return nil
	},
}

var sessionsUseCmd = &cobra.Command{
	Use:   "use <session-id>",
	Short: "Make an existing session active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := session.NewState("")
		if err != nil {
			return fmt.Errorf("opening session state: %w", err)
		}
		if err := state.Save(args[0]); err != nil {
			return fmt.Errorf("saving session: %w", err)
		}
		cmd.Printf("active session: %s\n", args[0])
		return nil
	},
}

var sessionsCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Print the active session id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := session.NewState("")
		if err != nil {
			return fmt.Errorf("opening session state: %w", err)
		}
		current, err := state.Current()
		if err != nil {
			return fmt.Errorf("reading active session: %w", err)
		}
		if current == "" {
			cmd.Println("no active session")
			return nil
		}
		cmd.Println(current)
		return nil
	},
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget the active session (keeps its index)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := session.NewState("")
		if err != nil {
			return fmt.Errorf("opening session state: %w", err)
		}
		return state.Clear()
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete [session-id]",
	Short: "Tear down a session's index",
	Long: `Deletes the session's collection and everything indexed in it.
Without an argument the active session is deleted and forgotten.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var id string
		if len(args) == 1 {
			id = args[0]
		}
		return runSessionsDelete(cmd, id)
	},
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all collections and their metadata",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessionsList(cmd)
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsNewCmd, sessionsUseCmd, sessionsCurrentCmd,
		sessionsClearCmd, sessionsDeleteCmd, sessionsListCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsDelete(cmd *cobra.Command, id string) error {
	state, err := session.NewState("")
	if err != nil {
		return fmt.Errorf("opening session state: %w", err)
	}

	active, err := state.Current()
	if err != nil {
		return fmt.Errorf("reading active session: %w", err)
	}
	if id == "" {
		if active == "" {
			return fmt.Errorf("no active session to delete")
		}
		id = active
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, newLogger(cfg))
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() { _ = a.Close() }()

	if err := a.Scheduler.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("deleting session index: %w", err)
	}

	if id == active {
		if err := state.Clear(); err != nil {
			return fmt.Errorf("clearing active session: %w", err)
		}
	}
	cmd.Printf("deleted index for session %s\n", id)
	return nil
}

func runSessionsList(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, newLogger(cfg))
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() { _ = a.Close() }()

	infos, err := a.Store.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("listing collections: %w", err)
	}
	if len(infos) == 0 {
		cmd.Println("no collections")
		return nil
	}
	for _, info := range infos {
		cmd.Printf("%s\tdim=%d\tmodel=%s\tcreated=%s\n",
			info.Name, info.Dimension, info.Model,
			info.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}
