package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/clawkpit/internal/auth"
	"github.com/kalambet/clawkpit/internal/config"
	"github.com/kalambet/clawkpit/internal/storage"
)

// Admin commands open the database directly. SQLite file locking makes
// this safe while the server is running.

func withLocalAuth(ctx context.Context, fn func(*auth.Service, *storage.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()
	return fn(auth.NewService(store), store)
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add <email>",
	Short: "Create an account (no-op if it exists)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		return withLocalAuth(cmd.Context(), func(a *auth.Service, _ *storage.Store) error {
			u, err := a.EnsureUser(cmd.Context(), args[0], name)
			if err != nil {
				return err
			}
			printSuccess("User %s (%s)", u.Email, u.ID)
			return nil
		})
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sign-in sessions",
}

var sessionNewCmd = &cobra.Command{
	Use:   "new <email>",
	Short: "Open a session for an account and print its id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withLocalAuth(ctx, func(a *auth.Service, store *storage.Store) error {
			u, err := store.GetUserByEmail(ctx, auth.NormalizeEmail(args[0]))
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("no user %s; create it with `clawkpit user add`", args[0])
			}
			if err != nil {
				return err
			}
			sess, err := a.NewSession(ctx, u.ID)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, sess.ID)
			printStatus("Expires", "%s", sess.ExpiresAt.Local().Format("2006-01-02 15:04"))
			return nil
		})
	},
}

func init() {
	userAddCmd.Flags().String("name", "", "display name")
	userCmd.AddCommand(userAddCmd)
	sessionCmd.AddCommand(sessionNewCmd)
}
