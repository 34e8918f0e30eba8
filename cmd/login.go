package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/costar-cli/internal/session"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate and persist session cookies",
	Long:  "Restores saved cookies or logs in with credentials, waiting for second-factor approval, then saves the session cookies for later runs.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		if err := promptPassword(); err != nil {
			return err
		}
		if err := cfg.Validate("login"); err != nil {
			return err
		}

		sessions, err := initSession(st)
		if err != nil {
			return err
		}
		defer sessions.Close() //nolint:errcheck

		t, err := sessions.Acquire(ctx)
		if err != nil {
			return eris.Wrap(err, "login")
		}
		fmt.Fprintf(os.Stdout, "Session %s for %s\n", t.State(), cfg.Auth.Username)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved session cookies",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if cfg.Auth.Username == "" {
			return eris.New("auth.username is required (COSTAR_USERNAME)")
		}

		var cookies session.CookieStore = session.NewFileCookieStore(cfg.Session.CookieDir)
		if cfg.Session.CookieBackend == "store" {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			if st == nil {
				return eris.New("session.cookie_backend store requires a store driver")
			}
			defer st.Close() //nolint:errcheck
			cookies = st
		}

		if err := cookies.DeleteCookies(ctx, cfg.Auth.Username); err != nil {
			return eris.Wrap(err, "logout")
		}
		fmt.Fprintf(os.Stdout, "Removed saved session for %s\n", cfg.Auth.Username)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}
