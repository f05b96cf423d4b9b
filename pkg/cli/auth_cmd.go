package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"syncloop/internal/domain"
)

func newAuthCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Log in to and out of the workflow engine",
	}

	cmd.AddCommand(newAuthLoginCmd(a))
	cmd.AddCommand(newAuthLogoutCmd(a))
	cmd.AddCommand(newAuthWhoamiCmd(a))
	return cmd
}

func newAuthLoginCmd(a *app) *cobra.Command {
	var (
		email    string
		password string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and save the session token to the active profile",
		Example: `  # Prompt for the password
  syncloop auth login --email admin@example.com

  # Non-interactive
  SYNCLOOP_PASSWORD=secret syncloop auth login --email admin@example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadOrNewUserConfig()
			if email == "" {
				p, _ := cfg.ActiveProfile(a.profile)
				email = p.Email
			}
			if email == "" {
				return domain.ErrValidation("--email is required")
			}
			if password == "" {
				password = os.Getenv("SYNCLOOP_PASSWORD")
			}
			if password == "" {
				var err error
				password, err = readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
				if err != nil {
					return err
				}
			}

			sess, err := a.client.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			token := a.client.Token()
			err = updateProfile(cfg.ActiveProfileName(a.profile), func(p *Profile) {
				p.Host = a.host
				p.Email = email
				p.Token = token
			})
			if err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			if getOutputFormat(cmd) == "json" {
				return PrintJSON(cmd.OutOrStdout(), toSessionJSON(sess))
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (workspace %s)%s\n",
				sess.UserID, sess.WorkspaceID, expirySuffix(sess))
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email (defaults to the profile's email)")
	cmd.Flags().StringVar(&password, "password", "", "Account password (prompted when omitted)")

	return cmd
}

// readPassword prompts on a terminal without echo, or reads one line from a
// non-terminal stdin.
func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		_, _ = fmt.Fprint(prompt, "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", domain.ErrValidation("a password is required")
	}
	return line, nil
}

func expirySuffix(sess *domain.Session) string {
	if sess.ExpiresAt == nil {
		return ""
	}
	return fmt.Sprintf(", session expires %s", sess.ExpiresAt.Local().Format(time.RFC3339))
}

func newAuthLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the saved token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logoutErr := a.client.Logout(cmd.Context())
			cfg := loadOrNewUserConfig()
			if err := updateProfile(cfg.ActiveProfileName(a.profile), func(p *Profile) { p.Token = "" }); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			if logoutErr != nil {
				// The local session is gone either way.
				a.logger.Warn("engine logout failed", "error", logoutErr)
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(cmd.OutOrStdout(), map[string]string{"status": "logged_out"})
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newAuthWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the principal behind the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := a.client.Me(cmd.Context())
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(cmd.OutOrStdout(), toSessionJSON(sess))
			}
			fields := map[string]string{
				"User":      sess.UserID,
				"Workspace": sess.WorkspaceID,
				"Expires":   "-",
			}
			if sess.ExpiresAt != nil {
				fields["Expires"] = sess.ExpiresAt.Local().Format(time.RFC3339)
			}
			PrintDetail(cmd.OutOrStdout(), fields, "User", "Workspace", "Expires")
			return nil
		},
	}
}
