package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"syncloop/internal/config"
	"syncloop/internal/domain"
	"syncloop/internal/service/jobs"
	"syncloop/internal/workflowapi"
)

var (
	version = "dev"
	commit  = "none"
)

const defaultHost = "http://localhost:8000"

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			_ = PrintJSON(os.Stdout, errorEnvelope(err))
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// errorEnvelope renders err for -o json. Engine errors carry their HTTP
// status and code; every error carries its taxonomy kind.
func errorEnvelope(err error) map[string]interface{} {
	errObj := map[string]interface{}{
		"error": err.Error(),
	}
	if kind := domain.Kind(err); kind != "unknown" {
		errObj["kind"] = kind
	}
	var apiErr *workflowapi.APIError
	if errors.As(err, &apiErr) {
		errObj["http_status"] = apiErr.HTTPStatus
		errObj["code"] = apiErr.Code
	}
	return errObj
}

// app carries the resolved settings shared by every command.
type app struct {
	host    string
	token   string
	output  string
	profile string

	env    *config.Config
	logger *slog.Logger
	client *workflowapi.Client
}

// service builds a job service over the app's client. The caller must Close it.
func (a *app) service() *jobs.Service {
	p := a.env.Polling
	return jobs.NewService(a.client, jobs.Config{
		ListInterval:    p.ListInterval,
		DetailInterval:  p.DetailInterval,
		ConfirmInterval: p.ConfirmInterval,
		ConfirmAttempts: p.ConfirmAttempts,
		PendingTimeout:  p.PendingTimeout,
	}, nil, a.logger)
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "syncloop",
		Short:         "Track and control data-sync jobs",
		Long:          "Command-line client for the workflow engine that runs full and incremental table syncs.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(".env"); err != nil {
				return err
			}
			env, err := config.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a.env = env
			a.logger = slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: env.SlogLevel()}))
			for _, w := range env.Warnings {
				a.logger.Warn(w)
			}

			// Config file is optional
			p, err := loadOrNewUserConfig().ActiveProfile(a.profile)
			if err != nil {
				return err
			}

			// Apply precedence: flag > env > profile > default
			if !cmd.Flags().Changed("host") {
				if env.Host != "" {
					a.host = env.Host
				} else if p.Host != "" {
					a.host = p.Host
				}
			}
			if !cmd.Flags().Changed("token") {
				if env.Token != "" {
					a.token = env.Token
				} else if p.Token != "" {
					a.token = p.Token
				}
			}
			if !cmd.Flags().Changed("output") {
				if v := os.Getenv("SYNCLOOP_OUTPUT"); v != "" {
					a.output = v
				} else if p.Output != "" {
					a.output = p.Output
				}
			}

			if err := validateOutputFormat(a.output); err != nil {
				return err
			}
			// The error envelope reads the flag, so keep it in step.
			_ = cmd.Root().PersistentFlags().Set("output", a.output)
			if err := validateHostURL(a.host); err != nil {
				return err
			}

			a.client = workflowapi.NewClient(a.host, a.token, workflowapi.Options{
				HTTPClient: &http.Client{Timeout: env.HTTPTimeout},
				RateLimit:  rate.Limit(env.RateLimitRPS),
				Burst:      env.RateLimitBurst,
				Logger:     a.logger,
			})
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.host, "host", defaultHost, "Workflow engine URL")
	rootCmd.PersistentFlags().StringVar(&a.token, "token", "", "Session token")
	rootCmd.PersistentFlags().StringVarP(&a.output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVarP(&a.profile, "profile", "p", "", "Config profile to use")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newAuthCmd(a))
	rootCmd.AddCommand(newHealthCmd(a))
	rootCmd.AddCommand(newJobsCmd(a))
	rootCmd.AddCommand(newScheduleCmd(a))
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}
