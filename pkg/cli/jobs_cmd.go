package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"syncloop/internal/domain"
	"syncloop/internal/service/jobs"
)

func newJobsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "jobs",
		Aliases: []string{"job"},
		Short:   "List, watch and control sync jobs",
	}

	cmd.AddCommand(newJobsListCmd(a))
	cmd.AddCommand(newJobsShowCmd(a))
	cmd.AddCommand(newJobsWatchCmd(a))
	cmd.AddCommand(newJobsRunCmd(a))
	cmd.AddCommand(newJobsCancelCmd(a))
	cmd.AddCommand(newJobsRetryCmd(a))
	cmd.AddCommand(newJobsTerminateAllCmd(a))
	return cmd
}

// withService runs fn against a fresh job service, optionally seeded with
// one list fetch so intents can check which actions a job offers.
func withService(ctx context.Context, a *app, seed bool, fn func(*jobs.Service) error) error {
	svc := a.service()
	defer svc.Close()
	if seed {
		if err := svc.RefreshList(ctx); err != nil {
			return err
		}
	}
	return fn(svc)
}

func newJobsListCmd(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sync jobs",
		Long:  "List sync jobs. Cancelled and terminated jobs are hidden unless --all is given.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd.Context(), a, true, func(svc *jobs.Service) error {
				return printJobs(cmd.OutOrStdout(), getOutputFormat(cmd), svc.View(), all, time.Now())
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include cancelled and terminated jobs")
	return cmd
}

func newJobsShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job's status and execution history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), a, false, func(svc *jobs.Service) error {
				d, err := svc.RefreshDetail(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printDetail(cmd.OutOrStdout(), getOutputFormat(cmd), d, time.Now())
			})
		},
	}
}

func newJobsWatchCmd(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "watch [job-id]",
		Short: "Poll jobs and redraw on every change",
		Long: `Without a job id, poll the job list until interrupted.
With a job id, poll that job until it reaches a terminal status.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			var jobID string
			if len(args) == 1 {
				jobID = args[0]
			}
			svc := a.service()
			defer svc.Close()

			out := cmd.OutOrStdout()
			r := &redrawer{w: out, clear: isTerminal(out)}
			format := getOutputFormat(cmd)
			render := func() {
				r.draw(func(w io.Writer) error {
					if jobID != "" {
						d, ok := svc.Detail(jobID)
						if !ok {
							return nil
						}
						return printDetail(w, format, d, time.Now())
					}
					return printJobs(w, format, svc.View(), all, time.Now())
				})
			}
			svc.SetOnChange(func(jobs.View) { render() })
			svc.SetOnAlert(func(al jobs.Alert) { r.setAlert(al) })

			return watch(ctx, svc, jobID)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include cancelled and terminated jobs")
	return cmd
}

// watch runs the polling sessions for the watch command. With a job id the
// list session is stopped once the detail session ends.
func watch(ctx context.Context, svc *jobs.Service, jobID string) error {
	g, gctx := errgroup.WithContext(ctx)
	listCtx, stopList := context.WithCancel(gctx)
	defer stopList()

	list := svc.WatchList(listCtx)
	g.Go(list.Wait)
	if jobID != "" {
		detail := svc.WatchDetail(gctx, jobID)
		g.Go(func() error {
			defer stopList()
			return detail.Wait()
		})
	}
	return g.Wait()
}

// redrawer serialises renders from polling goroutines. On a terminal each
// render replaces the previous one.
type redrawer struct {
	w     io.Writer
	clear bool

	mu    sync.Mutex
	alert string
}

func (r *redrawer) setAlert(al jobs.Alert) {
	r.mu.Lock()
	r.alert = fmt.Sprintf("%s %s: %v", al.Op, al.JobID, al.Err)
	r.mu.Unlock()
}

func (r *redrawer) draw(fn func(io.Writer) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clear {
		_, _ = fmt.Fprint(r.w, "\033[H\033[2J")
	}
	if err := fn(r.w); err != nil {
		_, _ = fmt.Fprintf(r.w, "render: %v\n", err)
	}
	if r.alert != "" {
		_, _ = fmt.Fprintf(r.w, "\n! %s\n", r.alert)
	}
	if !r.clear {
		_, _ = fmt.Fprintln(r.w)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func newJobsRunCmd(a *app) *cobra.Command {
	var incremental bool

	cmd := &cobra.Command{
		Use:   "run <table>",
		Short: "Start a sync of a table now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), a, false, func(svc *jobs.Service) error {
				ref, err := svc.RunNow(cmd.Context(), args[0], incremental)
				if err != nil {
					return err
				}
				if getOutputFormat(cmd) == "json" {
					return PrintJSON(cmd.OutOrStdout(), map[string]string{
						"workflow_id":   ref.WorkflowID,
						"run_id":        ref.RunID,
						"workflow_type": ref.WorkflowType,
					})
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Started %s sync of %s: %s (run %s)\n",
					strings.ToLower(domain.JobTypeFor(incremental).Display().Label), args[0], ref.WorkflowID, ref.RunID)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&incremental, "incremental", false, "Run an incremental instead of a full sync")
	return cmd
}

func newJobsCancelCmd(a *app) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Request cancellation of a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withService(cmd.Context(), a, true, func(svc *jobs.Service) error {
				if err := svc.Cancel(cmd.Context(), id); err != nil {
					return err
				}
				status := "requested"
				if wait {
					if err := svc.AwaitCancel(cmd.Context(), id); err != nil {
						return err
					}
					status = "confirmed"
				}
				if getOutputFormat(cmd) == "json" {
					return PrintJSON(cmd.OutOrStdout(), map[string]string{"job_id": id, "cancel": status})
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cancellation of %s %s\n", id, status)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the job is seen leaving RUNNING")
	return cmd
}

func newJobsRetryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Re-run a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withService(cmd.Context(), a, true, func(svc *jobs.Service) error {
				if err := svc.Retry(cmd.Context(), id); err != nil {
					return err
				}
				if getOutputFormat(cmd) == "json" {
					return PrintJSON(cmd.OutOrStdout(), map[string]string{"job_id": id, "retry": "requested"})
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Retry of %s requested\n", id)
				return nil
			})
		},
	}
}

func newJobsTerminateAllCmd(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "terminate-all",
		Short: "Forcefully stop every running job",
		Long:  "Forcefully stop every running job. This cannot be undone and asks for confirmation unless --yes is given.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			confirmed := yes
			if !confirmed {
				var err error
				confirmed, err = confirm(cmd.InOrStdin(), cmd.ErrOrStderr(),
					"Terminate ALL running jobs? This cannot be undone. [y/N] ")
				if err != nil {
					return err
				}
			}
			return withService(cmd.Context(), a, false, func(svc *jobs.Service) error {
				if err := svc.TerminateAll(cmd.Context(), confirmed); err != nil {
					return err
				}
				if getOutputFormat(cmd) == "json" {
					return PrintJSON(cmd.OutOrStdout(), map[string]string{"status": "terminated"})
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "All running jobs terminated")
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

// confirm asks a yes/no question on an interactive stdin. A non-terminal
// stdin never confirms.
func confirm(in io.Reader, prompt io.Writer, question string) (bool, error) {
	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return false, nil
	}
	_, _ = fmt.Fprint(prompt, question)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
