package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"syncloop/internal/domain"
	"syncloop/internal/service/jobs"
)

func newScheduleCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Create, pause and resume recurring syncs",
	}

	cmd.AddCommand(newScheduleCreateCmd(a))
	cmd.AddCommand(newScheduleToggleCmd(a, true))
	cmd.AddCommand(newScheduleToggleCmd(a, false))
	return cmd
}

func newScheduleCreateCmd(a *app) *cobra.Command {
	var (
		cronExpr string
		paused   bool
	)

	cmd := &cobra.Command{
		Use:   "create <table>",
		Short: "Schedule a recurring sync of a table",
		Example: `  # Every 15 minutes
  syncloop schedule create users --cron "*/15 * * * *"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := domain.ScheduleSpec{Table: args[0], CronExpr: cronExpr, IsActive: !paused}
			return withService(cmd.Context(), a, false, func(svc *jobs.Service) error {
				sched, err := svc.CreateSchedule(cmd.Context(), spec)
				if err != nil {
					return err
				}
				if getOutputFormat(cmd) == "json" {
					return PrintJSON(cmd.OutOrStdout(), toScheduleJSON(sched))
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Schedule %s created for %s (%s)\n",
					sched.ID, spec.Table, scheduleCell(sched))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&cronExpr, "cron", domain.DefaultCronExpr, "Five-field cron expression")
	cmd.Flags().BoolVar(&paused, "paused", false, "Create the schedule paused")
	return cmd
}

func newScheduleToggleCmd(a *app, pause bool) *cobra.Command {
	use, short, done := "resume", "Resume the paused schedule of a job", "resumed"
	if pause {
		use, short, done = "pause", "Pause the active schedule of a job", "paused"
	}

	return &cobra.Command{
		Use:   use + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withService(cmd.Context(), a, true, func(svc *jobs.Service) error {
				if err := svc.SetJobSchedulePaused(cmd.Context(), id, pause); err != nil {
					return err
				}
				jv, _ := svc.View().Job(id)
				if getOutputFormat(cmd) == "json" {
					return PrintJSON(cmd.OutOrStdout(), map[string]interface{}{
						"job_id":   id,
						"schedule": toScheduleJSON(jv.Schedule),
					})
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Schedule of %s %s\n", id, done)
				return nil
			})
		},
	}
}
