package cli

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pyp/internal/cron"
	"pyp/internal/jsvm"
)

// NewCronCmd creates the cron command group: jobs that re-run a
// preprocessing pass on a schedule, backed by the local sqlite store.
func NewCronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled preprocessing jobs",
	}

	cmd.AddCommand(newCronListCmd())
	cmd.AddCommand(newCronAddCmd())
	cmd.AddCommand(newCronRemoveCmd())
	cmd.AddCommand(newCronRunCmd())
	cmd.AddCommand(newCronHistoryCmd())

	return cmd
}

func cronStores(cmd *cobra.Command) (*cron.JobStore, *cron.HistoryStore, error) {
	jobStore, historyStore, _, err := cronStoresWithDB(cmd)
	return jobStore, historyStore, err
}

func cronStoresWithDB(cmd *cobra.Command) (*cron.JobStore, *cron.HistoryStore, *sql.DB, error) {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return nil, nil, nil, fmt.Errorf("CLI context not initialized")
	}
	db, err := cliCtx.GetStorage()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open storage: %w", err)
	}
	return cron.NewJobStore(db.DB), cron.NewHistoryStore(db.DB), db.DB, nil
}

func newCronListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobStore, _, err := cronStores(cmd)
			if err != nil {
				return err
			}
			jobs, err := jobStore.List()
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			if len(jobs) == 0 {
				fmt.Println("No jobs scheduled.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSCHEDULE\tINPUT\tOUTPUT\tENABLED\tLAST RUN")
			for _, j := range jobs {
				lastRun := "-"
				if j.LastRun != nil {
					lastRun = j.LastRun.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n",
					j.Name, j.Schedule, j.InputPath, j.OutputPath, j.Enabled, lastRun)
			}
			return tw.Flush()
		},
	}
}

func newCronAddCmd() *cobra.Command {
	create := cron.JobCreate{Enabled: true}

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Schedule a new preprocessing job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			create.Name = args[0]
			jobStore, _, err := cronStores(cmd)
			if err != nil {
				return err
			}
			job, err := jobStore.Create(&create)
			if err != nil {
				return fmt.Errorf("create job: %w", err)
			}
			fmt.Printf("Scheduled job %q (%s)\n", job.Name, job.Schedule)
			return nil
		},
	}

	cmd.Flags().StringVar(&create.Schedule, "schedule", "", "cron expression, seconds-resolution (e.g. \"0 */5 * * * *\")")
	cmd.Flags().StringVar(&create.InputPath, "input", "", "template file to preprocess")
	cmd.Flags().StringVar(&create.OutputPath, "output", "", "file to write rendered output to")
	cmd.Flags().StringVar(&create.GrammarPath, "grammar", "", "optional custom grammar definition")
	cmd.Flags().BoolVar(&create.Enabled, "enabled", true, "enable the job immediately")
	cmd.MarkFlagRequired("schedule")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("output")

	return cmd
}

func newCronRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a scheduled job",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobStore, _, err := cronStores(cmd)
			if err != nil {
				return err
			}
			if err := jobStore.Delete(args[0]); err != nil {
				return fmt.Errorf("remove job: %w", err)
			}
			fmt.Printf("Removed job %q\n", args[0])
			return nil
		},
	}
}

func newCronRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <name>",
		Short: "Execute a scheduled job immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return fmt.Errorf("CLI context not initialized")
			}

			jobStore, historyStore, db, err := cronStoresWithDB(cmd)
			if err != nil {
				return err
			}
			job, err := jobStore.Get(args[0])
			if err != nil {
				return fmt.Errorf("get job: %w", err)
			}

			runtime := jsvm.NewRuntime(jsvmRuntimeConfig(cliCtx.Config), zerolog.Nop())
			defer runtime.Close()

			executor := cron.NewExecutor(historyStore, runtime, cron.DefaultExecutorConfig(), zerolog.Nop(), db)
			result := executor.Execute(context.Background(), job)
			if !result.Success {
				return fmt.Errorf("job failed after %d retries: %w", result.Retries, result.Error)
			}
			fmt.Printf("Job %q completed in %s: %s\n", job.Name, result.Duration, result.Result)
			return nil
		},
	}
}

func newCronHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <name>",
		Short: "Show recent execution history for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, historyStore, err := cronStores(cmd)
			if err != nil {
				return err
			}
			entries, err := historyStore.ListByJob(args[0], limit)
			if err != nil {
				return fmt.Errorf("list history: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println("No execution history.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tSTATUS\tRETRIES\tRESULT/ERROR")
			for _, e := range entries {
				detail := e.Result
				if e.Status == cron.StatusFailed {
					detail = e.Error
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					e.StartedAt.Format("2006-01-02 15:04:05"), e.Status, strconv.Itoa(e.RetryCount), detail)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of entries to show")
	return cmd
}
