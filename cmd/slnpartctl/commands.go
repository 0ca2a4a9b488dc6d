package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bobarin/slnpart/internal/ledger"
	"github.com/bobarin/slnpart/internal/models"
	"github.com/bobarin/slnpart/internal/providers"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := ctx.database()
			if err != nil {
				return err
			}
			if err := database.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		},
	}
}

func newGrantCommand(ctx *commandContext) *cobra.Command {
	var reference string

	cmd := &cobra.Command{
		Use:   "grant <email> <tokens>",
		Short: "Credit tokens to an account",
		Long: "Credit tokens to an account. Each grant is recorded as a settlement; " +
			"repeating a grant with the same --reference credits nothing.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.Atoi(args[1])
			if err != nil || amount <= 0 {
				return fmt.Errorf("tokens must be a positive integer, got %q", args[1])
			}

			database, err := ctx.database()
			if err != nil {
				return err
			}
			account, err := database.GetAccountByEmail(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("lookup %s: %w", args[0], err)
			}

			if reference == "" {
				reference = uuid.NewString()
			}
			l := ledger.New(database, nil, ctx.logger())
			balance, credited, err := l.Credit(cmd.Context(), models.AccountActor(account.ID), amount, "grant:"+reference)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !credited {
				fmt.Fprintf(out, "Grant %s was already applied; %s has %d tokens\n", reference, account.Email, balance)
				return nil
			}
			fmt.Fprintf(out, "Granted %d tokens to %s; balance is %d\n", amount, account.Email, balance)
			return nil
		},
	}

	cmd.Flags().StringVar(&reference, "reference", "", "Idempotency reference for the grant (default: random)")
	return cmd
}

func newBalanceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <email>",
		Short: "Show an account's token balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := ctx.database()
			if err != nil {
				return err
			}
			account, err := database.GetAccountByEmail(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("lookup %s: %w", args[0], err)
			}

			rows := [][]string{{account.Username, account.Email, strconv.Itoa(account.Tokens), account.CreatedAt.Format(time.DateOnly)}}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Username", "Email", "Tokens", "Joined"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var kind string
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k := models.JobKind(kind)
			if kind != "" && !k.Valid() {
				return fmt.Errorf("unknown kind %q", kind)
			}
			if limit <= 0 {
				return fmt.Errorf("limit must be positive")
			}

			database, err := ctx.database()
			if err != nil {
				return err
			}
			jobs, err := database.ListRecentJobs(cmd.Context(), k, nil, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs")
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{
					job.ID.String(),
					string(job.Kind),
					string(job.Status),
					dash(job.Provider),
					job.CreatedAt.Local().Format(time.DateTime),
					detail(job),
				})
			}
			fmt.Fprintln(out, renderTable([]string{"ID", "Kind", "Status", "Provider", "Created", "Detail"}, rows, nil))
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Filter by kind (cover_art, audio_master, video)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs")
	return cmd
}

func newPolicyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Show token costs and provider chains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			policy, err := providers.LoadPolicy(cfg.Provider.PolicyPath)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(models.AllJobKinds))
			for _, kind := range models.AllJobKinds {
				rows = append(rows, []string{
					string(kind),
					strconv.Itoa(policy.Costs[kind]),
					strings.Join(policy.Chains[kind], " → "),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Kind", "Cost", "Chain"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func detail(job models.Job) string {
	if job.ErrorMessage != nil {
		return *job.ErrorMessage
	}
	if job.FinishedAt != nil {
		return "finished " + job.FinishedAt.Local().Format(time.DateTime)
	}
	return "-"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
