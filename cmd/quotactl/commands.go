package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"lovepage-backend/internal/bootstrap"
	"lovepage-backend/internal/consumption"
	"lovepage-backend/internal/entitlement"
	"lovepage-backend/internal/guard"
	"lovepage-backend/internal/quota"
	"lovepage-backend/internal/session"
)

const operator = "quotactl"

type opener func() (*bootstrap.App, error)

// dialer builds a Guard that talks to a running API as the token's account.
type dialer func(apiURL, token string) (*guard.Guard, error)

// cli holds the app opened for one command run.
type cli struct {
	open    opener
	dial    dialer
	app     *bootstrap.App
	guard   *guard.Guard
	jsonOut bool
}

func newRootCmd(open opener, dial dialer) *cobra.Command {
	c := &cli{open: open, dial: dial}

	root := &cobra.Command{
		Use:          "quotactl",
		Short:        "Inspect and adjust page quotas",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			c.app = app
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.app == nil {
				return nil
			}
			return c.app.Close()
		},
	}
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "print JSON instead of tables")

	root.AddCommand(
		c.plansCmd(),
		c.showCmd(),
		c.setPlanCmd(),
		c.resetCmd(),
		c.deleteItemCmd(),
		c.statsCmd(),
		c.pruneOpsCmd(),
		c.consumeCmd(),
		c.remoteCmd(),
	)
	return root
}

func (c *cli) plansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List the plan catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list := c.app.Catalog.List()
			if c.jsonOut {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPAGES\tEDITS/PAGE\tPRICE")
			for _, p := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d.%02d %s\n", p.ID, p.Name, p.MaxCreations, p.MaxEditsPerItem, p.PriceMinor/100, p.PriceMinor%100, p.Currency)
			}
			return tw.Flush()
		},
	}
}

func (c *cli) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <account>",
		Short: "Show an account's plan, counters and pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := c.app.Admin.Account(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if c.jsonOut {
				return writeJSON(cmd.OutOrStdout(), view)
			}
			out := cmd.OutOrStdout()
			planName := view.Account.PlanID + " (not in catalog)"
			if view.Plan != nil {
				planName = fmt.Sprintf("%s (%s pages, %s edits/page)", view.Plan.ID, view.Plan.MaxCreations, view.Plan.MaxEditsPerItem)
			}
			fmt.Fprintf(out, "account:   %s\nplan:      %s\ncreations: %d\ncredits:   %d\n",
				view.Account.ID, planName, view.Account.CreationsUsed, view.Account.Credits)
			if len(view.Items) == 0 {
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "\nPAGE\tEDITS\tCREATED")
			for _, it := range view.Items {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", it.ID, it.EditsUsed, it.CreatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
}

func (c *cli) setPlanCmd() *cobra.Command {
	var balance int
	cmd := &cobra.Command{
		Use:   "set-plan <account> <plan>",
		Short: "Move an account to a plan (id or alias)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, err := c.app.Admin.SetPlan(cmd.Context(), operator, args[0], args[1], balance)
			if err != nil {
				return err
			}
			if c.jsonOut {
				return writeJSON(cmd.OutOrStdout(), acct)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now on %s with %d credits\n", acct.ID, acct.PlanID, acct.Credits)
			return nil
		},
	}
	cmd.Flags().IntVar(&balance, "balance", 0, "credit balance to store with the plan")
	return cmd
}

func (c *cli) resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <account>",
		Short: "Zero an account's creation and edit counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, err := c.app.Admin.Reset(cmd.Context(), operator, args[0])
			if err != nil {
				return err
			}
			if c.jsonOut {
				return writeJSON(cmd.OutOrStdout(), acct)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s counters reset\n", acct.ID)
			return nil
		},
	}
}

func (c *cli) deleteItemCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-item <page>",
		Short: "Delete a page; its creation stays counted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.Admin.DeleteItem(cmd.Context(), operator, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s deleted\n", args[0])
			return nil
		},
	}
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize accounts, pages and payments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.app.Admin.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if c.jsonOut {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "accounts:  %d\npages:     %d\ncreations: %d\npayments:  %d (%d applied, %d.%02d revenue)\n",
				st.Accounts, st.Items, st.CreationsUsed, st.Payments.Payments, st.Payments.Applied,
				st.Payments.RevenueMinor/100, st.Payments.RevenueMinor%100)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "\nPLAN\tACCOUNTS")
			for _, p := range c.app.Catalog.List() {
				fmt.Fprintf(tw, "%s\t%d\n", p.ID, st.ByPlan[p.ID])
			}
			return tw.Flush()
		},
	}
}

func (c *cli) pruneOpsCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune-ops",
		Short: "Drop replay records older than a duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				olderThan = c.app.Config.OpRetention
			}
			n, err := quota.NewPruner(c.app.Store, olderThan, 0).PruneOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d operations older than %s\n", n, olderThan)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "retention window (defaults to QUOTA_OP_RETENTION)")
	return cmd
}

func (c *cli) consumeCmd() *cobra.Command {
	var key string
	consume := &cobra.Command{
		Use:   "consume",
		Short: "Consume quota on behalf of an account",
	}
	consume.PersistentFlags().StringVar(&key, "key", "", "idempotency key; reusing it replays the first result")

	run := func(cmd *cobra.Command, fn func(ctx context.Context, sess session.Session) (entitlement.Decision, error), accountID string) error {
		ctx := cmd.Context()
		if key != "" {
			ctx = consumption.WithOperationKey(ctx, key)
		}
		d, err := fn(ctx, session.SignedInAs(accountID, "", time.Time{}))
		if err != nil {
			return err
		}
		return c.printDecision(cmd.OutOrStdout(), d)
	}

	consume.AddCommand(
		&cobra.Command{
			Use:   "create <account>",
			Short: "Create a page if the plan allows it",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, c.app.Coordinator.TryConsumeCreate, args[0])
			},
		},
		&cobra.Command{
			Use:   "edit <account> <page>",
			Short: "Record one edit of a page if the plan allows it",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				edit := func(ctx context.Context, sess session.Session) (entitlement.Decision, error) {
					return c.app.Coordinator.TryConsumeEdit(ctx, sess, args[1])
				}
				return run(cmd, edit, args[0])
			},
		},
	)
	return consume
}

// remoteCmd goes through the HTTP channel with the client-side guard
// instead of opening the store.
func (c *cli) remoteCmd() *cobra.Command {
	var apiURL, token, key string
	remote := &cobra.Command{
		Use:   "remote",
		Short: "Check and consume quota through a running API as a signed-in user",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.dial == nil {
				return fmt.Errorf("remote mode is not available")
			}
			g, err := c.dial(apiURL, token)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			if _, err := g.Session().Require(time.Now()); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			c.guard = g
			return nil
		},
	}
	remote.PersistentFlags().StringVar(&apiURL, "api", "", "API base URL (default GUARD_API_URL)")
	remote.PersistentFlags().StringVar(&token, "token", "", "bearer token (default GUARD_TOKEN)")

	decide := func(fn func(cmd *cobra.Command, args []string) (entitlement.Decision, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			d, err := fn(cmd, args)
			if err != nil {
				return err
			}
			return c.printDecision(cmd.OutOrStdout(), d)
		}
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a page if the plan allows it",
		Args:  cobra.NoArgs,
		RunE: decide(func(cmd *cobra.Command, args []string) (entitlement.Decision, error) {
			return c.guard.Create(cmd.Context(), key)
		}),
	}
	edit := &cobra.Command{
		Use:   "edit <page>",
		Short: "Record one edit of a page if the plan allows it",
		Args:  cobra.ExactArgs(1),
		RunE: decide(func(cmd *cobra.Command, args []string) (entitlement.Decision, error) {
			return c.guard.Edit(cmd.Context(), args[0], key)
		}),
	}
	for _, cmd := range []*cobra.Command{create, edit} {
		cmd.Flags().StringVar(&key, "key", "", "idempotency key; reusing it replays the first result")
	}

	remote.AddCommand(
		&cobra.Command{
			Use:   "can-create",
			Short: "Ask whether a page may be created",
			Args:  cobra.NoArgs,
			RunE: decide(func(cmd *cobra.Command, args []string) (entitlement.Decision, error) {
				return c.guard.CanCreate(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "can-edit <page>",
			Short: "Ask whether a page may be edited",
			Args:  cobra.ExactArgs(1),
			RunE: decide(func(cmd *cobra.Command, args []string) (entitlement.Decision, error) {
				return c.guard.CanEdit(cmd.Context(), args[0])
			}),
		},
		create,
		edit,
	)
	return remote
}

func (c *cli) printDecision(w io.Writer, d entitlement.Decision) error {
	if c.jsonOut {
		return writeJSON(w, d)
	}
	status := "allowed"
	if !d.Allowed {
		status = "denied"
	}
	line := status + ": " + guard.Message(d)
	if d.ItemID != "" {
		line += " [" + d.ItemID + "]"
	}
	fmt.Fprintln(w, line)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
