package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/models"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage real users and their credits",
	}

	cmd.AddCommand(newUserAddCmd())
	cmd.AddCommand(newUserGrantCmd())
	cmd.AddCommand(newUserShowCmd())
	return cmd
}

func newUserAddCmd() *cobra.Command {
	var (
		configPath string
		name       string
		credits    int
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			st, err := openStack(ctx, configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer st.close()
			u, err := st.chats.CreateUser(ctx, name)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created user %s (%s)\n", u.ID, u.Name)
			if credits > 0 {
				bal, err := st.ledger.Credit(ctx, u.ID, credits, models.CreditReasonGrant)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Balance: %d credits\n", bal)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	cmd.Flags().StringVar(&name, "name", "", "display name (required)")
	cmd.Flags().IntVar(&credits, "credits", 0, "starting credits")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newUserGrantCmd() *cobra.Command {
	var (
		configPath string
		reason     string
	)

	cmd := &cobra.Command{
		Use:   "grant <user-id> <credits>",
		Short: "Add credits to a user's balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("credits must be a number: %w", err)
			}
			switch reason {
			case models.CreditReasonGrant, models.CreditReasonPurchase, models.CreditReasonRefund:
			default:
				return fmt.Errorf("reason %q is not one of grant, purchase, refund", reason)
			}

			ctx := context.Background()
			st, err := openStack(ctx, configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer st.close()
			bal, err := st.ledger.Credit(ctx, args[0], n, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %d credits to %s; balance %d\n", n, args[0], bal)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	cmd.Flags().StringVar(&reason, "reason", models.CreditReasonGrant, "grant, purchase or refund")
	return cmd
}

func newUserShowCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show a user's balance and recent credit history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			st, err := openStack(ctx, configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer st.close()
			bal, err := st.ledger.Balance(ctx, args[0])
			if err != nil {
				return err
			}
			txs, err := st.ledger.Transactions(ctx, args[0], limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Balance: %d credits\n", bal)
			if len(txs) == 0 {
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "\nWHEN\tDELTA\tBALANCE\tREASON")
			for _, tx := range txs {
				fmt.Fprintf(w, "%s\t%+d\t%d\t%s\n", tx.CreatedAt.Format(time.RFC3339), tx.Delta, tx.BalanceAfter, tx.Reason)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of transactions to show")
	return cmd
}

func newPersonaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "persona",
		Short: "Manage personas",
	}

	var (
		configPath string
		name       string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a persona",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			st, err := openStack(ctx, configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer st.close()
			p, err := st.chats.CreatePersona(ctx, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created persona %s (%s)\n", p.ID, p.Name)
			return nil
		},
	}
	add.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	add.Flags().StringVar(&name, "name", "", "display name (required)")
	add.MarkFlagRequired("name")

	cmd.AddCommand(add)
	return cmd
}
