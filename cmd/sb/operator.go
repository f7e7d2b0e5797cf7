package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/operator"
)

func newOperatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operator",
		Short: "Manage operators",
	}

	cmd.AddCommand(newOperatorAddCmd())
	cmd.AddCommand(newOperatorListCmd())
	cmd.AddCommand(newOperatorDeactivateCmd())
	return cmd
}

func newOperatorAddCmd() *cobra.Command {
	var (
		configPath string
		id         string
		name       string
		role       string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an operator",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			st, err := openStack(ctx, configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer st.close()
			op, err := st.operators.Register(ctx, operator.RegisterOpts{ID: id, Name: name, Role: role})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s %s (%s)\n", op.Role, op.ID, op.Name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	cmd.Flags().StringVar(&id, "id", "", "operator ID (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "display name (required)")
	cmd.Flags().StringVar(&role, "role", "operator", "role: operator or admin")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newOperatorListCmd() *cobra.Command {
	var (
		configPath string
		active     bool
		available  bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List operators",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			st, err := openStack(ctx, configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer st.close()
			ops, err := st.operators.List(ctx, operator.ListFilter{ActiveOnly: active, AvailableOnly: available})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(ops) == 0 {
				fmt.Fprintln(out, "No operators found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tROLE\tACTIVE\tAVAILABLE\tMESSAGES")
			for _, op := range ops {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%d\n",
					op.ID, op.Name, op.Role, op.IsActive, op.IsAvailable, op.TotalMessages)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	cmd.Flags().BoolVar(&active, "active", false, "only active operators")
	cmd.Flags().BoolVar(&available, "available", false, "only available operators")
	return cmd
}

func newOperatorDeactivateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "deactivate <operator-id>",
		Short: "Deactivate an operator and release any chat they hold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			st, err := openStack(ctx, configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer st.close()
			rel, err := st.operators.Deactivate(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Operator %s deactivated\n", args[0])
			if rel != nil {
				fmt.Fprintf(out, "Released chat %s back to the waiting pool\n", rel.ChatID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	return cmd
}
