package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/history"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Inspect and manage chats",
	}

	cmd.AddCommand(newChatOpenCmd())
	cmd.AddCommand(newChatCloseCmd())
	cmd.AddCommand(newChatReassignCmd())
	cmd.AddCommand(newChatShowCmd())
	cmd.AddCommand(newChatEscalatedCmd())
	return cmd
}

func newChatOpenCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		personaID  string
	)

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open a chat between a user and a persona",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			st, err := openStack(ctx, configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer st.close()
			c, created, err := st.chats.Open(ctx, userID, personaID)
			if err != nil {
				return err
			}
			verb := "Reusing"
			if created {
				verb = "Opened"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s chat %s (%s)\n", verb, c.ID, c.State())
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	cmd.Flags().StringVar(&userID, "user", "", "user ID (required)")
	cmd.Flags().StringVar(&personaID, "persona", "", "persona ID (required)")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("persona")
	return cmd
}

func newChatCloseCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "close <chat-id>",
		Short: "Close a chat, releasing its operator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			st, err := openStack(ctx, configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer st.close()
			if _, err := st.chats.Close(ctx, args[0], ""); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Chat %s closed\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	return cmd
}

func newChatReassignCmd() *cobra.Command {
	var (
		configPath string
		adminID    string
		to         string
		reason     string
	)

	cmd := &cobra.Command{
		Use:   "reassign <chat-id>",
		Short: "Move a chat to another operator (admin)",
		Long:  "Releases the current holder, if any, and binds the chat to --to. Escalated chats are accepted and their flag is cleared.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			st, err := openStack(ctx, configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer st.close()
			rel, err := st.recovery.AdminReassign(ctx, args[0], adminID, to, reason)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if rel.OperatorID != "" {
				fmt.Fprintf(out, "Released chat %s from %s\n", args[0], rel.OperatorID)
			}
			fmt.Fprintf(out, "Chat %s assigned to %s\n", args[0], to)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	cmd.Flags().StringVar(&adminID, "admin", "", "acting admin operator ID (required)")
	cmd.Flags().StringVar(&to, "to", "", "operator to assign the chat to (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "optional note recorded with the reassignment")
	cmd.MarkFlagRequired("admin")
	cmd.MarkFlagRequired("to")
	return cmd
}

func newChatShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <chat-id>",
		Short: "Show a chat and its assignment history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			st, err := openStack(ctx, configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer st.close()
			c, err := st.chats.Get(ctx, args[0])
			if err != nil {
				return err
			}
			recs, err := history.ForChat(ctx, st.db, c.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Chat:      %s\n", c.ID)
			fmt.Fprintf(out, "User:      %s\n", c.RealUserID)
			fmt.Fprintf(out, "Persona:   %s\n", c.PersonaID)
			fmt.Fprintf(out, "State:     %s\n", c.State())
			fmt.Fprintf(out, "Messages:  %d\n", c.MessageCount)
			if c.AssignedOperatorID != nil {
				fmt.Fprintf(out, "Operator:  %s since %s\n", *c.AssignedOperatorID, c.AssignmentTime.Format(time.RFC3339))
			}
			if len(recs) == 0 {
				return nil
			}

			fmt.Fprintln(out, "\nAssignments:")
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for _, r := range recs {
				released := "-"
				if r.ReleasedAt != nil {
					released = r.ReleasedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
					r.OperatorID, r.AssignedAt.Format(time.RFC3339), r.AssignReason, released, r.ReleaseReason)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	return cmd
}

func newChatEscalatedCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "escalated",
		Short: "List chats waiting for an admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			st, err := openStack(ctx, configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer st.close()
			chats, err := st.recovery.Escalated(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(chats) == 0 {
				fmt.Fprintln(out, "No escalated chats.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CHAT\tUSER\tLAST OPERATOR\tESCALATED")
			for _, c := range chats {
				last, at := "-", "-"
				if c.LastOperatorID != nil {
					last = *c.LastOperatorID
				}
				if c.EscalatedAt != nil {
					at = c.EscalatedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.RealUserID, last, at)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	return cmd
}
