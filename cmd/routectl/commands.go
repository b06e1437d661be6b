package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/refset/desk-routing/internal/routing"
	"github.com/refset/desk-routing/internal/store"
)

func newInboundCommand(c *cli) *cobra.Command {
	var (
		payloadB64 string
		msg        routing.InboundMessage
	)
	cmd := &cobra.Command{
		Use:   "inbound",
		Short: "Process a new inbound client message",
		Long: `Routes one inbound message and prints the decision as JSON.
The message comes either from flags or from --payload-b64, a base64-encoded
JSON object with from_email, subject, body, message_id and channel.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if payloadB64 != "" {
				decoded, err := parsePayload(payloadB64)
				if err != nil {
					return err
				}
				msg = decoded
			}
			if msg.FromEmail == "" {
				return errors.New("--from-email is required when --payload-b64 is not used")
			}

			ctx := cmd.Context()
			eng, err := c.engine(ctx)
			if err != nil {
				return err
			}
			res, err := eng.ProcessInbound(ctx, msg)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&payloadB64, "payload-b64", "", "Base64-encoded JSON payload")
	cmd.Flags().StringVar(&msg.FromEmail, "from-email", "", "Sender address")
	cmd.Flags().StringVar(&msg.Subject, "subject", "", "Message subject")
	cmd.Flags().StringVar(&msg.Body, "body", "", "Message body")
	cmd.Flags().StringVar(&msg.MessageID, "message-id", "", "External message id (generated when empty)")
	cmd.Flags().StringVar(&msg.Channel, "channel", "EMAIL", "Inbound channel")
	return cmd
}

func parsePayload(b64 string) (routing.InboundMessage, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return routing.InboundMessage{}, fmt.Errorf("decode --payload-b64: %w", err)
	}
	var msg routing.InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return routing.InboundMessage{}, fmt.Errorf("parse --payload-b64: %w", err)
	}
	return msg, nil
}

func newStatusCommand(c *cli) *cobra.Command {
	var ref string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Fetch ticket status and decision path",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := c.engine(ctx)
			if err != nil {
				return err
			}
			status, err := eng.GetTicketStatus(ctx, ref)
			if errors.Is(err, routing.ErrTicketNotFound) {
				if perr := printJSON(cmd.OutOrStdout(), map[string]any{"ok": false, "error": "ticket_not_found"}); perr != nil {
					return perr
				}
				return err
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
	cmd.Flags().StringVar(&ref, "ticket-ref", "", "Ticket reference, e.g. TCK000001")
	cmd.MarkFlagRequired("ticket-ref")
	return cmd
}

func newLoadsCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "loads",
		Short: "Show open-ticket load per active agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := c.engine(ctx)
			if err != nil {
				return err
			}
			loads, err := eng.AgentLoads(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), loads)
		},
	}
}

func newAuditCommand(c *cli) *cobra.Command {
	var (
		after int64
		limit int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print routing trace steps after a trace id",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := c.openStore(ctx)
			if err != nil {
				return err
			}
			events, err := st.AuditEventsAfter(ctx, after, limit)
			if err != nil {
				return err
			}
			if events == nil {
				events = []routing.AuditEvent{}
			}
			return printJSON(cmd.OutOrStdout(), events)
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "Only steps with a larger trace id")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of steps")
	return cmd
}

func newMigrateCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := c.openStore(ctx)
			if err != nil {
				return err
			}
			if err := st.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema applied (%s)\n", c.cfg.Database.Driver)
			return nil
		},
	}
}

func newSeedCommand(c *cli) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load desks, agents, clients and account data",
		Long: `Loads reference data from a YAML dataset, or the built-in demo dataset when
--file is not given. Existing rows are left untouched, so seeding twice is safe.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := store.LoadDataset(file)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := c.openStore(ctx)
			if err != nil {
				return err
			}
			if err := st.Seed(ctx, ds); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d desks, %d agents, %d clients\n",
				len(ds.Desks), len(ds.Agents), len(ds.Clients))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Dataset YAML (default: built-in demo data)")
	return cmd
}
