package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/acmefront/app/acmefront"
	"github.com/dmitrymomot/acmefront/core/jws"
	"github.com/dmitrymomot/acmefront/internal/fulfillment"
)

type orderView struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	ProductID string `json:"product_id"`
	Period    int    `json:"period"`
	Amount    int64  `json:"amount"`
	EABKeyID  string `json:"eab_kid"`
	EABHMAC   string `json:"eab_hmac"`
	EABUsed   bool   `json:"eab_used"`
}

type certView struct {
	ID          int64                    `json:"id"`
	OrderID     int64                    `json:"order_id"`
	Action      fulfillment.CertAction   `json:"action"`
	Channel     fulfillment.Channel      `json:"channel"`
	Status      fulfillment.Status       `json:"status"`
	Vendor      string                   `json:"vendor"`
	VendorID    string                   `json:"vendor_id,omitempty"`
	DCVMethod   string                   `json:"dcv_method"`
	Identifiers []string                 `json:"identifiers"`
	Validation  []fulfillment.Validation `json:"validation,omitempty"`
	Serial      string                   `json:"serial,omitempty"`
	NotAfter    *time.Time               `json:"not_after,omitempty"`
	Amount      int64                    `json:"amount"`
}

func newOrderView(o *fulfillment.Order) orderView {
	return orderView{
		ID:        o.ID,
		UserID:    o.UserID,
		ProductID: o.ProductID,
		Period:    o.Period,
		Amount:    o.Amount,
		EABKeyID:  o.EABKeyID,
		EABHMAC:   jws.EncodeSegment(o.EABHMAC),
		EABUsed:   o.EABUsedAt != nil,
	}
}

func newCertView(c *fulfillment.Cert) *certView {
	if c == nil {
		return nil
	}
	return &certView{
		ID:          c.ID,
		OrderID:     c.OrderID,
		Action:      c.Action,
		Channel:     c.Channel,
		Status:      c.Status,
		Vendor:      c.Vendor,
		VendorID:    c.VendorID,
		DCVMethod:   c.DCVMethod,
		Identifiers: c.Identifiers,
		Validation:  c.Validation,
		Serial:      c.Serial,
		NotAfter:    c.NotAfter,
		Amount:      c.Amount,
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orderID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid order id %q", arg)
	}
	return id, nil
}

// orderAction builds a subcommand taking one order id and printing the
// resulting cert.
func orderAction(use, short string, actor *string, fn func(ctx context.Context, e *fulfillment.Engine, id int64, actor string) (*fulfillment.Cert, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ORDER_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := orderID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, app *acmefront.App) error {
				c, err := fn(ctx, app.Engine(), id, *actor)
				if err != nil {
					return err
				}
				return printJSON(cmd, newCertView(c))
			})
		},
	}
}

func orderCommand() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Manage business orders outside ACME",
	}
	cmd.PersistentFlags().StringVar(&actor, "actor", "operator", "actor recorded for the duplicate-submission guard")

	cmd.AddCommand(
		orderNewCommand(&actor),
		orderShowCommand(),
		orderAction("pay", "Mark the order paid and schedule its submission", &actor,
			func(ctx context.Context, e *fulfillment.Engine, id int64, actor string) (*fulfillment.Cert, error) {
				return e.Pay(ctx, id, actor)
			}),
		orderAction("commit", "Submit the pending cert to the CA now", &actor,
			func(ctx context.Context, e *fulfillment.Engine, id int64, actor string) (*fulfillment.Cert, error) {
				return e.Commit(ctx, id, actor)
			}),
		orderAction("sync", "Pull the CA state of the latest cert, bypassing the throttle", &actor,
			func(ctx context.Context, e *fulfillment.Engine, id int64, _ string) (*fulfillment.Cert, error) {
				return e.Sync(ctx, id, true)
			}),
		orderAction("revalidate", "Ask the CA to re-check domain control", &actor,
			func(ctx context.Context, e *fulfillment.Engine, id int64, actor string) (*fulfillment.Cert, error) {
				return e.Revalidate(ctx, id, actor)
			}),
		orderAction("cancel", "Cancel the latest cert, deferred once submitted", &actor,
			func(ctx context.Context, e *fulfillment.Engine, id int64, actor string) (*fulfillment.Cert, error) {
				return e.CommitCancel(ctx, id, actor)
			}),
		orderAction("revoke-cancel", "Undo a scheduled cancellation", &actor,
			func(ctx context.Context, e *fulfillment.Engine, id int64, actor string) (*fulfillment.Cert, error) {
				return e.RevokeCancel(ctx, id, actor)
			}),
		orderRenewCommand(&actor),
		orderReissueCommand(&actor),
		orderRevokeCommand(&actor),
		orderDCVCommand(&actor),
	)
	return cmd
}

func orderNewCommand(actor *string) *cobra.Command {
	var p fulfillment.NewParams
	var channel string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create an order with its first unpaid cert",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p.Channel = fulfillment.Channel(channel)
			p.Actor = *actor
			return withApp(cmd, func(ctx context.Context, app *acmefront.App) error {
				o, c, err := app.Engine().New(ctx, p)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"order": newOrderView(o), "cert": newCertView(c)})
			})
		},
	}
	f := cmd.Flags()
	f.Int64Var(&p.UserID, "user", 0, "owning user id")
	f.StringVar(&p.ProductID, "product", "default", "catalog product id")
	f.IntVar(&p.Period, "period", 0, "validity in months (default: product default)")
	f.StringVar(&p.Contact, "contact", "", "notification e-mail")
	f.StringVar(&p.Organization, "organization", "", "organization name")
	f.StringSliceVar(&p.Identifiers, "identifier", nil, "domain name, repeatable")
	f.StringVar(&p.DCVMethod, "dcv", "", "validation method (default: product default)")
	f.StringVar(&channel, "channel", string(fulfillment.ChannelACME), "fulfillment channel: acme or api")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func orderShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show ORDER_ID",
		Short: "Print the order and its cert history, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := orderID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, app *acmefront.App) error {
				o, err := app.Engine().Order(ctx, id)
				if err != nil {
					return err
				}
				history, err := app.Engine().History(ctx, id)
				if err != nil {
					return err
				}
				certs := make([]*certView, 0, len(history))
				for i := range history {
					certs = append(certs, newCertView(&history[i]))
				}
				return printJSON(cmd, map[string]any{"order": newOrderView(o), "certs": certs})
			})
		},
	}
}

func orderRenewCommand(actor *string) *cobra.Command {
	var p fulfillment.RenewParams
	cmd := &cobra.Command{
		Use:   "renew ORDER_ID",
		Short: "Supersede the active or expired cert with a new unpaid one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := orderID(args[0])
			if err != nil {
				return err
			}
			p.Actor = *actor
			return withApp(cmd, func(ctx context.Context, app *acmefront.App) error {
				c, err := app.Engine().Renew(ctx, id, p)
				if err != nil {
					return err
				}
				return printJSON(cmd, newCertView(c))
			})
		},
	}
	cmd.Flags().IntVar(&p.Period, "period", 0, "validity in months (default: order period)")
	cmd.Flags().StringSliceVar(&p.Identifiers, "identifier", nil, "domain name, repeatable (default: current names)")
	return cmd
}

func orderReissueCommand(actor *string) *cobra.Command {
	var p fulfillment.ReissueParams
	var channel string
	cmd := &cobra.Command{
		Use:   "reissue ORDER_ID",
		Short: "Supersede the active cert with a new pending one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := orderID(args[0])
			if err != nil {
				return err
			}
			p.Actor = *actor
			p.Channel = fulfillment.Channel(channel)
			return withApp(cmd, func(ctx context.Context, app *acmefront.App) error {
				c, err := app.Engine().Reissue(ctx, id, p)
				if err != nil {
					return err
				}
				return printJSON(cmd, newCertView(c))
			})
		},
	}
	cmd.Flags().StringSliceVar(&p.Identifiers, "identifier", nil, "domain name, repeatable (default: current names)")
	cmd.Flags().StringVar(&p.DCVMethod, "dcv", "", "validation method (default: current method)")
	cmd.Flags().StringVar(&channel, "channel", string(fulfillment.ChannelAPI), "fulfillment channel: acme or api")
	return cmd
}

func orderRevokeCommand(actor *string) *cobra.Command {
	var reason int
	cmd := &cobra.Command{
		Use:   "revoke ORDER_ID",
		Short: "Revoke the issued cert of the order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := orderID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, app *acmefront.App) error {
				c, err := app.Engine().Revoke(ctx, id, reason, *actor)
				if err != nil {
					return err
				}
				return printJSON(cmd, newCertView(c))
			})
		},
	}
	cmd.Flags().IntVar(&reason, "reason", 0, "RFC 5280 revocation reason code")
	return cmd
}

func orderDCVCommand(actor *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dcv ORDER_ID METHOD",
		Short: "Switch the validation method of the latest cert",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := orderID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, app *acmefront.App) error {
				c, err := app.Engine().UpdateDCV(ctx, id, args[1], *actor)
				if err != nil {
					return err
				}
				return printJSON(cmd, newCertView(c))
			})
		},
	}
}
