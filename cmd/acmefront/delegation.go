package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/acmefront/app/acmefront"
	"github.com/dmitrymomot/acmefront/internal/delegation"
)

var errDelegationDisabled = errors.New("dns delegation is not configured")

type delegationView struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	Source    string `json:"source"`
	Target    string `json:"target"`
	Valid     bool   `json:"valid"`
	LastError string `json:"last_error,omitempty"`
}

func newDelegationView(d *delegation.Delegation) delegationView {
	return delegationView{
		ID:        d.ID,
		UserID:    d.UserID,
		Source:    d.Source(),
		Target:    d.TargetFQDN,
		Valid:     d.Valid,
		LastError: d.LastError,
	}
}

func delegationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delegation",
		Short: "Manage DNS challenge delegations",
	}
	cmd.AddCommand(delegationBindCommand(), delegationCheckCommand())
	return cmd
}

func delegationBindCommand() *cobra.Command {
	var (
		userID int64
		domain string
		prefix string
	)
	cmd := &cobra.Command{
		Use:   "bind",
		Short: "Create or reuse the CNAME target for a customer zone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *acmefront.App) error {
				svc := app.Delegation()
				if svc == nil {
					return errDelegationDisabled
				}
				d, err := svc.Bind(ctx, userID, domain, prefix)
				if err != nil {
					return err
				}
				return printJSON(cmd, newDelegationView(d))
			})
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "owning user id")
	cmd.Flags().StringVar(&domain, "domain", "", "customer zone, e.g. example.com")
	cmd.Flags().StringVar(&prefix, "prefix", "", "label under the zone (default _acme-challenge)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("domain")
	return cmd
}

func delegationCheckCommand() *cobra.Command {
	var (
		userID int64
		domain string
		prefix string
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the customer CNAME of a bound delegation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *acmefront.App) error {
				svc := app.Delegation()
				if svc == nil {
					return errDelegationDisabled
				}
				d, err := svc.Match(ctx, userID, domain, prefix)
				if err != nil {
					return err
				}
				cerr := svc.Check(ctx, d)
				if err := printJSON(cmd, newDelegationView(d)); err != nil {
					return err
				}
				return cerr
			})
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "owning user id")
	cmd.Flags().StringVar(&domain, "domain", "", "identifier covered by the delegation")
	cmd.Flags().StringVar(&prefix, "prefix", "", "label under the zone (default _acme-challenge)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("domain")
	return cmd
}
