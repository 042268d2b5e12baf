package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/nexston/bekola-backend/internal/app"
	"github.com/nexston/bekola-backend/internal/services"
)

func newSweepCertificatesCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "sweep-certificates",
		Short: "Email and file every pending certificate that has become eligible",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(runCtx context.Context, a *app.App) error {
				res, err := a.Services.Certificates.SweepPending(runCtx)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Checked %d, finalized %d, failed %d\n", res.Checked, res.Finalized, res.Failed)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")
	return cmd
}

func newPendingCertificatesCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "pending-certificates",
		Short: "List certificate requests waiting for eligibility",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(runCtx context.Context, a *app.App) error {
				pending, err := a.Services.Certificates.ListPending(runCtx)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, pending)
				}
				out := cmd.OutOrStdout()
				if len(pending) == 0 {
					fmt.Fprintln(out, "No pending certificates")
					return nil
				}
				fmt.Fprintln(out, renderPending(tableStyle(out), pending, time.Now().UTC()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the list as JSON")
	return cmd
}

func renderPending(style table.Style, pending []*services.PendingCertificate, now time.Time) string {
	headers := []string{"Reference", "Email", "Course", "Requested", "Eligible"}
	rows := make([][]string, 0, len(pending))
	for _, p := range pending {
		rows = append(rows, []string{
			p.ReferenceNo,
			p.Email,
			p.CourseTitle,
			p.RequestedAt.Format("2006-01-02"),
			eligibleLabel(p.EligibleAt, now),
		})
	}
	return renderTable(style, headers, rows, nil)
}

func eligibleLabel(at *time.Time, now time.Time) string {
	switch {
	case at == nil:
		return "no payment date"
	case !at.After(now):
		return "now"
	default:
		return at.Format("2006-01-02") + " (" + humanize.RelTime(*at, now, "ago", "from now") + ")"
	}
}
