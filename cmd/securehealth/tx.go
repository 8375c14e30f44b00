package main

import (
	"fmt"
	"io"
	"net/url"

	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	v1 "github.com/dmehra2102/prod-golang-projects/securehealth/internal/handler/v1"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/service"
	"github.com/spf13/cobra"
)

func txCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "Follow submitted transactions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "wait <tx-id>",
		Short: "Poll a transaction until it settles or the poll budget runs out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var tx v1.TransactionResponse
			if err := newAPIClient(opts).getJSON(cmd.Context(), "/transactions/"+url.PathEscape(args[0]), &tx); err != nil {
				return err
			}
			if tx.Settlement == nil {
				return fmt.Errorf("server returned no settlement for %s", args[0])
			}
			return render(opts, tx, func(w io.Writer) {
				fmt.Fprintf(w, "Transaction:\t%s\n", tx.TxID)
				fmt.Fprintf(w, "Status:\t%s\n", tx.Status)
				fmt.Fprintf(w, "Polls:\t%d\n", tx.Attempts)
				fmt.Fprintf(w, "Result:\t%s\n", orDash(tx.Result))
				if tx.ErrorKind != "" {
					fmt.Fprintf(w, "Error:\t%s\n", tx.ErrorKind)
				}
				if tx.Status == domain.SettlementTimeout {
					fmt.Fprintln(w, "Outcome unknown; check contract state before resubmitting.")
				}
			})
		},
	})

	return cmd
}

func dashboardCmd(opts *globalOptions) *cobra.Command {
	var patients []string
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show the role-scoped landing view of the signed-in wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			for _, p := range patients {
				q.Add("patient", p)
			}
			path := "/dashboard"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			var d service.Dashboard
			if err := newAPIClient(opts).getJSON(cmd.Context(), path, &d); err != nil {
				return err
			}
			return render(opts, d, func(w io.Writer) {
				if d.Profile != nil {
					fmt.Fprintf(w, "%s\t(%s)\n", d.Profile.DisplayName(), d.Profile.Role)
				}
				for _, p := range d.Patients {
					fmt.Fprintf(w, "\nPatient %s\n", p.PatientID)
					if p.Error != "" {
						fmt.Fprintf(w, "  unavailable:\t%s\n", p.Error)
						continue
					}
					if p.Records != nil {
						fmt.Fprintf(w, "  records:\t%d%s\n", len(p.Records.Value.Entries), speculative(p.Records.Speculative))
					}
					for _, a := range p.Access {
						fmt.Fprintf(w, "  %s:\t%s%s\n", a.Value.Requester.Short(), a.Value.Status, speculative(a.Speculative))
					}
				}
				for _, p := range d.Providers {
					fmt.Fprintf(w, "\nPatient %s\n", p.PatientID)
					if p.Error != "" {
						fmt.Fprintf(w, "  unavailable:\t%s\n", p.Error)
						continue
					}
					if p.Request != nil {
						fmt.Fprintf(w, "  access:\t%s%s\n", p.Request.Value.Status, speculative(p.Request.Speculative))
					}
					if p.Records != nil {
						fmt.Fprintf(w, "  records:\t%d\n", len(p.Records.Value.Entries))
					}
				}
			})
		},
	}
	cmd.Flags().StringArrayVar(&patients, "patient", nil, "Also watch this patient id (repeatable)")
	return cmd
}

func speculative(s bool) string {
	if s {
		return " (pending confirmation)"
	}
	return ""
}
