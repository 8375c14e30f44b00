package main

import (
	"fmt"
	"io"
	"net/url"

	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain/access"
	v1 "github.com/dmehra2102/prod-golang-projects/securehealth/internal/handler/v1"
	"github.com/spf13/cobra"
)

func accessCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "access",
		Short: "Request, grant and revoke access to a patient's records",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "request <patient-id>",
		Short: "Ask the patient for access as the signed-in provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res v1.MutationResponse
			status, msg, err := newAPIClient(opts).postJSON(cmd.Context(), requestsPath(args[0]), nil, &res)
			if err != nil {
				return err
			}
			return printMutation(opts, status, msg, "Access requested for "+res.PatientID, res.Outcome, res)
		},
	})

	for _, decision := range []struct{ verb, done string }{
		{"grant", "Granted"},
		{"revoke", "Revoked"},
	} {
		cmd.AddCommand(&cobra.Command{
			Use:   decision.verb + " <patient-id> <provider-principal>",
			Short: decision.done + " a provider's access, as the patient's owner",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				var res v1.MutationResponse
				path := requestsPath(args[0]) + "/" + url.PathEscape(args[1]) + "/" + decision.verb
				status, msg, err := newAPIClient(opts).postJSON(cmd.Context(), path, nil, &res)
				if err != nil {
					return err
				}
				return printMutation(opts, status, msg, decision.done+" access for "+res.Subject, res.Outcome, res)
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status <patient-id> <provider-principal>",
		Short: "Show the access request of a provider",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r access.Request
			path := requestsPath(args[0]) + "/" + url.PathEscape(args[1])
			if err := newAPIClient(opts).getJSON(cmd.Context(), path, &r); err != nil {
				return err
			}
			return render(opts, r, func(w io.Writer) {
				fmt.Fprintf(w, "Patient:\t%s\n", r.PatientID)
				fmt.Fprintf(w, "Requester:\t%s\n", r.Requester)
				fmt.Fprintf(w, "Status:\t%s\n", r.Status)
				if r.Status != access.StatusNone {
					fmt.Fprintf(w, "Requested at:\tblock %d\n", r.RequestedAt)
				}
				if r.UpdatedAt != nil {
					fmt.Fprintf(w, "Updated at:\tblock %d\n", *r.UpdatedAt)
				}
			})
		},
	})

	return cmd
}

func requestsPath(patientID string) string {
	return "/patients/" + url.PathEscape(patientID) + "/access-requests"
}
