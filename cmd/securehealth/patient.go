package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain/patient"
	v1 "github.com/dmehra2102/prod-golang-projects/securehealth/internal/handler/v1"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/service"
	"github.com/spf13/cobra"
)

func patientCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patient",
		Short: "Register and inspect patients",
	}

	var req v1.RegisterPatientRequest
	register := &cobra.Command{
		Use:     "register",
		Short:   "Register a patient owned by the signed-in wallet",
		Example: `  securehealth patient register --id alice-123 --name Alice --dob 1990-01-01 --blood O+`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var res v1.MutationResponse
			status, msg, err := newAPIClient(opts).postJSON(cmd.Context(), "/patients", req, &res)
			if err != nil {
				return err
			}
			return printMutation(opts, status, msg, "Registered patient "+res.PatientID, res.Outcome, res)
		},
	}
	register.Flags().StringVar(&req.PatientID, "id", "", "Patient id (required)")
	register.Flags().StringVar(&req.Name, "name", "", "Full name (required)")
	register.Flags().StringVar(&req.DateOfBirth, "dob", "", "Date of birth, YYYY-MM-DD (required)")
	register.Flags().StringVar(&req.BloodType, "blood", "", "Blood type: "+bloodTypeList()+" (required)")
	for _, f := range []string{"id", "name", "dob", "blood"} {
		_ = register.MarkFlagRequired(f)
	}
	cmd.AddCommand(register)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <patient-id>",
		Short: "Show the on-chain header of a patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var h patient.Header
			if err := newAPIClient(opts).getJSON(cmd.Context(), "/patients/"+url.PathEscape(args[0]), &h); err != nil {
				return err
			}
			return render(opts, h, func(w io.Writer) {
				fmt.Fprintf(w, "Patient:\t%s\n", h.PatientID)
				fmt.Fprintf(w, "Name:\t%s\n", h.Name)
				fmt.Fprintf(w, "Date of birth:\t%s\n", h.DateOfBirth.Format("2006-01-02"))
				fmt.Fprintf(w, "Blood type:\t%s\n", h.BloodType)
				fmt.Fprintf(w, "Owner:\t%s\n", h.Owner)
				fmt.Fprintf(w, "Record hash:\t%s\n", orDash(h.RecordHash))
				fmt.Fprintf(w, "Last updated:\tblock %d\n", h.LastUpdated)
				fmt.Fprintf(w, "Active:\t%t\n", h.IsActive)
			})
		},
	})

	var limit int
	audit := &cobra.Command{
		Use:   "audit <patient-id>",
		Short: "Show who read or changed a patient's records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var trail []domain.AuditLog
			path := "/patients/" + url.PathEscape(args[0]) + "/audit?limit=" + strconv.Itoa(limit)
			if err := newAPIClient(opts).getJSON(cmd.Context(), path, &trail); err != nil {
				return err
			}
			return render(opts, trail, func(w io.Writer) {
				fmt.Fprintln(w, "TIME\tPRINCIPAL\tACTION\tSUBJECT\tOUTCOME")
				for _, e := range trail {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						e.OccurredAt.Format("2006-01-02 15:04:05"),
						domain.Principal(e.Principal).Short(),
						e.Action, orDash(e.Subject), e.Outcome)
				}
			})
		},
	}
	audit.Flags().IntVar(&limit, "limit", 50, "Maximum entries to show")
	cmd.AddCommand(audit)

	return cmd
}

// printMutation reports a settled mutation. HTTP 202 means the outcome is unknown.
func printMutation(opts *globalOptions, status int, message, done string, out *service.Outcome, v any) error {
	return render(opts, v, func(w io.Writer) {
		if status == http.StatusAccepted {
			fmt.Fprintf(w, "Outcome unknown:\t%s\n", message)
		} else {
			fmt.Fprintln(w, done+".")
		}
		if out == nil {
			return
		}
		if out.Transaction != nil {
			fmt.Fprintf(w, "Transaction:\t%s\n", out.Transaction.TxID)
		}
		if out.Settlement != nil {
			fmt.Fprintf(w, "Settlement:\t%s after %d polls\n", out.Settlement.Status, out.Settlement.Attempts)
		}
		if out.Confirmed {
			fmt.Fprintln(w, "Confirmed:\tby re-reading contract state")
		}
	})
}

func bloodTypeList() string {
	names := make([]string, len(patient.BloodTypes))
	for i, b := range patient.BloodTypes {
		names[i] = string(b)
	}
	return strings.Join(names, ", ")
}
