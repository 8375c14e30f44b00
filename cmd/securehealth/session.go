package main

import (
	"fmt"
	"io"
	"net/http"

	v1 "github.com/dmehra2102/prod-golang-projects/securehealth/internal/handler/v1"
	"github.com/spf13/cobra"
)

func sessionCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or change the server's wallet session",
	}

	printSession := func(s v1.SessionResponse) error {
		return render(opts, s, func(w io.Writer) {
			if !s.SignedIn || s.Profile == nil {
				fmt.Fprintln(w, "Signed in:\tno")
				return
			}
			role := string(s.Profile.Role)
			if s.Profile.RoleDefaulted {
				role += " (defaulted)"
			}
			fmt.Fprintln(w, "Signed in:\tyes")
			fmt.Fprintf(w, "Principal:\t%s\n", s.Profile.Principal)
			fmt.Fprintf(w, "Name:\t%s\n", s.Profile.DisplayName())
			fmt.Fprintf(w, "Role:\t%s\n", role)
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the signed-in profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			var s v1.SessionResponse
			if err := newAPIClient(opts).getJSON(cmd.Context(), "/session", &s); err != nil {
				return err
			}
			return printSession(s)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "connect",
		Short: "Sign in with the configured wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			var s v1.SessionResponse
			if _, _, err := newAPIClient(opts).postJSON(cmd.Context(), "/session/connect", nil, &s); err != nil {
				return err
			}
			return printSession(s)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "signout",
		Short: "End the wallet session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := newAPIClient(opts).call(cmd.Context(), http.MethodDelete, "/session", nil, "", nil); err != nil {
				return err
			}
			fmt.Println("Signed out.")
			return nil
		},
	})

	return cmd
}
