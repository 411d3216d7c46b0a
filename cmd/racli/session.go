package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/RegistryAccord/registryaccord-cli-go/internal/errs"
)

var sessionAudience string

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Obtain session tokens via the nonce-challenge flow",
}

var sessionNonceCmd = &cobra.Command{
	Use:   "nonce",
	Short: "Request a single-use challenge nonce",
	Long: "Requests a nonce bound to the local DID and the target audience. " +
		"The nonce is printed so the exchange can be audited; pass it to `racli session issue`.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		id, ok, err := a.keys.LoadIdentity()
		if err != nil {
			return err
		}
		if !ok {
			return errs.New(errs.KindAuth, "no identity configured; run `racli identity create` first")
		}

		challenge, err := a.protocol.RequestNonce(cmd.Context(), id.DID, sessionAudience)
		if err != nil {
			return err
		}
		cmd.Printf("nonce: %s\n", challenge.Nonce)
		cmd.Printf("expiresAt: %s\n", challenge.ExpiresAt)
		return nil
	},
}

var sessionIssueCmd = &cobra.Command{
	Use:   "issue <nonce>",
	Short: "Sign a nonce and exchange it for a session token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		sess, err := a.protocol.SignAndIssue(cmd.Context(), sessionAudience, args[0])
		if err != nil {
			return err
		}
		cmd.Printf("audience: %s\n", sess.Audience)
		cmd.Printf("subject: %s\n", sess.SubjectDID)
		cmd.Printf("expiry: %s\n", sess.Expiry.Format(time.RFC3339))
		cmd.Printf("stored: %s\n", a.keys.SessionPath())
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the local identity and cached session state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		st, err := a.protocol.WhoAmI(sessionAudience)
		if err != nil {
			return err
		}
		cmd.Printf("did: %s\n", st.DID)
		cmd.Printf("audience: %s\n", st.Audience)
		if !st.HasSession {
			cmd.Println("session: none")
			return nil
		}
		if st.SessionActive {
			cmd.Println("session: active")
		} else {
			cmd.Println("session: expired")
		}
		cmd.Printf("expiry: %s\n", st.Expiry.Format(time.RFC3339))
		if st.Issuer != "" {
			cmd.Printf("issuer: %s\n", st.Issuer)
		}
		if st.Subject != "" {
			cmd.Printf("subject: %s\n", st.Subject)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{sessionNonceCmd, sessionIssueCmd, whoamiCmd} {
		c.Flags().StringVar(&sessionAudience, "aud", "cdv", "audience the session is issued for")
	}
	sessionCmd.AddCommand(sessionNonceCmd)
	sessionCmd.AddCommand(sessionIssueCmd)
}
