package main

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RegistryAccord/registryaccord-cli-go/internal/errs"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/signing"
)

var identityForce bool

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage the local Ed25519 identity",
}

var identityCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Generate a keypair and derive its DID",
	Long: "Generates an Ed25519 keypair, derives the DID and stores both under the config directory. " +
		"Refuses to overwrite an existing identity unless --force is given.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		_, exists, err := a.keys.LoadIdentity()
		if err != nil {
			return err
		}
		if exists && !identityForce {
			return errs.New(errs.KindValidation,
				fmt.Sprintf("identity already exists at %s; pass --force to overwrite it", a.keys.IdentityPath()))
		}

		id, err := signing.GenerateKeypair()
		if err != nil {
			return err
		}
		if err := a.keys.SaveIdentity(id); err != nil {
			return err
		}

		// Registration failure is a warning: the identity is usable locally
		// and can be announced later once the service is reachable.
		if err := a.protocol.RegisterIdentity(cmd.Context(), id); err != nil {
			a.logger.Warn("identity created but not registered with the identity service", "error", err)
		}

		cmd.Printf("did: %s\n", id.DID)
		cmd.Printf("stored: %s\n", a.keys.IdentityPath())
		return nil
	},
}

var identityShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the DID and public key of the stored identity",
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
		cmd.Printf("did: %s\n", id.DID)
		cmd.Printf("publicKey: %s\n", base64.StdEncoding.EncodeToString(id.PublicKey))
		cmd.Printf("path: %s\n", a.keys.IdentityPath())
		return nil
	},
}

func init() {
	identityCreateCmd.Flags().BoolVar(&identityForce, "force", false, "overwrite an existing identity")
	identityCmd.AddCommand(identityCreateCmd)
	identityCmd.AddCommand(identityShowCmd)
}
