// Command racli is the RegistryAccord command-line client: identity
// creation, session issuance, signed posts, media upload and read-side
// queries against the identity, CDV and gateway services.
//
// Exit codes: 0 success, 2 validation or filesystem failure, 3 auth
// failure, 4 network failure, 5 server failure.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/RegistryAccord/registryaccord-cli-go/internal/config"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/content"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/errs"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/httpclient"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/keystore"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/media"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/session"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:           "racli",
	Short:         "RegistryAccord protocol client",
	Long:          "racli manages a local Ed25519 identity and talks to the RegistryAccord identity, content (CDV) and gateway services.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(identityCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(postCmd)
	rootCmd.AddCommand(feedCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(profileCmd)
}

// app bundles the wired components every subcommand needs. Construction is
// deferred to command execution so flag parsing and help never require a
// valid environment.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	keys     *keystore.Store
	client   *httpclient.Client
	protocol *session.Protocol
	ops      *content.Operations
	uploader *media.Uploader
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, "load configuration", err)
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	keys := keystore.New(cfg.ConfigDir)
	client := httpclient.New(httpclient.Options{
		Timeout:   cfg.HTTPTimeout,
		Retries:   cfg.HTTPRetries,
		BaseDelay: cfg.HTTPBackoff,
		Logger:    logger,
	})
	local := content.NewFileStore(cfg.CDVPath)

	return &app{
		cfg:      cfg,
		logger:   logger,
		keys:     keys,
		client:   client,
		protocol: session.NewProtocol(keys, client, cfg.IdentityURL, logger),
		ops:      content.NewOperations(client, keys, local, cfg.CDVURL, cfg.GatewayURL, logger),
		uploader: media.NewUploader(client, cfg.GatewayURL, logger),
	}, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(errs.ExitCode(err))
	}
}
