package main

import (
	"github.com/spf13/cobra"

	"github.com/RegistryAccord/registryaccord-cli-go/internal/content"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/errs"
)

var (
	feedLimit  int
	feedCursor string
	feedSince  string
	feedUntil  string
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Read feeds from the gateway",
}

var feedFollowingCmd = &cobra.Command{
	Use:   "following",
	Short: "Show one page of the following feed",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		page, err := a.ops.FeedFollowing(cmd.Context(), feedFilters())
		if err != nil {
			return err
		}
		renderPage(cmd, page)
		return nil
	},
}

var feedAuthorCmd = &cobra.Command{
	Use:   "author <did>",
	Short: "Show one page of a single author's feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		page, err := a.ops.FeedAuthor(cmd.Context(), args[0], feedFilters())
		if err != nil {
			return err
		}
		renderPage(cmd, page)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search across records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		page, err := a.ops.Search(cmd.Context(), args[0], feedFilters())
		if err != nil {
			return err
		}
		renderPage(cmd, page)
		return nil
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile [did]",
	Short: "Show the read-only profile view for a DID",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		did := ""
		if len(args) == 1 {
			did = args[0]
		} else {
			id, ok, err := a.keys.LoadIdentity()
			if err != nil {
				return err
			}
			if !ok {
				return errs.New(errs.KindValidation, "pass a DID or create an identity to show your own profile")
			}
			did = id.DID
		}
		profile, err := a.ops.Profile(cmd.Context(), did)
		if err != nil {
			return err
		}
		cmd.Printf("did: %s\n", profile.DID)
		cmd.Printf("posts: %d\n", profile.PostCount)
		if profile.FirstSeen != "" {
			cmd.Printf("firstSeen: %s\n", profile.FirstSeen)
		}
		return nil
	},
}

func feedFilters() content.Filters {
	return content.Filters{
		Limit:  feedLimit,
		Cursor: feedCursor,
		Since:  feedSince,
		Until:  feedUntil,
	}
}

func init() {
	for _, c := range []*cobra.Command{feedFollowingCmd, feedAuthorCmd, searchCmd} {
		c.Flags().IntVar(&feedLimit, "limit", 0, "maximum records per page")
		c.Flags().StringVar(&feedCursor, "cursor", "", "opaque cursor from a previous page")
		c.Flags().StringVar(&feedSince, "since", "", "only records created at or after this RFC3339 timestamp")
		c.Flags().StringVar(&feedUntil, "until", "", "only records created at or before this RFC3339 timestamp")
	}
	feedCmd.AddCommand(feedFollowingCmd)
	feedCmd.AddCommand(feedAuthorCmd)
}
