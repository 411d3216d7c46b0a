package main

import (
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/RegistryAccord/registryaccord-cli-go/internal/content"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/errs"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/model"
)

var (
	postMediaPath string
	postMimeType  string
	postLocal     bool

	listCollection string
	listLimit      int
	listCursor     string
	listSince      string
	listUntil      string
	listLocal      bool
)

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Create and list signed content records",
}

var postCreateCmd = &cobra.Command{
	Use:   "create <text>",
	Short: "Sign and publish a post",
	Long: "Signs the post text with the local secret key and submits it to the CDV service, " +
		"or appends it to the local store file with --local. With --media the file is uploaded " +
		"and checksum-verified first; any upload failure aborts before the post is created.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		var mediaRef *model.MediaReference
		if postMediaPath != "" {
			ref, err := a.uploader.Upload(cmd.Context(), postMediaPath, postMimeType)
			if err != nil {
				return err
			}
			mediaRef = &ref
		}

		rec, err := a.ops.CreatePost(cmd.Context(), args[0], mediaRef, postLocal)
		if err != nil {
			return err
		}
		cmd.Printf("id: %s\n", rec.ID)
		cmd.Printf("createdAt: %s\n", rec.CreatedAt)
		if rec.Media != nil {
			cmd.Printf("media: %s (%s)\n", rec.Media.ContentID, rec.Media.MimeType)
		}
		return nil
	},
}

var postListCmd = &cobra.Command{
	Use:   "list [did]",
	Short: "List one page of posts",
	Long: "Lists posts for a DID from the CDV service, or the whole local store with --local. " +
		"Remote listings return a single page; pass the printed cursor to fetch the next one.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		if listLocal {
			verified, err := a.ops.ListLocal()
			if err != nil {
				return err
			}
			renderVerified(cmd, verified)
			return nil
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
				return errs.New(errs.KindValidation, "pass a DID or create an identity to list your own posts")
			}
			did = id.DID
		}

		page, err := a.ops.ListPosts(cmd.Context(), did, content.Filters{
			Collection: listCollection,
			Limit:      listLimit,
			Cursor:     listCursor,
			Since:      listSince,
			Until:      listUntil,
		})
		if err != nil {
			return err
		}
		renderPage(cmd, page)
		return nil
	},
}

// renderPage prints one page of records and, when present, the cursor for
// the next page. The cursor is opaque; it is printed verbatim.
func renderPage(cmd *cobra.Command, page model.RecordPage) {
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"ID", "Created", "Author", "Text"})
	table.SetBorder(false)
	for _, rec := range page.Items {
		table.Append([]string{rec.ID, rec.CreatedAt, rec.AuthorDID, truncate(rec.Text, 60)})
	}
	table.Render()
	if page.NextCursor != "" {
		cmd.Printf("nextCursor: %s\n", page.NextCursor)
	}
}

func renderVerified(cmd *cobra.Command, records []model.VerifiedRecord) {
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"ID", "Created", "Author", "Valid", "Text"})
	table.SetBorder(false)
	for _, rec := range records {
		valid := "yes"
		if !rec.Valid {
			valid = "NO"
		}
		table.Append([]string{rec.ID, rec.CreatedAt, rec.AuthorDID, valid, truncate(rec.Text, 60)})
	}
	table.Render()
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

func init() {
	postCreateCmd.Flags().StringVar(&postMediaPath, "media", "", "path of a media file to upload and attach")
	postCreateCmd.Flags().StringVar(&postMimeType, "mime", "", "MIME type of the media file (detected from the extension when empty)")
	postCreateCmd.Flags().BoolVar(&postLocal, "local", false, "append to the local store file instead of the CDV service")

	postListCmd.Flags().StringVar(&listCollection, "collection", "", "record collection to list")
	postListCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum records per page")
	postListCmd.Flags().StringVar(&listCursor, "cursor", "", "opaque cursor from a previous page")
	postListCmd.Flags().StringVar(&listSince, "since", "", "only records created at or after this RFC3339 timestamp")
	postListCmd.Flags().StringVar(&listUntil, "until", "", "only records created at or before this RFC3339 timestamp")
	postListCmd.Flags().BoolVar(&listLocal, "local", false, "list the local store file and verify every signature")

	postCmd.AddCommand(postCreateCmd)
	postCmd.AddCommand(postListCmd)
}
