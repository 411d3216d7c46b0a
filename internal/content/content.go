// Package content implements post creation and listing: records are signed
// with the local secret key on create and their signatures re-verified on
// every read. Two backends exist per the CLI contract: the remote
// content-record (CDV) service and the local file stub.
package content

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/RegistryAccord/registryaccord-cli-go/internal/errs"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/httpclient"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/keystore"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/model"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/signing"
)

// Operations composes signing, key custody and the HTTP client for all
// post-related commands.
type Operations struct {
	client     *httpclient.Client
	keys       *keystore.Store
	local      *FileStore
	cdvURL     string
	gatewayURL string
	logger     *slog.Logger
	clock      func() time.Time
}

// NewOperations wires Operations against the CDV and gateway base URLs.
func NewOperations(client *httpclient.Client, keys *keystore.Store, local *FileStore, cdvURL, gatewayURL string, logger *slog.Logger) *Operations {
	if logger == nil {
		logger = slog.Default()
	}
	return &Operations{
		client:     client,
		keys:       keys,
		local:      local,
		cdvURL:     cdvURL,
		gatewayURL: gatewayURL,
		logger:     logger,
		clock:      func() time.Time { return time.Now().UTC() },
	}
}

// CreatePost signs text with the local secret key and appends the record
// locally or submits it to the CDV service. The media reference, when
// present, must already be checksum-verified by the uploader; any failure
// in the media sub-flow aborts before this point so no partial post exists.
func (o *Operations) CreatePost(ctx context.Context, text string, media *model.MediaReference, local bool) (model.SignedContentRecord, error) {
	if text == "" {
		return model.SignedContentRecord{}, errs.New(errs.KindValidation, "post text is required")
	}

	identity, ok, err := o.keys.LoadIdentity()
	if err != nil {
		return model.SignedContentRecord{}, err
	}
	if !ok {
		return model.SignedContentRecord{}, errs.New(errs.KindAuth, "no identity configured; run `racli identity create` first")
	}

	sig, err := signing.Sign([]byte(text), identity.SecretKey)
	if err != nil {
		return model.SignedContentRecord{}, err
	}

	rec := model.SignedContentRecord{
		ID:        uuid.NewString(),
		CreatedAt: o.clock().Format(time.RFC3339),
		Text:      text,
		Signature: sig,
		PublicKey: identity.PublicKey,
		AuthorDID: identity.DID,
		Media:     media,
	}

	if local {
		if err := o.local.Append(rec); err != nil {
			return model.SignedContentRecord{}, err
		}
		o.logger.Info("post appended to local store", "id", rec.ID, "path", o.local.Path())
		return rec, nil
	}

	var created model.CreateRecordResponse
	if err := o.client.DoInto(ctx, "POST", o.cdvURL+"/v1/repo/record", rec, &created); err != nil {
		return model.SignedContentRecord{}, err
	}
	o.logger.Info("post created", "id", rec.ID, "uri", created.URI, "cid", created.CID)
	return rec, nil
}

// Filters are passed to listing endpoints as server-side query parameters;
// the client performs no re-filtering of the returned page.
type Filters struct {
	Collection string
	Limit      int
	Cursor     string
	Since      string
	Until      string
}

func (f Filters) query(extra url.Values) string {
	q := url.Values{}
	for k, vs := range extra {
		q[k] = vs
	}
	if f.Collection != "" {
		q.Set("collection", f.Collection)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Cursor != "" {
		q.Set("cursor", f.Cursor)
	}
	if f.Since != "" {
		q.Set("since", f.Since)
	}
	if f.Until != "" {
		q.Set("until", f.Until)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// ListPosts requests one page of records for a DID from the CDV service.
// An absent NextCursor in the returned page means end of pagination; the
// caller decides whether to fetch further pages.
func (o *Operations) ListPosts(ctx context.Context, did string, f Filters) (model.RecordPage, error) {
	if did == "" {
		return model.RecordPage{}, errs.New(errs.KindValidation, "did is required")
	}
	var page model.RecordPage
	u := o.cdvURL + "/v1/repo/listRecords" + f.query(url.Values{"did": {did}})
	if err := o.client.DoInto(ctx, "GET", u, nil, &page); err != nil {
		return model.RecordPage{}, err
	}
	return page, nil
}

// ListLocal reads the whole local stub store and verifies every record's
// signature against its text and embedded public key. Verification happens
// on every read and is never cached.
func (o *Operations) ListLocal() ([]model.VerifiedRecord, error) {
	records, err := o.local.Load()
	if err != nil {
		return nil, err
	}
	verified := make([]model.VerifiedRecord, 0, len(records))
	for _, rec := range records {
		ok, err := signing.Verify([]byte(rec.Text), rec.Signature, rec.PublicKey)
		if err != nil {
			// Malformed key material in the store is reported as invalid
			// rather than aborting the whole listing.
			o.logger.Warn("record has malformed key material", "id", rec.ID, "error", err)
			ok = false
		}
		verified = append(verified, model.VerifiedRecord{SignedContentRecord: rec, Valid: ok})
	}
	return verified, nil
}

// FeedFollowing fetches one page of the following feed from the gateway.
func (o *Operations) FeedFollowing(ctx context.Context, f Filters) (model.RecordPage, error) {
	var page model.RecordPage
	u := o.gatewayURL + "/v1/feed/following" + f.query(nil)
	if err := o.client.DoInto(ctx, "GET", u, nil, &page); err != nil {
		return model.RecordPage{}, err
	}
	return page, nil
}

// FeedAuthor fetches one page of a single author's feed from the gateway.
func (o *Operations) FeedAuthor(ctx context.Context, did string, f Filters) (model.RecordPage, error) {
	if did == "" {
		return model.RecordPage{}, errs.New(errs.KindValidation, "did is required")
	}
	var page model.RecordPage
	u := o.gatewayURL + "/v1/feed/author" + f.query(url.Values{"did": {did}})
	if err := o.client.DoInto(ctx, "GET", u, nil, &page); err != nil {
		return model.RecordPage{}, err
	}
	return page, nil
}

// Search fetches one page of full-text search results from the gateway.
func (o *Operations) Search(ctx context.Context, query string, f Filters) (model.RecordPage, error) {
	if query == "" {
		return model.RecordPage{}, errs.New(errs.KindValidation, "search query is required")
	}
	var page model.RecordPage
	u := o.gatewayURL + "/v1/search" + f.query(url.Values{"q": {query}})
	if err := o.client.DoInto(ctx, "GET", u, nil, &page); err != nil {
		return model.RecordPage{}, err
	}
	return page, nil
}

// Profile fetches the read-only profile view for a DID from the gateway.
func (o *Operations) Profile(ctx context.Context, did string) (model.Profile, error) {
	if did == "" {
		return model.Profile{}, errs.New(errs.KindValidation, "did is required")
	}
	var profile model.Profile
	u := o.gatewayURL + "/v1/profile?" + url.Values{"did": {did}}.Encode()
	if err := o.client.DoInto(ctx, "GET", u, nil, &profile); err != nil {
		return model.Profile{}, err
	}
	return profile, nil
}
