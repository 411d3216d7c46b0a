// Package session implements the client side of the nonce-challenge
// session flow against the identity service: fetch a nonce for a
// (DID, audience) pair, sign it, exchange the signature for a JWT and cache
// the result per audience.
//
// The flow is two user-driven commands, not one atomic call: the nonce is
// disclosed between steps for audit and debugging. Nonce single-use and
// expiry are enforced server-side only; the client never rejects a nonce
// locally.
package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/RegistryAccord/registryaccord-cli-go/internal/errs"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/httpclient"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/keystore"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/model"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/signing"
)

// Protocol drives session issuance. All network traffic goes through the
// resilient client; all persistence through the injected keystore.
type Protocol struct {
	keys        *keystore.Store
	client      *httpclient.Client
	identityURL string
	logger      *slog.Logger
	clock       func() time.Time
}

// NewProtocol wires a Protocol against an identity service base URL.
func NewProtocol(keys *keystore.Store, client *httpclient.Client, identityURL string, logger *slog.Logger) *Protocol {
	if logger == nil {
		logger = slog.Default()
	}
	return &Protocol{
		keys:        keys,
		client:      client,
		identityURL: identityURL,
		logger:      logger,
		clock:       func() time.Time { return time.Now().UTC() },
	}
}

// RequestNonce asks the identity service for a single-use challenge bound
// to (did, audience). Transport-level retries are the HTTP client's; the
// protocol adds none of its own.
func (p *Protocol) RequestNonce(ctx context.Context, did, audience string) (model.NonceChallenge, error) {
	if did == "" || audience == "" {
		return model.NonceChallenge{}, errs.New(errs.KindValidation, "did and audience are required")
	}
	var challenge model.NonceChallenge
	err := p.client.DoInto(ctx, "POST", p.identityURL+"/v1/session/nonce",
		model.NonceRequest{DID: did, Audience: audience}, &challenge)
	if err != nil {
		return model.NonceChallenge{}, err
	}
	p.logger.Info("session nonce received", "did", did, "aud", audience, "expiresAt", challenge.ExpiresAt)
	return challenge, nil
}

// SignAndIssue signs the nonce with the local identity and exchanges it for
// a session token, which is persisted per audience before being returned.
func (p *Protocol) SignAndIssue(ctx context.Context, audience, nonce string) (model.Session, error) {
	if audience == "" || nonce == "" {
		return model.Session{}, errs.New(errs.KindValidation, "audience and nonce are required")
	}

	identity, ok, err := p.keys.LoadIdentity()
	if err != nil {
		return model.Session{}, err
	}
	if !ok {
		return model.Session{}, errs.New(errs.KindAuth, "no identity configured; run `racli identity create` first")
	}

	sig, err := signing.Sign(signing.SessionChallenge(nonce, audience, identity.DID), identity.SecretKey)
	if err != nil {
		return model.Session{}, err
	}

	var issued model.IssueResponse
	err = p.client.DoInto(ctx, "POST", p.identityURL+"/v1/session/issue", model.IssueRequest{
		DID:       identity.DID,
		Audience:  audience,
		Nonce:     nonce,
		Signature: base64.StdEncoding.EncodeToString(sig),
	}, &issued)
	if err != nil {
		return model.Session{}, err
	}

	expiry, err := time.Parse(time.RFC3339, issued.Expiry)
	if err != nil {
		return model.Session{}, errs.Wrap(errs.KindValidation,
			fmt.Sprintf("issuance response has malformed exp %q", issued.Expiry), err)
	}
	sess := model.Session{
		JWT:        issued.JWT,
		Expiry:     expiry,
		Audience:   issued.Audience,
		IssuedAt:   p.clock(),
		SubjectDID: issued.Subject,
	}
	if err := p.keys.StoreSession(sess); err != nil {
		return model.Session{}, err
	}
	p.logger.Info("session issued", "did", sess.SubjectDID, "aud", sess.Audience, "exp", issued.Expiry)
	return sess, nil
}

// RegisterIdentity announces a newly created identity's public key to the
// identity service so session issuance can verify its signatures against
// it. The CLI calls this right after `identity create`; failure there is
// reported as a warning, not fatal, so local-only use stays possible.
func (p *Protocol) RegisterIdentity(ctx context.Context, id model.Identity) error {
	return p.client.DoInto(ctx, "POST", p.identityURL+"/v1/identity", model.RegisterIdentityRequest{
		DID:       id.DID,
		PublicKey: base64.StdEncoding.EncodeToString(id.PublicKey),
	}, nil)
}

// Status is the advisory view reported by WhoAmI. SessionActive is a
// wall-clock check against the cached expiry, nothing more; the HTTP layer
// never refuses to use an expired token.
type Status struct {
	DID           string
	Audience      string
	HasSession    bool
	SessionActive bool
	Expiry        time.Time
	Issuer        string
	Subject       string
}

// WhoAmI inspects local state for an audience: the configured identity and
// the cached session, with claims read from the JWT without verifying its
// signature (the token is the server's to verify, not ours).
func (p *Protocol) WhoAmI(audience string) (Status, error) {
	identity, ok, err := p.keys.LoadIdentity()
	if err != nil {
		return Status{}, err
	}
	if !ok {
		return Status{}, errs.New(errs.KindAuth, "no identity configured")
	}

	st := Status{DID: identity.DID, Audience: audience}
	sess, ok := p.keys.GetSession(audience)
	if !ok {
		return st, nil
	}
	st.HasSession = true
	st.Expiry = sess.Expiry
	st.SessionActive = sess.Active(p.clock())
	st.Subject = sess.SubjectDID

	token, _, err := jwtlib.NewParser().ParseUnverified(sess.JWT, jwtlib.MapClaims{})
	if err == nil {
		if claims, ok := token.Claims.(jwtlib.MapClaims); ok {
			if iss, ok := claims["iss"].(string); ok {
				st.Issuer = iss
			}
			if sub, ok := claims["sub"].(string); ok && sub != "" {
				st.Subject = sub
			}
		}
	}
	return st, nil
}
