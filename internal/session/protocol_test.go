package session

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/RegistryAccord/registryaccord-cli-go/internal/config"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/errs"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/httpclient"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/keystore"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/signing"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/stub"
)

func newProtocolUnderTest(t *testing.T) (*Protocol, *keystore.Store, *httptest.Server) {
	t.Helper()
	h, err := stub.New(config.StubConfig{
		JWTIssuer:  "registryaccord-stub",
		SessionTTL: 10 * time.Minute,
		NonceTTL:   5 * time.Minute,
	}, stub.NewMemory(), nil)
	if err != nil {
		t.Fatalf("stub.New: %v", err)
	}
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)

	keys := keystore.New(t.TempDir())
	client := httpclient.New(httpclient.Options{Timeout: 2 * time.Second, Retries: 0, BaseDelay: time.Millisecond})
	return NewProtocol(keys, client, ts.URL, nil), keys, ts
}

func createIdentity(t *testing.T, p *Protocol, keys *keystore.Store) {
	t.Helper()
	id, err := signing.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	if err := keys.SaveIdentity(id); err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}
	if err := p.RegisterIdentity(context.Background(), id); err != nil {
		t.Fatalf("RegisterIdentity: %v", err)
	}
}

func TestSessionIssuance_EndToEnd(t *testing.T) {
	p, keys, _ := newProtocolUnderTest(t)
	createIdentity(t, p, keys)

	challenge, err := p.RequestNonce(context.Background(), mustDID(t, keys), "cdv")
	if err != nil {
		t.Fatalf("RequestNonce: %v", err)
	}
	if challenge.Nonce == "" {
		t.Fatal("empty nonce")
	}

	sess, err := p.SignAndIssue(context.Background(), "cdv", challenge.Nonce)
	if err != nil {
		t.Fatalf("SignAndIssue: %v", err)
	}
	if sess.JWT == "" || sess.Audience != "cdv" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if !sess.Active(time.Now().UTC()) {
		t.Fatal("freshly issued session should be active")
	}

	// Issuance must persist the session for later commands.
	cached, ok := keys.GetSession("cdv")
	if !ok {
		t.Fatal("session was not cached")
	}
	if cached.JWT != sess.JWT {
		t.Fatal("cached JWT differs from issued JWT")
	}
}

func TestSignAndIssue_NoIdentity(t *testing.T) {
	p, _, _ := newProtocolUnderTest(t)

	_, err := p.SignAndIssue(context.Background(), "cdv", "some-nonce")
	if !errs.IsKind(err, errs.KindAuth) {
		t.Fatalf("err = %v, want KindAuth", err)
	}
	if !strings.Contains(err.Error(), "identity create") {
		t.Fatalf("error should point at identity create, got %q", err)
	}
}

func TestSignAndIssue_ReplayedNonceRejected(t *testing.T) {
	p, keys, _ := newProtocolUnderTest(t)
	createIdentity(t, p, keys)

	challenge, err := p.RequestNonce(context.Background(), mustDID(t, keys), "cdv")
	if err != nil {
		t.Fatalf("RequestNonce: %v", err)
	}
	if _, err := p.SignAndIssue(context.Background(), "cdv", challenge.Nonce); err != nil {
		t.Fatalf("first issue: %v", err)
	}

	_, err = p.SignAndIssue(context.Background(), "cdv", challenge.Nonce)
	if !errs.IsKind(err, errs.KindAuth) {
		t.Fatalf("replayed nonce err = %v, want KindAuth", err)
	}
	var ce *errs.Error
	if !errors.As(err, &ce) || ce.Status != 401 {
		t.Fatalf("expected status 401 carried on the error, got %+v", err)
	}
}

func TestRequestNonce_UnknownDID(t *testing.T) {
	p, _, _ := newProtocolUnderTest(t)

	_, err := p.RequestNonce(context.Background(), "did:ra:ed25519:unregistered", "cdv")
	if !errs.IsKind(err, errs.KindNetwork) {
		t.Fatalf("err = %v, want KindNetwork for a 404", err)
	}
	if !strings.Contains(err.Error(), "identity not found") {
		t.Fatalf("error should surface the upstream message, got %q", err)
	}
}

func TestWhoAmI(t *testing.T) {
	p, keys, _ := newProtocolUnderTest(t)
	createIdentity(t, p, keys)

	st, err := p.WhoAmI("cdv")
	if err != nil {
		t.Fatalf("WhoAmI before session: %v", err)
	}
	if st.HasSession {
		t.Fatal("no session should be reported before issuance")
	}
	if st.DID == "" {
		t.Fatal("status must report the configured DID")
	}

	challenge, err := p.RequestNonce(context.Background(), st.DID, "cdv")
	if err != nil {
		t.Fatalf("RequestNonce: %v", err)
	}
	if _, err := p.SignAndIssue(context.Background(), "cdv", challenge.Nonce); err != nil {
		t.Fatalf("SignAndIssue: %v", err)
	}

	st, err = p.WhoAmI("cdv")
	if err != nil {
		t.Fatalf("WhoAmI after session: %v", err)
	}
	if !st.HasSession || !st.SessionActive {
		t.Fatalf("expected an active session, got %+v", st)
	}
	if st.Issuer != "registryaccord-stub" {
		t.Fatalf("issuer = %q", st.Issuer)
	}
	if st.Subject != st.DID {
		t.Fatalf("subject = %q want %q", st.Subject, st.DID)
	}
}

func TestWhoAmI_NoIdentity(t *testing.T) {
	p, _, _ := newProtocolUnderTest(t)
	_, err := p.WhoAmI("cdv")
	if !errs.IsKind(err, errs.KindAuth) {
		t.Fatalf("err = %v, want KindAuth", err)
	}
}

func mustDID(t *testing.T, keys *keystore.Store) string {
	t.Helper()
	id, ok, err := keys.LoadIdentity()
	if err != nil || !ok {
		t.Fatalf("LoadIdentity: ok=%v err=%v", ok, err)
	}
	return id.DID
}
