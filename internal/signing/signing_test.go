package signing

import (
	"bytes"
	"crypto/ed25519"
	"strings"
	"testing"

	"github.com/mr-tron/base58"

	"github.com/RegistryAccord/registryaccord-cli-go/internal/errs"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	id, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair error: %v", err)
	}
	msg := []byte("the quick brown fox")
	sig, err := Sign(msg, id.SecretKey)
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}
	ok, err := Verify(msg, sig, id.PublicKey)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatal("signature did not verify against its own key")
	}
}

func TestVerify_WrongKey(t *testing.T) {
	a, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair error: %v", err)
	}
	b, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair error: %v", err)
	}
	msg := []byte("cross-key check")
	sig, err := Sign(msg, a.SecretKey)
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}
	ok, err := Verify(msg, sig, b.PublicKey)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatal("signature verified against an unrelated key")
	}
}

func TestVerify_MalformedInputs(t *testing.T) {
	id, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair error: %v", err)
	}
	msg := []byte("malformed input handling")

	// Truncated signature is a plain verification failure, not an error.
	ok, err := Verify(msg, []byte{1, 2, 3}, id.PublicKey)
	if err != nil {
		t.Fatalf("short signature should not error, got: %v", err)
	}
	if ok {
		t.Fatal("short signature verified")
	}

	// Wrong-length public key is a validation error, not a false result.
	sig, _ := Sign(msg, id.SecretKey)
	if _, err := Verify(msg, sig, []byte{1, 2, 3}); !errs.IsKind(err, errs.KindValidation) {
		t.Fatalf("short public key: want validation error, got %v", err)
	}
}

func TestSign_MalformedKey(t *testing.T) {
	if _, err := Sign([]byte("x"), []byte{1, 2, 3}); !errs.IsKind(err, errs.KindValidation) {
		t.Fatalf("short secret key: want validation error, got %v", err)
	}
}

func TestGenerateKeypair_DID(t *testing.T) {
	a, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair error: %v", err)
	}
	b, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair error: %v", err)
	}
	if a.DID == b.DID {
		t.Fatal("successive keypairs produced the same DID")
	}
	for _, id := range []string{a.DID, b.DID} {
		if !strings.HasPrefix(id, DIDPrefix) {
			t.Fatalf("DID %q missing prefix %q", id, DIDPrefix)
		}
		raw, err := base58.Decode(strings.TrimPrefix(id, DIDPrefix))
		if err != nil {
			t.Fatalf("DID suffix is not base58: %v", err)
		}
		if len(raw) != 32 {
			t.Fatalf("DID encodes %d bytes, want 32", len(raw))
		}
	}
	if pub, ok := a.SecretKey.Public().(ed25519.PublicKey); !ok || !bytes.Equal(pub, a.PublicKey) {
		t.Fatal("secret key does not correspond to the returned public key")
	}
}

func TestSessionChallenge(t *testing.T) {
	got := SessionChallenge("n1", "cdv", "did:ra:ed25519:abc")
	want := "n1|cdv|did:ra:ed25519:abc"
	if string(got) != want {
		t.Fatalf("challenge = %q want %q", got, want)
	}
}
