package keystore

import (
	"os"
	"testing"
	"time"

	"github.com/RegistryAccord/registryaccord-cli-go/internal/model"
)

func testSession(aud string) model.Session {
	now := time.Now().UTC().Truncate(time.Second)
	return model.Session{
		JWT:        "header.payload.sig",
		Expiry:     now.Add(10 * time.Minute),
		Audience:   aud,
		IssuedAt:   now,
		SubjectDID: "did:ra:ed25519:2tJEsoyYmbeG7bVgkjAjn6",
	}
}

func TestSession_StoreAndGet(t *testing.T) {
	store := New(t.TempDir())
	sess := testSession("cdv")
	if err := store.StoreSession(sess); err != nil {
		t.Fatalf("StoreSession error: %v", err)
	}

	got, ok := store.GetSession("cdv")
	if !ok {
		t.Fatal("session not found for stored audience")
	}
	if got.JWT != sess.JWT || got.SubjectDID != sess.SubjectDID {
		t.Fatalf("session mismatch: got %+v", got)
	}
	if !got.Expiry.Equal(sess.Expiry) {
		t.Fatalf("expiry = %v want %v", got.Expiry, sess.Expiry)
	}

	if _, ok := store.GetSession("gateway"); ok {
		t.Fatal("found session for audience never stored")
	}
}

func TestSession_ReissueReplacesAudience(t *testing.T) {
	store := New(t.TempDir())
	first := testSession("cdv")
	if err := store.StoreSession(first); err != nil {
		t.Fatalf("StoreSession error: %v", err)
	}
	second := testSession("cdv")
	second.JWT = "reissued.token.sig"
	if err := store.StoreSession(second); err != nil {
		t.Fatalf("StoreSession error: %v", err)
	}

	got, ok := store.GetSession("cdv")
	if !ok {
		t.Fatal("session not found after re-issue")
	}
	if got.JWT != second.JWT {
		t.Fatalf("jwt = %q want the re-issued token", got.JWT)
	}
}

func TestSession_CorruptFileReadsAsEmpty(t *testing.T) {
	store := New(t.TempDir())
	if err := store.StoreSession(testSession("cdv")); err != nil {
		t.Fatalf("StoreSession error: %v", err)
	}
	if err := os.WriteFile(store.SessionPath(), []byte("not json at all"), 0o600); err != nil {
		t.Fatalf("corrupt file: %v", err)
	}

	// Corruption is a soft failure: reads see no session, and a fresh
	// store succeeds rather than propagating the parse error.
	if _, ok := store.GetSession("cdv"); ok {
		t.Fatal("corrupted session file produced a session")
	}
	if err := store.StoreSession(testSession("gateway")); err != nil {
		t.Fatalf("StoreSession after corruption: %v", err)
	}
	if _, ok := store.GetSession("gateway"); !ok {
		t.Fatal("session not stored after corruption reset")
	}
}

func TestSession_FileMode(t *testing.T) {
	store := New(t.TempDir())
	if err := store.StoreSession(testSession("cdv")); err != nil {
		t.Fatalf("StoreSession error: %v", err)
	}
	info, err := os.Stat(store.SessionPath())
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		t.Fatalf("session file mode = %o want 600", mode)
	}
}
