package keystore

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/RegistryAccord/registryaccord-cli-go/internal/errs"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/signing"
)

func TestIdentity_SaveLoadRoundTrip(t *testing.T) {
	store := New(t.TempDir())
	id, err := signing.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair error: %v", err)
	}
	if err := store.SaveIdentity(id); err != nil {
		t.Fatalf("SaveIdentity error: %v", err)
	}

	loaded, ok, err := store.LoadIdentity()
	if err != nil {
		t.Fatalf("LoadIdentity error: %v", err)
	}
	if !ok {
		t.Fatal("identity not found after save")
	}
	if loaded.DID != id.DID {
		t.Fatalf("DID = %q want %q", loaded.DID, id.DID)
	}
	if !bytes.Equal(loaded.PublicKey, id.PublicKey) || !bytes.Equal(loaded.SecretKey, id.SecretKey) {
		t.Fatal("key material not byte-identical after round trip")
	}
}

func TestIdentity_AbsentIsNotAnError(t *testing.T) {
	store := New(t.TempDir())
	_, ok, err := store.LoadIdentity()
	if err != nil {
		t.Fatalf("LoadIdentity on empty dir: %v", err)
	}
	if ok {
		t.Fatal("ok = true for absent identity")
	}
}

func TestIdentity_FilePermissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cfg")
	store := New(dir)
	id, err := signing.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair error: %v", err)
	}
	if err := store.SaveIdentity(id); err != nil {
		t.Fatalf("SaveIdentity error: %v", err)
	}

	dirInfo, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat dir: %v", err)
	}
	if mode := dirInfo.Mode().Perm(); mode != 0o700 {
		t.Fatalf("dir mode = %o want 700", mode)
	}
	fileInfo, err := os.Stat(store.IdentityPath())
	if err != nil {
		t.Fatalf("stat identity file: %v", err)
	}
	if mode := fileInfo.Mode().Perm(); mode != 0o600 {
		t.Fatalf("file mode = %o want 600", mode)
	}
}

func TestEnsureDir_CorrectsLoosePermissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cfg")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	store := New(dir)
	if err := store.EnsureDir(); err != nil {
		t.Fatalf("EnsureDir error: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0o700 {
		t.Fatalf("dir mode = %o want 700 after EnsureDir", mode)
	}
}

func TestIdentity_LegacySecretKeyAlias(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	id, err := signing.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair error: %v", err)
	}

	legacy := `{
  "did": "` + id.DID + `",
  "publicKeyBase64": "` + base64.StdEncoding.EncodeToString(id.PublicKey) + `",
  "privateKeyBase64": "` + base64.StdEncoding.EncodeToString(id.SecretKey) + `"
}`
	if err := os.WriteFile(store.IdentityPath(), []byte(legacy), 0o600); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}

	loaded, ok, err := store.LoadIdentity()
	if err != nil {
		t.Fatalf("LoadIdentity error: %v", err)
	}
	if !ok {
		t.Fatal("legacy identity not found")
	}
	if !bytes.Equal(loaded.SecretKey, id.SecretKey) {
		t.Fatal("legacy secret key field not mapped onto current name")
	}
}

func TestIdentity_CorruptedFileIsLoud(t *testing.T) {
	store := New(t.TempDir())
	if err := os.MkdirAll(filepath.Dir(store.IdentityPath()), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	cases := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"missing did", `{"publicKeyBase64":"aaaa","secretKeyBase64":"aaaa"}`},
		{"bad public key", `{"did":"did:ra:ed25519:x","publicKeyBase64":"!!","secretKeyBase64":"aaaa"}`},
		{"short secret key", `{"did":"did:ra:ed25519:x","publicKeyBase64":"` + base64.StdEncoding.EncodeToString(make([]byte, 32)) + `","secretKeyBase64":"aaaa"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := os.WriteFile(store.IdentityPath(), []byte(tc.body), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			_, _, err := store.LoadIdentity()
			if !errs.IsKind(err, errs.KindFilesystem) {
				t.Fatalf("want filesystem error, got %v", err)
			}
			if !strings.Contains(err.Error(), store.IdentityPath()) {
				t.Fatalf("error does not name the offending path: %v", err)
			}
		})
	}
}
