// Package keystore persists the local identity and session cache as JSON
// files under a configured base directory. The directory is held at 0700
// and every file at 0600; permissions are re-applied on each write so a
// loosened mode is corrected rather than preserved.
//
// Known limitation: concurrent CLI invocations against the same directory
// race read-modify-write with last-writer-wins. There is no file locking.
package keystore

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/RegistryAccord/registryaccord-cli-go/internal/errs"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/model"
)

const (
	identityFileName = "identity.json"
	sessionFileName  = "sessions.json"

	dirMode  = 0o700
	fileMode = 0o600
)

// Store reads and writes the identity and session files under a base
// directory. The base path is injected so tests can point it at a temp dir.
type Store struct {
	dir string
}

// New returns a Store rooted at dir. The directory is created lazily on
// first write.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// IdentityPath returns the path of the identity file.
func (s *Store) IdentityPath() string {
	return filepath.Join(s.dir, identityFileName)
}

// SessionPath returns the path of the session cache file.
func (s *Store) SessionPath() string {
	return filepath.Join(s.dir, sessionFileName)
}

// EnsureDir creates the base directory if absent and forces its mode to
// 0700 even when it pre-existed with looser permissions.
func (s *Store) EnsureDir() error {
	if err := os.MkdirAll(s.dir, dirMode); err != nil {
		return errs.Wrap(errs.KindFilesystem, fmt.Sprintf("create config directory %s", s.dir), err)
	}
	if err := os.Chmod(s.dir, dirMode); err != nil {
		return errs.Wrap(errs.KindFilesystem, fmt.Sprintf("set mode on %s", s.dir), err)
	}
	return nil
}

// identityFile is the on-disk shape of identity.json. privateKeyBase64 is
// a legacy alias for secretKeyBase64, accepted on read only.
type identityFile struct {
	DID             string `json:"did"`
	PublicKeyBase64 string `json:"publicKeyBase64"`
	SecretKeyBase64 string `json:"secretKeyBase64,omitempty"`
	LegacySecretKey string `json:"privateKeyBase64,omitempty"`
}

// SaveIdentity writes the identity file, overwriting unconditionally. The
// "identity already exists, require --force" policy belongs to the caller.
func (s *Store) SaveIdentity(id model.Identity) error {
	if err := s.EnsureDir(); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(identityFile{
		DID:             id.DID,
		PublicKeyBase64: base64.StdEncoding.EncodeToString(id.PublicKey),
		SecretKeyBase64: base64.StdEncoding.EncodeToString(id.SecretKey),
	}, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindFilesystem, "encode identity", err)
	}
	path := s.IdentityPath()
	if err := os.WriteFile(path, payload, fileMode); err != nil {
		return errs.Wrap(errs.KindFilesystem, fmt.Sprintf("write %s", path), err)
	}
	if err := os.Chmod(path, fileMode); err != nil {
		return errs.Wrap(errs.KindFilesystem, fmt.Sprintf("set mode on %s", path), err)
	}
	return nil
}

// LoadIdentity reads the identity file. A missing file is not an error:
// it returns ok=false so callers can distinguish "no identity configured"
// from a corrupted one, which is always raised loudly because losing key
// material silently is unacceptable.
func (s *Store) LoadIdentity() (model.Identity, bool, error) {
	path := s.IdentityPath()
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.Identity{}, false, nil
	}
	if err != nil {
		return model.Identity{}, false, errs.Wrap(errs.KindFilesystem, fmt.Sprintf("read %s", path), err)
	}

	var file identityFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return model.Identity{}, false, errs.Wrap(errs.KindFilesystem, fmt.Sprintf("parse %s", path), err)
	}

	// Forward-compatible schema migration: the old field name fills in
	// only when the current one is absent.
	secret := file.SecretKeyBase64
	if secret == "" {
		secret = file.LegacySecretKey
	}

	if file.DID == "" {
		return model.Identity{}, false, errs.New(errs.KindFilesystem, fmt.Sprintf("%s: missing did", path))
	}
	pub, err := base64.StdEncoding.DecodeString(file.PublicKeyBase64)
	if err != nil {
		return model.Identity{}, false, errs.Wrap(errs.KindFilesystem, fmt.Sprintf("%s: invalid publicKeyBase64", path), err)
	}
	if len(pub) != 32 {
		return model.Identity{}, false, errs.New(errs.KindFilesystem, fmt.Sprintf("%s: publicKeyBase64 decodes to %d bytes, want 32", path, len(pub)))
	}
	sec, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return model.Identity{}, false, errs.Wrap(errs.KindFilesystem, fmt.Sprintf("%s: invalid secretKeyBase64", path), err)
	}
	if len(sec) != 64 {
		return model.Identity{}, false, errs.New(errs.KindFilesystem, fmt.Sprintf("%s: secretKeyBase64 decodes to %d bytes, want 64", path, len(sec)))
	}

	return model.Identity{DID: file.DID, PublicKey: pub, SecretKey: sec}, true, nil
}
