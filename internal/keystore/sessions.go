package keystore

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/RegistryAccord/registryaccord-cli-go/internal/errs"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/model"
)

// sessionFileEntry is the on-disk shape of one cached session, keyed by
// audience in the sessions.json map.
type sessionFileEntry struct {
	JWT      string `json:"jwt"`
	Expiry   string `json:"expiry"` // RFC3339
	Audience string `json:"aud"`
	IssuedAt string `json:"issuedAt"` // RFC3339
	DID      string `json:"did"`
}

// StoreSession merges a session into the per-audience map and rewrites the
// whole file at 0600. The audience key is unique; a re-issued session for
// the same audience replaces the previous one.
func (s *Store) StoreSession(sess model.Session) error {
	if err := s.EnsureDir(); err != nil {
		return err
	}
	sessions := s.readSessionMap()
	sessions[sess.Audience] = sessionFileEntry{
		JWT:      sess.JWT,
		Expiry:   sess.Expiry.Format(time.RFC3339),
		Audience: sess.Audience,
		IssuedAt: sess.IssuedAt.Format(time.RFC3339),
		DID:      sess.SubjectDID,
	}
	payload, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindFilesystem, "encode sessions", err)
	}
	path := s.SessionPath()
	if err := os.WriteFile(path, payload, fileMode); err != nil {
		return errs.Wrap(errs.KindFilesystem, fmt.Sprintf("write %s", path), err)
	}
	if err := os.Chmod(path, fileMode); err != nil {
		return errs.Wrap(errs.KindFilesystem, fmt.Sprintf("set mode on %s", path), err)
	}
	return nil
}

// GetSession returns the cached session for an audience, or ok=false when
// none exists. Expiry is not enforced here; callers decide what an expired
// session means for them.
func (s *Store) GetSession(audience string) (model.Session, bool) {
	entry, ok := s.readSessionMap()[audience]
	if !ok {
		return model.Session{}, false
	}
	expiry, err := time.Parse(time.RFC3339, entry.Expiry)
	if err != nil {
		return model.Session{}, false
	}
	issuedAt, _ := time.Parse(time.RFC3339, entry.IssuedAt)
	return model.Session{
		JWT:        entry.JWT,
		Expiry:     expiry,
		Audience:   entry.Audience,
		IssuedAt:   issuedAt,
		SubjectDID: entry.DID,
	}, true
}

// readSessionMap loads sessions.json. A missing or corrupted file reads as
// empty: session cache corruption must never block a retry of session
// issuance.
func (s *Store) readSessionMap() map[string]sessionFileEntry {
	raw, err := os.ReadFile(s.SessionPath())
	if err != nil {
		return map[string]sessionFileEntry{}
	}
	sessions := map[string]sessionFileEntry{}
	if err := json.Unmarshal(raw, &sessions); err != nil {
		return map[string]sessionFileEntry{}
	}
	return sessions
}
