// Package model defines internal and external data shapes for the CLI.
// Internal types carry raw key bytes and timestamps, while DTOs are the
// JSON shapes written to disk or sent on the wire with keys encoded as
// base64 and times as RFC3339.
package model

import (
	"crypto/ed25519"
	"time"
)

// Identity is the local keypair and its derived DID. Exactly one identity
// is active per machine; the secret key never leaves local storage.
type Identity struct {
	DID       string
	PublicKey ed25519.PublicKey
	SecretKey ed25519.PrivateKey
}

// Session is a short-lived token issued for a single audience. Expiry is
// advisory: it is checked before reporting a session as active but never
// enforced by the HTTP layer.
type Session struct {
	JWT        string
	Expiry     time.Time
	Audience   string
	IssuedAt   time.Time
	SubjectDID string
}

// Active reports whether the session has not yet expired at the given time.
func (s Session) Active(now time.Time) bool {
	return now.Before(s.Expiry)
}

// NonceChallenge is a server-issued single-use challenge bound to a
// (DID, audience) pair. The client performs no local expiry check; the
// server is the sole authority on nonce validity.
type NonceChallenge struct {
	Nonce     string `json:"nonce"`
	ExpiresAt string `json:"expiresAt"` // RFC3339
}

// MediaReference points at uploaded media by its content digest. ContentID
// must equal the lowercase hex SHA-256 of the uploaded bytes as computed
// independently by client and server.
type MediaReference struct {
	ContentID string `json:"contentId"`
	MimeType  string `json:"mimeType"`
}

// SignedContentRecord is an append-only post record. Signature must verify
// against Text and PublicKey for the record to be considered valid;
// verification is re-computed on every read, never cached.
type SignedContentRecord struct {
	ID        string          `json:"id"`
	CreatedAt string          `json:"createdAt"` // RFC3339
	Text      string          `json:"text"`
	Signature []byte          `json:"signature"` // base64 via encoding/json
	PublicKey []byte          `json:"publicKey"` // base64 via encoding/json
	AuthorDID string          `json:"authorDid"`
	Media     *MediaReference `json:"media,omitempty"`
}

// VerifiedRecord pairs a record with the outcome of its signature check.
type VerifiedRecord struct {
	SignedContentRecord
	Valid bool `json:"valid"`
}

// RecordPage is one page of a listing response. An absent NextCursor
// signals end of pagination; the client never follows cursors on its own.
type RecordPage struct {
	Items      []SignedContentRecord `json:"items"`
	NextCursor string                `json:"nextCursor,omitempty"`
}
