// Package stub implements a single-process local development counterparty
// for the CLI: the identity, content-record and gateway surfaces combined
// behind one mux, backed by an in-memory or file store.
package stub

import (
	"context"
	"errors"
	"time"

	"github.com/RegistryAccord/registryaccord-cli-go/internal/model"
)

// Standard error values used across store implementations.
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the resource already exists.
	ErrConflict = errors.New("conflict")
)

// IdentityRecord is a registered DID and its public key.
type IdentityRecord struct {
	DID       string
	PublicKey []byte
	CreatedAt string // RFC3339
}

// Nonce is a stored single-use challenge bound to a (DID, audience) pair.
type Nonce struct {
	Value     string
	DID       string
	Audience  string
	ExpiresAt time.Time
}

// Upload tracks one in-flight media upload.
type Upload struct {
	ID        string
	MimeType  string
	Size      int64
	Data      []byte
	Finalized bool
}

// RecordQuery selects a page of records. All filters are optional; the
// cursor is opaque to clients.
type RecordQuery struct {
	DID    string
	Limit  int
	Cursor string
	Since  string
	Until  string
	Text   string // substring match for /v1/search
}

// Store aggregates the persistence the stub needs. Implementations must be
// safe for concurrent use.
type Store interface {
	// RegisterIdentity stores a DID's public key. Re-registering the same
	// DID returns ErrConflict.
	RegisterIdentity(ctx context.Context, rec IdentityRecord) error
	// GetIdentity retrieves a registered identity by DID.
	GetIdentity(ctx context.Context, did string) (IdentityRecord, error)

	// PutNonce stores a nonce for later validation.
	PutNonce(ctx context.Context, nonce Nonce) error
	// ConsumeNonce retrieves and invalidates a nonce (single-use). Expired
	// nonces are reported as ErrNotFound.
	ConsumeNonce(ctx context.Context, value string, now time.Time) (Nonce, error)

	// AppendRecord adds a content record to the append-only collection.
	AppendRecord(ctx context.Context, rec model.SignedContentRecord) error
	// ListRecords returns one page of records matching the query plus the
	// cursor of the next page, empty when no more data remains.
	ListRecords(ctx context.Context, q RecordQuery) ([]model.SignedContentRecord, string, error)

	// CreateUpload registers a new in-flight upload.
	CreateUpload(ctx context.Context, up Upload) error
	// PutUploadData stores the transferred bytes for an upload.
	PutUploadData(ctx context.Context, id string, data []byte) error
	// FinalizeUpload marks an upload complete and returns it.
	FinalizeUpload(ctx context.Context, id string) (Upload, error)
}
