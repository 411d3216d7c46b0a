package stub

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/RegistryAccord/registryaccord-cli-go/internal/model"
)

const defaultPageLimit = 50

// memory is a concurrency-safe in-memory Store. Useful for tests and as
// the default ephemeral backend.
type memory struct {
	mu         sync.RWMutex
	identities map[string]IdentityRecord
	nonces     map[string]Nonce
	records    []model.SignedContentRecord
	uploads    map[string]Upload
}

// NewMemory returns an in-memory implementation of Store.
func NewMemory() Store {
	return &memory{
		identities: make(map[string]IdentityRecord),
		nonces:     make(map[string]Nonce),
		uploads:    make(map[string]Upload),
	}
}

func (m *memory) RegisterIdentity(ctx context.Context, rec IdentityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.identities[rec.DID]; exists {
		return ErrConflict
	}
	m.identities[rec.DID] = rec
	return nil
}

func (m *memory) GetIdentity(ctx context.Context, did string) (IdentityRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.identities[did]
	if !ok {
		return IdentityRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *memory) PutNonce(ctx context.Context, nonce Nonce) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonces[nonce.Value] = nonce
	return nil
}

func (m *memory) ConsumeNonce(ctx context.Context, value string, now time.Time) (Nonce, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	nonce, ok := m.nonces[value]
	if !ok {
		return Nonce{}, ErrNotFound
	}
	delete(m.nonces, value)
	if now.After(nonce.ExpiresAt) {
		return Nonce{}, ErrNotFound
	}
	return nonce, nil
}

func (m *memory) AppendRecord(ctx context.Context, rec model.SignedContentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memory) ListRecords(ctx context.Context, q RecordQuery) ([]model.SignedContentRecord, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return pageRecords(m.records, q)
}

func (m *memory) CreateUpload(ctx context.Context, up Upload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.uploads[up.ID]; exists {
		return ErrConflict
	}
	m.uploads[up.ID] = up
	return nil
}

func (m *memory) PutUploadData(ctx context.Context, id string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.uploads[id]
	if !ok {
		return ErrNotFound
	}
	up.Data = append([]byte(nil), data...)
	m.uploads[id] = up
	return nil
}

func (m *memory) FinalizeUpload(ctx context.Context, id string) (Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.uploads[id]
	if !ok {
		return Upload{}, ErrNotFound
	}
	up.Finalized = true
	m.uploads[id] = up
	return up, nil
}

// pageRecords applies query filters in creation order and slices out one
// page. RFC3339 timestamps compare correctly as strings, so since/until
// are plain string comparisons. The cursor is the base64 offset of the
// next item, opaque to clients.
func pageRecords(records []model.SignedContentRecord, q RecordQuery) ([]model.SignedContentRecord, string, error) {
	filtered := make([]model.SignedContentRecord, 0, len(records))
	for _, rec := range records {
		if q.DID != "" && rec.AuthorDID != q.DID {
			continue
		}
		if q.Since != "" && rec.CreatedAt < q.Since {
			continue
		}
		if q.Until != "" && rec.CreatedAt > q.Until {
			continue
		}
		if q.Text != "" && !strings.Contains(strings.ToLower(rec.Text), strings.ToLower(q.Text)) {
			continue
		}
		filtered = append(filtered, rec)
	}

	offset := 0
	if q.Cursor != "" {
		n, err := decodeCursor(q.Cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", err)
		}
		offset = n
	}
	if offset >= len(filtered) {
		return nil, "", nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	end := offset + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	page := filtered[offset:end]

	next := ""
	if end < len(filtered) {
		next = encodeCursor(end)
	}
	return page, next, nil
}

func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodeCursor(cursor string) (int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("cursor %q is not an offset", cursor)
	}
	return n, nil
}
