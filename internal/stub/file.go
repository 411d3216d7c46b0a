package stub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/RegistryAccord/registryaccord-cli-go/internal/model"
)

// file is a Store that persists content records to a cdv.json-compatible
// file while keeping identities, nonces and uploads ephemeral (they are
// short-lived or re-registered per run). The file is the same JSON-array
// format the CLI's local store reads.
type file struct {
	memory
	mu   sync.Mutex
	path string
}

// NewFile returns a Store persisting records at path. Existing records are
// loaded eagerly; a document of the wrong shape is a hard error.
func NewFile(path string) (Store, error) {
	f := &file{path: path}
	f.memory.identities = make(map[string]IdentityRecord)
	f.memory.nonces = make(map[string]Nonce)
	f.memory.uploads = make(map[string]Upload)

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read record store %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &f.memory.records); err != nil {
		return nil, fmt.Errorf("record store %s is not a JSON array of records: %w", path, err)
	}
	return f, nil
}

// AppendRecord appends in memory and rewrites the backing file.
func (f *file) AppendRecord(ctx context.Context, rec model.SignedContentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.memory.AppendRecord(ctx, rec); err != nil {
		return err
	}
	f.memory.mu.RLock()
	payload, err := json.MarshalIndent(f.memory.records, "", "  ")
	f.memory.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode record store: %w", err)
	}
	if err := os.WriteFile(f.path, payload, 0o644); err != nil {
		return fmt.Errorf("write record store %s: %w", f.path, err)
	}
	return nil
}
