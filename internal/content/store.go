package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/RegistryAccord/registryaccord-cli-go/internal/errs"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/model"
)

// FileStore is the local-stub content store: a JSON array of signed records
// in a single file, append-only in creation order. A document of any other
// shape is a hard format error, never silently treated as empty.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore at path (default ./cdv.json via config).
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads all records. A missing file reads as an empty store.
func (s *FileStore) Load() ([]model.SignedContentRecord, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindFilesystem, fmt.Sprintf("read content store %s", s.path), err)
	}
	var records []model.SignedContentRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, errs.Wrap(errs.KindFilesystem,
			fmt.Sprintf("content store %s is not a JSON array of records", s.path), err)
	}
	return records, nil
}

// Append adds a record and rewrites the file. Read-modify-write without
// locking; concurrent invocations race last-writer-wins.
func (s *FileStore) Append(rec model.SignedContentRecord) error {
	records, err := s.Load()
	if err != nil {
		return err
	}
	records = append(records, rec)
	payload, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindFilesystem, "encode content store", err)
	}
	if err := os.WriteFile(s.path, payload, 0o644); err != nil {
		return errs.Wrap(errs.KindFilesystem, fmt.Sprintf("write content store %s", s.path), err)
	}
	return nil
}
