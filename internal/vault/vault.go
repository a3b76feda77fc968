// Package vault stores uploaded artifacts on disk under per-batch
// directories: UPLOAD_DIR/{batchID}/{NNN_sanitizedName}. The directory of a
// batch is append-only while the batch is alive and owned by exactly one
// background task.
package vault

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Vault is a content-addressed artifact store rooted at a base directory.
type Vault struct {
	baseDir string
}

// New creates a vault rooted at baseDir, creating it if needed.
func New(baseDir string) (*Vault, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	return &Vault{baseDir: baseDir}, nil
}

// BaseDir returns the vault root.
func (v *Vault) BaseDir() string {
	return v.baseDir
}

// StoredFile describes one saved artifact.
type StoredFile struct {
	Path   string
	Name   string
	MD5    string
	SHA256 string
	Size   int64
}

// Save writes the blob into the batch directory under a zero-padded index
// prefix and returns the stored path plus content hashes.
func (v *Vault) Save(batchID uuid.UUID, index int, sanitizedName string, data []byte) (*StoredFile, error) {
	dir := filepath.Join(v.baseDir, batchID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create batch dir: %w", err)
	}

	name := fmt.Sprintf("%03d_%s", index, sanitizedName)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write artifact: %w", err)
	}

	md5sum := md5.Sum(data)
	shasum := sha256.Sum256(data)
	return &StoredFile{
		Path:   path,
		Name:   name,
		MD5:    hex.EncodeToString(md5sum[:]),
		SHA256: hex.EncodeToString(shasum[:]),
		Size:   int64(len(data)),
	}, nil
}

// Read returns the stored artifact bytes.
func (v *Vault) Read(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// PurgeBatch removes a batch directory and everything under it.
func (v *Vault) PurgeBatch(batchID uuid.UUID) error {
	return os.RemoveAll(filepath.Join(v.baseDir, batchID.String()))
}
