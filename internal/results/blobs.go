// Package results stores job documents on the local filesystem. Every job
// gets its own directory under the base directory; blobs are addressed by
// keys of the form "<job id>/<name>".
package results

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"doc-translator/internal/types"
)

const (
	// SourceName is the blob name of an uploaded document
	SourceName = "source.pdf"
	// OutputName is the blob name of a translated document
	OutputName = "translated.pdf"
)

// BlobStore 文件存储
type BlobStore struct {
	baseDir string
}

// NewBlobStore creates a BlobStore rooted at baseDir.
// If baseDir is empty, uses the default location in the user's home directory
func NewBlobStore(baseDir string) (*BlobStore, error) {
	if baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, types.NewAppError(types.ErrBlob, "failed to get home directory", err)
		}
		baseDir = filepath.Join(homeDir, ".doc-translator", "blobs")
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, types.NewAppError(types.ErrBlob, "failed to create blob directory", err)
	}
	return &BlobStore{baseDir: baseDir}, nil
}

// BaseDir returns the root directory
func (s *BlobStore) BaseDir() string {
	return s.baseDir
}

// Key builds the blob key for name inside a job's directory.
func Key(jobID, name string) string {
	return sanitizeSegment(jobID) + "/" + sanitizeSegment(name)
}

// Path returns the file path of key.
func (s *BlobStore) Path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", types.NewAppErrorWithDetails(types.ErrInvalidInput, "invalid blob key", key, nil)
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(clean[1:])), nil
}

// Write stores data under key and returns the key. The file is replaced
// atomically so readers never see a partial document.
func (s *BlobStore) Write(key string, data []byte) (string, error) {
	p, err := s.Path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", types.NewAppError(types.ErrBlob, "failed to create job directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".blob-*")
	if err != nil {
		return "", types.NewAppError(types.ErrBlob, "failed to create temp file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", types.NewAppError(types.ErrBlob, "failed to write blob", err)
	}
	if err := tmp.Close(); err != nil {
		return "", types.NewAppError(types.ErrBlob, "failed to write blob", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return "", types.NewAppError(types.ErrBlob, "failed to store blob", err)
	}
	return key, nil
}

// Read returns the bytes stored under key.
func (s *BlobStore) Read(key string) ([]byte, error) {
	p, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewAppErrorWithDetails(types.ErrNotFound, "blob not found", key, err)
		}
		return nil, types.NewAppError(types.ErrBlob, "failed to read blob", err)
	}
	return data, nil
}

// Exists checks if a blob is stored under key
func (s *BlobStore) Exists(key string) bool {
	p, err := s.Path(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// DeleteJob removes a job's directory and every blob in it
func (s *BlobStore) DeleteJob(jobID string) error {
	dir := filepath.Join(s.baseDir, sanitizeSegment(jobID))
	if err := os.RemoveAll(dir); err != nil {
		return types.NewAppError(types.ErrBlob, "failed to delete job blobs", err)
	}
	return nil
}

// Checksum returns the MD5 hex digest of data, used to identify uploads in logs.
func Checksum(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// sanitizeSegment makes s safe to use as one path element
func sanitizeSegment(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "..", "_")
	if s == "" || s == "." {
		return "_"
	}
	return s
}

func (s *BlobStore) String() string {
	return fmt.Sprintf("BlobStore(%s)", s.baseDir)
}
