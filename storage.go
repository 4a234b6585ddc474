package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileStorage is the external storage collaborator for uploaded permit
// documents. The core never inspects stored bytes after upload.
type FileStorage interface {
	Store(data []byte, suggestedName string) (string, error)
	Exists(ref string) bool
	Delete(ref string) error
}

// DiskStorage stores permit files under a single directory, prefixing each
// name with a UUID so re-uploads never collide.
type DiskStorage struct {
	Dir string
}

func NewDiskStorage(dir string) (*DiskStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating permit dir: %w", err)
	}
	return &DiskStorage{Dir: dir}, nil
}

func (s *DiskStorage) Store(data []byte, suggestedName string) (string, error) {
	name := fmt.Sprintf("%s_%s", uuid.NewString(), sanitizeFilename(suggestedName))
	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing permit file: %w", err)
	}
	return path, nil
}

func (s *DiskStorage) Exists(ref string) bool {
	_, err := os.Stat(ref)
	return err == nil
}

func (s *DiskStorage) Delete(ref string) error {
	return os.Remove(ref)
}

func sanitizeFilename(s string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_")
	return replacer.Replace(s)
}
