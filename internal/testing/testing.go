// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/desertthunder/exporter/internal/shared"
)

// MemStore is an in-memory object store test double.
//
// FailUploads and FailExists make the next N calls fail with a transient error.
type MemStore struct {
	mu            sync.Mutex
	Objects       map[string][]byte
	FailUploads   int
	FailExists    int
	UploadCalls   int
	ExistsCalls   int
	DownloadCalls int
}

func NewMemStore() *MemStore {
	return &MemStore{Objects: map[string][]byte{}}
}

func (m *MemStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExistsCalls++
	if m.FailExists > 0 {
		m.FailExists--
		return false, errors.New("transient exists failure")
	}
	_, ok := m.Objects[key]
	return ok, nil
}

func (m *MemStore) Download(ctx context.Context, key, dest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DownloadCalls++
	data, ok := m.Objects[key]
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrObjectNotFound, key)
	}
	return os.WriteFile(dest, data, 0o644)
}

func (m *MemStore) Upload(ctx context.Context, src, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UploadCalls++
	if m.FailUploads > 0 {
		m.FailUploads--
		return errors.New("transient upload failure")
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	m.Objects[key] = data
	return nil
}

func (m *MemStore) Close() error { return nil }

// Keys returns the stored keys.
func (m *MemStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.Objects))
	for k := range m.Objects {
		keys = append(keys, k)
	}
	return keys
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// StubExecutable writes a shell script named name into dir and returns its path.
func StubExecutable(t *testing.T, dir, name, script string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	body := "#!/bin/sh\n" + strings.TrimSpace(script) + "\n"
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("Failed to write stub executable %s: %v", name, err)
	}
	return path
}

// PrependPath puts dir first on PATH for the duration of the test.
func PrependPath(t *testing.T, dir string) {
	t.Helper()
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func AssertFileMissing(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Errorf("File should not exist: %s", path)
	}
}

func AssertDirExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		t.Errorf("Directory does not exist: %s", path)
		return
	}
	if !info.IsDir() {
		t.Errorf("Path is not a directory: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}

func MustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
}
