package storage

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestFileStore_StoreRetrieve(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	data := []byte("attachment payload")
	locator, err := store.Store("report.pdf", data)
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if !strings.HasSuffix(locator, "_report.pdf") {
		t.Errorf("Store() locator = %q, want *_report.pdf", locator)
	}

	got, err := store.Retrieve(locator)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Retrieve() = %q, want %q", got, data)
	}
}

func TestFileStore_StoreStripsPath(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	locator, err := store.Store("../../etc/passwd", []byte("x"))
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if strings.Contains(locator, "/") || strings.Contains(locator, "..") {
		t.Errorf("Store() locator leaks path components: %q", locator)
	}
}

func TestFileStore_RetrieveNotFound(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	tests := []struct {
		name    string
		locator string
	}{
		{"missing file", "no-such-locator"},
		{"empty locator", ""},
		{"path traversal", "../outside"},
		{"absolute path", "/etc/passwd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.Retrieve(tt.locator); !errors.Is(err, ErrNotFound) {
				t.Errorf("Retrieve(%q) error = %v, want ErrNotFound", tt.locator, err)
			}
		})
	}
}

func TestFileStore_UniqueLocators(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	l1, err := store.Store("same.txt", []byte("one"))
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	l2, err := store.Store("same.txt", []byte("two"))
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if l1 == l2 {
		t.Errorf("Store() returned identical locators for two writes: %q", l1)
	}

	got, err := store.Retrieve(l1)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if string(got) != "one" {
		t.Errorf("Retrieve(l1) = %q, second write overwrote the first", got)
	}
}
