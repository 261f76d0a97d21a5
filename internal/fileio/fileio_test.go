package fileio

import (
	"bytes"
	"path/filepath"
	"sync"
	"testing"
)

func TestActiveFileAppendReadAt(t *testing.T) {
	dir := t.TempDir()
	af, err := OpenActive(filepath.Join(dir, "data"))
	if err != nil {
		t.Fatalf("OpenActive: %v", err)
	}
	defer af.Close()

	off1, err := af.Append([]byte("hello"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if off1 != 0 {
		t.Errorf("first append offset = %d, want 0", off1)
	}

	off2, err := af.Append([]byte("world!"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if off2 != 5 {
		t.Errorf("second append offset = %d, want 5", off2)
	}

	got, err := af.ReadAt(0, 5)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Errorf("ReadAt(0,5) = %q, want %q", got, "hello")
	}

	got, err = af.ReadAt(5, 6)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, []byte("world!")) {
		t.Errorf("ReadAt(5,6) = %q, want %q", got, "world!")
	}

	if af.Size() != 11 {
		t.Errorf("Size() = %d, want 11", af.Size())
	}
}

func TestActiveFileConcurrentAppend(t *testing.T) {
	dir := t.TempDir()
	af, err := OpenActive(filepath.Join(dir, "data"))
	if err != nil {
		t.Fatalf("OpenActive: %v", err)
	}
	defer af.Close()

	const n = 50
	rec := bytes.Repeat([]byte("x"), 10)

	var wg sync.WaitGroup
	offsets := make([]int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			off, err := af.Append(rec)
			if err != nil {
				t.Errorf("Append: %v", err)
				return
			}
			offsets[i] = off
		}(i)
	}
	wg.Wait()

	if af.Size() != int64(n*len(rec)) {
		t.Fatalf("Size() = %d, want %d", af.Size(), n*len(rec))
	}

	seen := make(map[int64]bool)
	for _, off := range offsets {
		if off%10 != 0 {
			t.Errorf("offset %d not 10-byte aligned", off)
		}
		if seen[off] {
			t.Errorf("offset %d reused across concurrent appends", off)
		}
		seen[off] = true
	}
}

func TestSealedFileReadAtAfterClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.1")

	af, err := OpenActive(path)
	if err != nil {
		t.Fatalf("OpenActive: %v", err)
	}
	if _, err := af.Append([]byte("payload")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := af.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sf, err := OpenSealed(path)
	if err != nil {
		t.Fatalf("OpenSealed: %v", err)
	}

	got, err := sf.ReadAt(0, 7)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, []byte("payload")) {
		t.Errorf("ReadAt = %q, want %q", got, "payload")
	}

	if err := sf.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := sf.ReadAt(0, 7); err == nil {
		t.Error("expected error reading from closed sealed file")
	}
}
