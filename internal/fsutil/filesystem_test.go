package fsutil

import (
	"errors"
	"path/filepath"
	"syscall"
	"testing"
)

func TestOSFileSystem_Exists(t *testing.T) {
	fs := OSFileSystem{}

	if !fs.Exists("filesystem.go") {
		t.Error("expected filesystem.go to exist")
	}

	if fs.Exists("nonexistent_file_xyz.go") {
		t.Error("expected nonexistent file to not exist")
	}
}

func TestOSFileSystem_AppendAndRename(t *testing.T) {
	fs := OSFileSystem{}
	dir := t.TempDir()
	path := filepath.Join(dir, "log.csv")

	for _, line := range []string{"a\n", "b\n"} {
		w, err := fs.Append(path)
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		w.Close()
	}

	renamed := filepath.Join(dir, "final.csv")
	if err := fs.Rename(path, renamed); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	data, err := fs.ReadFile(renamed)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "a\nb\n" {
		t.Errorf("expected appended content, got %q", data)
	}
	if fs.Exists(path) {
		t.Error("expected source of rename to be gone")
	}
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()

	testData := []byte("hello, world")
	if err := mfs.WriteFile("/test.txt", testData, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := mfs.ReadFile("/test.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	if string(data) != string(testData) {
		t.Errorf("expected %q, got %q", testData, data)
	}
}

func TestMemoryFileSystem_AppendKeepsContent(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.WriteFile("/events.csv", []byte("header\n"), 0644)

	w, err := mfs.Append("/events.csv")
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	w.Write([]byte("row\n"))
	w.Close()

	data, _ := mfs.ReadFile("/events.csv")
	if string(data) != "header\nrow\n" {
		t.Errorf("got %q", data)
	}
}

func TestMemoryFileSystem_RenameAndFiles(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.WriteFile("/out/001.partial", []byte("x"), 0644)

	if err := mfs.Rename("/out/001.partial", "/out/001.clip"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	files := mfs.Files("/out")
	if len(files) != 1 || files[0] != "/out/001.clip" {
		t.Errorf("Files() = %v", files)
	}
	if err := mfs.Rename("/out/missing", "/out/x"); err == nil {
		t.Error("expected error renaming missing file")
	}
}

func TestMemoryFileSystem_InjectedFailures(t *testing.T) {
	mfs := NewMemoryFileSystem()

	mfs.FailCreate(syscall.ENOSPC)
	if _, err := mfs.Create("/full"); !errors.Is(err, syscall.ENOSPC) {
		t.Errorf("Create error = %v, want ENOSPC", err)
	}
	mfs.FailCreate(nil)

	w, err := mfs.Create("/ok")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	mfs.FailWrites(syscall.ENOSPC)
	if _, err := w.Write([]byte("data")); !errors.Is(err, syscall.ENOSPC) {
		t.Errorf("Write error = %v, want ENOSPC", err)
	}
}

func TestMemoryFileSystem_MkdirAllAndRemove(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := mfs.MkdirAll("/a/b/c", 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	for _, dir := range []string{"/a", "/a/b", "/a/b/c"} {
		if !mfs.Exists(dir) {
			t.Errorf("expected %s to exist", dir)
		}
	}

	mfs.WriteFile("/a/file", []byte("x"), 0644)
	if err := mfs.Remove("/a/file"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := mfs.Remove("/a/file"); err == nil {
		t.Error("expected error removing missing file")
	}
}
