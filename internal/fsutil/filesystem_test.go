package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_Exists(t *testing.T) {
	fsys := OSFileSystem{}

	if !fsys.Exists("filesystem.go") {
		t.Error("expected filesystem.go to exist")
	}
	if fsys.Exists("nonexistent_file_xyz.go") {
		t.Error("expected nonexistent file to not exist")
	}
}

func TestOSFileSystem_WriteFileAtomic(t *testing.T) {
	fsys := OSFileSystem{}
	dir := t.TempDir()
	name := filepath.Join(dir, "model.npy")

	err := WriteFileAtomic(fsys, name, func(w io.Writer) error {
		_, err := io.WriteString(w, "first")
		return err
	})
	if err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}
	data, err := fsys.ReadFile(name)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "first" {
		t.Errorf("expected %q, got %q", "first", data)
	}
	if fsys.Exists(name + tmpSuffix) {
		t.Error("temporary file left behind")
	}
}

func TestWriteFileAtomic_FailureKeepsExisting(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.WriteFile("/out/a.csv", []byte("old"))

	boom := errors.New("boom")
	err := WriteFileAtomic(mfs, "/out/a.csv", func(w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}

	data, err := mfs.ReadFile("/out/a.csv")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "old" {
		t.Errorf("existing file changed to %q", data)
	}
	if mfs.Exists("/out/a.csv" + tmpSuffix) {
		t.Error("temporary file left behind")
	}
}

func TestWriteFileAtomic_Replaces(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.WriteFile("/out/a.csv", []byte("old"))

	err := WriteFileAtomic(mfs, "/out/a.csv", func(w io.Writer) error {
		_, err := io.WriteString(w, "new")
		return err
	})
	if err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}
	data, _ := mfs.ReadFile("/out/a.csv")
	if string(data) != "new" {
		t.Errorf("expected %q, got %q", "new", data)
	}
	if got := mfs.Files("/out"); len(got) != 1 {
		t.Errorf("expected one file, got %v", got)
	}
}

func TestMemoryFileSystem_CreateAndOpen(t *testing.T) {
	mfs := NewMemoryFileSystem()

	w, err := mfs.Create("/created.txt")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := w.Write([]byte("created content")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	f, err := mfs.Open("/created.txt")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(data) != "created content" {
		t.Errorf("expected 'created content', got %q", data)
	}
	info, err := f.Stat()
	if err != nil || info.Size() != int64(len("created content")) {
		t.Errorf("unexpected stat %v, %v", info, err)
	}
}

func TestMemoryFileSystem_NotExist(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if _, err := mfs.Open("/missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Open: expected ErrNotExist, got %v", err)
	}
	if _, err := mfs.ReadFile("/missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile: expected ErrNotExist, got %v", err)
	}
	if _, err := mfs.Stat("/missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Stat: expected ErrNotExist, got %v", err)
	}
	if err := mfs.Rename("/missing", "/other"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Rename: expected ErrNotExist, got %v", err)
	}
	if err := mfs.Remove("/missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Remove: expected ErrNotExist, got %v", err)
	}
}

func TestMemoryFileSystem_Dirs(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := mfs.MkdirAll("/a/b/c", 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	for _, d := range []string{"/a", "/a/b", "/a/b/c"} {
		if !mfs.Exists(d) {
			t.Errorf("expected %s to exist", d)
		}
	}
	info, err := mfs.Stat("/a/b")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if !info.IsDir() || !info.Mode().IsDir() {
		t.Error("expected directory")
	}
	if err := mfs.Remove("/a/b/c"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if mfs.Exists("/a/b/c") {
		t.Error("expected /a/b/c removed")
	}
}

func TestMemoryFileSystem_Files(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.WriteFile("/out/b", nil)
	mfs.WriteFile("/out/a", nil)
	mfs.WriteFile("/other/c", nil)

	got := mfs.Files("/out")
	if len(got) != 2 || got[0] != "/out/a" || got[1] != "/out/b" {
		t.Errorf("unexpected files %v", got)
	}
	if all := mfs.Files("/"); len(all) != 3 {
		t.Errorf("expected 3 files, got %v", all)
	}
}
