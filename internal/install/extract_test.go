package install

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"
)

type tarEntry struct {
	name     string
	content  string
	typeflag byte
	linkname string
	mode     int64
}

// Helper function to create a test archive; gzip-compressed when compress is set.
func createTestTar(t *testing.T, compress bool, entries ...tarEntry) string {
	t.Helper()

	name := "test.tar"
	if compress {
		name += ".gz"
	}
	archivePath := filepath.Join(t.TempDir(), name)
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}
	defer func() { _ = archiveFile.Close() }()

	var tarWriter *tar.Writer
	if compress {
		gzipWriter := gzip.NewWriter(archiveFile)
		defer func() { _ = gzipWriter.Close() }()
		tarWriter = tar.NewWriter(gzipWriter)
	} else {
		tarWriter = tar.NewWriter(archiveFile)
	}
	defer func() { _ = tarWriter.Close() }()

	for _, e := range entries {
		typeflag := e.typeflag
		if typeflag == 0 {
			typeflag = tar.TypeReg
		}
		mode := e.mode
		if mode == 0 {
			mode = 0o644
		}
		header := &tar.Header{
			Name:     e.name,
			Mode:     mode,
			Typeflag: typeflag,
			Linkname: e.linkname,
		}
		if typeflag == tar.TypeReg {
			header.Size = int64(len(e.content))
		}
		if err := tarWriter.WriteHeader(header); err != nil {
			t.Fatalf("failed to write header for %s: %v", e.name, err)
		}
		if typeflag == tar.TypeReg {
			if _, err := tarWriter.Write([]byte(e.content)); err != nil {
				t.Fatalf("failed to write content for %s: %v", e.name, err)
			}
		}
	}

	return archivePath
}

func createTestZip(t *testing.T, files map[string]string) string {
	t.Helper()
	archivePath := filepath.Join(t.TempDir(), "test.zip")
	f, err := os.Create(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return archivePath
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestExtractTarGz(t *testing.T) {
	tests := []struct {
		name    string
		strip   int
		entries []tarEntry
		want    map[string]string
		wantErr bool
	}{
		{
			name: "simple_extraction",
			entries: []tarEntry{
				{name: "file1.txt", content: "content1"},
				{name: "dir1/dir2/file2.txt", content: "content2"},
			},
			want: map[string]string{"file1.txt": "content1", "dir1/dir2/file2.txt": "content2"},
		},
		{
			name:  "strip_leading_component",
			strip: 1,
			entries: []tarEntry{
				{name: "tool-1.0/", typeflag: tar.TypeDir},
				{name: "tool-1.0/bin/tool", content: "bin", mode: 0o755},
				{name: "./tool-1.0/LICENSE", content: "mit"},
			},
			want: map[string]string{"bin/tool": "bin", "LICENSE": "mit"},
		},
		{
			name:    "path_traversal",
			entries: []tarEntry{{name: "../evil.txt", content: "x"}},
			wantErr: true,
		},
		{
			name: "symlink_inside",
			entries: []tarEntry{
				{name: "real.txt", content: "real"},
				{name: "alias.txt", typeflag: tar.TypeSymlink, linkname: "real.txt"},
			},
			want: map[string]string{"alias.txt": "real"},
		},
		{
			name:    "symlink_escaping",
			entries: []tarEntry{{name: "escape", typeflag: tar.TypeSymlink, linkname: "../../etc/passwd"}},
			wantErr: true,
		},
		{
			name:    "symlink_absolute",
			entries: []tarEntry{{name: "escape", typeflag: tar.TypeSymlink, linkname: "/etc/passwd"}},
			wantErr: true,
		},
		{
			name: "hard_link",
			entries: []tarEntry{
				{name: "a.txt", content: "shared"},
				{name: "b.txt", typeflag: tar.TypeLink, linkname: "a.txt"},
			},
			want: map[string]string{"b.txt": "shared"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			archive := createTestTar(t, true, tt.entries...)
			dest := filepath.Join(t.TempDir(), "out")

			err := (&Extractor{Strip: tt.strip}).ExtractTarGz(context.Background(), archive, dest)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractTarGz() error = %v", err)
			}
			for rel, content := range tt.want {
				if got := readFile(t, filepath.Join(dest, filepath.FromSlash(rel))); got != content {
					t.Errorf("%s = %q, want %q", rel, got, content)
				}
			}
		})
	}
}

func TestExtractTarGz_SymlinkChain(t *testing.T) {
	// Each link is lexically inside the archive, but following them walks
	// up out of dest one level at a time.
	archive := createTestTar(t, true,
		tarEntry{name: "p/", typeflag: tar.TypeDir},
		tarEntry{name: "p/q", typeflag: tar.TypeSymlink, linkname: ".."},
		tarEntry{name: "p/q/r", typeflag: tar.TypeSymlink, linkname: ".."},
		tarEntry{name: "p/q/r/s", typeflag: tar.TypeSymlink, linkname: ".."},
		tarEntry{name: "p/q/r/s/escaped.txt", content: "pwned"},
	)
	root := t.TempDir()
	dest := filepath.Join(root, "stage", "keg")

	if err := (&Extractor{}).ExtractTarGz(context.Background(), archive, dest); err == nil {
		t.Fatal("expected error for entry below a symlinked directory")
	}
	for _, dir := range []string{root, filepath.Join(root, "stage"), dest} {
		if _, err := os.Lstat(filepath.Join(dir, "escaped.txt")); err == nil {
			t.Errorf("escaped.txt written to %s", dir)
		}
	}
	if _, err := os.Lstat(filepath.Join(root, "stage", "s")); err == nil {
		t.Error("symlink s created outside dest")
	}
}

func TestExtractTarGz_NoWritesThroughSymlinks(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "victim.txt")
	if err := os.WriteFile(outside, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		entries []tarEntry
	}{
		{
			name: "file_over_symlink",
			entries: []tarEntry{
				{name: "dir/", typeflag: tar.TypeDir},
				{name: "link", typeflag: tar.TypeSymlink, linkname: "dir"},
				{name: "link", content: "replaced"},
			},
		},
		{
			name: "file_under_symlinked_dir",
			entries: []tarEntry{
				{name: "dir/", typeflag: tar.TypeDir},
				{name: "link", typeflag: tar.TypeSymlink, linkname: "dir"},
				{name: "link/file.txt", content: "x"},
			},
		},
		{
			name: "hard_link_through_symlinked_dir",
			entries: []tarEntry{
				{name: "dir/a.txt", content: "a"},
				{name: "link", typeflag: tar.TypeSymlink, linkname: "dir"},
				{name: "b.txt", typeflag: tar.TypeLink, linkname: "link/a.txt"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			archive := createTestTar(t, true, tt.entries...)
			dest := filepath.Join(t.TempDir(), "out")
			if err := (&Extractor{}).ExtractTarGz(context.Background(), archive, dest); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if got := readFile(t, outside); got != "original" {
		t.Errorf("file outside dest changed to %q", got)
	}
}

func TestExtractTarGz_PreservesExecutableBit(t *testing.T) {
	archive := createTestTar(t, true, tarEntry{name: "tool", content: "x", mode: 0o755})
	dest := t.TempDir()
	if err := (&Extractor{}).ExtractTarGz(context.Background(), archive, dest); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(filepath.Join(dest, "tool"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Errorf("mode = %v, want owner executable", info.Mode())
	}
}

func TestExtractTar_Uncompressed(t *testing.T) {
	archive := createTestTar(t, false, tarEntry{name: "plain.txt", content: "plain"})
	dest := t.TempDir()
	if err := (&Extractor{}).ExtractTar(context.Background(), archive, dest); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, filepath.Join(dest, "plain.txt")); got != "plain" {
		t.Errorf("plain.txt = %q", got)
	}
}

func TestExtractZip(t *testing.T) {
	archive := createTestZip(t, map[string]string{
		"pkg/bin/tool": "zip-bin",
		"pkg/README":   "hello",
	})
	dest := t.TempDir()
	if err := (&Extractor{Strip: 1}).ExtractZip(context.Background(), archive, dest); err != nil {
		t.Fatalf("ExtractZip() error = %v", err)
	}
	if got := readFile(t, filepath.Join(dest, "bin", "tool")); got != "zip-bin" {
		t.Errorf("bin/tool = %q", got)
	}

	evil := createTestZip(t, map[string]string{"../../evil": "x"})
	if err := (&Extractor{}).ExtractZip(context.Background(), evil, t.TempDir()); err == nil {
		t.Error("expected path traversal error")
	}
}

func TestExtract_Cancelled(t *testing.T) {
	archive := createTestTar(t, true, tarEntry{name: "a", content: "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (&Extractor{}).ExtractTarGz(ctx, archive, t.TempDir()); err != context.Canceled {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestDetectFormat(t *testing.T) {
	tests := map[string]string{
		"tool-1.0.tar.gz": FormatTarGz,
		"tool.TGZ":        FormatTarGz,
		"tool.tar":        FormatTar,
		"tool.zip":        FormatZip,
	}
	for name, want := range tests {
		got, err := DetectFormat(name)
		if err != nil || got != want {
			t.Errorf("DetectFormat(%q) = %q, %v; want %q", name, got, err, want)
		}
	}
	if _, err := DetectFormat("tool.tar.xz"); err == nil {
		t.Error("expected error for unsupported format")
	}
}
