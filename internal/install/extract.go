package install

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ZebulonRouseFrantzich/keg/internal/formula"
)

// Archive formats understood by the extract action.
const (
	FormatTarGz = "tar.gz"
	FormatTar   = "tar"
	FormatZip   = "zip"
)

// DetectFormat infers the archive format from a file name.
func DetectFormat(name string) (string, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz, nil
	case strings.HasSuffix(lower, ".tar"):
		return FormatTar, nil
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip, nil
	default:
		return "", fmt.Errorf("cannot tell archive format of %q", name)
	}
}

// extractStep unpacks the artifact into the stage.
// Args: strip (leading path components to drop), to (subdirectory), format.
func extractStep(ctx context.Context, sc *StepContext, step formula.Step) error {
	strip := 0
	if s := step.Arg("strip"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return fmt.Errorf("extract: invalid strip %q", s)
		}
		strip = n
	}

	dest, err := sc.Resolve(step.Arg("to"))
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	format := step.Arg("format")
	if format == "" {
		if format, err = DetectFormat(sc.Artifact); err != nil {
			return fmt.Errorf("extract: %w", err)
		}
	}

	x := &Extractor{Strip: strip}
	switch format {
	case FormatTarGz, "tgz":
		return x.ExtractTarGz(ctx, sc.Artifact, dest)
	case FormatTar:
		return x.ExtractTar(ctx, sc.Artifact, dest)
	case FormatZip:
		return x.ExtractZip(ctx, sc.Artifact, dest)
	default:
		return fmt.Errorf("extract: unsupported format %q", format)
	}
}

// Extractor handles archive extraction
type Extractor struct {
	// Strip drops this many leading path components from every entry.
	Strip int
}

// ExtractTarGz extracts a .tar.gz archive to a destination directory
func (e *Extractor) ExtractTarGz(ctx context.Context, archivePath, destDir string) error {
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archiveFile.Close()

	gzipReader, err := gzip.NewReader(archiveFile)
	if err != nil {
		return fmt.Errorf("create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	return e.extractTar(ctx, tar.NewReader(gzipReader), destDir)
}

// ExtractTar extracts an uncompressed tar archive.
func (e *Extractor) ExtractTar(ctx context.Context, archivePath, destDir string) error {
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archiveFile.Close()

	return e.extractTar(ctx, tar.NewReader(archiveFile), destDir)
}

func (e *Extractor) extractTar(ctx context.Context, tarReader *tar.Reader, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		name, ok := e.stripped(header.Name)
		if !ok {
			continue
		}
		target, err := entryPath(destDir, name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := notSymlink(target); err != nil {
				return err
			}
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create directory %s: %w", target, err)
			}

		case tar.TypeReg:
			if err := writeFile(target, tarReader, os.FileMode(header.Mode).Perm()); err != nil {
				return err
			}

		case tar.TypeSymlink:
			if err := makeSymlink(destDir, target, header.Linkname); err != nil {
				return err
			}

		case tar.TypeLink:
			linkName, ok := e.stripped(header.Linkname)
			if !ok {
				return fmt.Errorf("hard link %s points outside the stripped tree", header.Name)
			}
			src, err := entryPath(destDir, linkName)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create parent dir for %s: %w", target, err)
			}
			if err := os.Link(src, target); err != nil {
				return fmt.Errorf("create hard link %s: %w", target, err)
			}

		default:
			// Skip other types (char devices, block devices, etc.)
			continue
		}
	}

	return nil
}

// ExtractZip extracts a zip archive.
func (e *Extractor) ExtractZip(ctx context.Context, archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		name, ok := e.stripped(f.Name)
		if !ok {
			continue
		}
		target, err := entryPath(destDir, name)
		if err != nil {
			return err
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := notSymlink(target); err != nil {
				return err
			}
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create directory %s: %w", target, err)
			}
		case mode&os.ModeSymlink != 0:
			linkname, err := readZipEntry(f)
			if err != nil {
				return err
			}
			if err := makeSymlink(destDir, target, linkname); err != nil {
				return err
			}
		default:
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("open %s: %w", f.Name, err)
			}
			perm := mode.Perm()
			if perm == 0 {
				perm = 0o644
			}
			err = writeFile(target, rc, perm)
			rc.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// stripped removes the leading Strip components. Entries that are consumed
// entirely are skipped.
func (e *Extractor) stripped(name string) (string, bool) {
	var parts []string
	for _, p := range strings.Split(filepath.ToSlash(name), "/") {
		if p != "" && p != "." {
			parts = append(parts, p)
		}
	}
	if len(parts) <= e.Strip {
		return "", false
	}
	return strings.Join(parts[e.Strip:], "/"), true
}

// entryPath joins name under destDir, refusing path traversal and entries
// that would be written through a symlink an earlier entry created.
func entryPath(destDir, name string) (string, error) {
	clean := filepath.Clean(destDir)
	target := filepath.Join(clean, filepath.FromSlash(name))
	if !strings.HasPrefix(target, clean+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal file path: %s", name)
	}
	if err := checkNoSymlinkParents(clean, target); err != nil {
		return "", err
	}
	return target, nil
}

func notSymlink(target string) error {
	if info, err := os.Lstat(target); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("illegal file path: %s is a symlink", target)
	}
	return nil
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if err := notSymlink(target); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", target, err)
	}
	outFile, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create file %s: %w", target, err)
	}
	if _, err := io.Copy(outFile, r); err != nil {
		outFile.Close()
		return fmt.Errorf("write file %s: %w", target, err)
	}
	if err := outFile.Close(); err != nil {
		return fmt.Errorf("close file %s: %w", target, err)
	}
	return nil
}

// makeSymlink creates target -> linkname after checking the link stays inside
// destDir.
func makeSymlink(destDir, target, linkname string) error {
	if filepath.IsAbs(linkname) || strings.HasPrefix(linkname, "/") {
		return fmt.Errorf("illegal symlink %s -> %s: absolute target", target, linkname)
	}
	resolved := filepath.Join(filepath.Dir(target), filepath.FromSlash(linkname))
	clean := filepath.Clean(destDir)
	if resolved != clean && !strings.HasPrefix(resolved, clean+string(os.PathSeparator)) {
		return fmt.Errorf("illegal symlink %s -> %s: escapes the archive", target, linkname)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", target, err)
	}
	if err := os.Symlink(linkname, target); err != nil {
		return fmt.Errorf("create symlink %s: %w", target, err)
	}
	return nil
}

func readZipEntry(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, 4096))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", f.Name, err)
	}
	return string(data), nil
}
