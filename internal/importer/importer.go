// Package importer copies reference images into the gallery directory,
// applying exclude filtering and MD5-based conflict resolution.
package importer

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kamusis/shoesnap/internal/imaging"
)

// ConflictPair records an incoming file whose name was taken by different content.
type ConflictPair struct {
	Original string // file already in the gallery
	Conflict string // where the incoming version was written
}

// Result is returned by ImportDir.
type Result struct {
	Conflicts   []ConflictPair
	Imported    int      // files copied, including conflict copies
	Skipped     int      // identical duplicates
	Excluded    int      // matched an exclude pattern
	Unsupported []string // files without an image extension
}

// Options controls ImportDir.
type Options struct {
	// Tag names conflict copies: photo.jpg becomes photo.conflict-<Tag>.jpg.
	// Defaults to the source directory's base name.
	Tag      string
	Excludes []string
}

// DefaultExcludes are platform junk files never worth importing.
var DefaultExcludes = []string{".DS_Store", "Thumbs.db", "desktop.ini", "*.tmp", "*.bak", "*~", ".*"}

// ImportDir copies the image files directly inside srcDir into dstDir.
// Subdirectories are not descended, matching how the gallery is scanned.
func ImportDir(srcDir, dstDir string, opts Options) (*Result, error) {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return nil, fmt.Errorf("cannot read source dir %s: %w", srcDir, err)
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create gallery dir %s: %w", dstDir, err)
	}
	tag := opts.Tag
	if tag == "" {
		tag = sanitizeTag(filepath.Base(filepath.Clean(srcDir)))
	}

	result := &Result{}
	for _, e := range entries {
		name := e.Name()
		src := filepath.Join(srcDir, name)

		if matchesExclude(name, opts.Excludes) {
			result.Excluded++
			continue
		}
		st, err := os.Stat(src)
		if err != nil || !st.Mode().IsRegular() {
			continue
		}
		if !imaging.HasImageExt(name) {
			result.Unsupported = append(result.Unsupported, src)
			continue
		}

		dst := filepath.Join(dstDir, name)
		if _, err := os.Stat(dst); err == nil {
			same, err := sameContent(src, dst)
			if err != nil {
				return result, err
			}
			if same {
				result.Skipped++
				continue
			}
			conflictDst := conflictPath(dst, tag)
			if _, err := os.Stat(conflictDst); err == nil {
				if same, err := sameContent(src, conflictDst); err == nil && same {
					result.Skipped++
					continue
				}
			}
			if err := copyFile(src, conflictDst); err != nil {
				return result, fmt.Errorf("conflict copy %s → %s: %w", src, conflictDst, err)
			}
			result.Conflicts = append(result.Conflicts, ConflictPair{Original: dst, Conflict: conflictDst})
			result.Imported++
			continue
		}

		if err := copyFile(src, dst); err != nil {
			return result, fmt.Errorf("copy %s → %s: %w", src, dst, err)
		}
		result.Imported++
	}
	return result, nil
}

// conflictPath inserts .conflict-<tag> before the final extension.
//
//	boot.jpg       → boot.conflict-catalog.jpg
//	boot.side.png  → boot.side.conflict-catalog.png
func conflictPath(original, tag string) string {
	ext := filepath.Ext(original)
	base := strings.TrimSuffix(original, ext)
	return base + ".conflict-" + tag + ext
}

func sanitizeTag(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
	if s == "" || s == "." || strings.Trim(s, "_") == "" {
		return "import"
	}
	return s
}

// matchesExclude reports whether name matches any glob pattern.
func matchesExclude(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
	}
	return false
}

func sameContent(a, b string) (bool, error) {
	ha, err := fileMD5(a)
	if err != nil {
		return false, fmt.Errorf("md5 %s: %w", a, err)
	}
	hb, err := fileMD5(b)
	if err != nil {
		return false, fmt.Errorf("md5 %s: %w", b, err)
	}
	return ha == hb, nil
}

// fileMD5 returns the hex-encoded MD5 digest of the file at path.
func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// copyFile copies src to dst through a temp file so a partial copy never
// appears in the gallery under its final name.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".import-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
