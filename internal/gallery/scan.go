package gallery

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// List returns the regular files directly inside dir, sorted by path.
// Symlinks are followed. Subdirectories, hidden dot-files and anything that
// is not a regular file are ignored.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read gallery dir %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		p := filepath.Join(dir, e.Name())
		st, err := os.Stat(p)
		if err != nil {
			// Dangling symlink.
			continue
		}
		if !st.Mode().IsRegular() {
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// Fingerprint hashes the basename and size of every path, in the given order.
// Files whose content changes without changing name or size hash the same.
func Fingerprint(paths []string) (string, error) {
	parts := make([]string, 0, len(paths))
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return "", fmt.Errorf("cannot stat %s: %w", p, err)
		}
		parts = append(parts, filepath.Base(p)+":"+strconv.FormatInt(st.Size(), 10))
	}
	sum := md5.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:]), nil
}

// FingerprintDir lists dir and fingerprints the result.
func FingerprintDir(dir string) (fp string, files int, err error) {
	paths, err := List(dir)
	if err != nil {
		return "", 0, err
	}
	fp, err = Fingerprint(paths)
	return fp, len(paths), err
}
