package gallery

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"

	"github.com/kamusis/shoesnap/internal/vector"
)

const (
	featsMagic   = "SHOEFEAT"
	featsVersion = 1
	headerSize   = len(featsMagic) + 3*4

	lockFile = "build.lock"
)

var (
	// ErrCacheMiss means no committed artifact exists for the fingerprint.
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheCorrupt means an artifact exists but is malformed or inconsistent.
	ErrCacheCorrupt = errors.New("cache artifact corrupt")
)

// Store persists gallery artifacts under Dir/<namespace>/.
type Store struct {
	Dir string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) namespaceDir(ns string) string {
	return filepath.Join(s.Dir, ns)
}

// FeatsPath returns the matrix file path for a fingerprint.
func (s *Store) FeatsPath(ns, fp string) string {
	return filepath.Join(s.namespaceDir(ns), fp+"_feats.f32")
}

// PathsPath returns the path-list file, which doubles as the commit marker.
func (s *Store) PathsPath(ns, fp string) string {
	return filepath.Join(s.namespaceDir(ns), fp+"_paths.json")
}

// Lookup loads a committed artifact. It returns ErrCacheMiss when nothing is
// committed and an error wrapping ErrCacheCorrupt when the files disagree.
func (s *Store) Lookup(ns, fp string) ([]string, vector.Matrix, error) {
	pb, err := os.ReadFile(s.PathsPath(ns, fp))
	if errors.Is(err, os.ErrNotExist) {
		return nil, vector.Matrix{}, ErrCacheMiss
	}
	if err != nil {
		return nil, vector.Matrix{}, fmt.Errorf("cannot read path list: %w", err)
	}

	var paths []string
	if err := json.Unmarshal(pb, &paths); err != nil {
		return nil, vector.Matrix{}, fmt.Errorf("%w: path list: %v", ErrCacheCorrupt, err)
	}
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if p == "" {
			return nil, vector.Matrix{}, fmt.Errorf("%w: empty path entry", ErrCacheCorrupt)
		}
		if _, dup := seen[p]; dup {
			return nil, vector.Matrix{}, fmt.Errorf("%w: duplicate path %s", ErrCacheCorrupt, p)
		}
		seen[p] = struct{}{}
	}

	m, err := readFeats(s.FeatsPath(ns, fp), len(paths))
	if err != nil {
		return nil, vector.Matrix{}, err
	}
	return paths, m, nil
}

func readFeats(path string, wantRows int) (vector.Matrix, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return vector.Matrix{}, fmt.Errorf("%w: matrix file missing", ErrCacheCorrupt)
	}
	if err != nil {
		return vector.Matrix{}, fmt.Errorf("cannot open matrix file %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return vector.Matrix{}, fmt.Errorf("cannot stat matrix file %s: %w", path, err)
	}

	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(f, hdr); err != nil {
		return vector.Matrix{}, fmt.Errorf("%w: short header: %v", ErrCacheCorrupt, err)
	}
	if string(hdr[:len(featsMagic)]) != featsMagic {
		return vector.Matrix{}, fmt.Errorf("%w: bad magic", ErrCacheCorrupt)
	}
	rest := hdr[len(featsMagic):]
	version := binary.LittleEndian.Uint32(rest[0:4])
	rows := int(binary.LittleEndian.Uint32(rest[4:8]))
	dim := int(binary.LittleEndian.Uint32(rest[8:12]))
	if version != featsVersion {
		return vector.Matrix{}, fmt.Errorf("%w: unsupported version %d", ErrCacheCorrupt, version)
	}
	if rows != wantRows {
		return vector.Matrix{}, fmt.Errorf("%w: %d rows for %d paths", ErrCacheCorrupt, rows, wantRows)
	}
	expected := int64(headerSize) + int64(rows)*int64(dim)*4
	if st.Size() != expected {
		return vector.Matrix{}, fmt.Errorf("%w: size %d, want %d (rows=%d dim=%d)", ErrCacheCorrupt, st.Size(), expected, rows, dim)
	}

	data := make([]float32, rows*dim)
	if len(data) > 0 {
		if err := binary.Read(bufio.NewReader(f), binary.LittleEndian, data); err != nil {
			return vector.Matrix{}, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
		}
	}
	m := vector.Matrix{Rows: rows, Dim: dim, Data: data}
	if err := m.Validate(); err != nil {
		return vector.Matrix{}, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}
	return m, nil
}

// Publish commits paths and m for fingerprint fp. Both files are written to
// temporary names and synced first; the path list is renamed into place last,
// so a crash at any point leaves either the previous artifact or none.
func (s *Store) Publish(ns, fp string, paths []string, m vector.Matrix) error {
	if len(paths) != m.Rows {
		return fmt.Errorf("%d paths for %d rows", len(paths), m.Rows)
	}
	dir := s.namespaceDir(ns)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create cache dir %s: %w", dir, err)
	}

	var feats bytes.Buffer
	feats.Grow(headerSize + len(m.Data)*4)
	feats.WriteString(featsMagic)
	for _, v := range []uint32{featsVersion, uint32(m.Rows), uint32(m.Dim)} {
		_ = binary.Write(&feats, binary.LittleEndian, v)
	}
	if len(m.Data) > 0 {
		if err := binary.Write(&feats, binary.LittleEndian, m.Data); err != nil {
			return fmt.Errorf("cannot encode matrix: %w", err)
		}
	}

	if paths == nil {
		paths = []string{}
	}
	pb, err := json.Marshal(paths)
	if err != nil {
		return fmt.Errorf("cannot encode path list: %w", err)
	}

	featsTmp, err := writeTemp(dir, fp+"_feats-*.tmp", feats.Bytes())
	if err != nil {
		return err
	}
	pathsTmp, err := writeTemp(dir, fp+"_paths-*.tmp", pb)
	if err != nil {
		_ = os.Remove(featsTmp)
		return err
	}

	cleanup := func() {
		_ = os.Remove(featsTmp)
		_ = os.Remove(pathsTmp)
	}
	if err := os.Remove(s.PathsPath(ns, fp)); err != nil && !errors.Is(err, os.ErrNotExist) {
		cleanup()
		return fmt.Errorf("cannot retire old path list: %w", err)
	}
	if err := os.Rename(featsTmp, s.FeatsPath(ns, fp)); err != nil {
		cleanup()
		return fmt.Errorf("cannot commit matrix: %w", err)
	}
	if err := os.Rename(pathsTmp, s.PathsPath(ns, fp)); err != nil {
		_ = os.Remove(pathsTmp)
		return fmt.Errorf("cannot commit path list: %w", err)
	}
	syncDir(dir)
	return nil
}

func writeTemp(dir, pattern string, b []byte) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("cannot create temp file: %w", err)
	}
	name := f.Name()
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("cannot write %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("cannot sync %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

// syncDir flushes directory entries; not every platform supports it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// Lock takes the cross-process build lock, polling until timeout or ctx ends.
// The returned func releases it.
func (s *Store) Lock(ctx context.Context, timeout time.Duration) (func(), error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return func() {}, fmt.Errorf("cannot create cache dir %s: %w", s.Dir, err)
	}
	lockPath := filepath.Join(s.Dir, lockFile)
	l := flock.New(lockPath)
	deadline := time.Now().Add(timeout)
	for {
		locked, err := l.TryLock()
		if err != nil {
			return func() {}, fmt.Errorf("cannot acquire build lock: %w", err)
		}
		if locked {
			return func() { _ = l.Unlock() }, nil
		}
		if time.Now().After(deadline) {
			return func() {}, fmt.Errorf("another gallery build is in progress (lock: %s)", lockPath)
		}
		select {
		case <-ctx.Done():
			return func() {}, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}
