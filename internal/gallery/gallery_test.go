package gallery

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/shoesnap/internal/embeddings/embedtest"
	"github.com/kamusis/shoesnap/internal/neighbors"
	"github.com/kamusis/shoesnap/internal/vector"
)

var palette = []color.RGBA{
	{R: 200, G: 30, B: 30, A: 255},
	{R: 30, G: 200, B: 30, A: 255},
	{R: 30, G: 30, B: 200, A: 255},
	{R: 220, G: 220, B: 40, A: 255},
}

func writePNG(t *testing.T, path string, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 24, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 24; x++ {
			// Left half in the given colour, right half darker, so the
			// per-chunk means differ across the tensor.
			px := c
			if x >= 12 {
				px = color.RGBA{R: c.R / 3, G: c.G / 3, B: c.B / 3, A: 255}
			}
			img.Set(x, y, px)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func seedGallery(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		writePNG(t, filepath.Join(dir, string(rune('a'+i))+".png"), palette[i%len(palette)])
	}
	return dir
}

func newTestBuilder(t *testing.T) (*Builder, *embedtest.Encoder) {
	t.Helper()
	m, enc := embedtest.NewModel(8)
	b := NewBuilder(m, NewStore(t.TempDir()), neighbors.DefaultOptions(), zerolog.Nop())
	return b, enc
}

func TestBuildOrRefresh_CacheHitIsIdempotent(t *testing.T) {
	dir := seedGallery(t, 3)
	b, enc := newTestBuilder(t)
	ctx := context.Background()

	first, err := b.BuildOrRefresh(ctx, dir, BuildOptions{})
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	require.Equal(t, 3, first.Size())
	calls := enc.ImageCalls()
	assert.Equal(t, int64(3), calls)

	// Same name and size, unreadable content: only a recompute would notice.
	victim := filepath.Join(dir, "b.png")
	st, err := os.Stat(victim)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(victim, make([]byte, st.Size()), 0o644))

	second, err := b.BuildOrRefresh(ctx, dir, BuildOptions{})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, first.Paths, second.Paths)
	assert.Equal(t, first.Embeddings, second.Embeddings)
	assert.Equal(t, calls, enc.ImageCalls())
	assert.Empty(t, second.Skipped())
}

func TestBuildOrRefresh_ForceRecomputes(t *testing.T) {
	dir := seedGallery(t, 2)
	b, enc := newTestBuilder(t)
	ctx := context.Background()

	_, err := b.BuildOrRefresh(ctx, dir, BuildOptions{})
	require.NoError(t, err)
	g, err := b.BuildOrRefresh(ctx, dir, BuildOptions{Force: true})
	require.NoError(t, err)
	assert.False(t, g.CacheHit)
	assert.Equal(t, int64(4), enc.ImageCalls())
}

func TestBuildOrRefresh_SkipsUndecodableFiles(t *testing.T) {
	dir := seedGallery(t, 3)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.png"), []byte("not an image"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))
	writePNG(t, filepath.Join(dir, "nested", "ignored.png"), palette[0])

	b, _ := newTestBuilder(t)
	g, err := b.BuildOrRefresh(context.Background(), dir, BuildOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, g.Size())
	assert.Equal(t, 3, g.Embeddings.Rows)
	assert.NotContains(t, g.Paths, filepath.Join(dir, "broken.png"))
	require.Len(t, g.Outcomes, 4)
	skipped := g.Skipped()
	require.Len(t, skipped, 1)
	assert.Equal(t, filepath.Join(dir, "broken.png"), skipped[0].Path)
	assert.NotEmpty(t, skipped[0].Reason)

	// Cache hit reports the same skip.
	again, err := b.BuildOrRefresh(context.Background(), dir, BuildOptions{})
	require.NoError(t, err)
	assert.True(t, again.CacheHit)
	assert.Len(t, again.Skipped(), 1)
}

func TestBuildOrRefresh_EmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	b, enc := newTestBuilder(t)

	g, err := b.BuildOrRefresh(context.Background(), dir, BuildOptions{})
	require.NoError(t, err)
	assert.Empty(t, g.Paths)
	assert.NotNil(t, g.Paths)
	assert.Equal(t, 0, g.Embeddings.Rows)
	assert.Nil(t, g.Index)
	assert.Equal(t, int64(0), enc.ImageCalls())

	_, err = g.Search(vector.Embedding{1, 0, 0, 0, 0, 0, 0, 0}, 3)
	assert.ErrorIs(t, err, ErrSearchUnavailable)

	entries, err := os.ReadDir(b.Store.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBuildOrRefresh_AllUndecodableIsCached(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.jpg"), []byte("garbage"), 0o644))
	b, _ := newTestBuilder(t)

	g, err := b.BuildOrRefresh(context.Background(), dir, BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, g.Size())
	assert.Nil(t, g.Index)
	assert.Len(t, g.Skipped(), 1)

	again, err := b.BuildOrRefresh(context.Background(), dir, BuildOptions{})
	require.NoError(t, err)
	assert.True(t, again.CacheHit)
	assert.Nil(t, again.Index)
	_, err = again.Search(vector.Embedding{1}, 1)
	assert.ErrorIs(t, err, ErrSearchUnavailable)
}

func TestBuildOrRefresh_CorruptCacheRecomputes(t *testing.T) {
	dir := seedGallery(t, 3)
	b, enc := newTestBuilder(t)
	ctx := context.Background()

	first, err := b.BuildOrRefresh(ctx, dir, BuildOptions{})
	require.NoError(t, err)

	ns := b.Model.Variant().Slug()
	feats := b.Store.FeatsPath(ns, first.Fingerprint)
	require.NoError(t, os.Truncate(feats, 30))

	second, err := b.BuildOrRefresh(ctx, dir, BuildOptions{})
	require.NoError(t, err)
	assert.False(t, second.CacheHit)
	assert.Equal(t, int64(6), enc.ImageCalls())
	assert.Equal(t, first.Embeddings, second.Embeddings)

	third, err := b.BuildOrRefresh(ctx, dir, BuildOptions{})
	require.NoError(t, err)
	assert.True(t, third.CacheHit)
}

func TestBuildOrRefresh_EncoderFailureAborts(t *testing.T) {
	dir := seedGallery(t, 2)
	b, enc := newTestBuilder(t)
	boom := errors.New("encoder offline")
	enc.FailImages(boom)

	_, err := b.BuildOrRefresh(context.Background(), dir, BuildOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	fp, _, err := FingerprintDir(dir)
	require.NoError(t, err)
	_, err = os.Stat(b.Store.PathsPath(b.Model.Variant().Slug(), fp))
	assert.True(t, os.IsNotExist(err))
}

func TestBuildOrRefresh_NoTempFilesLeft(t *testing.T) {
	dir := seedGallery(t, 2)
	b, _ := newTestBuilder(t)
	_, err := b.BuildOrRefresh(context.Background(), dir, BuildOptions{})
	require.NoError(t, err)

	leftovers, err := filepath.Glob(filepath.Join(b.Store.Dir, "*", "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	files, err := filepath.Glob(filepath.Join(b.Store.Dir, b.Model.Variant().Slug(), "*"))
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestGallerySearch(t *testing.T) {
	dir := seedGallery(t, 4)
	b, _ := newTestBuilder(t)
	g, err := b.BuildOrRefresh(context.Background(), dir, BuildOptions{})
	require.NoError(t, err)

	for i := 0; i < g.Size(); i++ {
		res, err := g.Search(g.Embeddings.Row(i), 0)
		require.NoError(t, err)
		require.Len(t, res, 4)
		assert.Equal(t, g.Paths[i], res[0].Path)
		assert.InDelta(t, 0, res[0].CosineDistance, 1e-6)
		for j := 1; j < len(res); j++ {
			assert.LessOrEqual(t, res[j-1].CosineDistance, res[j].CosineDistance)
		}
	}

	res, err := g.Search(g.Embeddings.Row(0), 2)
	require.NoError(t, err)
	assert.Len(t, res, 2)

	_, err = g.Search(vector.Embedding{1, 0}, 2)
	assert.ErrorIs(t, err, vector.ErrInvalidInput)
}

func TestNilGallerySearch(t *testing.T) {
	var g *Gallery
	_, err := g.Search(vector.Embedding{1}, 1)
	assert.ErrorIs(t, err, ErrSearchUnavailable)
	assert.Equal(t, 0, g.Size())
}

func TestBuildOrRefresh_HitThroughAnotherDirSpelling(t *testing.T) {
	dir := seedGallery(t, 3)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.png"), []byte("not an image"), 0o644))
	alias := filepath.Join(t.TempDir(), "gallery-link")
	require.NoError(t, os.Symlink(dir, alias))

	b, enc := newTestBuilder(t)
	ctx := context.Background()
	_, err := b.BuildOrRefresh(ctx, dir, BuildOptions{})
	require.NoError(t, err)

	g, err := b.BuildOrRefresh(ctx, alias, BuildOptions{})
	require.NoError(t, err)
	assert.True(t, g.CacheHit)
	assert.Equal(t, int64(3), enc.ImageCalls())
	assert.Equal(t, 3, g.Size())
	require.Len(t, g.Skipped(), 1)
	assert.Equal(t, filepath.Join(alias, "broken.png"), g.Skipped()[0].Path)
	assert.Equal(t, []string{
		filepath.Join(alias, "a.png"),
		filepath.Join(alias, "b.png"),
		filepath.Join(alias, "c.png"),
	}, g.Paths)
}

func TestStatusJSON(t *testing.T) {
	in := []Outcome{
		{Path: "a.png", Status: Decoded},
		{Path: "b.png", Status: Skipped, Reason: "bad header"},
	}
	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"status":"skipped"`)

	var out []Outcome
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)

	var s Status
	assert.Error(t, s.UnmarshalText([]byte("pending")))
}
