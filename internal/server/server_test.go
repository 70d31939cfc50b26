package server

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/shoesnap/internal/embeddings"
	"github.com/kamusis/shoesnap/internal/embeddings/embedtest"
	"github.com/kamusis/shoesnap/internal/gallery"
	"github.com/kamusis/shoesnap/internal/neighbors"
	"github.com/kamusis/shoesnap/internal/result"
	"github.com/kamusis/shoesnap/internal/session"
)

func pngBytes(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 18, 18))
	for y := 0; y < 18; y++ {
		for x := 0; x < 18; x++ {
			px := c
			if x < 9 {
				px = color.RGBA{R: c.G, G: c.B, B: c.R, A: 255}
			}
			img.Set(x, y, px)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type testEnv struct {
	ts      *httptest.Server
	opener  *embedtest.Opener
	gallery string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), pngBytes(t, color.RGBA{R: 200, G: 20, B: 20, A: 255}), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.png"), pngBytes(t, color.RGBA{R: 20, G: 200, B: 60, A: 255}), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.png"), []byte("nope"), 0o644))

	opener := &embedtest.Opener{Encoder: embedtest.New(8)}
	sess := session.New(session.Options{
		Opener:     opener,
		GalleryDir: dir,
		CacheDir:   t.TempDir(),
		Search:     neighbors.DefaultOptions(),
		Log:        zerolog.Nop(),
	})
	ts := httptest.NewServer(New(sess, zerolog.Nop()).Handler())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, opener: opener, gallery: dir}
}

func (e *testEnv) post(t *testing.T, path, contentType string, body []byte) *http.Response {
	t.Helper()
	resp, err := http.Post(e.ts.URL+path, contentType, bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body healthResponse
	decode(t, resp, &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, healthResponse{Status: "ok"}, body)
	assert.NotEmpty(t, resp.Header.Get("Content-Type"))
}

func TestAnalyze_BeforeModelLoad(t *testing.T) {
	env := newTestEnv(t)
	resp := env.post(t, "/v1/analyze", "image/png", pngBytes(t, color.RGBA{R: 1, A: 255}))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.post(t, "/v1/gallery/refresh", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestModelLoad_Unavailable(t *testing.T) {
	env := newTestEnv(t)
	env.opener.Fail = map[string]error{}
	for _, v := range embeddings.DefaultVariants {
		env.opener.Fail[v.ID()] = errors.New("offline")
	}
	resp := env.post(t, "/v1/model/load", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body errorResponse
	decode(t, resp, &body)
	assert.Contains(t, body.Error, "offline")
}

func TestFullFlow(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/v1/model/load", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var model modelResponse
	decode(t, resp, &model)
	assert.Equal(t, embeddings.DefaultVariants[0].ID(), model.Model)
	assert.Equal(t, 8, model.Dim)

	resp = env.post(t, "/v1/gallery/refresh", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var refresh refreshResponse
	decode(t, resp, &refresh)
	assert.Equal(t, 2, refresh.Size)
	assert.False(t, refresh.CacheHit)
	assert.Equal(t, 1, refresh.Skipped)
	require.Len(t, refresh.SkippedFiles, 1)
	assert.Equal(t, filepath.Join(env.gallery, "broken.png"), refresh.SkippedFiles[0].Path)
	assert.Equal(t, gallery.Skipped, refresh.SkippedFiles[0].Status)
	assert.Len(t, refresh.Fingerprint, 32)

	resp = env.post(t, "/v1/gallery/refresh", "", nil)
	decode(t, resp, &refresh)
	assert.True(t, refresh.CacheHit)

	// Raw body upload.
	query, err := os.ReadFile(filepath.Join(env.gallery, "b.png"))
	require.NoError(t, err)
	resp = env.post(t, "/v1/analyze?k=1", "image/png", query)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get("X-Search-Available"))
	var rec result.Record
	decode(t, resp, &rec)
	require.Len(t, rec.Neighbors, 1)
	assert.Equal(t, filepath.Join(env.gallery, "b.png"), rec.Neighbors[0].Path)
	assert.NotEmpty(t, rec.Category.Label)

	// Multipart upload.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "query.png")
	require.NoError(t, err)
	_, err = fw.Write(query)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	resp = env.post(t, "/v1/analyze", mw.FormDataContentType(), buf.Bytes())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rec2 result.Record
	decode(t, resp, &rec2)
	assert.Len(t, rec2.Neighbors, 2)
	assert.Equal(t, rec.Category, rec2.Category)

	// Health reflects the loaded state.
	hresp, err := http.Get(env.ts.URL + "/healthz")
	require.NoError(t, err)
	defer hresp.Body.Close()
	var health healthResponse
	decode(t, hresp, &health)
	assert.True(t, health.ModelLoaded)
	assert.Equal(t, 2, health.GallerySize)
}

func TestAnalyze_BadInput(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.post(t, "/v1/model/load", "", nil).StatusCode)

	resp := env.post(t, "/v1/analyze", "image/png", []byte("definitely not a png"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.post(t, "/v1/analyze", "image/png", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.post(t, "/v1/analyze?k=abc", "image/png", pngBytes(t, color.RGBA{A: 255}))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnalyze_NoGalleryStillAnswers(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.post(t, "/v1/model/load", "", nil).StatusCode)

	resp := env.post(t, "/v1/analyze", "image/png", pngBytes(t, color.RGBA{R: 90, G: 60, B: 30, A: 255}))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "false", resp.Header.Get("X-Search-Available"))
	var rec result.Record
	decode(t, resp, &rec)
	assert.Empty(t, rec.Neighbors)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(buf.String(), "shoesnap_gallery_builds_total") || strings.Contains(buf.String(), "go_goroutines"))
}
