// Package server exposes a session over HTTP.
package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kamusis/shoesnap/internal/embeddings"
	"github.com/kamusis/shoesnap/internal/gallery"
	"github.com/kamusis/shoesnap/internal/imaging"
	"github.com/kamusis/shoesnap/internal/session"
)

// MaxImageBytes caps uploaded query images.
const MaxImageBytes = 32 << 20

// Server routes HTTP requests to a session.
type Server struct {
	sess *session.Session
	log  zerolog.Logger
}

// New returns a server for sess.
func New(sess *session.Session, log zerolog.Logger) *Server {
	return &Server{sess: sess, log: log}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.accessLog)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/model/load", s.loadModel)
		r.Post("/gallery/refresh", s.refreshGallery)
		r.Post("/analyze", s.analyze)
	})
	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		s.log.Debug().Err(err).Msg("failed to write JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	ModelID     string `json:"model_id,omitempty"`
	GallerySize int    `json:"gallery_size"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", GallerySize: s.sess.Gallery().Size()}
	if m := s.sess.Model(); m != nil {
		resp.ModelLoaded = true
		resp.ModelID = m.ModelID()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type modelResponse struct {
	Model string `json:"model"`
	Dim   int    `json:"dim"`
}

func (s *Server) loadModel(w http.ResponseWriter, r *http.Request) {
	m, err := s.sess.LoadModel(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, embeddings.ErrModelUnavailable) {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, status, err)
		return
	}
	s.writeJSON(w, http.StatusOK, modelResponse{Model: m.ModelID(), Dim: m.Dim()})
}

type refreshResponse struct {
	Fingerprint  string            `json:"fingerprint"`
	Size         int               `json:"size"`
	CacheHit     bool              `json:"cache_hit"`
	Skipped      int               `json:"skipped"`
	SkippedFiles []gallery.Outcome `json:"skipped_files"`
}

func (s *Server) refreshGallery(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	g, err := s.sess.RefreshGallery(r.Context(), gallery.BuildOptions{Force: force})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrModelNotLoaded) {
			status = http.StatusConflict
		}
		s.writeError(w, status, err)
		return
	}
	skipped := g.Skipped()
	if skipped == nil {
		skipped = []gallery.Outcome{}
	}
	s.writeJSON(w, http.StatusOK, refreshResponse{
		Fingerprint:  g.Fingerprint,
		Size:         g.Size(),
		CacheHit:     g.CacheHit,
		Skipped:      len(skipped),
		SkippedFiles: skipped,
	})
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	k := 0
	if v := r.URL.Query().Get("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid k %q", v))
			return
		}
		k = n
	}

	body, err := readImage(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	img, err := imaging.DecodeBytes(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	a, err := s.sess.Analyze(r.Context(), img, k)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrModelNotLoaded) {
			status = http.StatusConflict
		}
		s.writeError(w, status, err)
		return
	}
	w.Header().Set("X-Search-Available", strconv.FormatBool(a.SearchAvailable))
	s.writeJSON(w, http.StatusOK, a.Record)
}

// readImage accepts either a multipart form with an "image" field or the raw image as the body.
func readImage(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxImageBytes)
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(mt, "multipart/") {
		f, _, err := r.FormFile("image")
		if err != nil {
			return nil, fmt.Errorf("missing image field: %w", err)
		}
		defer f.Close()
		return io.ReadAll(f)
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("cannot read body: %w", err)
	}
	if len(b) == 0 {
		return nil, errors.New("empty request body")
	}
	return b, nil
}
