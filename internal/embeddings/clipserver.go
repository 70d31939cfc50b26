package embeddings

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/kamusis/shoesnap/internal/imaging"
)

// ClientConfig contains the resolved encoder server configuration.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// ClipServer talks to a CLIP inference server.
//
// Endpoints:
//
//	GET  {baseURL}/v1/models/{arch}/{pretrained}   -> {"dim": 512, "image_size": 224}
//	POST {baseURL}/v1/embed/image                  -> {"embedding": [...]}
//	POST {baseURL}/v1/embed/text                   -> {"data": [{"index": 0, "embedding": [...]}]}
type ClipServer struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ Opener = (*ClipServer)(nil)

// NewClipServer constructs a client for the CLIP inference server.
func NewClipServer(cfg ClientConfig) *ClipServer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ClipServer{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type modelInfo struct {
	Dim       int `json:"dim"`
	ImageSize int `json:"image_size"`
}

// Open checks that the server can serve v and returns an encoder bound to it.
func (s *ClipServer) Open(ctx context.Context, v Variant) (Encoder, Spec, error) {
	if s.baseURL == "" {
		return nil, Spec{}, fmt.Errorf("encoder base URL is not configured (set SHOESNAP_ENCODER_URL)")
	}
	if v.Arch == "" || v.Pretrained == "" {
		return nil, Spec{}, fmt.Errorf("incomplete model variant %q", v.ID())
	}
	endpoint := fmt.Sprintf("%s/v1/models/%s/%s", s.baseURL, url.PathEscape(v.Arch), url.PathEscape(v.Pretrained))

	var info modelInfo
	if err := s.do(ctx, http.MethodGet, endpoint, nil, &info); err != nil {
		return nil, Spec{}, fmt.Errorf("open %s: %w", v.ID(), err)
	}
	if info.Dim < 0 || info.ImageSize < 0 {
		return nil, Spec{}, fmt.Errorf("open %s: invalid model info dim=%d image_size=%d", v.ID(), info.Dim, info.ImageSize)
	}
	return &clipEncoder{server: s, variant: v}, Spec{Dim: info.Dim, ImageSize: info.ImageSize}, nil
}

// Ping reports whether the server answers at all.
func (s *ClipServer) Ping(ctx context.Context) error {
	if s.baseURL == "" {
		return fmt.Errorf("encoder base URL is not configured")
	}
	return s.do(ctx, http.MethodGet, s.baseURL+"/healthz", nil, nil)
}

type clipEncoder struct {
	server  *ClipServer
	variant Variant
}

type imageRequest struct {
	Model      string `json:"model"`
	Pretrained string `json:"pretrained"`
	Shape      []int  `json:"shape"`
	Tensor     string `json:"tensor"`
}

type imageResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (e *clipEncoder) EncodeImage(ctx context.Context, t imaging.Tensor) ([]float32, error) {
	if len(t.Data) == 0 {
		return nil, fmt.Errorf("cannot embed empty tensor")
	}
	body := imageRequest{
		Model:      e.variant.Arch,
		Pretrained: e.variant.Pretrained,
		Shape:      t.Shape(),
		Tensor:     base64.StdEncoding.EncodeToString(encodeFloat32LE(t.Data)),
	}
	var parsed imageResponse
	if err := e.server.do(ctx, http.MethodPost, e.server.baseURL+"/v1/embed/image", body, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("image embedding response missing embedding")
	}
	return toFloat32(parsed.Embedding), nil
}

type textRequest struct {
	Model      string   `json:"model"`
	Pretrained string   `json:"pretrained"`
	Input      []string `json:"input"`
}

type textResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (e *clipEncoder) EncodeText(ctx context.Context, prompts []string) ([][]float32, error) {
	body := textRequest{Model: e.variant.Arch, Pretrained: e.variant.Pretrained, Input: prompts}
	var parsed textResponse
	if err := e.server.do(ctx, http.MethodPost, e.server.baseURL+"/v1/embed/text", body, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Data) != len(prompts) {
		return nil, fmt.Errorf("text embedding response has %d results, expected %d", len(parsed.Data), len(prompts))
	}

	// Results may arrive out of order; place them by index.
	out := make([][]float32, len(prompts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(prompts) {
			return nil, fmt.Errorf("text embedding response has invalid index %d", d.Index)
		}
		if out[d.Index] != nil {
			return nil, fmt.Errorf("text embedding response repeats index %d", d.Index)
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("text embedding response missing embedding for index %d", d.Index)
		}
		out[d.Index] = toFloat32(d.Embedding)
	}
	return out, nil
}

func (s *ClipServer) do(ctx context.Context, method, endpoint string, in, out any) error {
	var reader io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("cannot read encoder response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("encoder request failed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("cannot parse encoder response: %w", err)
	}
	return nil
}

func encodeFloat32LE(data []float32) []byte {
	buf := make([]byte, 4*len(data))
	for i, f := range data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
