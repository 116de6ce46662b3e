package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/nodespace/core/internal/nserrors"
)

// DocumentPrefix/QueryPrefix are prepended before embedding, per the default
// model family's convention (spec §4.4).
const (
	DocumentPrefix = "search_document: "
	QueryPrefix    = "search_query: "
)

// Embedder is the pluggable vector-generation capability (spec §9 "Pluggable
// embedder"). The default stub returns zeros; a real embedder round-trips to
// an inference endpoint.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// StubEmbedder returns a zero vector of a fixed dimension, letting the rest
// of the pipeline (chunking, storage, search scoring) run without a model.
type StubEmbedder struct {
	dim int
}

// NewStubEmbedder constructs a zero-vector embedder of the given dimension.
func NewStubEmbedder(dim int) *StubEmbedder {
	if dim <= 0 {
		dim = 768
	}
	return &StubEmbedder{dim: dim}
}

func (s *StubEmbedder) Dimension() int { return s.dim }

func (s *StubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, s.dim), nil
}

// httpRequest/httpResponse mirror an OpenAI-style embeddings endpoint. The
// request/response shape and error-surfacing pattern are carried over from
// the teacher's OpenRouter chat-completion client (pkg/batch/openrouter.go);
// the transport is rebuilt on net/http since the teacher's implementation
// is browser-only (syscall/js fetch, //go:build js,wasm) and has no
// server-side counterpart to adapt directly.
type httpRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type httpResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

// HTTPEmbedder calls a remote embeddings endpoint (e.g. a local
// text-embeddings-inference server or a hosted API compatible with the
// OpenAI embeddings shape).
type HTTPEmbedder struct {
	endpoint string
	apiKey   string
	model    string
	dim      int
	client   *http.Client
}

// NewHTTPEmbedder constructs a remote embedder. dim must match the model's
// declared output dimension; it is not discovered at runtime.
func NewHTTPEmbedder(endpoint, apiKey, model string, dim int) *HTTPEmbedder {
	return &HTTPEmbedder{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		dim:      dim,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (h *HTTPEmbedder) Dimension() int { return h.dim }

func (h *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(httpRequest{Model: h.model, Input: []string{text}})
	if err != nil {
		return nil, nserrors.Embedding("marshal embed request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, nserrors.Embedding("build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", h.apiKey))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, nserrors.Embedding("embed request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nserrors.Embedding("read embed response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nserrors.Embedding("embed endpoint error", fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body)))
	}

	var parsed httpResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, nserrors.Embedding("parse embed response", err)
	}
	if parsed.Error != nil {
		return nil, nserrors.Embedding("embed endpoint reported error", fmt.Errorf("%d: %s", parsed.Error.Code, parsed.Error.Message))
	}
	if len(parsed.Data) == 0 {
		return nil, nserrors.Embedding("empty embed response", fmt.Errorf("no data entries"))
	}

	return normalizeL2(parsed.Data[0].Embedding), nil
}

// normalizeL2 scales v to unit length, per spec §4.4 "Vectors are
// L2-normalized."
func normalizeL2(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
