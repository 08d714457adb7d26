package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	ollama "github.com/ollama/ollama/api"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultModel balances quality and speed; 768 dimensions.
	DefaultModel = "nomic-embed-text"

	defaultBaseURL = "http://localhost:11434"
	defaultTimeout = 10 * time.Second
)

// OllamaProvider generates embeddings through a local Ollama server.
//
// The vector dimension is detected from the first successful response and
// pinned for the lifetime of the provider; a response with a different
// dimension (e.g. after a model swap) is treated as a failure, since mixing
// dimensions against stored vectors is undefined. Re-embed on model change.
type OllamaProvider struct {
	client  *ollama.Client
	model   string
	timeout time.Duration
	log     *logrus.Entry

	mu  sync.Mutex
	dim int
}

// NewOllamaProvider builds a provider for model at baseURL.
// Empty arguments fall back to nomic-embed-text on localhost.
func NewOllamaProvider(baseURL, model string, timeout time.Duration, log *logrus.Logger) (*OllamaProvider, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base url: %w", err)
	}
	hc := &http.Client{Timeout: timeout}

	return &OllamaProvider{
		client:  ollama.NewClient(parsed, hc),
		model:   model,
		timeout: timeout,
		log:     log.WithField("component", "embedding"),
	}, nil
}

func (p *OllamaProvider) Model() string { return p.model }

func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.Embed(ctx, &ollama.EmbedRequest{
		Model: p.model,
		Input: text,
	})
	if err != nil {
		p.log.WithError(err).Debug("embed call failed")
		return nil, false
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		p.log.Debug("embed call returned empty payload")
		return nil, false
	}

	vec := resp.Embeddings[0]

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dim == 0 {
		p.dim = len(vec)
	} else if len(vec) != p.dim {
		p.log.WithFields(logrus.Fields{"want": p.dim, "got": len(vec)}).
			Warn("embedding dimension changed, dropping vector")
		return nil, false
	}
	return vec, true
}

// Dimension reports the pinned vector dimension, 0 before the first success.
func (p *OllamaProvider) Dimension() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dim
}
