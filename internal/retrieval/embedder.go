package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/askql/internal/engine"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultDimension is the embedding size assumed before the model is observed.
const DefaultDimension = 1024

// ErrEmptyEmbedding is returned when the service answers with a zero-length vector.
var ErrEmptyEmbedding = errors.New("embedding service returned an empty vector")

// Embedder wraps an Engine to generate text embeddings. It tracks the working
// dimension, which follows the last vector the model actually returned.
type Embedder struct {
	engine  engine.Engine
	model   string
	logger  *slog.Logger
	limiter *rate.Limiter

	mu  sync.RWMutex
	dim int
}

// EmbedderOption configures an Embedder.
type EmbedderOption func(*Embedder)

// WithEmbedderLogger sets the logger used for dimension drift warnings.
func WithEmbedderLogger(l *slog.Logger) EmbedderOption {
	return func(e *Embedder) { e.logger = l }
}

// WithRateLimit caps outgoing embedding requests to one per interval with the given burst.
func WithRateLimit(every time.Duration, burst int) EmbedderOption {
	return func(e *Embedder) {
		if every > 0 {
			e.limiter = rate.NewLimiter(rate.Every(every), max(burst, 1))
		}
	}
}

// NewEmbedder creates an Embedder using the given Engine and model name.
// A non-positive dim falls back to DefaultDimension.
func NewEmbedder(e engine.Engine, model string, dim int, opts ...EmbedderOption) *Embedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	emb := &Embedder{engine: e, model: model, dim: dim, logger: slog.Default()}
	for _, o := range opts {
		o(emb)
	}
	return emb
}

// Dimension returns the current working dimension.
func (e *Embedder) Dimension() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dim
}

// Model returns the embedding model name.
func (e *Embedder) Model() string { return e.model }

// Embed returns the embedding vector for a single text. Blank text yields a
// zero vector of the working dimension without contacting the service.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.Dimension()), nil
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for embedding rate limit: %w", err)
		}
	}

	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(vec) == 0 {
		return nil, ErrEmptyEmbedding
	}

	e.reconcile(len(vec))
	return vec, nil
}

// Observe adopts n as the working dimension, as if a vector of that length
// had just been returned. Non-positive lengths are ignored.
func (e *Embedder) Observe(n int) {
	if n > 0 {
		e.reconcile(n)
	}
}

// reconcile adopts an observed vector length as the working dimension.
func (e *Embedder) reconcile(n int) {
	e.mu.RLock()
	cur := e.dim
	e.mu.RUnlock()
	if n == cur {
		return
	}

	e.mu.Lock()
	if e.dim != n {
		e.logger.Warn("embedding dimension changed", "model", e.model, "expected", e.dim, "observed", n)
		e.dim = n
	}
	e.mu.Unlock()
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
