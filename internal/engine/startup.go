package engine

import (
	"context"
	"fmt"
	"io"
	"time"
)

// sampleText is embedded once at startup to learn the model's real dimension.
const sampleText = "SELECT 1"

// ReadyOptions lists what EnsureReady must verify.
type ReadyOptions struct {
	EmbedModel string
	// ChatModel is checked only when chat completions are served locally.
	ChatModel string
	// Dimension is the configured embedding size; zero skips the check.
	Dimension int
}

// EnsureReady checks that the Engine is reachable and required models are
// available. Missing models are pulled automatically with progress output
// written to w. When a dimension is configured, a sample embedding is
// requested and the observed length is returned; a mismatch is reported on w
// but is not an error.
func EnsureReady(ctx context.Context, e Engine, opts ReadyOptions, w io.Writer) (int, error) {
	if !e.IsRunning(ctx) {
		return 0, fmt.Errorf("embedding service is not running; start it with: ollama serve")
	}

	models := make([]string, 0, 2)
	if opts.EmbedModel != "" {
		models = append(models, opts.EmbedModel)
	}
	if opts.ChatModel != "" && opts.ChatModel != opts.EmbedModel {
		models = append(models, opts.ChatModel)
	}

	for _, model := range models {
		if e.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}

		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := e.PullModel(ctx, model, func(p PullProgress) {
			if p.Total > 0 {
				pct := float64(p.Completed) / float64(p.Total) * 100
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if err != nil {
			return 0, fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}

	if opts.Dimension <= 0 || opts.EmbedModel == "" {
		return opts.Dimension, nil
	}

	sampleCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	vec, err := e.Embed(sampleCtx, opts.EmbedModel, sampleText)
	if err != nil {
		return 0, fmt.Errorf("probing embedding model %s: %w", opts.EmbedModel, err)
	}
	if len(vec) != opts.Dimension {
		fmt.Fprintf(w, "model %s: embedding dimension is %d, configured %d\n", opts.EmbedModel, len(vec), opts.Dimension)
	} else {
		fmt.Fprintf(w, "model %s: dimension %d\n", opts.EmbedModel, len(vec))
	}
	return len(vec), nil
}
