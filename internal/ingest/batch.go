// Package ingest buffers training submissions per corpus and writes them to
// the vector store in batches on a bounded worker pool.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/kalambet/askql/internal/corpus"
)

// ErrClosed is returned by AddItem after Shutdown has begun.
var ErrClosed = errors.New("batch processor is shut down")

// Writer is the part of the vector store the processor writes through.
type Writer interface {
	AddBatch(ctx context.Context, items []corpus.Item) ([]string, error)
	AddQuestionSQL(ctx context.Context, question, sql string) (string, error)
	AddDDL(ctx context.Context, ddl string) (string, error)
	AddDocumentation(ctx context.Context, doc string) (string, error)
}

// Config controls batching. A zero BatchSize or Workers falls back to the
// default; Enabled is taken as given.
type Config struct {
	Enabled   bool
	BatchSize int
	Workers   int
}

const (
	defaultBatchSize = 10
	defaultWorkers   = 4
)

// Stats counts items by outcome since the processor was created.
type Stats struct {
	Submitted int64
	Stored    int64
	Failed    int64
	Batches   int64
}

// BatchProcessor accumulates items per corpus and flushes a corpus buffer to
// the worker pool once it reaches the batch size. Ingestion is
// fire-and-forget: write failures are logged and counted, never returned.
type BatchProcessor struct {
	writer    Writer
	enabled   bool
	batchSize int
	logger    *slog.Logger

	// ctx is used for every write; in-flight batches are never cancelled.
	ctx  context.Context
	pool *semaphore.Weighted
	wg   sync.WaitGroup

	mu      sync.Mutex
	buffers map[corpus.Corpus][]corpus.Item
	closed  bool

	submitted atomic.Int64
	stored    atomic.Int64
	failed    atomic.Int64
	batches   atomic.Int64
}

// Option configures a BatchProcessor.
type Option func(*BatchProcessor)

// WithLogger sets the processor logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *BatchProcessor) { p.logger = l }
}

// NewBatchProcessor creates a processor writing to w.
func NewBatchProcessor(w Writer, cfg Config, opts ...Option) *BatchProcessor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	p := &BatchProcessor{
		writer:    w,
		enabled:   cfg.Enabled,
		batchSize: cfg.BatchSize,
		logger:    slog.Default(),
		ctx:       context.Background(),
		pool:      semaphore.NewWeighted(int64(cfg.Workers)),
		buffers:   make(map[corpus.Corpus][]corpus.Item),
	}
	for _, o := range opts {
		o(p)
	}
	p.logger.Debug("batch processor ready", "enabled", p.enabled, "batch_size", p.batchSize, "workers", cfg.Workers)
	return p
}

// AddItem submits one item. Invalid items are rejected immediately. With
// batching disabled the item is written before AddItem returns; otherwise it
// is buffered and may be written later by a pool worker.
func (p *BatchProcessor) AddItem(item corpus.Item) error {
	if err := item.Validate(); err != nil {
		return err
	}

	if !p.enabled {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return ErrClosed
		}
		p.submitted.Add(1)
		p.processItem(p.ctx, item)
		return nil
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.submitted.Add(1)
	buf := append(p.buffers[item.Corpus], item)
	var full []corpus.Item
	if len(buf) >= p.batchSize {
		full = buf
		p.buffers[item.Corpus] = nil
		p.wg.Add(1)
	} else {
		p.buffers[item.Corpus] = buf
	}
	p.mu.Unlock()

	if full != nil {
		go p.runBatch(item.Corpus, full)
	}
	return nil
}

// runBatch waits for a pool slot and processes the batch.
func (p *BatchProcessor) runBatch(c corpus.Corpus, items []corpus.Item) {
	defer p.wg.Done()
	if err := p.pool.Acquire(p.ctx, 1); err != nil {
		p.logger.Error("acquiring worker", "corpus", c, "error", err)
		p.failed.Add(int64(len(items)))
		return
	}
	defer p.pool.Release(1)
	p.processBatch(c, items)
}

// processBatch writes items through the bulk path and falls back to one
// write per item, in submission order, when the bulk write fails.
func (p *BatchProcessor) processBatch(c corpus.Corpus, items []corpus.Item) {
	ctx, span := otel.Tracer("internal/ingest").Start(p.ctx, "ingest.batch")
	defer span.End()
	span.SetAttributes(attribute.String("corpus", string(c)), attribute.Int("batch_size", len(items)))

	start := time.Now()
	p.batches.Add(1)
	p.logger.Info("processing batch", "corpus", c, "batch_size", len(items))

	_, err := p.writer.AddBatch(ctx, items)
	if err == nil {
		p.stored.Add(int64(len(items)))
		p.logger.Info("batch stored", "corpus", c, "batch_size", len(items), "elapsed", time.Since(start))
		return
	}
	span.RecordError(err)
	p.logger.Warn("bulk write failed, retrying per item", "corpus", c, "batch_size", len(items), "error", err)

	for _, it := range items {
		p.processItem(ctx, it)
	}
	p.logger.Info("batch finished", "corpus", c, "batch_size", len(items), "elapsed", time.Since(start))
}

// processItem writes a single item, logging and counting a failure.
func (p *BatchProcessor) processItem(ctx context.Context, it corpus.Item) {
	var err error
	switch it.Corpus {
	case corpus.SQL:
		_, err = p.writer.AddQuestionSQL(ctx, it.Question, it.Text)
	case corpus.DDL:
		_, err = p.writer.AddDDL(ctx, it.Text)
	case corpus.Documentation:
		_, err = p.writer.AddDocumentation(ctx, it.Text)
	default:
		err = fmt.Errorf("%w: %q", corpus.ErrUnknownCorpus, it.Corpus)
	}
	if err != nil {
		p.failed.Add(1)
		p.logger.Error("training item failed", "corpus", it.Corpus, "error", err)
		return
	}
	p.stored.Add(1)
}

// FlushAll writes every non-empty buffer on the calling goroutine.
func (p *BatchProcessor) FlushAll() {
	for _, c := range corpus.All() {
		p.mu.Lock()
		items := p.buffers[c]
		p.buffers[c] = nil
		p.mu.Unlock()

		if len(items) > 0 {
			p.logger.Info("flushing buffered items", "corpus", c, "count", len(items))
			p.processBatch(c, items)
		}
	}
}

// Drain flushes the buffers and waits for every dispatched batch to finish.
// Unlike Shutdown the processor keeps accepting items.
func (p *BatchProcessor) Drain() {
	p.FlushAll()
	p.wg.Wait()
}

// Shutdown stops accepting items, flushes the buffers and waits for every
// dispatched batch to finish. It is safe to call more than once.
func (p *BatchProcessor) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.FlushAll()
	p.wg.Wait()
}

// Buffered returns the number of items waiting in the buffer for c.
func (p *BatchProcessor) Buffered(c corpus.Corpus) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffers[c])
}

// Stats returns a snapshot of the item counters.
func (p *BatchProcessor) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Stored:    p.stored.Load(),
		Failed:    p.failed.Load(),
		Batches:   p.batches.Load(),
	}
}
