// Package sqlgen turns natural-language questions into SQL by retrieving
// related training content, prompting a chat model and optionally running
// the result.
package sqlgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/askql/internal/composer"
	"github.com/kalambet/askql/internal/corpus"
	"github.com/kalambet/askql/internal/sqlexec"
)

const defaultResults = 5

var (
	// ErrEmptyQuestion is returned for a blank question.
	ErrEmptyQuestion = errors.New("question is empty")
	// ErrNoRunner is returned by Ask when no database is configured.
	ErrNoRunner = errors.New("no database configured")
)

// Retriever is the read side of the training store.
type Retriever interface {
	GetSimilarQuestionSQL(ctx context.Context, question string, k int) ([]corpus.QuestionSQL, error)
	GetRelatedDDL(ctx context.Context, question string, k int) ([]string, error)
	GetRelatedDocumentation(ctx context.Context, question string, k int) ([]string, error)
}

// PromptModel submits a composed prompt to a chat model.
type PromptModel interface {
	Submit(ctx context.Context, msgs []composer.Message) (string, error)
}

// SQLRunner executes generated SQL.
type SQLRunner interface {
	Run(ctx context.Context, query string) (*sqlexec.Result, error)
}

// Limits is the number of neighbours fetched from each corpus.
type Limits struct {
	SQL           int
	DDL           int
	Documentation int
}

// Generation is the outcome of GenerateSQL.
type Generation struct {
	Question string             `json:"question"`
	SQL      string             `json:"sql"`
	Raw      string             `json:"raw"`
	Context  composer.Retrieved `json:"-"`
}

// Answer is a generation together with its execution result.
type Answer struct {
	Generation
	Result *sqlexec.Result `json:"result,omitempty"`
}

// Service composes a retriever, a composer and a prompt model.
type Service struct {
	store    Retriever
	model    PromptModel
	composer *composer.Composer
	runner   SQLRunner
	limits   Limits
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRunner attaches the database Ask executes against.
func WithRunner(r SQLRunner) Option {
	return func(s *Service) { s.runner = r }
}

// WithLimits sets per-corpus neighbour counts. Non-positive values keep the default.
func WithLimits(l Limits) Option {
	return func(s *Service) {
		if l.SQL > 0 {
			s.limits.SQL = l.SQL
		}
		if l.DDL > 0 {
			s.limits.DDL = l.DDL
		}
		if l.Documentation > 0 {
			s.limits.Documentation = l.Documentation
		}
	}
}

// WithLogger sets the service's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service. A nil composer uses generic SQL defaults.
func NewService(store Retriever, model PromptModel, comp *composer.Composer, opts ...Option) *Service {
	if comp == nil {
		comp = composer.New("", 0)
	}
	s := &Service{
		store:    store,
		model:    model,
		composer: comp,
		limits:   Limits{SQL: defaultResults, DDL: defaultResults, Documentation: defaultResults},
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// HasRunner reports whether Ask can execute SQL.
func (s *Service) HasRunner() bool { return s.runner != nil }

// Retrieve queries the three corpora in parallel. A failing corpus is
// logged and contributes no entries.
func (s *Service) Retrieve(ctx context.Context, question string) composer.Retrieved {
	var (
		r composer.Retrieved
		g errgroup.Group
	)
	g.Go(func() error {
		pairs, err := s.store.GetSimilarQuestionSQL(ctx, question, s.limits.SQL)
		if err != nil {
			s.logger.Error("retrieving similar questions", "corpus", corpus.SQL, "error", err)
			return nil
		}
		r.Examples = pairs
		return nil
	})
	g.Go(func() error {
		ddl, err := s.store.GetRelatedDDL(ctx, question, s.limits.DDL)
		if err != nil {
			s.logger.Error("retrieving related ddl", "corpus", corpus.DDL, "error", err)
			return nil
		}
		r.DDL = ddl
		return nil
	})
	g.Go(func() error {
		docs, err := s.store.GetRelatedDocumentation(ctx, question, s.limits.Documentation)
		if err != nil {
			s.logger.Error("retrieving related documentation", "corpus", corpus.Documentation, "error", err)
			return nil
		}
		r.Documentation = docs
		return nil
	})
	_ = g.Wait()
	return r
}

// GenerateSQL retrieves context for question, prompts the model and
// extracts the SQL from its reply.
func (s *Service) GenerateSQL(ctx context.Context, question string) (*Generation, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	ctx, span := otel.Tracer("internal/sqlgen").Start(ctx, "sqlgen.generate",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int("question.length", len(question))))
	defer span.End()

	start := time.Now()
	r := s.Retrieve(ctx, question)
	span.SetAttributes(
		attribute.Int("retrieved.ddl", len(r.DDL)),
		attribute.Int("retrieved.documentation", len(r.Documentation)),
		attribute.Int("retrieved.examples", len(r.Examples)),
	)

	msgs := s.composer.Compose(question, r)
	raw, err := s.model.Submit(ctx, msgs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return nil, fmt.Errorf("submitting prompt: %w", err)
	}

	gen := &Generation{Question: question, SQL: ExtractSQL(raw), Raw: raw, Context: r}
	s.logger.Info("sql generated",
		"ddl", len(r.DDL), "documentation", len(r.Documentation), "examples", len(r.Examples),
		"elapsed", time.Since(start))
	return gen, nil
}

// Ask generates SQL for question and executes it.
func (s *Service) Ask(ctx context.Context, question string) (*Answer, error) {
	if s.runner == nil {
		return nil, ErrNoRunner
	}
	gen, err := s.GenerateSQL(ctx, question)
	if err != nil {
		return nil, err
	}
	res, err := s.runner.Run(ctx, gen.SQL)
	if err != nil {
		return &Answer{Generation: *gen}, fmt.Errorf("running generated sql: %w", err)
	}
	return &Answer{Generation: *gen, Result: res}, nil
}

// GenerateQuestion asks the model for a question answered by sql.
func (s *Service) GenerateQuestion(ctx context.Context, sql, hint string) (string, error) {
	out, err := s.model.Submit(ctx, s.composer.QuestionPrompt(sql, hint))
	if err != nil {
		return "", fmt.Errorf("generating question: %w", err)
	}
	return firstLine(out), nil
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
