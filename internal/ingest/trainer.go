package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/kalambet/askql/internal/corpus"
)

// ErrNothingToTrain is returned by Train when a request carries no content.
var ErrNothingToTrain = errors.New("request has no question/sql, ddl or documentation")

// ErrMixedContent is returned by Train when a request sets more than one of
// question/sql, ddl and documentation.
var ErrMixedContent = errors.New("request mixes question/sql, ddl and documentation; submit them separately")

// Trainer is the ingestion entry point: it validates submissions, derives
// missing questions and hands items to the batch processor.
type Trainer struct {
	proc      *BatchProcessor
	questions QuestionGenerator
	logger    *slog.Logger
}

// NewTrainer creates a Trainer. questions may be nil, in which case questions
// for bare SQL come from comments or rules.
func NewTrainer(proc *BatchProcessor, questions QuestionGenerator, logger *slog.Logger) *Trainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trainer{proc: proc, questions: questions, logger: logger}
}

// TrainDDL submits a DDL statement.
func (t *Trainer) TrainDDL(ddl string) error {
	return t.proc.AddItem(corpus.DDLItem(strings.TrimSpace(ddl)))
}

// TrainDocumentation submits a documentation snippet.
func (t *Trainer) TrainDocumentation(doc string) error {
	return t.proc.AddItem(corpus.DocumentationItem(strings.TrimSpace(doc)))
}

// TrainQuestionSQL submits a question/SQL pair. SQL is required.
func (t *Trainer) TrainQuestionSQL(question, sql string) error {
	return t.proc.AddItem(corpus.QuestionSQLItem(strings.TrimSpace(question), strings.TrimSpace(sql)))
}

// TrainSQL submits a SQL statement without a question, deriving one first.
// It returns the question that was stored.
func (t *Trainer) TrainSQL(ctx context.Context, sql string) (string, error) {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return "", corpus.ErrMissingSQL
	}
	q, source := deriveQuestion(ctx, t.questions, sql)
	t.logger.Debug("derived question for sql", "question", q, "source", source)
	return q, t.TrainQuestionSQL(q, sql)
}

// Request is a single training submission. Exactly which fields are set
// decides the corpus: SQL (with or without a question), DDL, or documentation.
type Request struct {
	Question      string `json:"question,omitempty"`
	SQL           string `json:"sql,omitempty"`
	DDL           string `json:"ddl,omitempty"`
	Documentation string `json:"documentation,omitempty"`
}

// Train routes a request to the matching entry point. A question without SQL
// is rejected, as is a request that mixes SQL, DDL and documentation. It
// returns the stored question when one was derived.
func (t *Trainer) Train(ctx context.Context, r Request) (string, error) {
	q := strings.TrimSpace(r.Question)
	s := strings.TrimSpace(r.SQL)
	ddl := strings.TrimSpace(r.DDL)
	doc := strings.TrimSpace(r.Documentation)

	kinds := 0
	for _, v := range []string{q + s, ddl, doc} {
		if v != "" {
			kinds++
		}
	}
	if kinds > 1 {
		return "", ErrMixedContent
	}

	switch {
	case q != "" && s == "":
		return "", corpus.ErrMissingSQL
	case s != "" && q == "":
		return t.TrainSQL(ctx, s)
	case s != "":
		return q, t.TrainQuestionSQL(q, s)
	case ddl != "":
		return "", t.TrainDDL(ddl)
	case doc != "":
		return "", t.TrainDocumentation(doc)
	}
	return "", ErrNothingToTrain
}

// Flush writes everything still buffered and waits for batches already
// handed to workers.
func (t *Trainer) Flush() { t.proc.Drain() }

// Stats reports the processor counters.
func (t *Trainer) Stats() Stats { return t.proc.Stats() }
