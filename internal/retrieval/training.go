// Package retrieval stores training content in a vector index and answers
// similarity queries over the sql, ddl and documentation corpora.
package retrieval

import (
	"context"
	"errors"

	"github.com/kalambet/askql/internal/corpus"
)

// DefaultResults is the neighbour count used when a query asks for k <= 0.
const DefaultResults = 10

// ErrIDCollision is returned when distinct content maps to an id that is
// already taken by a different record.
var ErrIDCollision = errors.New("id already holds different content")

// TrainingStore is the contract both vector backends implement.
type TrainingStore interface {
	// AddQuestionSQL stores a question/SQL pair in the sql corpus and returns its id.
	AddQuestionSQL(ctx context.Context, question, sql string) (string, error)

	// AddDDL stores a DDL statement in the ddl corpus and returns its id.
	AddDDL(ctx context.Context, ddl string) (string, error)

	// AddDocumentation stores a documentation snippet and returns its id.
	AddDocumentation(ctx context.Context, doc string) (string, error)

	// AddBatch stores several items in one write. On error nothing is
	// guaranteed to be persisted and callers retry item by item.
	AddBatch(ctx context.Context, items []corpus.Item) ([]string, error)

	// GetSimilarQuestionSQL returns up to k stored pairs nearest to question.
	GetSimilarQuestionSQL(ctx context.Context, question string, k int) ([]corpus.QuestionSQL, error)

	// GetRelatedDDL returns up to k DDL statements nearest to question.
	GetRelatedDDL(ctx context.Context, question string, k int) ([]string, error)

	// GetRelatedDocumentation returns up to k documentation snippets nearest to question.
	GetRelatedDocumentation(ctx context.Context, question string, k int) ([]string, error)

	// RemoveTrainingData deletes one record and reports whether anything was removed.
	RemoveTrainingData(ctx context.Context, id string) (bool, error)

	// RemoveCollection empties a corpus, leaving it ready for new records.
	RemoveCollection(ctx context.Context, name string) (bool, error)

	// GetTrainingData returns every record across the three corpora.
	GetTrainingData(ctx context.Context) ([]TrainingRow, error)

	Close() error
}

// TrainingRow is one line of the aggregate training-data view. Question is
// set only for sql records whose payload could be decoded.
type TrainingRow struct {
	ID       string        `json:"id"`
	Question *string       `json:"question,omitempty"`
	Content  string        `json:"content"`
	Corpus   corpus.Corpus `json:"training_data_type"`
}

// rowFor builds the aggregate-view row for a stored document.
func rowFor(id string, c corpus.Corpus, document string) TrainingRow {
	row := TrainingRow{ID: id, Content: document, Corpus: c}
	if c != corpus.SQL {
		return row
	}
	qs, err := corpus.DecodeQuestionSQL(document)
	if err != nil {
		return row
	}
	q := qs.Question
	row.Question = &q
	row.Content = qs.SQL
	return row
}

// pending is an item prepared for writing: validated, serialized and embedded.
type pending struct {
	corpus    corpus.Corpus
	document  string
	embedding []float32
}

// prepare validates and serializes items, then embeds their payloads.
func prepare(ctx context.Context, e *Embedder, items []corpus.Item) ([]pending, error) {
	out := make([]pending, len(items))
	docs := make([]string, len(items))
	for i, it := range items {
		if err := it.Validate(); err != nil {
			return nil, err
		}
		doc, err := it.Payload()
		if err != nil {
			return nil, err
		}
		out[i] = pending{corpus: it.Corpus, document: doc}
		docs[i] = doc
	}

	var vecs [][]float32
	var err error
	if len(docs) == 1 {
		var v []float32
		v, err = e.Embed(ctx, docs[0])
		vecs = [][]float32{v}
	} else {
		vecs, err = e.EmbedBatch(ctx, docs)
	}
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].embedding = vecs[i]
	}
	return out, nil
}

// decodePairs turns matched sql-corpus documents into pairs, skipping those
// that cannot be parsed.
func decodePairs(docs []string, onBad func(doc string, err error)) []corpus.QuestionSQL {
	pairs := make([]corpus.QuestionSQL, 0, len(docs))
	for _, d := range docs {
		qs, err := corpus.DecodeQuestionSQL(d)
		if err != nil {
			if onBad != nil {
				onBad(d, err)
			}
			continue
		}
		pairs = append(pairs, qs)
	}
	return pairs
}

// addOne stores a single item through a backend's batch write path.
func addOne(ctx context.Context, s TrainingStore, it corpus.Item) (string, error) {
	ids, err := s.AddBatch(ctx, []corpus.Item{it})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}
