package api

import (
	"context"
	"sync"

	"github.com/kalambet/askql/internal/corpus"
	"github.com/kalambet/askql/internal/ingest"
	"github.com/kalambet/askql/internal/retrieval"
	"github.com/kalambet/askql/internal/sqlgen"
)

type mockTrainer struct {
	mu      sync.Mutex
	reqs    []ingest.Request
	flushed int
	trainFn func(r ingest.Request) (string, error)
}

func (m *mockTrainer) Train(_ context.Context, r ingest.Request) (string, error) {
	m.mu.Lock()
	m.reqs = append(m.reqs, r)
	m.mu.Unlock()
	if m.trainFn != nil {
		return m.trainFn(r)
	}
	return r.Question, nil
}

func (m *mockTrainer) Flush() {
	m.mu.Lock()
	m.flushed++
	m.mu.Unlock()
}

type mockStore struct {
	pairs    []corpus.QuestionSQL
	ddl      []string
	docs     []string
	rows     []retrieval.TrainingRow
	err      error
	removed  map[string]bool
	lastK    int
	removeFn func(name string) (bool, error)
}

func (m *mockStore) GetSimilarQuestionSQL(_ context.Context, _ string, k int) ([]corpus.QuestionSQL, error) {
	m.lastK = k
	return m.pairs, m.err
}

func (m *mockStore) GetRelatedDDL(_ context.Context, _ string, k int) ([]string, error) {
	m.lastK = k
	return m.ddl, m.err
}

func (m *mockStore) GetRelatedDocumentation(_ context.Context, _ string, k int) ([]string, error) {
	m.lastK = k
	return m.docs, m.err
}

func (m *mockStore) RemoveTrainingData(_ context.Context, id string) (bool, error) {
	return m.removed[id], m.err
}

func (m *mockStore) RemoveCollection(_ context.Context, name string) (bool, error) {
	if m.removeFn != nil {
		return m.removeFn(name)
	}
	return true, m.err
}

func (m *mockStore) GetTrainingData(context.Context) ([]retrieval.TrainingRow, error) {
	return m.rows, m.err
}

type mockGenerator struct {
	sql       string
	err       error
	runErr    error
	hasRunner bool
	asked     int
}

func (m *mockGenerator) GenerateSQL(_ context.Context, q string) (*sqlgen.Generation, error) {
	if q == "" {
		return nil, sqlgen.ErrEmptyQuestion
	}
	if m.err != nil {
		return nil, m.err
	}
	return &sqlgen.Generation{Question: q, SQL: m.sql, Raw: m.sql}, nil
}

func (m *mockGenerator) Ask(ctx context.Context, q string) (*sqlgen.Answer, error) {
	m.asked++
	gen, err := m.GenerateSQL(ctx, q)
	if err != nil {
		return nil, err
	}
	if m.runErr != nil {
		return &sqlgen.Answer{Generation: *gen}, m.runErr
	}
	return &sqlgen.Answer{Generation: *gen}, nil
}

func (m *mockGenerator) HasRunner() bool { return m.hasRunner }
