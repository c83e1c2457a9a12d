package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/kalambet/askql/internal/corpus"
)

// Compile-time check that PGStore implements TrainingStore.
var _ TrainingStore = (*PGStore)(nil)

// defaultPGTable is the table holding every training record.
const defaultPGTable = "askql_embedding"

// PGStore is the relational backend: records are rows of a PostgreSQL table
// with a pgvector column. Ids are bucketed integers whose range encodes the
// corpus; the corpus column is authoritative and the range is checked
// against it when rows are read.
type PGStore struct {
	pool     *pgxpool.Pool
	embedder *Embedder
	table    string
	logger   *slog.Logger
}

// PGOption configures a PGStore.
type PGOption func(*PGStore)

// WithPGTable overrides the table name.
func WithPGTable(name string) PGOption {
	return func(s *PGStore) { s.table = name }
}

// WithPGLogger sets the store logger.
func WithPGLogger(l *slog.Logger) PGOption {
	return func(s *PGStore) { s.logger = l }
}

// NewPGStore connects to PostgreSQL and makes sure the vector extension and
// training table exist.
func NewPGStore(ctx context.Context, url string, embedder *Embedder, opts ...PGOption) (*PGStore, error) {
	if url == "" {
		return nil, fmt.Errorf("postgres url is empty")
	}
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres url: %w", err)
	}

	// The vector type must exist before pooled connections register it.
	if err := createExtension(ctx, cfg.ConnConfig); err != nil {
		return nil, err
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s := &PGStore{pool: pool, embedder: embedder, table: defaultPGTable, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func createExtension(ctx context.Context, connCfg *pgx.ConnConfig) error {
	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer conn.Close(ctx)
	if _, err := conn.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("creating vector extension: %w", err)
	}
	return nil
}

// schemaStatements returns the DDL for the training table. The embedding
// column is left without a fixed size so a model change does not require a
// migration; queries only compare vectors of the query's dimension.
func schemaStatements(table string) []string {
	ident := pgx.Identifier{table}.Sanitize()
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			corpus TEXT NOT NULL CHECK (corpus IN ('sql', 'ddl', 'documentation')),
			document TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding vector NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, ident),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (corpus)`, pgx.Identifier{table + "_corpus_idx"}.Sanitize(), ident),
	}
}

func (s *PGStore) ensureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.table) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("creating training schema: %w", err)
		}
	}
	return nil
}

func (s *PGStore) ident() string { return pgx.Identifier{s.table}.Sanitize() }

func (s *PGStore) AddQuestionSQL(ctx context.Context, question, sql string) (string, error) {
	return addOne(ctx, s, corpus.QuestionSQLItem(question, sql))
}

func (s *PGStore) AddDDL(ctx context.Context, ddl string) (string, error) {
	return addOne(ctx, s, corpus.DDLItem(ddl))
}

func (s *PGStore) AddDocumentation(ctx context.Context, doc string) (string, error) {
	return addOne(ctx, s, corpus.DocumentationItem(doc))
}

// recordMetadata is stored alongside each row for tools that read the table directly.
type recordMetadata struct {
	ID        int64  `json:"id"`
	CreatedAt string `json:"createdat,omitempty"`
}

// AddBatch writes every item in one transaction. Re-adding identical content
// refreshes the row; a different document hashing to a taken id aborts the
// batch with ErrIDCollision.
func (s *PGStore) AddBatch(ctx context.Context, items []corpus.Item) ([]string, error) {
	if len(items) == 0 {
		return nil, nil
	}
	prepared, err := prepare(ctx, s.embedder, items)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Warn("rolling back insert", "error", err)
		}
	}()

	query := fmt.Sprintf(`
		INSERT INTO %[1]s (id, corpus, document, metadata, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			created_at = EXCLUDED.created_at
		WHERE %[1]s.document = EXCLUDED.document AND %[1]s.corpus = EXCLUDED.corpus`, s.ident())

	now := time.Now().UTC()
	ids := make([]string, len(prepared))
	for i, p := range prepared {
		id := corpus.RelationalID(p.corpus, p.document)
		meta := recordMetadata{ID: id}
		if p.corpus == corpus.SQL {
			meta.CreatedAt = now.Format("2006-01-02")
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("encoding metadata for %d: %w", id, err)
		}

		tag, err := tx.Exec(ctx, query, id, string(p.corpus), p.document, metaJSON, pgvector.NewVector(p.embedding), now)
		if err != nil {
			return nil, fmt.Errorf("inserting record %d: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			s.logger.Warn("id collision", "id", id, "corpus", p.corpus)
			return nil, fmt.Errorf("%w: %d", ErrIDCollision, id)
		}
		ids[i] = strconv.FormatInt(id, 10)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing insert: %w", err)
	}
	return ids, nil
}

func (s *PGStore) GetSimilarQuestionSQL(ctx context.Context, question string, k int) ([]corpus.QuestionSQL, error) {
	docs, err := s.search(ctx, corpus.SQL, question, k)
	if err != nil {
		return nil, err
	}
	return decodePairs(docs, func(doc string, err error) {
		s.logger.Warn("skipping unreadable question/sql record", "error", err)
	}), nil
}

func (s *PGStore) GetRelatedDDL(ctx context.Context, question string, k int) ([]string, error) {
	return s.search(ctx, corpus.DDL, question, k)
}

func (s *PGStore) GetRelatedDocumentation(ctx context.Context, question string, k int) ([]string, error) {
	return s.search(ctx, corpus.Documentation, question, k)
}

// search returns the documents of the k nearest records of corpus c by
// cosine distance, considering only vectors of the query's dimension.
func (s *PGStore) search(ctx context.Context, c corpus.Corpus, query string, k int) ([]string, error) {
	if k <= 0 {
		k = DefaultResults
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if norm(vec) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT document FROM %s
		WHERE corpus = $1 AND vector_dims(embedding) = $2
		ORDER BY embedding <=> $3
		LIMIT $4`, s.ident()), string(c), len(vec), pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("querying %s vectors: %w", c, err)
	}
	defer rows.Close()

	var docs []string
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// RemoveTrainingData deletes the row with the given id. Ids that are not
// integers cannot exist and remove nothing.
func (s *PGStore) RemoveTrainingData(ctx context.Context, id string) (bool, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		s.logger.Info("ignoring remove for non-numeric id", "id", id)
		return false, nil
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.ident()), n)
	if err != nil {
		return false, fmt.Errorf("deleting record %d: %w", n, err)
	}
	return tag.RowsAffected() > 0, nil
}

// RemoveCollection deletes every row of the named corpus, selected by the
// corpus column. The table itself is untouched.
func (s *PGStore) RemoveCollection(ctx context.Context, name string) (bool, error) {
	c, err := corpus.Parse(name)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE corpus = $1`, s.ident()), string(c))
	if err != nil {
		return false, fmt.Errorf("deleting collection %s: %w", c, err)
	}
	s.logger.Info("collection reset", "corpus", c, "removed", tag.RowsAffected())
	return tag.RowsAffected() > 0, nil
}

// GetTrainingData returns every row, sql first, then ddl, then documentation.
func (s *PGStore) GetTrainingData(ctx context.Context) ([]TrainingRow, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, corpus, document FROM %s
		ORDER BY CASE corpus WHEN 'sql' THEN 0 WHEN 'ddl' THEN 1 ELSE 2 END, created_at, id`, s.ident()))
	if err != nil {
		return nil, fmt.Errorf("querying training data: %w", err)
	}
	defer rows.Close()

	var out []TrainingRow
	for rows.Next() {
		var (
			id     int64
			c, doc string
		)
		if err := rows.Scan(&id, &c, &doc); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if err := checkRange(id, corpus.Corpus(c)); err != nil {
			s.logger.Warn("id range disagrees with corpus column", "id", id, "corpus", c, "error", err)
		}
		out = append(out, rowFor(strconv.FormatInt(id, 10), corpus.Corpus(c), doc))
	}
	return out, rows.Err()
}

// checkRange reports whether id lies in the range reserved for c.
func checkRange(id int64, c corpus.Corpus) error {
	got, err := corpus.FromRelationalID(id)
	if err != nil {
		return err
	}
	if got != c {
		return fmt.Errorf("id %d is in the %s range, row says %s", id, got, c)
	}
	return nil
}

// Close releases the connection pool.
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}
