package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/askql/internal/corpus"
)

// Compile-time check that SQLiteStore implements TrainingStore.
var _ TrainingStore = (*SQLiteStore)(nil)

// SQLiteStore is the embedded backend: records live in one SQLite table
// next to the process and similarity is brute-force cosine over all vectors
// of a corpus. Ids are suffixed content hashes, so the corpus of any id is
// known without a lookup.
type SQLiteStore struct {
	db       *sql.DB
	embedder *Embedder
	logger   *slog.Logger
}

// NewSQLiteStore wraps an existing *sql.DB. The training_vectors table must
// already exist (created via storage migrations).
func NewSQLiteStore(db *sql.DB, embedder *Embedder, logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{db: db, embedder: embedder, logger: logger}
}

func (s *SQLiteStore) AddQuestionSQL(ctx context.Context, question, sql string) (string, error) {
	return addOne(ctx, s, corpus.QuestionSQLItem(question, sql))
}

func (s *SQLiteStore) AddDDL(ctx context.Context, ddl string) (string, error) {
	return addOne(ctx, s, corpus.DDLItem(ddl))
}

func (s *SQLiteStore) AddDocumentation(ctx context.Context, doc string) (string, error) {
	return addOne(ctx, s, corpus.DocumentationItem(doc))
}

// AddBatch embeds every item and upserts them in a single transaction.
// Re-adding identical content replaces the row under the same id.
func (s *SQLiteStore) AddBatch(ctx context.Context, items []corpus.Item) ([]string, error) {
	if len(items) == 0 {
		return nil, nil
	}
	prepared, err := prepare(ctx, s.embedder, items)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO training_vectors (id, corpus, document, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document = excluded.document,
			embedding = excluded.embedding,
			created_at = excluded.created_at`)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	ids := make([]string, len(prepared))
	for i, p := range prepared {
		id := corpus.EmbeddedID(p.corpus, p.document)
		if _, err := stmt.ExecContext(ctx, id, string(p.corpus), p.document, encodeFloat32s(p.embedding), now); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("inserting record %s: %w", id, err)
		}
		ids[i] = id
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing insert: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) GetSimilarQuestionSQL(ctx context.Context, question string, k int) ([]corpus.QuestionSQL, error) {
	docs, err := s.search(ctx, corpus.SQL, question, k)
	if err != nil {
		return nil, err
	}
	return decodePairs(docs, func(doc string, err error) {
		s.logger.Warn("skipping unreadable question/sql record", "error", err)
	}), nil
}

func (s *SQLiteStore) GetRelatedDDL(ctx context.Context, question string, k int) ([]string, error) {
	return s.search(ctx, corpus.DDL, question, k)
}

func (s *SQLiteStore) GetRelatedDocumentation(ctx context.Context, question string, k int) ([]string, error) {
	return s.search(ctx, corpus.Documentation, question, k)
}

// RemoveTrainingData deletes the record with the given id. The corpus is
// read from the id suffix; an id without a known suffix removes nothing.
func (s *SQLiteStore) RemoveTrainingData(ctx context.Context, id string) (bool, error) {
	c, err := corpus.FromEmbeddedID(id)
	if err != nil {
		s.logger.Info("ignoring remove for id without corpus suffix", "id", id)
		return false, nil
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM training_vectors WHERE id = ? AND corpus = ?", id, string(c))
	if err != nil {
		return false, fmt.Errorf("deleting record %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RemoveCollection drops every record of the named corpus. The corpus stays
// usable afterwards since all corpora share one table.
func (s *SQLiteStore) RemoveCollection(ctx context.Context, name string) (bool, error) {
	c, err := corpus.Parse(name)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM training_vectors WHERE corpus = ?", string(c))
	if err != nil {
		return false, fmt.Errorf("deleting collection %s: %w", c, err)
	}
	n, _ := res.RowsAffected()
	s.logger.Info("collection reset", "corpus", c, "removed", n)
	return true, nil
}

// GetTrainingData returns every record, sql first, then ddl, then documentation.
func (s *SQLiteStore) GetTrainingData(ctx context.Context) ([]TrainingRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, corpus, document FROM training_vectors
		ORDER BY CASE corpus WHEN 'sql' THEN 0 WHEN 'ddl' THEN 1 ELSE 2 END, created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying training data: %w", err)
	}
	defer rows.Close()

	var out []TrainingRow
	for rows.Next() {
		var id, c, doc string
		if err := rows.Scan(&id, &c, &doc); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, rowFor(id, corpus.Corpus(c), doc))
	}
	return out, rows.Err()
}

// Close is a no-op; the database handle belongs to the storage layer.
func (s *SQLiteStore) Close() error { return nil }

// idScore holds only the ID and score during the scan phase of search.
// Documents are fetched only for top-K winners.
type idScore struct {
	ID    string
	Score float32
}

// search embeds the query and returns the documents of the k most similar
// records of corpus c, best first.
func (s *SQLiteStore) search(ctx context.Context, c corpus.Corpus, query string, k int) ([]string, error) {
	if k <= 0 {
		k = DefaultResults
	}
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan only id + embedding to find top-K candidates.
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM training_vectors WHERE corpus = ?`, string(c))
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			s.logger.Warn("skipping record with corrupt embedding", "id", id, "error", err)
			continue
		}
		if len(buf) != len(vector) {
			continue
		}

		score := dotProduct(vector, buf, queryNorm)
		if h.Len() < k {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	rows.Close()

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch documents only for the top-K IDs.
	topIDs := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	queryArgs := make([]interface{}, len(topIDs))
	for i, id := range topIDs {
		queryArgs[i] = id
	}
	fullQuery := `SELECT id, document FROM training_vectors WHERE id IN (?` + strings.Repeat(",?", len(topIDs)-1) + `)`

	fullRows, err := s.db.QueryContext(ctx, fullQuery, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K records: %w", err)
	}
	defer fullRows.Close()

	type scoredDoc struct {
		doc   string
		score float32
	}
	var results []scoredDoc
	for fullRows.Next() {
		var id, doc string
		if err := fullRows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scanning full record: %w", err)
		}
		results = append(results, scoredDoc{doc: doc, score: scores[id]})
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating full records: %w", err)
	}

	// IN query doesn't preserve order.
	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })

	docs := make([]string, len(results))
	for i, r := range results {
		docs[i] = r.doc
	}
	return docs, nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// dotProduct computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func dotProduct(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore ordered by Score.
// Used during the scan phase of Search to track top-K candidates by ID only.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int            { return len(h) }
func (h idScoreHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x interface{}) { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
