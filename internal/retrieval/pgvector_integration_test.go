//go:build integration

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/kalambet/askql/internal/corpus"
)

// openPGStore connects to the database named by ASKQL_TEST_PG_URL using a
// table unique to the test.
func openPGStore(t *testing.T) *PGStore {
	t.Helper()
	url := os.Getenv("ASKQL_TEST_PG_URL")
	if url == "" {
		t.Skip("ASKQL_TEST_PG_URL not set")
	}
	table := fmt.Sprintf("askql_test_%d", time.Now().UnixNano())
	ctx := context.Background()
	s, err := NewPGStore(ctx, url, NewEmbedder(newWordEngine(testDim), "bge-m3", testDim), WithPGTable(table))
	if err != nil {
		t.Fatalf("NewPGStore: %v", err)
	}
	t.Cleanup(func() {
		s.pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+s.ident())
		s.Close()
	})
	return s
}

func TestPGStore_Scenario(t *testing.T) {
	s := openPGStore(t)
	ctx := context.Background()

	ddlID, err := s.AddDDL(ctx, "CREATE TABLE t(id INT);")
	if err != nil {
		t.Fatalf("AddDDL: %v", err)
	}
	sqlID, err := s.AddQuestionSQL(ctx, "count rows", "SELECT COUNT(*) FROM t")
	if err != nil {
		t.Fatalf("AddQuestionSQL: %v", err)
	}
	docID, err := s.AddDocumentation(ctx, "t counts things")
	if err != nil {
		t.Fatalf("AddDocumentation: %v", err)
	}

	for id, c := range map[string]corpus.Corpus{ddlID: corpus.DDL, sqlID: corpus.SQL, docID: corpus.Documentation} {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			t.Fatalf("id %q is not an integer", id)
		}
		if got, _ := corpus.FromRelationalID(n); got != c {
			t.Errorf("id %d in %s range, want %s", n, got, c)
		}
	}

	ddl, err := s.GetRelatedDDL(ctx, "table t", 5)
	if err != nil || len(ddl) != 1 || ddl[0] != "CREATE TABLE t(id INT);" {
		t.Errorf("GetRelatedDDL = %v, %v", ddl, err)
	}
	pairs, err := s.GetSimilarQuestionSQL(ctx, "how many rows", 5)
	if err != nil || len(pairs) != 1 || pairs[0].SQL != "SELECT COUNT(*) FROM t" {
		t.Errorf("GetSimilarQuestionSQL = %+v, %v", pairs, err)
	}

	again, err := s.AddDDL(ctx, "CREATE TABLE t(id INT);")
	if err != nil || again != ddlID {
		t.Errorf("re-adding ddl = %q, %v; want %q", again, err, ddlID)
	}

	rows, err := s.GetTrainingData(ctx)
	if err != nil || len(rows) != 3 {
		t.Fatalf("GetTrainingData = %d rows, %v", len(rows), err)
	}

	ok, err := s.RemoveTrainingData(ctx, docID)
	if err != nil || !ok {
		t.Errorf("RemoveTrainingData = %v, %v", ok, err)
	}
	ok, _ = s.RemoveTrainingData(ctx, docID)
	if ok {
		t.Error("second remove reported success")
	}

	ok, err = s.RemoveCollection(ctx, "ddl")
	if err != nil || !ok {
		t.Errorf("RemoveCollection(ddl) = %v, %v", ok, err)
	}
	ok, err = s.RemoveCollection(ctx, "ddl")
	if err != nil || ok {
		t.Errorf("RemoveCollection(ddl) on empty corpus = %v, %v", ok, err)
	}
	if ok, err := s.RemoveCollection(ctx, "bogus"); ok || !errors.Is(err, corpus.ErrUnknownCorpus) {
		t.Errorf("RemoveCollection(bogus) = %v, %v", ok, err)
	}
}

func TestPGStore_CollisionRejected(t *testing.T) {
	s := openPGStore(t)
	ctx := context.Background()

	doc := "first document"
	id := corpus.RelationalID(corpus.Documentation, doc)
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (id, corpus, document, embedding) VALUES ($1, 'documentation', 'squatter', '[1,0,0]')`, s.ident()), id)
	if err != nil {
		t.Fatalf("seeding colliding row: %v", err)
	}

	if _, err := s.AddDocumentation(ctx, doc); !errors.Is(err, ErrIDCollision) {
		t.Fatalf("err = %v, want ErrIDCollision", err)
	}
}
