package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/askql/internal/corpus"
	"github.com/kalambet/askql/internal/ingest"
	"github.com/kalambet/askql/internal/retrieval"
)

const testToken = "test-token-12345"

func setupHandler(t *testing.T, token string) (http.Handler, *mockTrainer, *mockStore, *mockGenerator) {
	t.Helper()
	tr := &mockTrainer{}
	st := &mockStore{removed: map[string]bool{}}
	gen := &mockGenerator{sql: "SELECT 1"}
	h := NewHandler(Deps{Trainer: tr, Store: st, Generator: gen, Token: token})
	return h, tr, st, gen
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body %q: %v", rr.Body.String(), err)
	}
	return body.Error.Type
}

func TestAuth(t *testing.T) {
	h, _, _, _ := setupHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/training-data", "", ""))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if got := errorType(t, rr); got != "authentication_error" {
		t.Errorf("type = %q", got)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/training-data", "", "wrong"))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/health", "", ""))
	if rr.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rr.Code)
	}
}

func TestAuth_DisabledWithoutToken(t *testing.T) {
	h, _, _, _ := setupHandler(t, "")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/training-data", "", ""))
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestTrain_Single(t *testing.T) {
	h, tr, _, _ := setupHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/train", `{"question":"How many users?","sql":"SELECT COUNT(*) FROM users"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var resp TrainResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Accepted != 1 || resp.Results[0].Question != "How many users?" {
		t.Errorf("resp = %+v", resp)
	}
	if len(tr.reqs) != 1 || tr.reqs[0].SQL != "SELECT COUNT(*) FROM users" {
		t.Errorf("trainer got %+v", tr.reqs)
	}
	if tr.flushed != 0 {
		t.Error("flush should not run without ?flush=true")
	}
}

func TestTrain_ArrayWithFlush(t *testing.T) {
	h, tr, _, _ := setupHandler(t, testToken)
	tr.trainFn = func(r ingest.Request) (string, error) {
		if r.DDL == "" && r.SQL == "" && r.Documentation == "" {
			return "", ingest.ErrNothingToTrain
		}
		return "", nil
	}

	body := `[{"ddl":"CREATE TABLE a(id INT)"},{"documentation":"a holds ids"},{}]`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/train?flush=true", body, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var resp TrainResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Accepted != 2 || resp.Rejected != 1 || resp.Results[2].Error == "" {
		t.Errorf("resp = %+v", resp)
	}
	if tr.flushed != 1 {
		t.Errorf("flushed = %d, want 1", tr.flushed)
	}
}

// slowWriter counts stored items, sleeping on every bulk write.
type slowWriter struct {
	mu     sync.Mutex
	stored int
}

func (w *slowWriter) AddBatch(_ context.Context, items []corpus.Item) ([]string, error) {
	time.Sleep(200 * time.Millisecond)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stored += len(items)
	return make([]string, len(items)), nil
}

func (w *slowWriter) add() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stored++
	return "id", nil
}

func (w *slowWriter) AddQuestionSQL(context.Context, string, string) (string, error) { return w.add() }
func (w *slowWriter) AddDDL(context.Context, string) (string, error)                 { return w.add() }
func (w *slowWriter) AddDocumentation(context.Context, string) (string, error)       { return w.add() }

func TestTrain_FlushWaitsForStoredItems(t *testing.T) {
	w := &slowWriter{}
	proc := ingest.NewBatchProcessor(w, ingest.Config{Enabled: true, BatchSize: 2, Workers: 2})
	defer proc.Shutdown()
	h := NewHandler(Deps{
		Trainer:   ingest.NewTrainer(proc, nil, nil),
		Store:     &mockStore{removed: map[string]bool{}},
		Generator: &mockGenerator{},
		Token:     testToken,
	})

	body := `[{"ddl":"CREATE TABLE a(id INT)"},{"ddl":"CREATE TABLE b(id INT)"},{"ddl":"CREATE TABLE c(id INT)"}]`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/train?flush=true", body, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stored != 3 {
		t.Errorf("stored %d of 3 items when the response was written, want 3", w.stored)
	}
}

func TestTrain_Errors(t *testing.T) {
	h, tr, _, _ := setupHandler(t, testToken)
	tr.trainFn = func(ingest.Request) (string, error) { return "", corpus.ErrMissingSQL }

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/train", `{"question":"orphan"}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("rejected single status = %d, want 400", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/train", `{not json`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rr.Code)
	}
}

func TestListTrainingData(t *testing.T) {
	h, _, st, _ := setupHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/training-data", "", testToken))
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("empty list = %d %q", rr.Code, rr.Body.String())
	}

	q := "How many users?"
	st.rows = []retrieval.TrainingRow{
		{ID: "1-sql", Question: &q, Content: "SELECT COUNT(*) FROM users", Corpus: corpus.SQL},
		{ID: "2-ddl", Content: "CREATE TABLE users(id INT)", Corpus: corpus.DDL},
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/training-data", "", testToken))

	var rows []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0]["training_data_type"] != "sql" || rows[0]["question"] != q {
		t.Errorf("rows = %+v", rows)
	}
	if _, ok := rows[1]["question"]; ok {
		t.Error("ddl row should omit question")
	}
}

func TestRemoveTrainingData(t *testing.T) {
	h, _, st, _ := setupHandler(t, testToken)
	st.removed["abc-sql"] = true

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodDelete, "/training-data/abc-sql", "", testToken))
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodDelete, "/training-data/missing-sql", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", rr.Code)
	}
}

func TestRemoveCollection(t *testing.T) {
	h, _, st, _ := setupHandler(t, testToken)
	st.removeFn = func(name string) (bool, error) {
		if _, err := corpus.Parse(name); err != nil {
			return false, err
		}
		return true, nil
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodDelete, "/collections/ddl", "", testToken))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"removed":true`) {
		t.Errorf("ddl = %d %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodDelete, "/collections/tables", "", testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown collection status = %d, want 400", rr.Code)
	}
}

func TestGenerateSQL(t *testing.T) {
	h, _, _, gen := setupHandler(t, testToken)
	gen.sql = "SELECT COUNT(*) FROM users"

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/generate-sql", `{"question":"How many users?"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out["sql"] != "SELECT COUNT(*) FROM users" {
		t.Errorf("out = %+v", out)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/generate-sql", `{"question":""}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty question status = %d, want 400", rr.Code)
	}

	gen.err = errors.New("upstream down")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/generate-sql", `{"question":"q"}`, testToken))
	if rr.Code != http.StatusBadGateway {
		t.Errorf("upstream failure status = %d, want 502", rr.Code)
	}
}

func TestAsk(t *testing.T) {
	tests := []struct {
		name      string
		hasRunner bool
		runErr    error
		wantCode  int
		wantAsked int
	}{
		{"no database", false, nil, http.StatusOK, 0},
		{"with database", true, nil, http.StatusOK, 1},
		{"execution fails", true, fmt.Errorf("relation missing"), http.StatusUnprocessableEntity, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _, gen := setupHandler(t, testToken)
			gen.hasRunner = tt.hasRunner
			gen.runErr = tt.runErr

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, authReq(http.MethodPost, "/ask", `{"question":"q"}`, testToken))
			if rr.Code != tt.wantCode {
				t.Errorf("status = %d, want %d; body = %s", rr.Code, tt.wantCode, rr.Body.String())
			}
			if gen.asked != tt.wantAsked {
				t.Errorf("asked = %d, want %d", gen.asked, tt.wantAsked)
			}
		})
	}
}
