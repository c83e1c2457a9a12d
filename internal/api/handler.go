// Package api exposes training, retrieval and SQL generation over HTTP and MCP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kalambet/askql/internal/corpus"
	"github.com/kalambet/askql/internal/ingest"
	"github.com/kalambet/askql/internal/retrieval"
	"github.com/kalambet/askql/internal/sqlgen"
)

const maxRequestBodySize = 10 << 20 // 10MB

// Trainer accepts training submissions.
type Trainer interface {
	Train(ctx context.Context, r ingest.Request) (string, error)
	Flush()
}

// Store is the part of the training store the API reads and manages.
type Store interface {
	GetSimilarQuestionSQL(ctx context.Context, question string, k int) ([]corpus.QuestionSQL, error)
	GetRelatedDDL(ctx context.Context, question string, k int) ([]string, error)
	GetRelatedDocumentation(ctx context.Context, question string, k int) ([]string, error)
	RemoveTrainingData(ctx context.Context, id string) (bool, error)
	RemoveCollection(ctx context.Context, name string) (bool, error)
	GetTrainingData(ctx context.Context) ([]retrieval.TrainingRow, error)
}

// Generator produces and optionally runs SQL for a question.
type Generator interface {
	GenerateSQL(ctx context.Context, question string) (*sqlgen.Generation, error)
	Ask(ctx context.Context, question string) (*sqlgen.Answer, error)
	HasRunner() bool
}

// Deps holds the collaborators shared by the HTTP and MCP surfaces.
type Deps struct {
	Trainer   Trainer
	Store     Store
	Generator Generator
	// Token enables bearer auth on every route except /health when set.
	Token  string
	Logger *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// TrainResult reports the outcome of one training submission.
type TrainResult struct {
	Question string `json:"question,omitempty"`
	Error    string `json:"error,omitempty"`
}

// TrainResponse is returned by POST /train.
type TrainResponse struct {
	Accepted int           `json:"accepted"`
	Rejected int           `json:"rejected"`
	Results  []TrainResult `json:"results"`
}

type questionRequest struct {
	Question string `json:"question"`
}

// NewHandler returns the HTTP API, instrumented with OpenTelemetry.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/train", handleTrain(deps))
		r.Get("/training-data", handleListTrainingData(deps))
		r.Delete("/training-data/{id}", handleRemoveTrainingData(deps))
		r.Delete("/collections/{name}", handleRemoveCollection(deps))
		r.Post("/generate-sql", handleGenerateSQL(deps))
		r.Post("/ask", handleAsk(deps))
	})

	return otelhttp.NewHandler(r, "askql.api")
}

// handleTrain accepts a single request object or an array of them. With
// ?flush=true buffered items are written before responding.
func handleTrain(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var raw json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		var reqs []ingest.Request
		if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
			if err := json.Unmarshal(trimmed, &reqs); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
				return
			}
		} else {
			var one ingest.Request
			if err := json.Unmarshal(trimmed, &one); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
				return
			}
			reqs = []ingest.Request{one}
		}

		resp := TrainResponse{Results: make([]TrainResult, len(reqs))}
		for i, req := range reqs {
			q, err := deps.Trainer.Train(r.Context(), req)
			if err != nil {
				resp.Rejected++
				resp.Results[i] = TrainResult{Error: err.Error()}
				continue
			}
			resp.Accepted++
			resp.Results[i] = TrainResult{Question: q}
		}
		if r.URL.Query().Get("flush") == "true" {
			deps.Trainer.Flush()
		}

		if len(reqs) == 1 && resp.Rejected == 1 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", resp.Results[0].Error)
			return
		}
		writeJSON(w, resp)
	}
}

func handleListTrainingData(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := deps.Store.GetTrainingData(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list training data: %v", err)
			return
		}
		if rows == nil {
			rows = []retrieval.TrainingRow{}
		}
		writeJSON(w, rows)
	}
}

func handleRemoveTrainingData(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		removed, err := deps.Store.RemoveTrainingData(r.Context(), id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to remove training data: %v", err)
			return
		}
		if !removed {
			httpError(w, http.StatusNotFound, "not_found", "training data %q not found", id)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleRemoveCollection(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		removed, err := deps.Store.RemoveCollection(r.Context(), name)
		if errors.Is(err, corpus.ErrUnknownCorpus) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown collection %q", name)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to remove collection: %v", err)
			return
		}
		writeJSON(w, map[string]bool{"removed": removed})
	}
}

func handleGenerateSQL(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, ok := decodeQuestion(w, r)
		if !ok {
			return
		}
		gen, err := deps.Generator.GenerateSQL(r.Context(), q)
		if err != nil {
			writeGenerationError(w, err)
			return
		}
		writeJSON(w, gen)
	}
}

// handleAsk generates SQL and runs it when a database is configured.
func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, ok := decodeQuestion(w, r)
		if !ok {
			return
		}
		if !deps.Generator.HasRunner() {
			gen, err := deps.Generator.GenerateSQL(r.Context(), q)
			if err != nil {
				writeGenerationError(w, err)
				return
			}
			writeJSON(w, sqlgen.Answer{Generation: *gen})
			return
		}

		ans, err := deps.Generator.Ask(r.Context(), q)
		if err != nil {
			if ans != nil {
				deps.logger().Warn("generated sql failed to run", "sql", ans.SQL, "error", err)
				httpError(w, http.StatusUnprocessableEntity, "execution_error", "%v", err)
				return
			}
			writeGenerationError(w, err)
			return
		}
		writeJSON(w, ans)
	}
}

func decodeQuestion(w http.ResponseWriter, r *http.Request) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return "", false
	}
	return req.Question, true
}

func writeGenerationError(w http.ResponseWriter, err error) {
	if errors.Is(err, sqlgen.ErrEmptyQuestion) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
		return
	}
	httpError(w, http.StatusBadGateway, "api_error", "sql generation failed: %v", err)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
