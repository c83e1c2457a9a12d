package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

type mockEngine struct {
	isRunning bool
	models    map[string]bool
	pulled    []string
	embedFn   func(model, text string) ([]float32, error)
}

func (m *mockEngine) Chat(_ context.Context, _ string, _ []Message, _ float64) (string, error) {
	return "", nil
}
func (m *mockEngine) Embed(_ context.Context, model string, text string) ([]float32, error) {
	if m.embedFn != nil {
		return m.embedFn(model, text)
	}
	return nil, nil
}
func (m *mockEngine) IsRunning(_ context.Context) bool { return m.isRunning }
func (m *mockEngine) ListModels(_ context.Context) ([]string, error) {
	var names []string
	for n := range m.models {
		names = append(names, n)
	}
	return names, nil
}
func (m *mockEngine) HasModel(_ context.Context, name string) bool { return m.models[name] }
func (m *mockEngine) PullModel(_ context.Context, name string, cb func(PullProgress)) error {
	m.pulled = append(m.pulled, name)
	if cb != nil {
		cb(PullProgress{Status: "success"})
	}
	return nil
}

func TestEnsureReady_AllModelsPresent(t *testing.T) {
	m := &mockEngine{
		isRunning: true,
		models:    map[string]bool{"qwen2.5": true, "bge-m3": true},
	}
	_, err := EnsureReady(context.Background(), m, ReadyOptions{EmbedModel: "bge-m3", ChatModel: "qwen2.5"}, io.Discard)
	if err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 0 {
		t.Errorf("expected no pulls, got %v", m.pulled)
	}
}

func TestEnsureReady_PullsMissing(t *testing.T) {
	m := &mockEngine{
		isRunning: true,
		models:    map[string]bool{"qwen2.5": true},
	}
	_, err := EnsureReady(context.Background(), m, ReadyOptions{EmbedModel: "bge-m3", ChatModel: "qwen2.5"}, io.Discard)
	if err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 1 || m.pulled[0] != "bge-m3" {
		t.Errorf("expected pull of bge-m3, got %v", m.pulled)
	}
}

func TestEnsureReady_EngineDown(t *testing.T) {
	m := &mockEngine{isRunning: false, models: map[string]bool{}}
	_, err := EnsureReady(context.Background(), m, ReadyOptions{EmbedModel: "bge-m3"}, io.Discard)
	if err == nil {
		t.Fatal("expected error when engine is down")
	}
	if !strings.Contains(err.Error(), "not running") {
		t.Errorf("error = %q, want it to mention the service is not running", err)
	}
}

func TestEnsureReady_DimensionCheck(t *testing.T) {
	m := &mockEngine{
		isRunning: true,
		models:    map[string]bool{"bge-m3": true},
		embedFn: func(model, text string) ([]float32, error) {
			return make([]float32, 768), nil
		},
	}
	var out bytes.Buffer
	dim, err := EnsureReady(context.Background(), m, ReadyOptions{EmbedModel: "bge-m3", Dimension: 1024}, &out)
	if err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if dim != 768 {
		t.Errorf("dim = %d, want 768", dim)
	}
	if !strings.Contains(out.String(), "configured 1024") {
		t.Errorf("output %q should report the dimension mismatch", out.String())
	}
}

func TestEnsureReady_SampleEmbedFails(t *testing.T) {
	m := &mockEngine{
		isRunning: true,
		models:    map[string]bool{"bge-m3": true},
		embedFn: func(model, text string) ([]float32, error) {
			return nil, errors.New("model crashed")
		},
	}
	_, err := EnsureReady(context.Background(), m, ReadyOptions{EmbedModel: "bge-m3", Dimension: 1024}, io.Discard)
	if err == nil {
		t.Fatal("expected sample embedding error")
	}
}
