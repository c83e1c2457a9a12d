package chat

import (
	"context"

	"github.com/kalambet/askql/internal/composer"
	"github.com/kalambet/askql/internal/engine"
)

// EngineModel sends prompts to a chat model served by the local engine.
type EngineModel struct {
	engine      engine.Engine
	model       string
	temperature float64
}

// NewEngineModel wraps e so prompts go to model.
func NewEngineModel(e engine.Engine, model string, temperature float64) *EngineModel {
	return &EngineModel{engine: e, model: model, temperature: temperature}
}

// Submit converts msgs and forwards them to the engine.
func (m *EngineModel) Submit(ctx context.Context, msgs []composer.Message) (string, error) {
	converted := make([]engine.Message, len(msgs))
	for i, msg := range msgs {
		converted[i] = engine.Message{Role: msg.Role, Content: msg.Content}
	}
	return m.engine.Chat(ctx, m.model, converted, m.temperature)
}
