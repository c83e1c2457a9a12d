// Package composer assembles the message sequence sent to the chat model
// from a question and the training content retrieved for it.
package composer

import (
	"fmt"
	"strings"

	"github.com/kalambet/askql/internal/corpus"
)

const (
	defaultMaxContextTokens = 14000
	defaultDialect          = "SQL"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Retrieved holds what the vector store returned for a question, best match first.
type Retrieved struct {
	DDL           []string
	Documentation []string
	Examples      []corpus.QuestionSQL
}

// Composer builds SQL-generation prompts. Context entries that do not fit
// the token budget are dropped, keeping the order of the rest.
type Composer struct {
	Dialect          string
	Language         string
	MaxContextTokens int
}

// New creates a Composer for the given SQL dialect and context budget.
// Empty or non-positive arguments fall back to generic SQL and 14000 tokens.
func New(dialect string, maxContextTokens int) *Composer {
	if strings.TrimSpace(dialect) == "" {
		dialect = defaultDialect
	}
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{Dialect: dialect, MaxContextTokens: maxContextTokens}
}

// Compose returns, in fixed order: the system instruction, the DDL block,
// the documentation block, the examples block and the final instruction.
// A context block is present only when it has at least one entry.
func (c *Composer) Compose(question string, r Retrieved) []Message {
	msgs := []Message{{
		Role: "system",
		Content: fmt.Sprintf("You are a %s expert. Write a %s query that answers the question: %s",
			c.Dialect, c.Dialect, question),
	}}

	remaining := c.MaxContextTokens - EstimateTokens(msgs[0].Content)

	if block, used := buildBlock("===Tables\n", r.DDL, formatText, remaining); block != "" {
		msgs = append(msgs, Message{Role: "system", Content: block})
		remaining -= used
	}
	if block, used := buildBlock("===Additional Context\n", r.Documentation, formatText, remaining); block != "" {
		msgs = append(msgs, Message{Role: "system", Content: block})
		remaining -= used
	}
	if block, _ := buildBlock("===Examples\n", r.Examples, formatExample, remaining); block != "" {
		msgs = append(msgs, Message{Role: "system", Content: block})
	}

	msgs = append(msgs, Message{Role: "user", Content: c.finalInstruction(question)})
	return msgs
}

func (c *Composer) finalInstruction(question string) string {
	var sb strings.Builder
	sb.WriteString("Question: ")
	sb.WriteString(question)
	sb.WriteString("\n\n===Response Guidelines\n")
	fmt.Fprintf(&sb, "1. Respond with a single valid %s statement and nothing else.\n", c.Dialect)
	sb.WriteString("2. Use only tables and columns that appear in the context above; never invent them.\n")
	sb.WriteString("3. If the context is insufficient, explain why instead of guessing.\n")
	if c.Language != "" {
		fmt.Fprintf(&sb, "4. Respond in %s; keep SQL keywords and identifiers unchanged.\n", c.Language)
	}
	return sb.String()
}

// QuestionPrompt builds the messages asking the model for a question that
// the given SQL answers. hint is an optional comment found in the SQL.
func (c *Composer) QuestionPrompt(sql, hint string) []Message {
	var sb strings.Builder
	sb.WriteString("Write one short, specific question that the following SQL answers. ")
	sb.WriteString("Reply with the question only, ending with a question mark.")
	if c.Language != "" {
		fmt.Fprintf(&sb, " Write it in %s.", c.Language)
	}
	if hint != "" {
		sb.WriteString("\n\nComment: ")
		sb.WriteString(hint)
	}
	sb.WriteString("\n\nSQL:\n")
	sb.WriteString(sql)
	return []Message{{Role: "user", Content: sb.String()}}
}

// buildBlock renders entries under header, skipping any entry that would
// exceed the budget. It returns the block and the tokens it uses.
func buildBlock[T any](header string, entries []T, format func(T) string, budget int) (string, int) {
	if len(entries) == 0 {
		return "", 0
	}
	remaining := budget - EstimateTokens(header)
	var selected []string
	for _, e := range entries {
		s := format(e)
		tokens := EstimateTokens(s)
		if tokens > remaining {
			continue
		}
		selected = append(selected, s)
		remaining -= tokens
	}
	if len(selected) == 0 {
		return "", 0
	}
	block := header + strings.Join(selected, "")
	return block, EstimateTokens(block)
}

func formatText(s string) string {
	return strings.TrimSpace(s) + "\n\n"
}

func formatExample(ex corpus.QuestionSQL) string {
	return fmt.Sprintf("Question: %s\nSQL: %s\n\n", strings.TrimSpace(ex.Question), strings.TrimSpace(ex.SQL))
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
