package corpus

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyContent is returned when an item has no text to store.
var ErrEmptyContent = errors.New("training content is empty")

// ErrMissingSQL is returned when a question is submitted without SQL.
var ErrMissingSQL = errors.New("question given without sql")

// Item is one unit of training content bound for a corpus. For the SQL
// corpus Text holds the statement and Question the natural-language prompt.
type Item struct {
	Corpus   Corpus
	Text     string
	Question string
}

// DDLItem returns an item for the DDL corpus.
func DDLItem(ddl string) Item { return Item{Corpus: DDL, Text: ddl} }

// DocumentationItem returns an item for the documentation corpus.
func DocumentationItem(doc string) Item { return Item{Corpus: Documentation, Text: doc} }

// QuestionSQLItem returns an item for the SQL corpus.
func QuestionSQLItem(question, sql string) Item {
	return Item{Corpus: SQL, Text: sql, Question: question}
}

// Validate rejects items that would produce a meaningless record.
func (it Item) Validate() error {
	if !it.Corpus.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCorpus, it.Corpus)
	}
	if strings.TrimSpace(it.Text) == "" {
		if it.Corpus == SQL {
			return ErrMissingSQL
		}
		return fmt.Errorf("%w: %s", ErrEmptyContent, it.Corpus)
	}
	return nil
}

// Payload returns the canonical string stored and embedded for the item.
func (it Item) Payload() (string, error) {
	if it.Corpus == SQL {
		return EncodeQuestionSQL(it.Question, it.Text)
	}
	return it.Text, nil
}
