// Package corpus defines the three categories of training content and the
// deterministic identity scheme used by the vector store backends.
package corpus

import (
	"errors"
	"fmt"
	"strings"
)

// Corpus names one of the three categories of training content.
type Corpus string

const (
	SQL           Corpus = "sql"
	DDL           Corpus = "ddl"
	Documentation Corpus = "documentation"
)

// ErrUnknownCorpus is returned when a corpus name or id cannot be mapped to a Corpus.
var ErrUnknownCorpus = errors.New("unknown corpus")

// All returns every corpus in the fixed order used for aggregate views.
func All() []Corpus {
	return []Corpus{SQL, DDL, Documentation}
}

// Parse maps a collection name to its Corpus. Names are case-insensitive.
func Parse(name string) (Corpus, error) {
	switch Corpus(strings.ToLower(strings.TrimSpace(name))) {
	case SQL:
		return SQL, nil
	case DDL:
		return DDL, nil
	case Documentation:
		return Documentation, nil
	}
	return "", fmt.Errorf("%w: %q (want sql, ddl or documentation)", ErrUnknownCorpus, name)
}

// Valid reports whether c is one of the known corpora.
func (c Corpus) Valid() bool {
	switch c {
	case SQL, DDL, Documentation:
		return true
	}
	return false
}

// Suffix is the tag appended to embedded-backend ids.
func (c Corpus) Suffix() string {
	switch c {
	case SQL:
		return "-sql"
	case DDL:
		return "-ddl"
	case Documentation:
		return "-doc"
	}
	return ""
}

func (c Corpus) String() string { return string(c) }
