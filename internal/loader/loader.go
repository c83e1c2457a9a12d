// Package loader splits training files into training requests.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kalambet/askql/internal/ingest"
)

// Kind is the layout of a training file.
type Kind string

const (
	KindDDL           Kind = "ddl"
	KindSQL           Kind = "sql"
	KindDocumentation Kind = "doc"
	KindMarkdown      Kind = "markdown"
	KindPairs         Kind = "pairs"
	KindJSON          Kind = "json"
	KindPDF           Kind = "pdf"
	KindHTML          Kind = "html"
)

// ErrUnknownKind is returned for a kind name ParseKind does not know.
var ErrUnknownKind = errors.New("unknown file kind")

// ParseKind maps a user-supplied name to a Kind. An empty name yields "".
func ParseKind(name string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(name)))
	switch k {
	case "", KindDDL, KindSQL, KindDocumentation, KindMarkdown, KindPairs, KindJSON, KindPDF, KindHTML:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// DetectKind guesses the layout from the file extension and, for plain
// text, from the markers in the content.
func DetectKind(path string, content []byte) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ddl":
		return KindDDL
	case ".sql":
		return KindSQL
	case ".md", ".markdown":
		return KindMarkdown
	case ".json":
		return KindJSON
	case ".pdf":
		return KindPDF
	case ".html", ".htm":
		return KindHTML
	}
	switch {
	case bytes.Contains(content, []byte("Question:")) && bytes.Contains(content, []byte("SQL:")):
		return KindPairs
	case bytes.Contains(content, []byte("::")):
		return KindPairs
	}
	return KindDocumentation
}

// LoadFile reads path and splits it. An empty kind is detected.
func LoadFile(path string, kind Kind) ([]ingest.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if kind == "" {
		kind = DetectKind(path, data)
	}
	return Parse(kind, data)
}

// Parse splits data according to kind.
func Parse(kind Kind, data []byte) ([]ingest.Request, error) {
	var reqs []ingest.Request
	switch kind {
	case KindDDL:
		for _, s := range SplitStatements(string(data)) {
			reqs = append(reqs, ingest.Request{DDL: s})
		}
	case KindSQL:
		for _, s := range SplitStatements(string(data)) {
			reqs = append(reqs, ingest.Request{SQL: s})
		}
	case KindDocumentation:
		reqs = docs(SplitBlocks(string(data), "---"))
	case KindMarkdown:
		reqs = docs(SplitMarkdown(string(data)))
	case KindPairs:
		text := string(data)
		if strings.Contains(text, "Question:") {
			reqs = pairs(ParseFormattedPairs(text))
		} else {
			reqs = pairs(ParsePairLines(text))
		}
	case KindJSON:
		p, err := ParseJSONPairs(data)
		if err != nil {
			return nil, err
		}
		reqs = pairs(p)
	case KindPDF:
		pages, err := ReadPDFText(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, err
		}
		reqs = docs(pages)
	case KindHTML:
		text, err := HTMLText(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		reqs = docs(SplitBlocks(text, "---"))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return reqs, nil
}

func docs(blocks []string) []ingest.Request {
	reqs := make([]ingest.Request, 0, len(blocks))
	for _, b := range blocks {
		reqs = append(reqs, ingest.Request{Documentation: b})
	}
	return reqs
}

func pairs(ps []Pair) []ingest.Request {
	reqs := make([]ingest.Request, 0, len(ps))
	for _, p := range ps {
		reqs = append(reqs, ingest.Request{Question: p.Question, SQL: p.SQL})
	}
	return reqs
}

// SplitBlocks splits content on delim and drops blank blocks.
func SplitBlocks(content, delim string) []string {
	var out []string
	for _, b := range strings.Split(content, delim) {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// SplitStatements splits SQL or DDL on semicolons.
func SplitStatements(content string) []string {
	return SplitBlocks(content, ";")
}

// SplitMarkdown splits a markdown document into sections that start at a
// level 1 to 3 heading. Text before the first heading is its own section.
func SplitMarkdown(content string) []string {
	var (
		out     []string
		current strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			out = append(out, s)
		}
		current.Reset()
	}
	for _, line := range strings.Split(content, "\n") {
		if isSectionHeading(line) {
			flush()
		}
		current.WriteString(line)
		current.WriteByte('\n')
	}
	flush()
	return out
}

func isSectionHeading(line string) bool {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	return level >= 1 && level <= 3 && level < len(line)
}
