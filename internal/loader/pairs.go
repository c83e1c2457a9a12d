package loader

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Pair is a question with the SQL that answers it.
type Pair struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
}

func (p Pair) valid() bool {
	return strings.TrimSpace(p.Question) != "" && strings.TrimSpace(p.SQL) != ""
}

// ParsePairLines reads one "question::sql" pair per line. Lines without
// the separator are skipped.
func ParsePairLines(content string) []Pair {
	var out []Pair
	for _, line := range strings.Split(content, "\n") {
		q, s, ok := strings.Cut(line, "::")
		if !ok {
			continue
		}
		p := Pair{Question: strings.TrimSpace(q), SQL: strings.TrimSpace(s)}
		if p.valid() {
			out = append(out, p)
		}
	}
	return out
}

// ParseFormattedPairs reads blocks of the form
//
//	Question: ...
//	SQL: ...
//
// where the SQL may span several lines up to the next "Question:".
func ParseFormattedPairs(content string) []Pair {
	var out []Pair
	rest := content
	for {
		qi := strings.Index(rest, "Question:")
		if qi < 0 {
			break
		}
		rest = rest[qi+len("Question:"):]

		block := rest
		if next := strings.Index(rest, "Question:"); next >= 0 {
			block = rest[:next]
		}
		q, s, ok := strings.Cut(block, "SQL:")
		if ok {
			p := Pair{Question: strings.TrimSpace(q), SQL: strings.TrimSpace(s)}
			if p.valid() {
				out = append(out, p)
			}
		}
	}
	return out
}

// ParseJSONPairs reads a JSON array of {"question", "sql"} objects.
// Entries with a blank field are skipped.
func ParseJSONPairs(data []byte) ([]Pair, error) {
	var raw []Pair
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding question/sql pairs: %w", err)
	}
	out := make([]Pair, 0, len(raw))
	for _, p := range raw {
		if p.valid() {
			out = append(out, Pair{Question: strings.TrimSpace(p.Question), SQL: strings.TrimSpace(p.SQL)})
		}
	}
	return out, nil
}
