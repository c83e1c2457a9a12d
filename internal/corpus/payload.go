package corpus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// QuestionSQL is a stored question and the SQL that answers it.
type QuestionSQL struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
}

// EncodeQuestionSQL returns the canonical payload for a question/SQL pair:
// `{"question": "...", "sql": "..."}` with ", " and ": " separators. HTML
// characters and non-ASCII text are kept verbatim so the payload, and
// therefore the id, depends only on the pair's content.
func EncodeQuestionSQL(question, sql string) (string, error) {
	return `{"question": ` + quote(question) + `, "sql": ` + quote(sql) + `}`, nil
}

// quote renders s as a JSON string, escaping only quotes, backslashes and
// control characters. Everything else, U+2028 and U+2029 included, is
// written verbatim.
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if c < 0x20 {
				fmt.Fprintf(&b, `\u%04x`, c)
				continue
			}
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

var errMalformedPayload = errors.New("malformed question/sql payload")

// DecodeQuestionSQL parses a stored payload. JSON is tried first; payloads
// written as single-quoted literals are repaired by a lenient key/value scan.
func DecodeQuestionSQL(payload string) (QuestionSQL, error) {
	var qs QuestionSQL
	if err := json.Unmarshal([]byte(payload), &qs); err == nil {
		if qs.SQL == "" {
			return QuestionSQL{}, fmt.Errorf("%w: missing sql", errMalformedPayload)
		}
		return qs, nil
	}

	fields, err := scanLiteralMap(payload)
	if err != nil {
		return QuestionSQL{}, err
	}
	sql, ok := fields["sql"]
	if !ok || sql == "" {
		return QuestionSQL{}, fmt.Errorf("%w: missing sql", errMalformedPayload)
	}
	return QuestionSQL{Question: fields["question"], SQL: sql}, nil
}

// scanLiteralMap reads a flat {key: value, ...} map whose keys and values are
// strings quoted with either ' or ".
func scanLiteralMap(s string) (map[string]string, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return nil, fmt.Errorf("%w: not a map", errMalformedPayload)
	}
	body := s[1 : len(s)-1]
	out := make(map[string]string)

	i := 0
	skipSpace := func() {
		for i < len(body) && strings.ContainsRune(" \t\r\n", rune(body[i])) {
			i++
		}
	}
	readQuoted := func() (string, error) {
		skipSpace()
		if i >= len(body) || (body[i] != '\'' && body[i] != '"') {
			return "", fmt.Errorf("%w: expected quoted string at offset %d", errMalformedPayload, i)
		}
		quote := body[i]
		i++
		var sb strings.Builder
		for i < len(body) {
			ch := body[i]
			switch {
			case ch == '\\' && i+1 < len(body):
				i++
				switch body[i] {
				case 'n':
					sb.WriteByte('\n')
				case 't':
					sb.WriteByte('\t')
				case 'r':
					sb.WriteByte('\r')
				default:
					sb.WriteByte(body[i])
				}
			case ch == quote:
				i++
				return sb.String(), nil
			default:
				sb.WriteByte(ch)
			}
			i++
		}
		return "", fmt.Errorf("%w: unterminated string", errMalformedPayload)
	}

	for {
		skipSpace()
		if i >= len(body) {
			break
		}
		key, err := readQuoted()
		if err != nil {
			return nil, err
		}
		skipSpace()
		if i >= len(body) || body[i] != ':' {
			return nil, fmt.Errorf("%w: expected ':' after key %q", errMalformedPayload, key)
		}
		i++
		val, err := readQuoted()
		if err != nil {
			return nil, err
		}
		out[key] = val
		skipSpace()
		if i < len(body) {
			if body[i] != ',' {
				return nil, fmt.Errorf("%w: expected ',' at offset %d", errMalformedPayload, i)
			}
			i++
		}
	}
	return out, nil
}
