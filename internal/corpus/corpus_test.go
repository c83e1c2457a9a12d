package corpus

import (
	"errors"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		want    Corpus
		wantErr bool
	}{
		{"sql", SQL, false},
		{"DDL", DDL, false},
		{" documentation ", Documentation, false},
		{"doc", "", true},
		{"", "", true},
		{"tables", "", true},
	}
	for _, tt := range tests {
		got, err := Parse(tt.name)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownCorpus) {
				t.Errorf("Parse(%q): expected ErrUnknownCorpus, got %v", tt.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestEmbeddedID_Deterministic(t *testing.T) {
	a := EmbeddedID(DDL, "CREATE TABLE t(id INT);")
	b := EmbeddedID(DDL, "CREATE TABLE t(id INT);")
	if a != b {
		t.Errorf("ids differ for identical content: %q vs %q", a, b)
	}
	if !strings.HasSuffix(a, "-ddl") {
		t.Errorf("id %q missing -ddl suffix", a)
	}
	if c := EmbeddedID(DDL, "CREATE TABLE u(id INT);"); c == a {
		t.Error("distinct content produced the same id")
	}
}

func TestEmbeddedID_KnownValue(t *testing.T) {
	// uuid5(nil, sha256("hello").hexdigest())
	got := EmbeddedID(Documentation, "hello")
	if len(got) != 36+len("-doc") {
		t.Fatalf("unexpected id length: %q", got)
	}
	if got[14] != '5' {
		t.Errorf("expected a version 5 uuid, got %q", got)
	}
}

func TestFromEmbeddedID(t *testing.T) {
	for _, c := range All() {
		id := EmbeddedID(c, "payload")
		got, err := FromEmbeddedID(id)
		if err != nil {
			t.Fatalf("FromEmbeddedID(%q): %v", id, err)
		}
		if got != c {
			t.Errorf("FromEmbeddedID(%q) = %q, want %q", id, got, c)
		}
	}
	if _, err := FromEmbeddedID("abc-xyz"); !errors.Is(err, ErrUnknownCorpus) {
		t.Errorf("expected ErrUnknownCorpus, got %v", err)
	}
}

func TestRelationalID_Ranges(t *testing.T) {
	inputs := []string{"", "a", "CREATE TABLE t(id INT);", "some documentation", `{"question":"q","sql":"SELECT 1"}`}
	for i := 0; i < 200; i++ {
		inputs = append(inputs, strings.Repeat("x", i))
	}

	for _, in := range inputs {
		if id := RelationalID(Documentation, in); id < 0 || id >= 100_000 {
			t.Errorf("documentation id %d out of range for %q", id, in)
		}
		if id := RelationalID(DDL, in); id < 100_000 || id >= 200_000 {
			t.Errorf("ddl id %d out of range for %q", id, in)
		}
		if id := RelationalID(SQL, in); id < 200_000 || id >= 1_200_000 {
			t.Errorf("sql id %d out of range for %q", id, in)
		}
	}
}

func TestRelationalID_RoundTripsCorpus(t *testing.T) {
	for _, c := range All() {
		id := RelationalID(c, "same text")
		if id != RelationalID(c, "same text") {
			t.Errorf("%s: id not deterministic", c)
		}
		got, err := FromRelationalID(id)
		if err != nil {
			t.Fatalf("FromRelationalID(%d): %v", id, err)
		}
		if got != c {
			t.Errorf("FromRelationalID(%d) = %q, want %q", id, got, c)
		}
	}
	for _, id := range []int64{-1, 1_200_000, 5_000_000} {
		if _, err := FromRelationalID(id); err == nil {
			t.Errorf("FromRelationalID(%d): expected error", id)
		}
	}
}

func TestEncodeQuestionSQL_KeepsCharacters(t *testing.T) {
	got, err := EncodeQuestionSQL("每个城市<人数>?", "SELECT a FROM t WHERE b > 1 && c < 2")
	if err != nil {
		t.Fatalf("EncodeQuestionSQL: %v", err)
	}
	want := `{"question": "每个城市<人数>?", "sql": "SELECT a FROM t WHERE b > 1 && c < 2"}`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestEncodeQuestionSQL_Escapes(t *testing.T) {
	tests := []struct {
		question, sql, want string
	}{
		{
			"say \"hi\"", "SELECT 'a\\b'\nFROM t\twhere x",
			`{"question": "say \"hi\"", "sql": "SELECT 'a\\b'\nFROM t\twhere x"}`,
		},
		{
			"line\u2028sep", "SELECT 1\x01",
			"{\"question\": \"line\u2028sep\", \"sql\": \"SELECT 1\\u0001\"}",
		},
		{
			`literal \u2028`, "SELECT 1",
			`{"question": "literal \\u2028", "sql": "SELECT 1"}`,
		},
		{
			"", "SELECT 1",
			`{"question": "", "sql": "SELECT 1"}`,
		},
	}
	for _, tt := range tests {
		got, err := EncodeQuestionSQL(tt.question, tt.sql)
		if err != nil {
			t.Fatalf("EncodeQuestionSQL(%q, %q): %v", tt.question, tt.sql, err)
		}
		if got != tt.want {
			t.Errorf("EncodeQuestionSQL(%q, %q) = %s, want %s", tt.question, tt.sql, got, tt.want)
		}
		back, err := DecodeQuestionSQL(got)
		if err != nil || back.Question != tt.question || back.SQL != tt.sql {
			t.Errorf("DecodeQuestionSQL(%s) = %+v, %v", got, back, err)
		}
	}
}

func TestDecodeQuestionSQL(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    QuestionSQL
		wantErr bool
	}{
		{"json", `{"question":"count rows","sql":"SELECT COUNT(*) FROM t"}`, QuestionSQL{"count rows", "SELECT COUNT(*) FROM t"}, false},
		{"single quoted", `{'question': 'count rows', 'sql': 'SELECT COUNT(*) FROM t'}`, QuestionSQL{"count rows", "SELECT COUNT(*) FROM t"}, false},
		{"escaped quote", `{'question': 'it\'s', 'sql': "SELECT 'x'"}`, QuestionSQL{"it's", "SELECT 'x'"}, false},
		{"missing sql", `{"question":"q"}`, QuestionSQL{}, true},
		{"garbage", `not a payload`, QuestionSQL{}, true},
		{"unterminated", `{'question': 'q`, QuestionSQL{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeQuestionSQL(tt.payload)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeQuestionSQL: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestItem_Validate(t *testing.T) {
	if err := QuestionSQLItem("count rows", "").Validate(); !errors.Is(err, ErrMissingSQL) {
		t.Errorf("missing sql: got %v, want ErrMissingSQL", err)
	}
	if err := DDLItem("   ").Validate(); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("blank ddl: got %v, want ErrEmptyContent", err)
	}
	if err := (Item{Corpus: "tables", Text: "x"}).Validate(); !errors.Is(err, ErrUnknownCorpus) {
		t.Errorf("bad corpus: got %v, want ErrUnknownCorpus", err)
	}
	if err := DocumentationItem("orders ship within 2 days").Validate(); err != nil {
		t.Errorf("valid doc: %v", err)
	}
}

func TestItem_Payload(t *testing.T) {
	p, err := QuestionSQLItem("count rows", "SELECT COUNT(*) FROM t").Payload()
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}
	qs, err := DecodeQuestionSQL(p)
	if err != nil {
		t.Fatalf("DecodeQuestionSQL: %v", err)
	}
	if qs.Question != "count rows" || qs.SQL != "SELECT COUNT(*) FROM t" {
		t.Errorf("decoded %+v", qs)
	}
	if p, _ := DDLItem("CREATE TABLE t(id INT);").Payload(); p != "CREATE TABLE t(id INT);" {
		t.Errorf("ddl payload = %q", p)
	}
}
