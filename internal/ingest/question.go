package ingest

import (
	"context"
	"strings"
)

// QuestionGenerator writes a natural-language question answered by a SQL statement.
type QuestionGenerator interface {
	GenerateQuestion(ctx context.Context, sql, hint string) (string, error)
}

// leadingComment returns the text of the first "--" comment in sql.
func leadingComment(sql string) string {
	_, after, ok := strings.Cut(sql, "--")
	if !ok {
		return ""
	}
	line, _, _ := strings.Cut(after, "\n")
	return strings.TrimSpace(line)
}

// ruleQuestion picks a generic question from the statement's shape.
func ruleQuestion(sql string) string {
	u := strings.ToUpper(sql)
	switch {
	case strings.Contains(u, "SELECT"):
		switch {
		case strings.Contains(u, "COUNT"):
			return "How many records match the given conditions"
		case strings.Contains(u, "SUM") || strings.Contains(u, "AVG"):
			return "What is the aggregated value of the field"
		case strings.Contains(u, "GROUP BY"):
			return "What are the statistics per group"
		case strings.Contains(u, "JOIN"):
			return "Which data comes from joining the related tables"
		case strings.Contains(u, "ORDER BY"):
			return "What are the results in sorted order"
		}
		return "Which records match the given conditions"
	case strings.Contains(u, "INSERT"):
		return "How do I insert new data"
	case strings.Contains(u, "UPDATE"):
		return "How do I update existing data"
	case strings.Contains(u, "DELETE"):
		return "How do I delete the matching data"
	case strings.Contains(u, "CREATE"):
		return "How do I create the database object"
	case strings.Contains(u, "ALTER"):
		return "How do I change the structure of the database object"
	}
	return "What does this SQL statement do"
}

// asQuestion trims q and makes sure it ends with a question mark.
func asQuestion(q string) string {
	q = strings.TrimSpace(q)
	if strings.HasSuffix(q, "?") || strings.HasSuffix(q, "？") {
		return q
	}
	return q + "?"
}

// deriveQuestion asks gen for a question, falling back to the statement's
// leading comment and then to a rule-based question.
func deriveQuestion(ctx context.Context, gen QuestionGenerator, sql string) (q string, source string) {
	comment := leadingComment(sql)
	if gen != nil {
		generated, err := gen.GenerateQuestion(ctx, sql, comment)
		if err == nil && strings.TrimSpace(generated) != "" {
			return asQuestion(firstLine(generated)), "model"
		}
	}
	if comment != "" {
		return asQuestion(comment), "comment"
	}
	return asQuestion(ruleQuestion(sql)), "rule"
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	line, _, _ := strings.Cut(s, "\n")
	return strings.Trim(line, "\"' ")
}
