package sqlgen

import (
	"regexp"
	"strings"
)

var (
	createAsRe = regexp.MustCompile(`(?is)\bCREATE\s+TABLE\b.*?\bAS\b.*?;`)
	withRe     = regexp.MustCompile(`(?is)\bWITH\b\s+\w+\s+AS\s*\(.*?;`)
	selectRe   = regexp.MustCompile(`(?is)\bSELECT\b.*?;`)
	sqlFenceRe = regexp.MustCompile("(?is)```sql\\s*\\n(.*?)```")
	anyFenceRe = regexp.MustCompile("(?s)```\\s*\\n?(.*?)```")
)

// ExtractSQL pulls the statement out of a model reply. Fenced ```sql blocks
// win, then CREATE TABLE ... AS, WITH and SELECT statements terminated by a
// semicolon. Escaped underscores are restored.
func ExtractSQL(reply string) string {
	out := strings.TrimSpace(reply)
	switch {
	case sqlFenceRe.MatchString(out):
		out = sqlFenceRe.FindStringSubmatch(out)[1]
	case createAsRe.MatchString(out):
		out = createAsRe.FindString(out)
	case withRe.MatchString(out):
		out = withRe.FindString(out)
	case selectRe.MatchString(out):
		out = selectRe.FindString(out)
	case anyFenceRe.MatchString(out):
		out = anyFenceRe.FindStringSubmatch(out)[1]
	}
	return strings.ReplaceAll(strings.TrimSpace(out), `\_`, "_")
}
