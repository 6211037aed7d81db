package pipeline

import (
	"regexp"
	"strings"
)

// FilterMentions strips mentions of the bot's own handle from content so the
// trigger token is not analyzed as conversational text. Matching is
// case-insensitive and word-boundary-safe; mentions of other handles pass
// through byte-for-byte. Both "@handle" and the "<@handle>" wire form are
// removed.
func FilterMentions(content, botHandle string) string {
	handle := strings.TrimPrefix(strings.TrimSpace(botHandle), "@")
	if handle == "" {
		return content
	}

	escaped := regexp.QuoteMeta(handle)
	// Each mention consumes one adjacent space so removing it leaves no
	// double gap; whitespace elsewhere in the content is untouched.
	re := regexp.MustCompile(`(?i)(?:<@` + escaped + `>|@` + escaped + `\b)[ \t]?`)
	return strings.TrimSpace(re.ReplaceAllString(content, ""))
}
