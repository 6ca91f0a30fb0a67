package llm

import (
	"regexp"
	"strings"
)

var (
	leadingJSONFence = regexp.MustCompile("^```json\\s*")
	leadingFence     = regexp.MustCompile("^```\\s*")
	trailingFence    = regexp.MustCompile("\\s*```$")
)

// StripCodeFences removes one leading ```json or ``` fence and one trailing ``` fence.
func StripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	text = leadingJSONFence.ReplaceAllString(text, "")
	text = leadingFence.ReplaceAllString(text, "")
	text = trailingFence.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// ExtractJSONObject returns the substring from the first '{' to the last '}'.
// Text without a brace pair is returned unchanged.
func ExtractJSONObject(text string) string {
	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first == -1 || last == -1 || last < first {
		return text
	}
	return text[first : last+1]
}

// CleanResponseText prepares provider output for the caller. Brace extraction
// only applies when a JSON payload was requested.
func CleanResponseText(text string, wantJSON bool) string {
	text = StripCodeFences(text)
	if wantJSON {
		text = ExtractJSONObject(text)
	}
	return text
}
