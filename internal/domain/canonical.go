package domain

import (
	"regexp"
	"strings"
)

// nonWordRegex matches anything that is not a letter, digit or whitespace
var nonWordRegex = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

// Canonicalize lowercases a name, replaces punctuation with spaces and
// collapses whitespace. Canonicalize(Canonicalize(x)) == Canonicalize(x).
func Canonicalize(name string) string {
	if name == "" {
		return ""
	}
	cleaned := nonWordRegex.ReplaceAllString(strings.ToLower(name), " ")
	return strings.Join(strings.Fields(cleaned), " ")
}
