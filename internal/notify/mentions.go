package notify

import (
	"regexp"
	"strings"
)

var mentionPattern = regexp.MustCompile(`(?:^|[^\w@.])@([A-Za-z0-9_][A-Za-z0-9_.\-]*)`)

// ParseMentions returns the distinct usernames mentioned in text, in
// order of first appearance.
func ParseMentions(text string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0)
	for _, match := range mentionPattern.FindAllStringSubmatch(text, -1) {
		name := strings.TrimRight(match[1], ".-")
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
