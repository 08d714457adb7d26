package memory

import (
	"regexp"
	"strings"
)

// Deterministic fact rules: fast pattern capture that runs on every user
// message, independent of the LLM extraction cycle.
var namePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmy name is ([A-Za-z'-]+)\b`),
	regexp.MustCompile(`(?i)\bi am ([A-Za-z'-]+)\b`),
	regexp.MustCompile(`(?i)\bi'm ([A-Za-z'-]+)\b`),
	regexp.MustCompile(`(?i)\bcall me ([A-Za-z'-]+)\b`),
}

type factUpdate struct {
	Key        string
	Value      string
	Confidence float64
}

// deriveFactUpdates applies the rule set to one user message against the
// user's current facts and returns only the facts that would change.
func deriveFactUpdates(text string, current map[string]string) []factUpdate {
	updates := []factUpdate{}
	lower := strings.ToLower(text)

	if name, ok := matchName(text); ok && current["name"] != name {
		updates = append(updates, factUpdate{Key: "name", Value: name, Confidence: 0.9})
	}

	if lang, ok := matchLanguage(lower); ok && current["preferred_language"] != lang {
		updates = append(updates, factUpdate{Key: "preferred_language", Value: lang, Confidence: 0.9})
	}

	for _, marker := range []string{"i like", "i love"} {
		if v, ok := captureAfter(text, lower, marker); ok {
			if merged, changed := appendCSV(current["likes"], v); changed {
				updates = append(updates, factUpdate{Key: "likes", Value: merged, Confidence: 0.7})
			}
			break
		}
	}

	for _, marker := range []string{"i dislike", "i hate"} {
		if v, ok := captureAfter(text, lower, marker); ok {
			if merged, changed := appendCSV(current["dislikes"], v); changed {
				updates = append(updates, factUpdate{Key: "dislikes", Value: merged, Confidence: 0.7})
			}
			break
		}
	}

	return updates
}

func matchName(text string) (string, bool) {
	for _, p := range namePatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			return m[1], true
		}
	}
	return "", false
}

func matchLanguage(lower string) (string, bool) {
	if strings.Contains(lower, "english") {
		return "English", true
	}
	if strings.Contains(lower, "danish") {
		return "Danish", true
	}
	return "", false
}

// captureAfter returns the trailing phrase after marker, lower-cased with
// sentence punctuation trimmed.
func captureAfter(text, lower, marker string) (string, bool) {
	idx := strings.Index(lower, marker)
	if idx < 0 {
		return "", false
	}
	v := strings.ToLower(strings.Trim(text[idx+len(marker):], " .!?"))
	if v == "" {
		return "", false
	}
	return v, true
}

// appendCSV adds value to a comma-separated list if absent, returning the
// merged list and whether it changed.
func appendCSV(existing, value string) (string, bool) {
	items := splitCSV(existing)
	for _, it := range items {
		if it == value {
			return existing, false
		}
	}
	items = append(items, value)
	return strings.Join(items, ", "), true
}

func splitCSV(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
