package memory

import (
	"fmt"
	"strings"
	"time"
)

// Keys rendered as full sentences ahead of the generic key: value lines.
var promptFactKeys = []string{"name", "preferred_language", "likes", "dislikes"}

const maxPromptValueLen = 200

// FactsPromptBlock renders a user's facts as prompt-ready lines. Well-known
// keys become readable sentences first; the rest are key: value lines,
// most recently updated first, skipping over-long values.
func FactsPromptBlock(facts []Fact) string {
	if len(facts) == 0 {
		return ""
	}
	byKey := make(map[string]string, len(facts))
	for _, f := range facts {
		byKey[f.Key] = f.Value
	}

	lines := []string{}
	if v := byKey["name"]; v != "" {
		// Be explicit to avoid confusion with the assistant's own name.
		lines = append(lines, fmt.Sprintf("The person you're talking to is named %q - address them by this name, not yours.", v))
	}
	if v := byKey["preferred_language"]; v != "" {
		lines = append(lines, fmt.Sprintf("Preferred language: %s.", v))
	}
	if v := byKey["likes"]; v != "" {
		lines = append(lines, fmt.Sprintf("User likes: %s.", v))
	}
	if v := byKey["dislikes"]; v != "" {
		lines = append(lines, fmt.Sprintf("User dislikes: %s.", v))
	}

	known := map[string]bool{}
	for _, k := range promptFactKeys {
		known[k] = true
	}
	for _, f := range facts {
		if known[f.Key] || f.Value == "" || len(f.Value) > maxPromptValueLen {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", f.Key, f.Value))
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// EpisodesPromptBlock renders retrieved episodes as dated bullet lines.
func EpisodesPromptBlock(episodes []Episode) string {
	if len(episodes) == 0 {
		return ""
	}
	var b strings.Builder
	for i, ep := range episodes {
		if i > 0 {
			b.WriteString("\n")
		}
		date := time.Unix(ep.TS, 0).Format("2006-01-02")
		b.WriteString(fmt.Sprintf("- (%s) %s", date, ep.Text))
		if ep.Tags != "" {
			b.WriteString(fmt.Sprintf(" [%s]", ep.Tags))
		}
	}
	return b.String()
}
