package source

import "strings"

// DefaultBotAccounts are automation accounts that show up in contributor
// and follower lists but are never useful recommendations.
var DefaultBotAccounts = []string{
	"dependabot", "dependabot-preview", "renovate", "renovate-bot",
	"github-actions", "greenkeeper", "codecov", "codecov-io",
	"snyk-bot", "allcontributors", "imgbot", "pre-commit-ci",
	"stale", "mergify", "web-flow", "ghost",
}

// Filter drops automation accounts and explicitly excluded ids.
type Filter struct {
	exclude map[string]bool
}

// NewFilter creates a filter with the default bot list plus extras.
func NewFilter(exclude []string) *Filter {
	f := &Filter{exclude: make(map[string]bool)}
	for _, id := range DefaultBotAccounts {
		f.exclude[strings.ToLower(id)] = true
	}
	for _, id := range exclude {
		f.exclude[strings.ToLower(strings.TrimSpace(id))] = true
	}
	return f
}

// Allow reports whether id may appear as a candidate.
func (f *Filter) Allow(id string) bool {
	lower := strings.ToLower(id)
	if strings.HasSuffix(lower, "[bot]") {
		return false
	}
	if f == nil {
		return true
	}
	return !f.exclude[lower]
}

// Apply returns ids with the disallowed ones removed.
func (f *Filter) Apply(ids []string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if f.Allow(id) {
			out = append(out, id)
		}
	}
	return out
}
