// Package keywords implements deterministic keyword matching over post text
// and the TTL-cached active keyword list.
package keywords

import (
	"strings"

	"github.com/prospector-io/prospector/models"
)

// MatchResult carries all matched keywords plus the highest-priority one.
type MatchResult struct {
	Matched []models.Keyword
	Highest *models.Keyword
}

// Match runs a case-insensitive substring search of title+body against the
// active keyword list. Priority order is fixed business policy:
// high > competitor > medium > low.
func Match(title, body string, kws []models.Keyword) MatchResult {
	haystack := strings.ToLower(title + " " + body)

	var res MatchResult
	for _, kw := range kws {
		if !kw.IsActive {
			continue
		}
		term := strings.ToLower(strings.TrimSpace(kw.Term))
		if term == "" || !strings.Contains(haystack, term) {
			continue
		}
		k := kw
		res.Matched = append(res.Matched, k)
		if res.Highest == nil || k.Weight.Rank() > res.Highest.Weight.Rank() {
			res.Highest = &k
		}
	}
	return res
}
