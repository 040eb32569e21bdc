// Package cache selects reusable search results from conversation history.
package cache

import (
	"github.com/kalambet/tripd/internal/plan"
	"github.com/kalambet/tripd/internal/search"
)

// Match describes how a record was selected.
type Match string

const (
	MatchNone        Match = ""
	MatchFingerprint Match = "fingerprint"
	// MatchStaleError means no record matched but the latest one for the
	// category was an outage placeholder, which is safe to repeat.
	MatchStaleError Match = "stale_error"
)

// Resolve returns the newest record of category c whose fingerprint equals
// fp. history is in chronological order. A record built from a different
// plan is never returned unless it only holds error placeholders and is the
// latest record for c.
func Resolve(c plan.Category, fp string, history []search.ResultRecord) (search.ResultRecord, Match) {
	latest := -1
	for i := len(history) - 1; i >= 0; i-- {
		r := history[i]
		if r.Category != c {
			continue
		}
		if latest < 0 {
			latest = i
		}
		if r.Fingerprint == fp {
			return r, MatchFingerprint
		}
	}
	if latest >= 0 && history[latest].AllErrors() {
		return history[latest], MatchStaleError
	}
	return search.ResultRecord{}, MatchNone
}

// Has reports whether history holds any record for the given categories.
func Has(history []search.ResultRecord, cats ...plan.Category) bool {
	for _, r := range history {
		for _, c := range cats {
			if r.Category == c {
				return true
			}
		}
	}
	return false
}
