package mastodon

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"
)

var htmlTagRe = regexp.MustCompile(`<[^>]+>`)

// findDuplicate scans a bounded window of the account's recent statuses for
// one whose normalized text closely matches the candidate's. This is the
// safety net behind the persisted ID ledger: it catches re-posts after state
// loss. Any error fails open, never blocking a publish.
func (c *Client) findDuplicate(ctx context.Context, text string) (*status, bool) {
	if c.dupWindow <= 0 {
		return nil, false
	}

	statuses, err := c.recentStatuses(ctx, c.dupWindow)
	if err != nil {
		c.logger.Warn("duplicate check failed, proceeding with publish", "error", err)
		return nil, false
	}

	want := tokenize(text)
	for i := range statuses {
		have := tokenize(stripHTML(statuses[i].Content))
		if score := similarity(want, have); score > c.dupThreshold {
			c.logger.Debug("similar status found",
				"status_id", statuses[i].ID,
				"score", score,
			)
			return &statuses[i], true
		}
	}
	return nil, false
}

func (c *Client) recentStatuses(ctx context.Context, limit int) ([]status, error) {
	path := fmt.Sprintf("/api/v1/accounts/%s/statuses?limit=%d&exclude_reblogs=true", c.account.ID, limit)
	var statuses []status
	if err := c.get(ctx, path, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

func stripHTML(s string) string {
	return html.UnescapeString(htmlTagRe.ReplaceAllString(s, " "))
}

// tokenize normalizes text into a case-folded, whitespace-collapsed word set.
func tokenize(s string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// similarity is the Jaccard index of two word sets: |intersection| / |union|.
func similarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
