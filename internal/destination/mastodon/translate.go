package mastodon

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kelp/bluemastodon/internal/domain"
)

var schemeRe = regexp.MustCompile(`^https?://`)

// repairLinks replaces truncated link fragments in text with the full URLs
// from the post's link metadata. Matching is anchored on the link's domain
// and consumes any scheme already present, so the substitution can never
// produce a doubled prefix. Only the first occurrence per link is replaced.
func repairLinks(text string, links []domain.Link) string {
	for _, l := range links {
		if l.URL == "" {
			continue
		}
		host := linkHost(l.URL)
		if host == "" {
			continue
		}

		pattern, err := regexp.Compile(`(?:https?://)?` + regexp.QuoteMeta(host) + `[^\s]*(?:\.\.\.|…|\b)`)
		if err != nil {
			continue
		}
		if loc := pattern.FindStringIndex(text); loc != nil {
			text = text[:loc[0]] + l.URL + text[loc[1]:]
		}
	}
	return text
}

// linkHost strips the scheme and path, leaving just the domain.
func linkHost(url string) string {
	host := schemeRe.ReplaceAllString(url, "")
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	return host
}

// applyCharacterLimit truncates text to the destination's character limit,
// counted in runes. Truncation lands on a word boundary and ends with an
// ellipsis; when the post carries links, the last full URL is re-appended
// if it fits so the post stays navigable.
func applyCharacterLimit(text string, limit int, links []domain.Link) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}

	tail := ""
	if n := len(links); n > 0 {
		last := links[n-1].URL
		// Keep the URL only when it leaves a useful amount of text.
		if last != "" && utf8.RuneCountInString(last)+2 <= limit/2 {
			tail = " " + last
		}
	}

	budget := limit - utf8.RuneCountInString(tail) - 1
	runes := []rune(text)
	if budget > len(runes) {
		budget = len(runes)
	}
	cut := string(runes[:budget])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ") + "…" + tail
}
