package bluesky

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelp/bluemastodon/internal/domain"
)

// transform normalizes feed items into domain posts, dropping reposts,
// replies to other accounts, and anything older than since. Items with an
// unparsable timestamp are skipped with a warning rather than failing the
// whole fetch.
func (c *Client) transform(items []feedItem, since time.Time) []domain.Post {
	posts := make([]domain.Post, 0, len(items))

	for _, item := range items {
		if isRepost(item) {
			continue
		}

		rec := item.Post.Record
		createdAt, err := time.Parse(time.RFC3339, rec.CreatedAt)
		if err != nil {
			c.logger.Warn("failed to parse post timestamp",
				"uri", item.Post.URI,
				"created_at", rec.CreatedAt,
			)
			continue
		}
		createdAt = createdAt.UTC()
		if createdAt.Before(since) {
			continue
		}

		parentID, rootID, ok := c.threadLinkage(item)
		if !ok {
			continue
		}

		authorDid := c.session.Did
		handle := c.session.Handle
		if item.Post.Author != nil {
			if item.Post.Author.Did != "" {
				authorDid = item.Post.Author.Did
			}
			if item.Post.Author.Handle != "" {
				handle = item.Post.Author.Handle
			}
		}

		rkey := recordKey(item.Post.URI)
		posts = append(posts, domain.Post{
			ID:           rkey,
			Platform:     domain.PlatformBluesky,
			Text:         rec.Text,
			CreatedAt:    createdAt,
			AuthorID:     authorDid,
			AuthorHandle: handle,
			Media:        c.extractMedia(rec.Embed, authorDid),
			Links:        extractLinks(rec),
			InReplyToID:  parentID,
			ThreadRootID: rootID,
			URL:          fmt.Sprintf("https://bsky.app/profile/%s/post/%s", handle, rkey),
		})
	}

	return posts
}

func isRepost(item feedItem) bool {
	return len(item.Reason) > 0 && string(item.Reason) != "null"
}

// threadLinkage returns the parent and root record keys for a self-thread
// reply. A reply whose parent author cannot be determined, or belongs to
// another account, is excluded entirely (ok=false). Non-replies pass
// through with empty linkage.
func (c *Client) threadLinkage(item feedItem) (parentID, rootID string, ok bool) {
	rec := item.Post.Record
	if rec.Reply == nil {
		return "", "", true
	}

	if item.Reply == nil || item.Reply.Parent == nil || item.Reply.Parent.Author == nil {
		c.logger.Debug("reply with unknown parent author, skipping", "uri", item.Post.URI)
		return "", "", false
	}
	if item.Reply.Parent.Author.Did != c.session.Did {
		return "", "", false
	}

	if rec.Reply.Parent != nil {
		parentID = recordKey(rec.Reply.Parent.URI)
	}
	if rec.Reply.Root != nil {
		rootID = recordKey(rec.Reply.Root.URI)
	}
	if rootID == "" {
		rootID = parentID
	}

	c.logger.Debug("including self-thread reply",
		"uri", item.Post.URI,
		"parent", parentID,
	)
	return parentID, rootID, true
}

func (c *Client) extractMedia(e *embed, authorDid string) []domain.Media {
	if e == nil {
		return nil
	}

	var media []domain.Media
	for _, img := range e.Images {
		if img.Image == nil || img.Image.Ref.Link == "" {
			continue
		}
		media = append(media, domain.Media{
			URL:      c.blobURL(authorDid, img.Image.Ref.Link),
			AltText:  img.Alt,
			MimeType: img.Image.MimeType,
		})
	}
	return media
}

// blobURL resolves an author-relative blob reference into a directly
// fetchable URL.
func (c *Client) blobURL(did, cid string) string {
	return fmt.Sprintf("%s/xrpc/com.atproto.sync.getBlob?did=%s&cid=%s", c.host, did, cid)
}

// extractLinks collects full URLs from rich-text link facets and external
// embeds. Facet display text is a byte slice of the post text, which is
// where the source platform shows its truncated rendering.
func extractLinks(rec postRecord) []domain.Link {
	var links []domain.Link

	for _, f := range rec.Facets {
		display := facetDisplayText(rec.Text, f.Index)
		for _, feat := range f.Features {
			if feat.Type != facetLinkType || feat.URI == "" {
				continue
			}
			links = append(links, domain.Link{
				URL:         feat.URI,
				DisplayText: display,
			})
		}
	}

	if rec.Embed != nil && rec.Embed.External != nil && rec.Embed.External.URI != "" {
		ext := rec.Embed.External
		if !containsLink(links, ext.URI) {
			links = append(links, domain.Link{
				URL:         ext.URI,
				DisplayText: ext.Title,
			})
		}
	}

	return links
}

func facetDisplayText(text string, idx byteSlice) string {
	if idx.ByteStart < 0 || idx.ByteEnd > len(text) || idx.ByteStart >= idx.ByteEnd {
		return ""
	}
	return text[idx.ByteStart:idx.ByteEnd]
}

func containsLink(links []domain.Link, url string) bool {
	for _, l := range links {
		if l.URL == url {
			return true
		}
	}
	return false
}

// recordKey returns the last path segment of an at:// URI.
func recordKey(uri string) string {
	if uri == "" {
		return ""
	}
	if i := strings.LastIndexByte(uri, '/'); i >= 0 {
		return uri[i+1:]
	}
	return uri
}
