package domain

import "time"

// Platform identifies which side of the sync a post belongs to.
type Platform string

const (
	PlatformBluesky  Platform = "bluesky"
	PlatformMastodon Platform = "mastodon"
)

// Post is the normalized cross-platform representation of a post.
// IDs are unique per platform; CreatedAt is always UTC.
type Post struct {
	ID           string
	Platform     Platform
	Text         string
	CreatedAt    time.Time
	AuthorID     string
	AuthorHandle string
	Media        []Media
	Links        []Link
	InReplyToID  string // set only for self-thread replies
	ThreadRootID string
	URL          string
}

// IsReply reports whether the post is a self-thread reply.
func (p Post) IsReply() bool {
	return p.InReplyToID != ""
}

// Media is an attachment owned by its post. It is always fetched from URL
// and re-uploaded on the destination, never hot-linked.
type Media struct {
	URL      string
	AltText  string
	MimeType string
}

// Link carries the full URL from the source platform's link metadata.
// DisplayText is whatever the source rendered, possibly truncated.
type Link struct {
	URL         string
	DisplayText string
}
