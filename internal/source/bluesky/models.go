package bluesky

import "encoding/json"

// Wire types for the XRPC endpoints this client touches. Everything
// optional is a pointer or zero-value tolerant: upstream payloads are
// treated as partially unknown and coerced into the domain model in
// transform.go.

type createSessionRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type session struct {
	AccessJwt string `json:"accessJwt"`
	Did       string `json:"did"`
	Handle    string `json:"handle"`
}

type authorFeedResponse struct {
	Feed   []feedItem `json:"feed"`
	Cursor string     `json:"cursor"`
}

type feedItem struct {
	Post feedPost `json:"post"`
	// Reply is the hydrated thread context; it carries the parent's author,
	// which the raw record's reply refs do not.
	Reply *replyView `json:"reply"`
	// Reason is set on reposts. Its shape varies, so it is kept raw and
	// only checked for presence.
	Reason json.RawMessage `json:"reason"`
}

type replyView struct {
	Parent *feedPost `json:"parent"`
	Root   *feedPost `json:"root"`
}

type feedPost struct {
	URI    string     `json:"uri"`
	CID    string     `json:"cid"`
	Author *actor     `json:"author"`
	Record postRecord `json:"record"`
}

type actor struct {
	Did    string `json:"did"`
	Handle string `json:"handle"`
}

type postRecord struct {
	Text      string    `json:"text"`
	CreatedAt string    `json:"createdAt"`
	Reply     *replyRef `json:"reply"`
	Embed     *embed    `json:"embed"`
	Facets    []facet   `json:"facets"`
}

type replyRef struct {
	Parent *postRef `json:"parent"`
	Root   *postRef `json:"root"`
}

type postRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type embed struct {
	Type     string         `json:"$type"`
	Images   []imageEmbed   `json:"images"`
	External *externalEmbed `json:"external"`
}

type imageEmbed struct {
	Alt   string `json:"alt"`
	Image *blob  `json:"image"`
}

type blob struct {
	Ref      blobRef `json:"ref"`
	MimeType string  `json:"mimeType"`
}

type blobRef struct {
	Link string `json:"$link"`
}

type externalEmbed struct {
	URI         string `json:"uri"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type facet struct {
	Index    byteSlice      `json:"index"`
	Features []facetFeature `json:"features"`
}

type byteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

type facetFeature struct {
	Type string `json:"$type"`
	URI  string `json:"uri"`
}

const facetLinkType = "app.bsky.richtext.facet#link"
