package mastodon

// Wire types for the Mastodon REST endpoints this client touches.

type account struct {
	ID          string `json:"id"`
	Acct        string `json:"acct"`
	DisplayName string `json:"display_name"`
}

type status struct {
	ID        string   `json:"id"`
	Content   string   `json:"content"`
	URL       string   `json:"url"`
	CreatedAt string   `json:"created_at"`
	Account   *account `json:"account"`
}

type statusRequest struct {
	Status      string   `json:"status"`
	InReplyToID string   `json:"in_reply_to_id,omitempty"`
	MediaIDs    []string `json:"media_ids,omitempty"`
	Visibility  string   `json:"visibility,omitempty"`
}

type mediaUpload struct {
	ID string `json:"id"`
}
