package mastodon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/kelp/bluemastodon/internal/domain"
)

// maxMediaPerPost is Mastodon's attachment cap per status.
const maxMediaPerPost = 4

// Config holds Mastodon client configuration.
type Config struct {
	InstanceURL        string
	AccessToken        string
	Timeout            time.Duration
	CharacterLimit     int
	DuplicateWindow    int
	DuplicateThreshold float64
	IncludeMedia       bool
	IncludeLinks       bool
}

// Client publishes translated posts to a Mastodon instance.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	token        string
	charLimit    int
	dupWindow    int
	dupThreshold float64
	includeMedia bool
	includeLinks bool
	logger       *slog.Logger

	account *account
}

// New creates a new Mastodon client.
func New(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:      strings.TrimRight(cfg.InstanceURL, "/"),
		token:        cfg.AccessToken,
		charLimit:    cfg.CharacterLimit,
		dupWindow:    cfg.DuplicateWindow,
		dupThreshold: cfg.DuplicateThreshold,
		includeMedia: cfg.IncludeMedia,
		includeLinks: cfg.IncludeLinks,
		logger:       logger.With("platform", domain.PlatformMastodon),
	}
}

// Authenticate verifies the access token and caches the account identity,
// which the duplicate guard needs for listing the account's own posts.
func (c *Client) Authenticate(ctx context.Context) error {
	var acct account
	if err := c.get(ctx, "/api/v1/accounts/verify_credentials", &acct); err != nil {
		return &domain.AuthError{Platform: domain.PlatformMastodon, Err: err}
	}
	if acct.ID == "" {
		return &domain.AuthError{
			Platform: domain.PlatformMastodon,
			Err:      fmt.Errorf("verify_credentials returned no account id"),
		}
	}

	c.account = &acct
	c.logger.Info("authenticated", "acct", acct.Acct)
	return nil
}

// Publish cross-posts one translated post, optionally as a reply to
// inReplyToID. When the duplicate guard matches an existing status, the
// existing identity is returned with Duplicate set and nothing is created.
func (c *Client) Publish(ctx context.Context, post domain.Post, inReplyToID string) (*domain.PublishResult, error) {
	if c.account == nil {
		return nil, &domain.PublishError{PostID: post.ID, Err: fmt.Errorf("not authenticated")}
	}

	if match, ok := c.findDuplicate(ctx, post.Text); ok {
		c.logger.Info("duplicate detected, skipping publish",
			"post_id", post.ID,
			"existing_id", match.ID,
		)
		return &domain.PublishResult{ID: match.ID, URL: match.URL, Duplicate: true}, nil
	}

	text := post.Text
	if c.includeLinks {
		text = repairLinks(text, post.Links)
	}
	text = applyCharacterLimit(text, c.charLimit, post.Links)

	var mediaIDs []string
	if c.includeMedia {
		mediaIDs = c.uploadMedia(ctx, post)
	}

	st, err := c.postStatus(ctx, statusRequest{
		Status:      text,
		InReplyToID: inReplyToID,
		MediaIDs:    mediaIDs,
		Visibility:  "public",
	}, post.ID)
	if err != nil {
		return nil, &domain.PublishError{PostID: post.ID, Err: err}
	}

	c.logger.Info("published", "post_id", post.ID, "status_id", st.ID, "url", st.URL)
	return &domain.PublishResult{ID: st.ID, URL: st.URL}, nil
}

// uploadMedia downloads each attachment and re-uploads it, bounded at the
// instance cap. A failed attachment is logged and skipped; it never aborts
// the post.
func (c *Client) uploadMedia(ctx context.Context, post domain.Post) []string {
	var ids []string
	for _, m := range post.Media {
		if len(ids) == maxMediaPerPost {
			c.logger.Warn("attachment cap reached, dropping remaining media",
				"post_id", post.ID,
				"dropped", len(post.Media)-maxMediaPerPost,
			)
			break
		}
		id, err := c.uploadOne(ctx, m)
		if err != nil {
			c.logger.Warn("media upload failed, skipping attachment",
				"post_id", post.ID,
				"error", &domain.MediaError{URL: m.URL, Err: err},
			)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (c *Client) uploadOne(ctx context.Context, m domain.Media) (string, error) {
	if m.URL == "" {
		return "", fmt.Errorf("empty media url")
	}

	data, err := c.download(ctx, m.URL)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "attachment")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if m.AltText != "" {
		if err := w.WriteField("description", m.AltText); err != nil {
			return "", err
		}
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v2/media", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	// 202 means the instance is still processing the attachment; the id is
	// already valid for status creation.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("upload: unexpected status: %d", resp.StatusCode)
	}

	var up mediaUpload
	if err := json.NewDecoder(resp.Body).Decode(&up); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if up.ID == "" {
		return "", fmt.Errorf("upload response missing id")
	}
	return up.ID, nil
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) postStatus(ctx context.Context, sr statusRequest, idempotencyKey string) (*status, error) {
	body, err := json.Marshal(sr)
	if err != nil {
		return nil, fmt.Errorf("marshal status: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/statuses", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var st status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &st, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
