package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/kelp/bluemastodon/internal/domain"
)

// Config holds Bluesky client configuration.
type Config struct {
	Host           string
	Identifier     string
	AppPassword    string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Client talks to a Bluesky PDS over XRPC and normalizes the authenticated
// account's posts into the domain model.
type Client struct {
	httpClient     *http.Client
	host           string
	identifier     string
	password       string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger

	session *session
}

// New creates a new Bluesky client.
func New(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		host:           cfg.Host,
		identifier:     cfg.Identifier,
		password:       cfg.AppPassword,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger.With("platform", domain.PlatformBluesky),
	}
}

// Authenticate establishes an app-password session.
func (c *Client) Authenticate(ctx context.Context) error {
	body, err := json.Marshal(createSessionRequest{
		Identifier: c.identifier,
		Password:   c.password,
	})
	if err != nil {
		return &domain.AuthError{Platform: domain.PlatformBluesky, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.host+"/xrpc/com.atproto.server.createSession", bytes.NewReader(body))
	if err != nil {
		return &domain.AuthError{Platform: domain.PlatformBluesky, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.AuthError{Platform: domain.PlatformBluesky, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &domain.AuthError{
			Platform: domain.PlatformBluesky,
			Err:      fmt.Errorf("unexpected status: %d", resp.StatusCode),
		}
	}

	var sess session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return &domain.AuthError{Platform: domain.PlatformBluesky, Err: fmt.Errorf("decode session: %w", err)}
	}
	if sess.AccessJwt == "" || sess.Did == "" {
		return &domain.AuthError{
			Platform: domain.PlatformBluesky,
			Err:      fmt.Errorf("incomplete session response"),
		}
	}

	c.session = &sess
	c.logger.Info("authenticated", "handle", sess.Handle, "did", sess.Did)
	return nil
}

// FetchRecent returns the account's own posts created at or after since,
// newest-first as the API delivers them. Reposts and replies to other
// accounts are excluded; self-thread replies keep their parent linkage.
func (c *Client) FetchRecent(ctx context.Context, since time.Time, limit int) ([]domain.Post, error) {
	if c.session == nil {
		return nil, &domain.FetchError{Err: fmt.Errorf("not authenticated")}
	}

	feed, err := c.fetchAuthorFeed(ctx, limit)
	if err != nil {
		return nil, &domain.FetchError{Err: err}
	}

	posts := c.transform(feed.Feed, since)
	c.logger.Debug("fetched author feed",
		"items", len(feed.Feed),
		"posts", len(posts),
	)
	return posts, nil
}

func (c *Client) fetchAuthorFeed(ctx context.Context, limit int) (*authorFeedResponse, error) {
	q := url.Values{}
	q.Set("actor", c.session.Did)
	q.Set("limit", fmt.Sprintf("%d", limit))
	reqURL := c.host + "/xrpc/app.bsky.feed.getAuthorFeed?" + q.Encode()

	var resp *authorFeedResponse
	var err error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err = c.doFeedRequest(ctx, reqURL)
		if err == nil {
			return resp, nil
		}

		if attempt == c.maxAttempts {
			break
		}

		backoff := c.calculateBackoff(attempt)
		c.logger.Warn("feed request failed, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("after %d attempts: %w", c.maxAttempts, err)
}

func (c *Client) doFeedRequest(ctx context.Context, reqURL string) (*authorFeedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.session.AccessJwt)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var feed authorFeedResponse
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &feed, nil
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := c.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > c.maxBackoff {
		backoff = c.maxBackoff
	}
	return backoff
}
