package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"github.com/kelp/bluemastodon/internal/domain"
)

// Source fetches and normalizes the account's recent posts from the
// source platform.
type Source interface {
	Authenticate(ctx context.Context) error
	FetchRecent(ctx context.Context, since time.Time, limit int) ([]domain.Post, error)
}

// Destination publishes a translated post, optionally as a reply to an
// existing destination post.
type Destination interface {
	Authenticate(ctx context.Context) error
	Publish(ctx context.Context, post domain.Post, inReplyToID string) (*domain.PublishResult, error)
}

// StateStore is the durable ledger of synced posts. Read-only to adapters;
// only the orchestrator calls MarkSynced.
type StateStore interface {
	Load() error
	IsSynced(sourceID string) bool
	ParentFor(sourceID string) (string, bool)
	MarkSynced(rec domain.SyncRecord) error
}

// Notifier emits a record for every successful cross-post. Optional.
type Notifier interface {
	Publish(ctx context.Context, rec domain.SyncRecord) error
}
