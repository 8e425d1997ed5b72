package service

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/kelp/bluemastodon/internal/config"
	"github.com/kelp/bluemastodon/internal/domain"
)

// Service orchestrates one synchronization pass: fetch candidates, filter
// against the state ledger, order threads parent-before-child, publish, and
// persist state after every successful post.
type Service struct {
	source      Source
	destination Destination
	state       StateStore
	notifier    Notifier // may be nil
	logger      *slog.Logger
	config      config.SyncConfig
}

func NewService(
	source Source,
	destination Destination,
	state StateStore,
	notifier Notifier,
	logger *slog.Logger,
	cfg config.SyncConfig,
) *Service {
	return &Service{
		source:      source,
		destination: destination,
		state:       state,
		notifier:    notifier,
		logger:      logger.With("component", "sync"),
		config:      cfg,
	}
}

// Run executes one synchronization pass. Auth and fetch failures are fatal
// and returned; per-post failures are recorded in the result and do not
// stop sibling posts.
func (s *Service) Run(ctx context.Context) (*domain.RunResult, error) {
	startTime := time.Now()
	s.logger.Info("starting sync",
		"lookback", s.config.Lookback,
		"max_posts_per_run", s.config.MaxPostsPerRun,
		"dry_run", s.config.DryRun,
	)

	if err := s.state.Load(); err != nil {
		return nil, err
	}

	if err := s.source.Authenticate(ctx); err != nil {
		return nil, err
	}
	if !s.config.DryRun {
		if err := s.destination.Authenticate(ctx); err != nil {
			return nil, err
		}
	}

	since := time.Now().UTC().Add(-s.config.Lookback)
	posts, err := s.source.FetchRecent(ctx, since, s.config.FetchLimit)
	if err != nil {
		// A failed fetch means candidates are unknown, never "no new posts".
		return nil, err
	}

	result := &domain.RunResult{Fetched: len(posts)}

	candidates := s.filterCandidates(posts)
	result.Skipped = len(posts) - len(candidates)
	s.logger.Info("candidates after filtering",
		"fetched", len(posts),
		"candidates", len(candidates),
	)

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	roots, children := groupThreads(candidates)
	if s.config.MaxPostsPerRun > 0 && len(roots) > s.config.MaxPostsPerRun {
		s.logger.Info("capping run",
			"roots", len(roots),
			"max_posts_per_run", s.config.MaxPostsPerRun,
		)
		roots = roots[:s.config.MaxPostsPerRun]
	}

	run := &runState{
		published: make(map[string]string),
		failed:    make(map[string]bool),
	}
	for _, root := range roots {
		s.syncThread(ctx, root, children, run, result)
	}

	result.Duration = time.Since(startTime)
	s.logger.Info("sync completed",
		"published", result.Published,
		"duplicates", result.Duplicates,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"degraded", result.Degraded,
		"duration", result.Duration,
	)
	return result, nil
}

// runState tracks per-run outcomes needed for thread sequencing.
type runState struct {
	published map[string]string // source id -> destination id, this run
	failed    map[string]bool   // source ids whose publish failed or was skipped
}

func (s *Service) filterCandidates(posts []domain.Post) []domain.Post {
	var candidates []domain.Post
	for _, p := range posts {
		if s.state.IsSynced(p.ID) {
			continue
		}
		if p.IsReply() && !s.config.IncludeThreads {
			continue
		}
		candidates = append(candidates, p)
	}
	return candidates
}

// groupThreads splits candidates into roots and a children index. A reply
// whose parent is not in the batch (already synced, or outside the window)
// is treated as a root for capping purposes.
func groupThreads(posts []domain.Post) ([]domain.Post, map[string][]domain.Post) {
	inBatch := make(map[string]bool, len(posts))
	for _, p := range posts {
		inBatch[p.ID] = true
	}

	var roots []domain.Post
	children := make(map[string][]domain.Post)
	for _, p := range posts {
		if p.IsReply() && inBatch[p.InReplyToID] {
			children[p.InReplyToID] = append(children[p.InReplyToID], p)
		} else {
			roots = append(roots, p)
		}
	}
	return roots, children
}

// syncThread publishes a post and then its thread descendants, depth-first
// in chronological order, so every parent exists before its children.
func (s *Service) syncThread(ctx context.Context, post domain.Post, children map[string][]domain.Post, run *runState, result *domain.RunResult) {
	s.syncPost(ctx, post, run, result)
	for _, child := range children[post.ID] {
		s.syncThread(ctx, child, children, run, result)
	}
}

func (s *Service) syncPost(ctx context.Context, post domain.Post, run *runState, result *domain.RunResult) {
	if post.IsReply() && run.failed[post.InReplyToID] {
		s.logger.Warn("skipping reply, thread parent failed",
			"post_id", post.ID,
			"parent_id", post.InReplyToID,
		)
		run.failed[post.ID] = true
		result.Skipped++
		result.Outcomes = append(result.Outcomes, domain.Outcome{
			SourceID: post.ID,
			Status:   domain.StatusSkipped,
			Error:    "thread parent failed",
		})
		return
	}

	parentID := s.resolveParent(post, run)

	if s.config.DryRun {
		s.logger.Info("dry run, would publish",
			"post_id", post.ID,
			"reply_to", parentID,
			"text", post.Text,
		)
		result.Published++
		result.Outcomes = append(result.Outcomes, domain.Outcome{
			SourceID: post.ID,
			Status:   domain.StatusDryRun,
		})
		run.published[post.ID] = ""
		return
	}

	res, err := s.destination.Publish(ctx, post, parentID)
	if err != nil {
		s.logger.Error("publish failed",
			"post_id", post.ID,
			"platform", domain.PlatformMastodon,
			"error", err,
		)
		run.failed[post.ID] = true
		result.Failed++
		result.Outcomes = append(result.Outcomes, domain.Outcome{
			SourceID: post.ID,
			Status:   domain.StatusFailed,
			Error:    err.Error(),
		})
		return
	}

	rec := domain.SyncRecord{
		SourceID:  post.ID,
		TargetID:  res.ID,
		TargetURL: res.URL,
		SyncedAt:  time.Now().UTC(),
	}

	status := domain.StatusPublished
	if res.Duplicate {
		// Marked synced as well, so the next run does not retry it forever.
		status = domain.StatusDuplicate
		result.Duplicates++
	} else {
		result.Published++
	}
	run.published[post.ID] = res.ID
	result.Outcomes = append(result.Outcomes, domain.Outcome{
		SourceID: post.ID,
		TargetID: res.ID,
		Status:   status,
	})

	if err := s.state.MarkSynced(rec); err != nil {
		// The publish stands; only durability is degraded. A crash before
		// the next clean save leaves the content-similarity guard as the
		// sole protection against a duplicate.
		s.logger.Error("failed to persist sync state",
			"post_id", post.ID,
			"error", err,
		)
		result.Degraded = true
	}

	if s.notifier != nil && !res.Duplicate {
		if err := s.notifier.Publish(ctx, rec); err != nil {
			s.logger.Warn("sync notification failed",
				"post_id", post.ID,
				"error", err,
			)
		}
	}
}

// resolveParent maps a reply's source parent to its destination counterpart,
// preferring posts published earlier in this run over the persisted ledger.
// An unresolvable parent posts un-threaded rather than dropping the post.
func (s *Service) resolveParent(post domain.Post, run *runState) string {
	if !post.IsReply() {
		return ""
	}
	if id, ok := run.published[post.InReplyToID]; ok {
		return id
	}
	if id, ok := s.state.ParentFor(post.InReplyToID); ok {
		return id
	}
	s.logger.Warn("no destination parent for reply, posting unthreaded",
		"post_id", post.ID,
		"parent_id", post.InReplyToID,
	)
	return ""
}
