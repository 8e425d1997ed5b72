package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/kelp/bluemastodon/internal/config"
	"github.com/kelp/bluemastodon/internal/domain"
	"github.com/kelp/bluemastodon/internal/service/mocks"
)

type SyncServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	source      *mocks.MockSource
	destination *mocks.MockDestination
	state       *mocks.MockStateStore
	notifier    *mocks.MockNotifier

	service *Service
	cfg     config.SyncConfig
	logger  *slog.Logger
}

func (s *SyncServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.source = mocks.NewMockSource(s.ctrl)
	s.destination = mocks.NewMockDestination(s.ctrl)
	s.state = mocks.NewMockStateStore(s.ctrl)
	s.notifier = mocks.NewMockNotifier(s.ctrl)

	s.cfg = config.SyncConfig{
		Lookback:       24 * time.Hour,
		MaxPostsPerRun: 5,
		FetchLimit:     50,
		IncludeMedia:   true,
		IncludeLinks:   true,
		IncludeThreads: true,
	}

	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s.service = NewService(s.source, s.destination, s.state, nil, s.logger, s.cfg)
}

func (s *SyncServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestSyncServiceTestSuite(t *testing.T) {
	suite.Run(t, new(SyncServiceTestSuite))
}

func sourcePost(id string, created time.Time, parent string) domain.Post {
	return domain.Post{
		ID:          id,
		Platform:    domain.PlatformBluesky,
		Text:        "post " + id,
		CreatedAt:   created,
		AuthorID:    "did:plc:me",
		InReplyToID: parent,
	}
}

func (s *SyncServiceTestSuite) expectHappyPreamble(ctx context.Context, posts []domain.Post) {
	s.state.EXPECT().Load().Return(nil)
	s.source.EXPECT().Authenticate(ctx).Return(nil)
	s.destination.EXPECT().Authenticate(ctx).Return(nil)
	s.source.EXPECT().FetchRecent(ctx, gomock.Any(), s.cfg.FetchLimit).Return(posts, nil)
}

func (s *SyncServiceTestSuite) TestRun_ThreadPublishedInOrder() {
	ctx := context.Background()
	now := time.Now().UTC()

	postA := sourcePost("aaa", now.Add(-2*time.Hour), "")
	postB := sourcePost("bbb", now.Add(-1*time.Hour), "aaa")

	// Feed arrives newest-first; the orchestrator must re-order.
	s.expectHappyPreamble(ctx, []domain.Post{postB, postA})
	s.state.EXPECT().IsSynced("bbb").Return(false)
	s.state.EXPECT().IsSynced("aaa").Return(false)

	gomock.InOrder(
		s.destination.EXPECT().Publish(ctx, postA, "").Return(&domain.PublishResult{ID: "m1", URL: "https://m.example/1"}, nil),
		s.destination.EXPECT().Publish(ctx, postB, "m1").Return(&domain.PublishResult{ID: "m2", URL: "https://m.example/2"}, nil),
	)

	var marked []domain.SyncRecord
	s.state.EXPECT().MarkSynced(gomock.Any()).DoAndReturn(func(rec domain.SyncRecord) error {
		marked = append(marked, rec)
		return nil
	}).Times(2)

	result, err := s.service.Run(ctx)

	s.NoError(err)
	s.Equal(2, result.Fetched)
	s.Equal(2, result.Published)
	s.Equal(0, result.Failed)
	s.False(result.Degraded)

	s.Require().Len(marked, 2)
	s.Equal("aaa", marked[0].SourceID)
	s.Equal("m1", marked[0].TargetID)
	s.Equal("bbb", marked[1].SourceID)
	s.Equal("m2", marked[1].TargetID)
}

func (s *SyncServiceTestSuite) TestRun_NeverResubmitsSyncedPosts() {
	ctx := context.Background()
	now := time.Now().UTC()

	postA := sourcePost("aaa", now.Add(-2*time.Hour), "")
	postB := sourcePost("bbb", now.Add(-1*time.Hour), "")

	s.expectHappyPreamble(ctx, []domain.Post{postB, postA})
	s.state.EXPECT().IsSynced("bbb").Return(true)
	s.state.EXPECT().IsSynced("aaa").Return(false)

	s.destination.EXPECT().Publish(ctx, postA, "").Return(&domain.PublishResult{ID: "m1"}, nil)
	s.state.EXPECT().MarkSynced(gomock.Any()).Return(nil)

	result, err := s.service.Run(ctx)

	s.NoError(err)
	s.Equal(1, result.Published)
	s.Equal(1, result.Skipped)
}

func (s *SyncServiceTestSuite) TestRun_SecondRunIsIdempotent() {
	ctx := context.Background()
	now := time.Now().UTC()

	postA := sourcePost("aaa", now.Add(-2*time.Hour), "")
	postB := sourcePost("bbb", now.Add(-1*time.Hour), "")

	s.expectHappyPreamble(ctx, []domain.Post{postB, postA})
	s.state.EXPECT().IsSynced("bbb").Return(true)
	s.state.EXPECT().IsSynced("aaa").Return(true)

	result, err := s.service.Run(ctx)

	s.NoError(err)
	s.Equal(2, result.Fetched)
	s.Equal(0, result.Published)
	s.Equal(2, result.Skipped)
	s.Empty(result.Outcomes)
}

func (s *SyncServiceTestSuite) TestRun_FailedParentSkipsThreadReplies() {
	ctx := context.Background()
	now := time.Now().UTC()

	root := sourcePost("root", now.Add(-3*time.Hour), "")
	reply1 := sourcePost("r1", now.Add(-2*time.Hour), "root")
	reply2 := sourcePost("r2", now.Add(-1*time.Hour), "r1")

	s.expectHappyPreamble(ctx, []domain.Post{reply2, reply1, root})
	s.state.EXPECT().IsSynced(gomock.Any()).Return(false).Times(3)

	s.destination.EXPECT().Publish(ctx, root, "").
		Return(nil, &domain.PublishError{PostID: "root", Err: errors.New("validation failed")})

	result, err := s.service.Run(ctx)

	s.NoError(err)
	s.Equal(1, result.Failed)
	s.Equal(2, result.Skipped)
	s.Equal(0, result.Published)

	s.Require().Len(result.Outcomes, 3)
	s.Equal(domain.StatusFailed, result.Outcomes[0].Status)
	s.Equal(domain.StatusSkipped, result.Outcomes[1].Status)
	s.Equal(domain.StatusSkipped, result.Outcomes[2].Status)
}

func (s *SyncServiceTestSuite) TestRun_CapAppliesToRootPosts() {
	ctx := context.Background()
	now := time.Now().UTC()

	var posts []domain.Post
	for i := 8; i >= 1; i-- {
		posts = append(posts, sourcePost(fmt.Sprintf("p%d", i), now.Add(-time.Duration(i)*time.Minute), ""))
	}

	s.expectHappyPreamble(ctx, posts)
	s.state.EXPECT().IsSynced(gomock.Any()).Return(false).Times(8)

	var published []string
	s.destination.EXPECT().Publish(ctx, gomock.Any(), "").DoAndReturn(
		func(_ context.Context, p domain.Post, _ string) (*domain.PublishResult, error) {
			published = append(published, p.ID)
			return &domain.PublishResult{ID: "m-" + p.ID}, nil
		},
	).Times(5)
	s.state.EXPECT().MarkSynced(gomock.Any()).Return(nil).Times(5)

	result, err := s.service.Run(ctx)

	s.NoError(err)
	s.Equal(5, result.Published)
	// Oldest five roots, the rest left for the next run.
	s.Equal([]string{"p8", "p7", "p6", "p5", "p4"}, published)
}

func (s *SyncServiceTestSuite) TestRun_DuplicateSkipIsMarkedSynced() {
	ctx := context.Background()
	now := time.Now().UTC()

	postA := sourcePost("aaa", now.Add(-1*time.Hour), "")

	s.expectHappyPreamble(ctx, []domain.Post{postA})
	s.state.EXPECT().IsSynced("aaa").Return(false)

	s.destination.EXPECT().Publish(ctx, postA, "").
		Return(&domain.PublishResult{ID: "existing", URL: "https://m.example/existing", Duplicate: true}, nil)

	var marked domain.SyncRecord
	s.state.EXPECT().MarkSynced(gomock.Any()).DoAndReturn(func(rec domain.SyncRecord) error {
		marked = rec
		return nil
	})

	result, err := s.service.Run(ctx)

	s.NoError(err)
	s.Equal(1, result.Duplicates)
	s.Equal(0, result.Published)
	s.Equal("existing", marked.TargetID)
}

func (s *SyncServiceTestSuite) TestRun_PublishFailureNotMarkedSynced() {
	ctx := context.Background()
	now := time.Now().UTC()

	postC := sourcePost("ccc", now.Add(-1*time.Hour), "")

	s.expectHappyPreamble(ctx, []domain.Post{postC})
	s.state.EXPECT().IsSynced("ccc").Return(false)

	s.destination.EXPECT().Publish(ctx, postC, "").
		Return(nil, &domain.PublishError{PostID: "ccc", Err: errors.New("rate limited")})

	result, err := s.service.Run(ctx)

	s.NoError(err)
	s.Equal(1, result.Failed)
	s.Require().Len(result.Outcomes, 1)
	s.Equal(domain.StatusFailed, result.Outcomes[0].Status)
	s.Contains(result.Outcomes[0].Error, "rate limited")
}

func (s *SyncServiceTestSuite) TestRun_FetchErrorAbortsRun() {
	ctx := context.Background()

	s.state.EXPECT().Load().Return(nil)
	s.source.EXPECT().Authenticate(ctx).Return(nil)
	s.destination.EXPECT().Authenticate(ctx).Return(nil)
	s.source.EXPECT().FetchRecent(ctx, gomock.Any(), s.cfg.FetchLimit).
		Return(nil, &domain.FetchError{Err: errors.New("connection reset")})

	result, err := s.service.Run(ctx)

	s.Nil(result)
	var fetchErr *domain.FetchError
	s.ErrorAs(err, &fetchErr)
}

func (s *SyncServiceTestSuite) TestRun_AuthErrorAbortsRun() {
	ctx := context.Background()

	s.state.EXPECT().Load().Return(nil)
	s.source.EXPECT().Authenticate(ctx).
		Return(&domain.AuthError{Platform: domain.PlatformBluesky, Err: errors.New("bad credentials")})

	result, err := s.service.Run(ctx)

	s.Nil(result)
	var authErr *domain.AuthError
	s.ErrorAs(err, &authErr)
}

func (s *SyncServiceTestSuite) TestRun_DryRunTouchesNothing() {
	ctx := context.Background()
	now := time.Now().UTC()

	cfg := s.cfg
	cfg.DryRun = true
	svc := NewService(s.source, s.destination, s.state, s.notifier, s.logger, cfg)

	postA := sourcePost("aaa", now.Add(-2*time.Hour), "")
	postB := sourcePost("bbb", now.Add(-1*time.Hour), "aaa")

	s.state.EXPECT().Load().Return(nil)
	s.source.EXPECT().Authenticate(ctx).Return(nil)
	s.source.EXPECT().FetchRecent(ctx, gomock.Any(), cfg.FetchLimit).Return([]domain.Post{postB, postA}, nil)
	s.state.EXPECT().IsSynced(gomock.Any()).Return(false).Times(2)
	// No destination, state store, or notifier calls beyond the above.

	result, err := svc.Run(ctx)

	s.NoError(err)
	s.Equal(2, result.Published)
	s.Require().Len(result.Outcomes, 2)
	s.Equal(domain.StatusDryRun, result.Outcomes[0].Status)
	s.Equal(domain.StatusDryRun, result.Outcomes[1].Status)
}

func (s *SyncServiceTestSuite) TestRun_StateSaveFailureDegradesRun() {
	ctx := context.Background()
	now := time.Now().UTC()

	postA := sourcePost("aaa", now.Add(-1*time.Hour), "")

	s.expectHappyPreamble(ctx, []domain.Post{postA})
	s.state.EXPECT().IsSynced("aaa").Return(false)
	s.destination.EXPECT().Publish(ctx, postA, "").Return(&domain.PublishResult{ID: "m1"}, nil)
	s.state.EXPECT().MarkSynced(gomock.Any()).
		Return(&domain.StateIOError{Path: "sync_state.json", Err: errors.New("disk full")})

	result, err := s.service.Run(ctx)

	s.NoError(err)
	s.Equal(1, result.Published)
	s.True(result.Degraded)
}

func (s *SyncServiceTestSuite) TestRun_RepliesExcludedWhenThreadsDisabled() {
	ctx := context.Background()
	now := time.Now().UTC()

	cfg := s.cfg
	cfg.IncludeThreads = false
	svc := NewService(s.source, s.destination, s.state, nil, s.logger, cfg)

	postA := sourcePost("aaa", now.Add(-2*time.Hour), "")
	postB := sourcePost("bbb", now.Add(-1*time.Hour), "aaa")

	s.state.EXPECT().Load().Return(nil)
	s.source.EXPECT().Authenticate(ctx).Return(nil)
	s.destination.EXPECT().Authenticate(ctx).Return(nil)
	s.source.EXPECT().FetchRecent(ctx, gomock.Any(), cfg.FetchLimit).Return([]domain.Post{postB, postA}, nil)
	s.state.EXPECT().IsSynced("bbb").Return(false)
	s.state.EXPECT().IsSynced("aaa").Return(false)

	s.destination.EXPECT().Publish(ctx, postA, "").Return(&domain.PublishResult{ID: "m1"}, nil)
	s.state.EXPECT().MarkSynced(gomock.Any()).Return(nil)

	result, err := svc.Run(ctx)

	s.NoError(err)
	s.Equal(1, result.Published)
	s.Equal(1, result.Skipped)
}

func (s *SyncServiceTestSuite) TestRun_ReplyThreadsOntoParentFromPreviousRun() {
	ctx := context.Background()
	now := time.Now().UTC()

	reply := sourcePost("bbb", now.Add(-1*time.Hour), "aaa")

	s.expectHappyPreamble(ctx, []domain.Post{reply})
	s.state.EXPECT().IsSynced("bbb").Return(false)
	s.state.EXPECT().ParentFor("aaa").Return("m-old", true)

	s.destination.EXPECT().Publish(ctx, reply, "m-old").Return(&domain.PublishResult{ID: "m2"}, nil)
	s.state.EXPECT().MarkSynced(gomock.Any()).Return(nil)

	result, err := s.service.Run(ctx)

	s.NoError(err)
	s.Equal(1, result.Published)
}

func (s *SyncServiceTestSuite) TestRun_NotifierReceivesSyncRecord() {
	ctx := context.Background()
	now := time.Now().UTC()

	svc := NewService(s.source, s.destination, s.state, s.notifier, s.logger, s.cfg)

	postA := sourcePost("aaa", now.Add(-1*time.Hour), "")

	s.expectHappyPreamble(ctx, []domain.Post{postA})
	s.state.EXPECT().IsSynced("aaa").Return(false)
	s.destination.EXPECT().Publish(ctx, postA, "").Return(&domain.PublishResult{ID: "m1", URL: "https://m.example/1"}, nil)
	s.state.EXPECT().MarkSynced(gomock.Any()).Return(nil)

	s.notifier.EXPECT().Publish(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, rec domain.SyncRecord) error {
			s.Equal("aaa", rec.SourceID)
			s.Equal("m1", rec.TargetID)
			return nil
		},
	)

	result, err := svc.Run(ctx)

	s.NoError(err)
	s.Equal(1, result.Published)
}

func (s *SyncServiceTestSuite) TestRun_NotifierErrorDoesNotFailRun() {
	ctx := context.Background()
	now := time.Now().UTC()

	svc := NewService(s.source, s.destination, s.state, s.notifier, s.logger, s.cfg)

	postA := sourcePost("aaa", now.Add(-1*time.Hour), "")

	s.expectHappyPreamble(ctx, []domain.Post{postA})
	s.state.EXPECT().IsSynced("aaa").Return(false)
	s.destination.EXPECT().Publish(ctx, postA, "").Return(&domain.PublishResult{ID: "m1"}, nil)
	s.state.EXPECT().MarkSynced(gomock.Any()).Return(nil)
	s.notifier.EXPECT().Publish(ctx, gomock.Any()).Return(errors.New("broker down"))

	result, err := svc.Run(ctx)

	s.NoError(err)
	s.Equal(1, result.Published)
	s.Equal(0, result.Failed)
}
