package domain

import "time"

// SyncRecord maps a source post to the destination post it was synced as.
type SyncRecord struct {
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	TargetURL string    `json:"target_url,omitempty"`
	SyncedAt  time.Time `json:"synced_at"`
}

// PublishResult is what the destination adapter returns for one post.
// Duplicate means an equivalent post already existed and no new post
// was created.
type PublishResult struct {
	ID        string
	URL       string
	Duplicate bool
}

// OutcomeStatus classifies the result of syncing one post.
type OutcomeStatus string

const (
	StatusPublished OutcomeStatus = "published"
	StatusDuplicate OutcomeStatus = "duplicate"
	StatusDryRun    OutcomeStatus = "dry-run"
	StatusFailed    OutcomeStatus = "failed"
	StatusSkipped   OutcomeStatus = "skipped"
)

// Outcome records what happened to a single source post during a run.
type Outcome struct {
	SourceID string
	TargetID string
	Status   OutcomeStatus
	Error    string
}

// RunResult summarizes one synchronization pass. It is produced fresh
// each run and never persisted.
type RunResult struct {
	Fetched    int
	Skipped    int
	Duplicates int
	Published  int
	Failed     int
	Degraded   bool // a state save failed; durability is best-effort until the next clean save
	Outcomes   []Outcome
	Duration   time.Duration
}
