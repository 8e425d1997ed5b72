package domain

import "fmt"

// AuthError means credentials were rejected by a platform. Fatal for the run.
type AuthError struct {
	Platform Platform
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication: %v", e.Platform, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// FetchError means the source candidates could not be determined. Fatal for
// the run; it is never treated as "no new posts".
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch recent posts: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PublishError is a per-post failure on the destination. The post and its
// thread descendants are skipped; sibling posts continue.
type PublishError struct {
	PostID string
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish post %s: %v", e.PostID, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// MediaError is a per-attachment failure. Only the attachment is skipped.
type MediaError struct {
	URL string
	Err error
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("media %s: %v", e.URL, e.Err)
}

func (e *MediaError) Unwrap() error { return e.Err }

// StateIOError means the sync state could not be written. The run continues
// but with degraded durability.
type StateIOError struct {
	Path string
	Err  error
}

func (e *StateIOError) Error() string {
	return fmt.Sprintf("write state file %s: %v", e.Path, e.Err)
}

func (e *StateIOError) Unwrap() error { return e.Err }
