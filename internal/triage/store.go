package triage

import "context"

// Store is the persistence interface for triage sessions. Implementations
// return copies: mutating a session returned by Get has no effect until it
// is passed to Put.
type Store interface {
	Get(ctx context.Context, id string) (*Session, bool, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) (bool, error)
}
