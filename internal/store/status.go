package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrTerminalStatus rejects a write that would move a completed or failed
	// record back into an active state.
	ErrTerminalStatus = errors.New("crawl status is terminal")
	// ErrInvalidTransition rejects any other write the state machine forbids.
	ErrInvalidTransition = errors.New("invalid crawl status transition")
)

// State is the lifecycle position of a crawl.
type State string

// Crawl states. pending -> crawling -> completed|failed.
const (
	StatePending   State = "pending"
	StateCrawling  State = "crawling"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further progress is expected.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateCrawling, StateCompleted, StateFailed:
		return true
	default:
		return false
	}
}

// CrawlStatus is the status record kept per seed URL. Terminal-only fields
// are nil until the matching state is reached.
type CrawlStatus struct {
	State           State      `json:"status"`
	SessionID       string     `json:"sessionId"`
	HomepageIndexed bool       `json:"homepageIndexed,omitempty"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	FailedAt        *time.Time `json:"failedAt,omitempty"`
	TotalPages      int        `json:"totalPages"`
	NewPagesIndexed int        `json:"newPagesIndexed"`
	Error           string     `json:"error,omitempty"`
}

// StatusUpdate names the fields a writer owns. Nil fields are left untouched
// by the store.
type StatusUpdate struct {
	State           *State
	SessionID       *string
	HomepageIndexed *bool
	StartedAt       *time.Time
	CompletedAt     *time.Time
	FailedAt        *time.Time
	TotalPages      *int
	NewPagesIndexed *int
	Error           *string
	// Override lets an administrative write replace a terminal record. It is
	// not persisted.
	Override bool
}

// Empty reports whether the update carries no fields.
func (u StatusUpdate) Empty() bool {
	u.Override = false
	return u == StatusUpdate{}
}

// Apply returns s with every present field of u written over it.
func (u StatusUpdate) Apply(s CrawlStatus) CrawlStatus {
	if u.State != nil {
		s.State = *u.State
	}
	if u.SessionID != nil {
		s.SessionID = *u.SessionID
	}
	if u.HomepageIndexed != nil {
		s.HomepageIndexed = *u.HomepageIndexed
	}
	if u.StartedAt != nil {
		s.StartedAt = ptr(*u.StartedAt)
	}
	if u.CompletedAt != nil {
		s.CompletedAt = ptr(*u.CompletedAt)
	}
	if u.FailedAt != nil {
		s.FailedAt = ptr(*u.FailedAt)
	}
	if u.TotalPages != nil {
		s.TotalPages = *u.TotalPages
	}
	if u.NewPagesIndexed != nil {
		s.NewPagesIndexed = *u.NewPagesIndexed
	}
	if u.Error != nil {
		s.Error = *u.Error
	}
	return s
}

// CheckTransition validates u against the record currently stored, which is
// nil when the seed has no record yet. A terminal record rejects every write
// with ErrTerminalStatus unless the update is an Override.
func CheckTransition(current *CrawlStatus, u StatusUpdate) error {
	if u.State != nil && !u.State.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, *u.State)
	}
	if current == nil {
		return nil
	}
	from := current.State
	if u.Override {
		return nil
	}
	if from.Terminal() {
		return fmt.Errorf("%w: record is %s", ErrTerminalStatus, from)
	}
	if u.State != nil && *u.State == StatePending && from == StateCrawling {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, StatePending)
	}
	return nil
}

// Merge validates u against current and returns the record to persist.
func Merge(current *CrawlStatus, u StatusUpdate) (CrawlStatus, error) {
	if err := CheckTransition(current, u); err != nil {
		return CrawlStatus{}, err
	}
	var base CrawlStatus
	if current != nil {
		base = *current
	}
	return u.Apply(base), nil
}

// Crawling is the update written when a crawl starts.
func Crawling(sessionID string, at time.Time) CrawlStatus {
	return CrawlStatus{
		State:     StateCrawling,
		SessionID: sessionID,
		StartedAt: ptr(at),
	}
}

// Progress is the update written after each indexing batch.
func Progress(totalPages, newPagesIndexed int) StatusUpdate {
	return StatusUpdate{TotalPages: ptr(totalPages), NewPagesIndexed: ptr(newPagesIndexed)}
}

// Completed is the update written when a crawl finishes.
func Completed(at time.Time, totalPages, newPagesIndexed int) StatusUpdate {
	return StatusUpdate{
		State:           ptr(StateCompleted),
		CompletedAt:     ptr(at),
		TotalPages:      ptr(totalPages),
		NewPagesIndexed: ptr(newPagesIndexed),
	}
}

// ForceCompleted marks a record completed without touching its counters. It
// is the only update allowed to replace a terminal record.
func ForceCompleted(at time.Time) StatusUpdate {
	return StatusUpdate{State: ptr(StateCompleted), CompletedAt: ptr(at), Override: true}
}

// Failed is the update written when a crawl aborts.
func Failed(at time.Time, reason string) StatusUpdate {
	return StatusUpdate{State: ptr(StateFailed), FailedAt: ptr(at), Error: ptr(reason)}
}

// Pending is the update written after a first-visit homepage index.
func Pending(sessionID string) StatusUpdate {
	return StatusUpdate{State: ptr(StatePending), SessionID: ptr(sessionID), HomepageIndexed: ptr(true)}
}

func ptr[T any](v T) *T {
	return &v
}

// StatusStore persists one CrawlStatus per seed URL.
type StatusStore interface {
	// GetStatus loads a record or returns ErrNotFound.
	GetStatus(ctx context.Context, seedURL string) (CrawlStatus, error)
	// UpdateStatus writes only the fields present in u, after CheckTransition.
	UpdateStatus(ctx context.Context, seedURL string, u StatusUpdate) error
	// ResetStatus replaces the record wholesale. It is how a new crawl of a
	// seed starts over from a terminal record.
	ResetStatus(ctx context.Context, seedURL string, status CrawlStatus) error
	// DeleteStatus removes the record. Missing records are not an error.
	DeleteStatus(ctx context.Context, seedURL string) error
}
