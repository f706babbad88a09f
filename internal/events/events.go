// Package events describes crawl lifecycle notifications and the publishers
// that deliver them.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/site-indexer/internal/id"
)

// Type names a lifecycle transition.
type Type string

// Lifecycle event types.
const (
	CrawlStarted   Type = "crawl.started"
	CrawlCompleted Type = "crawl.completed"
	CrawlFailed    Type = "crawl.failed"
)

// Event is one lifecycle notification.
type Event struct {
	ID              string    `json:"id"`
	Type            Type      `json:"type"`
	SeedURL         string    `json:"seedUrl"`
	SessionID       string    `json:"sessionId,omitempty"`
	At              time.Time `json:"at"`
	TotalPages      int       `json:"totalPages,omitempty"`
	NewPagesIndexed int       `json:"newPagesIndexed,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// New stamps an event with a fresh UUIDv7.
func New(t Type, seedURL, sessionID string, at time.Time) (Event, error) {
	eventID, err := id.NewGenerator().NewID()
	if err != nil {
		return Event{}, fmt.Errorf("new event id: %w", err)
	}
	return Event{ID: eventID, Type: t, SeedURL: seedURL, SessionID: sessionID, At: at}, nil
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error {
	return nil
}
