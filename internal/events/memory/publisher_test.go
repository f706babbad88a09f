package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-indexer/internal/events"
)

func TestPublisherRecordsAndCopies(t *testing.T) {
	t.Parallel()

	p := New()
	ctx := context.Background()
	require.NoError(t, p.Publish(ctx, events.Event{Type: events.CrawlStarted, SeedURL: "a"}))
	require.NoError(t, p.Publish(ctx, events.Event{Type: events.CrawlCompleted, SeedURL: "a"}))
	require.Equal(t, []events.Type{events.CrawlStarted, events.CrawlCompleted}, p.Types())

	got := p.Events()
	got[0].SeedURL = "mutated"
	require.Equal(t, "a", p.Events()[0].SeedURL)

	boom := errors.New("down")
	p.FailWith(boom)
	require.ErrorIs(t, p.Publish(ctx, events.Event{}), boom)
	require.Len(t, p.Events(), 2)
}
