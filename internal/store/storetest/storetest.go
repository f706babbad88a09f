// Package storetest holds a behavioural suite shared by every store.Store
// backend.
package storetest

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-indexer/internal/store"
)

// Run exercises s against the store contracts. newStore must return an
// empty store for every call.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("status lifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seed := "https://example.com"
		started := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)

		_, err := s.GetStatus(ctx, seed)
		require.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, s.UpdateStatus(ctx, seed, store.Pending("session_a")))
		require.NoError(t, s.ResetStatus(ctx, seed, store.Crawling("session_a", started)))
		require.NoError(t, s.UpdateStatus(ctx, seed, store.Progress(3, 2)))

		got, err := s.GetStatus(ctx, seed)
		require.NoError(t, err)
		require.Equal(t, store.StateCrawling, got.State)
		require.Equal(t, "session_a", got.SessionID)
		require.False(t, got.HomepageIndexed)
		require.True(t, got.StartedAt.Equal(started))
		require.Equal(t, 3, got.TotalPages)
		require.Equal(t, 2, got.NewPagesIndexed)

		done := started.Add(time.Minute)
		require.NoError(t, s.UpdateStatus(ctx, seed, store.Completed(done, 5, 4)))
		err = s.UpdateStatus(ctx, seed, store.StatusUpdate{State: ptr(store.StateCrawling)})
		require.ErrorIs(t, err, store.ErrTerminalStatus)
		err = s.UpdateStatus(ctx, seed, store.Progress(1, 1))
		require.ErrorIs(t, err, store.ErrTerminalStatus)
		err = s.UpdateStatus(ctx, seed, store.Failed(done, "late scheduler error"))
		require.ErrorIs(t, err, store.ErrTerminalStatus)

		got, err = s.GetStatus(ctx, seed)
		require.NoError(t, err)
		require.Equal(t, store.StateCompleted, got.State)
		require.True(t, got.CompletedAt.Equal(done))
		require.Equal(t, 5, got.TotalPages)
		require.Equal(t, 4, got.NewPagesIndexed)

		// A new crawl starts from a clean record.
		require.NoError(t, s.ResetStatus(ctx, seed, store.Crawling("session_b", done)))
		got, err = s.GetStatus(ctx, seed)
		require.NoError(t, err)
		require.Equal(t, store.StateCrawling, got.State)
		require.Nil(t, got.CompletedAt)
		require.Zero(t, got.TotalPages)

		failedAt := done.Add(time.Second)
		require.NoError(t, s.UpdateStatus(ctx, seed, store.Failed(failedAt, "browser crashed")))
		got, err = s.GetStatus(ctx, seed)
		require.NoError(t, err)
		require.Equal(t, store.StateFailed, got.State)
		require.Equal(t, "browser crashed", got.Error)
		require.True(t, got.FailedAt.Equal(failedAt))

		err = s.UpdateStatus(ctx, seed, store.Completed(failedAt, 1, 1))
		require.ErrorIs(t, err, store.ErrTerminalStatus)
		require.NoError(t, s.UpdateStatus(ctx, seed, store.ForceCompleted(failedAt)))
		got, err = s.GetStatus(ctx, seed)
		require.NoError(t, err)
		require.Equal(t, store.StateCompleted, got.State)

		require.NoError(t, s.DeleteStatus(ctx, seed))
		require.NoError(t, s.DeleteStatus(ctx, seed))
		_, err = s.GetStatus(ctx, seed)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("pages", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seed := "https://example.com"
		at := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)

		for _, u := range []string{"https://example.com/a", "https://example.com/b"} {
			require.NoError(t, s.StorePage(ctx, store.StoredPage{
				URL: u, Title: "T " + u, Content: "body of " + u, PageType: "Page", SourceURL: seed, Timestamp: at,
			}))
		}
		// Storing again overwrites rather than duplicating.
		require.NoError(t, s.StorePage(ctx, store.StoredPage{
			URL: "https://example.com/a", Title: "A2", Content: "new body", SourceURL: seed, Timestamp: at,
		}))
		require.NoError(t, s.StorePage(ctx, store.StoredPage{
			URL: "https://other.com/", Title: "O", Content: "other", SourceURL: "https://other.com", Timestamp: at,
		}))

		pages, err := s.PagesBySource(ctx, seed)
		require.NoError(t, err)
		require.Len(t, pages, 2)
		sort.Slice(pages, func(i, j int) bool { return pages[i].URL < pages[j].URL })
		require.Equal(t, "A2", pages[0].Title)
		require.Equal(t, "new body", pages[0].Content)
		require.Equal(t, "Page", pages[1].PageType)
		require.True(t, pages[1].Timestamp.Equal(at))

		removed, err := s.DeletePages(ctx, seed)
		require.NoError(t, err)
		require.Equal(t, 2, removed)
		pages, err = s.PagesBySource(ctx, seed)
		require.NoError(t, err)
		require.Empty(t, pages)

		other, err := s.PagesBySource(ctx, "https://other.com")
		require.NoError(t, err)
		require.Len(t, other, 1)
	})

	t.Run("seed registry", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		ok, err := s.IsIndexed(ctx, "https://a.com")
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, s.AddIndexedURL(ctx, "https://a.com"))
		require.NoError(t, s.AddIndexedURL(ctx, "https://b.com"))
		require.NoError(t, s.AddIndexedURL(ctx, "https://a.com"))

		ok, err = s.IsIndexed(ctx, "https://a.com")
		require.NoError(t, err)
		require.True(t, ok)

		urls, err := s.IndexedURLs(ctx)
		require.NoError(t, err)
		sort.Strings(urls)
		require.Equal(t, []string{"https://a.com", "https://b.com"}, urls)

		require.NoError(t, s.ClearIndexedURLs(ctx))
		urls, err = s.IndexedURLs(ctx)
		require.NoError(t, err)
		require.Empty(t, urls)
	})
}

func ptr[T any](v T) *T {
	return &v
}
