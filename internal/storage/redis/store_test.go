package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-indexer/internal/store"
	"github.com/JakeFAU/site-indexer/internal/store/storetest"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := New(context.Background(), Config{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestStoreContract(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T) store.Store {
		s, _ := newTestStore(t)
		return s
	})
}

func TestKeyLayout(t *testing.T) {
	t.Parallel()

	s, mr := newTestStore(t)
	ctx := context.Background()
	seed := "https://example.com"
	at := time.Date(2025, 5, 6, 7, 8, 9, 0, time.UTC)

	require.NoError(t, s.ResetStatus(ctx, seed, store.Crawling("session_https___example_com", at)))
	require.NoError(t, s.UpdateStatus(ctx, seed, store.Progress(7, 6)))
	require.NoError(t, s.StorePage(ctx, store.StoredPage{URL: seed + "/a", Title: "A", SourceURL: seed}))
	require.NoError(t, s.AddIndexedURL(ctx, seed))

	require.Equal(t, "crawling", mr.HGet("crawl-status:"+seed, "status"))
	require.Equal(t, "2025-05-06T07:08:09Z", mr.HGet("crawl-status:"+seed, "startedAt"))
	require.Equal(t, "7", mr.HGet("crawl-status:"+seed, "totalPages"))
	require.Equal(t, "6", mr.HGet("crawl-status:"+seed, "newPagesIndexed"))

	members, err := mr.Members("pages:" + seed)
	require.NoError(t, err)
	require.Equal(t, []string{seed + "/a"}, members)
	require.True(t, mr.Exists("page:"+seed+"/a"))

	ok, err := mr.SIsMember("indexed-urls", seed)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReadsRecordsWrittenByOtherClients(t *testing.T) {
	t.Parallel()

	s, mr := newTestStore(t)
	mr.HSet("crawl-status:https://x.com", "status", "pending", "homepageIndexed", "true", "sessionId", "session_x")

	got, err := s.GetStatus(context.Background(), "https://x.com")
	require.NoError(t, err)
	require.Equal(t, store.StatePending, got.State)
	require.True(t, got.HomepageIndexed)
	require.Nil(t, got.StartedAt)

	mr.HSet("crawl-status:https://bad.com", "totalPages", "lots")
	_, err = s.GetStatus(context.Background(), "https://bad.com")
	require.ErrorContains(t, err, "decode totalPages")
}

func TestPagesBySourceSkipsMissingPayloads(t *testing.T) {
	t.Parallel()

	s, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.StorePage(ctx, store.StoredPage{URL: "https://e.com/a", SourceURL: "https://e.com"}))
	_, err := mr.SAdd("pages:https://e.com", "https://e.com/gone")
	require.NoError(t, err)
	require.NoError(t, mr.Set("page:https://e.com/junk", "{not json"))
	_, err = mr.SAdd("pages:https://e.com", "https://e.com/junk")
	require.NoError(t, err)

	pages, err := s.PagesBySource(ctx, "https://e.com")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.Equal(t, "https://e.com/a", pages[0].URL)
}

func TestKeyPrefix(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewWithClient(client, "dev:", nil)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.AddIndexedURL(context.Background(), "https://a.com"))
	ok, err := mr.SIsMember("dev:indexed-urls", "https://a.com")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{}, nil)
	require.Error(t, err)
}
