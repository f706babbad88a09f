package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-indexer/internal/index"
	"github.com/JakeFAU/site-indexer/internal/storage/memory"
	"github.com/JakeFAU/site-indexer/internal/store"
)

const site = "https://example.com"

type fakeRetriever struct {
	hits   []index.Hit
	err    error
	source string
	topK   int
}

func (f *fakeRetriever) Query(_ context.Context, sourceURL, _ string, topK int) ([]index.Hit, error) {
	f.source = sourceURL
	f.topK = topK
	return f.hits, f.err
}

type fakeCompleter struct {
	prompt  string
	reply   string
	err     error
	partial bool
}

func (f *fakeCompleter) Stream(_ context.Context, prompt string, w io.Writer) error {
	f.prompt = prompt
	if f.err != nil {
		if f.partial {
			_, _ = io.WriteString(w, "partial")
		}
		return f.err
	}
	_, err := io.WriteString(w, f.reply)
	return err
}

func newService(t *testing.T, r *fakeRetriever, c *fakeCompleter) (*Service, *memory.Store) {
	t.Helper()
	st := memory.NewStore()
	require.NoError(t, st.AddIndexedURL(context.Background(), site))
	svc, err := NewService(r, st, c, zap.NewNop())
	require.NoError(t, err)
	return svc, st
}

var question = []Message{
	{Role: RoleAssistant, Content: "Welcome"},
	{Role: RoleUser, Content: "What is this site about?"},
}

func TestAnswerUsesVectorHits(t *testing.T) {
	t.Parallel()

	r := &fakeRetriever{hits: []index.Hit{{Title: "About", Content: "A blog about Go."}}}
	c := &fakeCompleter{reply: "It is about Go."}
	svc, _ := newService(t, r, c)

	var out strings.Builder
	require.NoError(t, svc.Answer(context.Background(), "session_https___example_com", question, &out))

	require.Equal(t, "It is about Go.", out.String())
	require.Equal(t, site, r.source)
	require.Equal(t, TopK, r.topK)
	require.Contains(t, c.prompt, "You are analyzing: https://example.com")
	require.Contains(t, c.prompt, "### About\n\nA blog about Go.")
	require.Contains(t, c.prompt, "CONVERSATION HISTORY:\nAssistant: Welcome\n\n")
	require.Contains(t, c.prompt, "USER QUESTION:\nWhat is this site about?")
}

func TestAnswerFallsBackToStoredPages(t *testing.T) {
	t.Parallel()

	c := &fakeCompleter{reply: "ok"}
	svc, st := newService(t, &fakeRetriever{}, c)
	require.NoError(t, st.StorePage(context.Background(), store.StoredPage{
		URL: site + "/", Title: "Home", Content: "Stored homepage text", SourceURL: site,
	}))

	var out strings.Builder
	require.NoError(t, svc.Answer(context.Background(), "session_https___example_com", question, &out))
	require.Contains(t, c.prompt, "### Home\n\nStored homepage text")
}

func TestAnswerWithoutContent(t *testing.T) {
	t.Parallel()

	c := &fakeCompleter{}
	svc, _ := newService(t, &fakeRetriever{}, c)

	var out strings.Builder
	require.NoError(t, svc.Answer(context.Background(), "session_https___example_com", question, &out))
	require.Equal(t, "I don't have any indexed content from https://example.com yet.", out.String())
	require.Empty(t, c.prompt)
}

func TestAnswerCompletionErrors(t *testing.T) {
	t.Parallel()

	hits := []index.Hit{{Title: "T", Content: "c"}}

	svc, _ := newService(t, &fakeRetriever{hits: hits}, &fakeCompleter{err: errors.New("chat service returned 500: boom")})
	var out strings.Builder
	require.NoError(t, svc.Answer(context.Background(), "session_https___example_com", question, &out))
	require.Equal(t, "Error: chat service returned 500: boom", out.String())

	svc, _ = newService(t, &fakeRetriever{hits: hits}, &fakeCompleter{err: io.ErrUnexpectedEOF, partial: true})
	out.Reset()
	err := svc.Answer(context.Background(), "session_https___example_com", question, &out)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.Equal(t, "partial", out.String())
}

func TestAnswerValidation(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t, &fakeRetriever{}, &fakeCompleter{})
	var out strings.Builder
	require.ErrorIs(t, svc.Answer(context.Background(), "session_x", nil, &out), ErrNoMessages)
	require.ErrorIs(t, svc.Answer(context.Background(), "bogus", question, &out), ErrInvalidSession)
	require.Empty(t, out.String())
}

func TestAnswerRetrievalFailureUsesStoredPages(t *testing.T) {
	t.Parallel()

	r := &fakeRetriever{
		hits: []index.Hit{{Title: "Stale", Content: "ignored"}},
		err:  errors.New("qdrant down"),
	}
	c := &fakeCompleter{reply: "ok"}
	svc, st := newService(t, r, c)
	require.NoError(t, st.StorePage(context.Background(), store.StoredPage{
		URL: site + "/", Title: "Home", Content: "Stored homepage text", SourceURL: site,
	}))

	var out strings.Builder
	require.NoError(t, svc.Answer(context.Background(), "session_https___example_com", question, &out))
	require.Equal(t, "ok", out.String())
	require.Contains(t, c.prompt, "### Home\n\nStored homepage text")
	require.NotContains(t, c.prompt, "ignored")

	// Nothing stored either: the reader gets the no-content reply, not an error.
	c = &fakeCompleter{}
	svc, _ = newService(t, &fakeRetriever{err: errors.New("embedding failed")}, c)
	out.Reset()
	require.NoError(t, svc.Answer(context.Background(), "session_https___example_com", question, &out))
	require.Equal(t, "I don't have any indexed content from https://example.com yet.", out.String())
	require.Empty(t, c.prompt)
}

func TestResolveSiteReconstructsUnknownSessions(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t, &fakeRetriever{}, &fakeCompleter{})
	got, err := svc.ResolveSite(context.Background(), "session_https___blog_example_org")
	require.NoError(t, err)
	require.Equal(t, "https://..blog.example.org", got)
}

func TestNewServiceValidates(t *testing.T) {
	t.Parallel()

	_, err := NewService(nil, nil, nil, nil)
	require.Error(t, err)
}
