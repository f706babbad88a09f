package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type flushRecorder struct {
	strings.Builder
	flushes int
}

func (f *flushRecorder) Flush() { f.flushes++ }

func TestStreamWritesDeltas(t *testing.T) {
	t.Parallel()

	var got completionRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(strings.Join([]string{
			`data: {"choices":[{"delta":{"role":"assistant"}}]}`,
			``,
			`data: {"choices":[{"delta":{"content":"Hello"}}]}`,
			`: keep-alive`,
			`data: {"choices":[{"delta":{"content":", world"}}]}`,
			`data: not json`,
			`data: [DONE]`,
			``,
		}, "\n")))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k"}, srv.Client(), zap.NewNop())
	out := &flushRecorder{}
	require.NoError(t, c.Stream(context.Background(), "the prompt", out))

	require.Equal(t, "Hello, world", out.String())
	require.Equal(t, 2, out.flushes)
	require.Equal(t, "Bearer k", auth)
	require.Equal(t, DefaultModel, got.Model)
	require.True(t, got.Stream)
	require.Equal(t, []Message{{Role: RoleUser, Content: "the prompt"}}, got.Messages)
}

func TestStreamNon2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/"}, srv.Client(), nil)
	var out strings.Builder
	err := c.Stream(context.Background(), "p", &out)
	require.ErrorContains(t, err, "chat service returned 401")
	require.Empty(t, out.String())
}

func TestParseEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want string
		ok   bool
	}{
		{line: `data: {"choices":[{"delta":{"content":"x"}}]}`, want: "x", ok: true},
		{line: `data: [DONE]`},
		{line: `data: `},
		{line: `event: message`},
		{line: `data: {"choices":[]}`},
		{line: `data: {broken`},
	}
	for _, tc := range tests {
		got, ok := parseEvent(tc.line)
		require.Equal(t, tc.ok, ok, tc.line)
		require.Equal(t, tc.want, got, tc.line)
	}
}

func TestNewClientDefaults(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{}, nil, nil)
	require.Equal(t, DefaultBaseURL, c.cfg.BaseURL)
	require.Equal(t, DefaultModel, c.cfg.Model)
	require.Equal(t, DefaultTimeout, c.httpClient.Timeout)
}
