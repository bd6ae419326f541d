package rules

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/murdok1982/hispanshield/internal/analysis/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClient_Match(t *testing.T) {
	t.Run("posts artifact and returns matches", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/scan", r.URL.Path)
			assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))

			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			assert.Equal(t, []byte("artifact bytes"), body)

			w.Write([]byte(`{"matches":[{"rule":"ransomware_note","tags":["ransomware"],"meta":{"author":"lab"}}]}`))
		}))
		defer srv.Close()

		client := NewClient(srv.URL, time.Second, discardLogger())

		matches, err := client.Match(context.Background(), []byte("artifact bytes"))

		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "ransomware_note", matches[0].Rule)
		assert.Equal(t, []string{"ransomware"}, matches[0].Tags)
		assert.Equal(t, "lab", matches[0].Meta["author"])
	})

	t.Run("zero matches is a normal result", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"matches":[]}`))
		}))
		defer srv.Close()

		client := NewClient(srv.URL, time.Second, discardLogger())

		matches, err := client.Match(context.Background(), []byte("clean"))

		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("unconfigured engine skips matching", func(t *testing.T) {
		client := NewClient("", time.Second, discardLogger())

		matches, err := client.Match(context.Background(), []byte("whatever"))

		require.NoError(t, err)
		assert.Nil(t, matches)
	})

	t.Run("server error maps to unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		client := NewClient(srv.URL, time.Second, discardLogger())

		_, err := client.Match(context.Background(), []byte("artifact"))

		assert.ErrorIs(t, err, domain.ErrExternalUnavailable)
	})

	t.Run("invalid json maps to malformed response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[`))
		}))
		defer srv.Close()

		client := NewClient(srv.URL, time.Second, discardLogger())

		_, err := client.Match(context.Background(), []byte("artifact"))

		assert.ErrorIs(t, err, domain.ErrMalformedResponse)
	})
}
