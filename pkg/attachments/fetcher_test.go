package attachments_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/illmade-knight/go-agentflow/pkg/agentmessage"
	"github.com/illmade-knight/go-agentflow/pkg/attachments"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveBytes(t *testing.T, contentType string, body []byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestFetcher_Fetch(t *testing.T) {
	backend := serveBytes(t, "image/png", []byte("png-bytes"))
	fetcher := attachments.NewFetcher(attachments.FetcherConfig{}, zerolog.Nop())

	msg := &agentmessage.CanonicalMessage{
		ID:       "m1",
		FileURL:  backend.URL + "/files/pic.png",
		FileName: "pic.png",
		FileType: "image/png",
	}
	att, err := fetcher.Fetch(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), att.Data)
	assert.Equal(t, "pic.png", att.Name)
	assert.Equal(t, "image/png", att.MIMEType)
}

func TestFetcher_MIMETypeFallsBackToResponseHeader(t *testing.T) {
	backend := serveBytes(t, "application/pdf; charset=binary", []byte("%PDF"))
	fetcher := attachments.NewFetcher(attachments.FetcherConfig{}, zerolog.Nop())

	att, err := fetcher.Fetch(context.Background(), &agentmessage.CanonicalMessage{ID: "m1", FileURL: backend.URL})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", att.MIMEType)
}

func TestFetcher_SizeCeiling(t *testing.T) {
	backend := serveBytes(t, "image/png", []byte(strings.Repeat("x", 100)))
	fetcher := attachments.NewFetcher(attachments.FetcherConfig{MaxBytes: 99}, zerolog.Nop())

	_, err := fetcher.Fetch(context.Background(), &agentmessage.CanonicalMessage{ID: "m1", FileURL: backend.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestFetcher_AllowedTypes(t *testing.T) {
	testCases := []struct {
		name        string
		allowed     []string
		contentType string
		expectOK    bool
	}{
		{name: "exact match", allowed: []string{"image/png"}, contentType: "image/png", expectOK: true},
		{name: "wildcard match", allowed: []string{"image/*"}, contentType: "image/jpeg", expectOK: true},
		{name: "wildcard wrong category", allowed: []string{"image/*"}, contentType: "audio/mpeg", expectOK: false},
		{name: "exact mismatch", allowed: []string{"application/pdf"}, contentType: "image/png", expectOK: false},
		{name: "empty list allows all", allowed: nil, contentType: "video/mp4", expectOK: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			backend := serveBytes(t, tc.contentType, []byte("data"))
			fetcher := attachments.NewFetcher(attachments.FetcherConfig{AllowedTypes: tc.allowed}, zerolog.Nop())

			_, err := fetcher.Fetch(context.Background(), &agentmessage.CanonicalMessage{ID: "m1", FileURL: backend.URL})
			if tc.expectOK {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "not allowed")
			}
		})
	}
}

func TestFetcher_ErrorCases(t *testing.T) {
	fetcher := attachments.NewFetcher(attachments.FetcherConfig{}, zerolog.Nop())

	t.Run("missing file URL", func(t *testing.T) {
		_, err := fetcher.Fetch(context.Background(), &agentmessage.CanonicalMessage{ID: "m1"})
		require.Error(t, err)
	})

	t.Run("non-200 status", func(t *testing.T) {
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer backend.Close()
		_, err := fetcher.Fetch(context.Background(), &agentmessage.CanonicalMessage{ID: "m1", FileURL: backend.URL})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})
}

func TestNewEnricherFunc(t *testing.T) {
	backend := serveBytes(t, "image/png", []byte("png-bytes"))
	fetcher := attachments.NewFetcher(attachments.FetcherConfig{}, zerolog.Nop())

	enricher, err := attachments.NewEnricherFunc(fetcher, zerolog.Nop())
	require.NoError(t, err)

	t.Run("message without file URL passes through", func(t *testing.T) {
		att, err := enricher(context.Background(), &agentmessage.CanonicalMessage{ID: "m1", Content: "plain"})
		require.NoError(t, err)
		assert.Nil(t, att)
	})

	t.Run("message with file URL is enriched", func(t *testing.T) {
		msg := &agentmessage.CanonicalMessage{ID: "m2", FileURL: backend.URL, FileName: "pic.png", FileType: "image/png"}
		att, err := enricher(context.Background(), msg)
		require.NoError(t, err)
		require.NotNil(t, att)
		assert.Equal(t, []byte("png-bytes"), att.Data)
	})

	t.Run("fetch failure surfaces as error", func(t *testing.T) {
		msg := &agentmessage.CanonicalMessage{ID: "m3", FileURL: "http://127.0.0.1:1/nope"}
		_, err := enricher(context.Background(), msg)
		require.Error(t, err)
	})

	t.Run("nil fetcher is rejected", func(t *testing.T) {
		_, err := attachments.NewEnricherFunc(nil, zerolog.Nop())
		require.Error(t, err)
	})
}
