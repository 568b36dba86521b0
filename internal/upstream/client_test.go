package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.False(t, req.Stream)
		assert.Equal(t, 20, req.MaxTokens)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Trip Planning Help"}}]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, time.Second)
	content, err := client.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "title please"}}, 20)
	require.NoError(t, err)
	assert.Equal(t, "Trip Planning Help", content)
}

func TestCompleteErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"auth_error"}}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, time.Second)
	_, err := client.Complete(context.Background(), nil, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestCompleteNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, time.Second)
	_, err := client.Complete(context.Background(), nil, 0)
	assert.Error(t, err)
}

func TestOptionalAttributionHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://app.example.com", r.Header.Get("HTTP-Referer"))
		assert.Equal(t, "relaychat", r.Header.Get("X-Title"))
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer server.Close()

	client := NewClient(Config{
		BaseURL:  server.URL,
		Model:    "test-model",
		Referer:  "https://app.example.com",
		AppTitle: "relaychat",
	})
	_, err := client.Complete(context.Background(), nil, 0)
	assert.NoError(t, err)
}
