package judge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaudeJudgeRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))

		var req messagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Model)
		require.Len(t, req.Messages, 1)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{
				{"type": "text", "text": `{"verdict":"MODIFY","confidence":0.7,"reason":"crowded","modified":{"size_krw":50000}}`},
			},
		})
	}))
	defer srv.Close()

	c := NewClaude(srv.URL, "test-model", "test-key")
	d, err := c.Judge(context.Background(), testSignal(), Context{FearGreedIndex: 40})
	require.NoError(t, err)
	assert.Equal(t, VerdictModify, d.Verdict)
	require.NotNil(t, d.Modified)
	assert.Equal(t, 50_000.0, d.Modified.SizeKRW)
}

func TestClaudeJudgeHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"type":"overloaded_error"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClaude(srv.URL, "test-model", "test-key")
	_, err := c.Judge(context.Background(), testSignal(), Context{})
	assert.Error(t, err)
}
