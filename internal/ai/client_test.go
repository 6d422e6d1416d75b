package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"omnichat-platform/internal/apperr"
	"omnichat-platform/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessages_TrimsHistory(t *testing.T) {
	p := Prompt{Instructions: "be brief", HistoryLimit: 2}
	history := []Turn{
		{Role: RoleUser, Content: "a"},
		{Role: RoleAssistant, Content: "b"},
		{Role: RoleUser, Content: "c"},
	}
	got := BuildMessages(p, history, "d")
	require.Len(t, got, 4)
	assert.Equal(t, RoleSystem, got[0].Role)
	assert.Equal(t, "b", got[1].Content)
	assert.Equal(t, Turn{Role: RoleUser, Content: "d"}, got[3])
}

func TestPrompt_WantsHandoff(t *testing.T) {
	p := Prompt{HandoffPhrase: "Transferring you"}
	assert.True(t, p.WantsHandoff("ok, transferring YOU to an agent"))
	assert.False(t, p.WantsHandoff("hello"))
	assert.False(t, Prompt{}.WantsHandoff("anything"))
}

func TestOpenAIClient_Complete(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  hi there "}}]}`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(srv.URL, "key", "gpt-test", time.Second, logger.Discard())
	require.NoError(t, err)

	reply, err := c.Complete(context.Background(), Prompt{ID: "p1", Instructions: "sys"}, nil, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi there", reply)
	assert.Equal(t, "gpt-test", got.Model)
	assert.Len(t, got.Messages, 2)
}

func TestOpenAIClient_ErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(srv.URL, "key", "m", time.Second, nil)
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), Prompt{ID: "p1"}, nil, "hello")
	assert.True(t, apperr.IsTransport(err))
}

func TestMemoryRepo_ScopesByCompany(t *testing.T) {
	r := NewMemoryRepo(Prompt{ID: "p1", CompanyID: "co"})
	_, err := r.Get(context.Background(), "co", "p1")
	require.NoError(t, err)
	_, err = r.Get(context.Background(), "other", "p1")
	assert.True(t, apperr.IsNotFound(err))
}
