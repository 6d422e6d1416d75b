package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"omnichat-platform/internal/apperr"
	"omnichat-platform/internal/connections"
	"omnichat-platform/internal/contacts"
	"omnichat-platform/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayClient_SendPostsTextWithToken(t *testing.T) {
	var gotToken string
	var got sendTextRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/send/text", r.URL.Path)
		gotToken = r.Header.Get("Token")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"Id":"msg-1"}}`))
	}))
	defer srv.Close()

	g, err := NewGatewayClient(srv.URL, time.Second, logger.Discard())
	require.NoError(t, err)

	h, err := g.Send(context.Background(), connections.Connection{ID: "w1", Token: "tok"}, Identity{Address: "5511999990001"}, "hello")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", h.ID)
	assert.Equal(t, "tok", gotToken)
	assert.Equal(t, sendTextRequest{Phone: "5511999990001", Body: "hello"}, got)
}

func TestGatewayClient_HTTPErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	g, err := NewGatewayClient(srv.URL, time.Second, logger.Discard())
	require.NoError(t, err)
	_, err = g.Send(context.Background(), connections.Connection{ID: "w1", Token: "tok"}, Identity{Address: "1"}, "x")
	assert.True(t, apperr.IsTransport(err))
}

func TestGatewayClient_RequiresToken(t *testing.T) {
	g, err := NewGatewayClient("http://127.0.0.1:1", time.Second, nil)
	require.NoError(t, err)
	_, err = g.Send(context.Background(), connections.Connection{ID: "w1"}, Identity{Address: "1"}, "x")
	assert.True(t, apperr.IsValidation(err))

	_, err = NewGatewayClient("", 0, nil)
	assert.Error(t, err)
}

func TestIdentityOf(t *testing.T) {
	id, err := IdentityOf(contacts.Contact{ID: "g", Channel: "whatsapp", Number: "120363", IsGroup: true})
	require.NoError(t, err)
	assert.Equal(t, "120363@g.us", id.Address)

	id, err = IdentityOf(contacts.Contact{ID: "c", Channel: "facebook", Number: "1", Address: "psid-9"})
	require.NoError(t, err)
	assert.Equal(t, "psid-9", id.Address)

	_, err = IdentityOf(contacts.Contact{ID: "c"})
	assert.True(t, apperr.IsValidation(err))
}

func TestParseEnvelope_Message(t *testing.T) {
	body := `{"type":"Message","message":{"id":"m1","from":" +5511999990001 ","name":"Ana","body":"1"}}`
	env, err := ParseEnvelope(strings.NewReader(body), "whatsapp")
	require.NoError(t, err)
	assert.Equal(t, EnvelopeMessage, env.Type)
	assert.Equal(t, "5511999990001", env.Message.From)
	assert.Equal(t, "whatsapp", env.Message.Channel)
}

func TestParseEnvelope_Rejects(t *testing.T) {
	for _, body := range []string{
		`not json`,
		`{"type":"presence"}`,
		`{"type":"message"}`,
		`{"type":"message","message":{"body":"x"}}`,
		`{"type":"contact","contact":{"name":"x"}}`,
	} {
		_, err := ParseEnvelope(strings.NewReader(body), "whatsapp")
		assert.True(t, apperr.IsValidation(err), body)
	}
}

func TestInboundMessage_OccurredAt(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, now, InboundMessage{}.OccurredAt(now))
	assert.Equal(t, time.Unix(1767225600, 0).UTC(), InboundMessage{Timestamp: 1767225600}.OccurredAt(now))
}
