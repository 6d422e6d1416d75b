package tickets

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRouting_RejectsIllegalRows(t *testing.T) {
	cases := []struct {
		name                string
		kind                RoutingKind
		queue, user, prompt string
	}{
		{name: "bot without queue", kind: KindDepartmentBot},
		{name: "ai without prompt", kind: KindAIAssisted, queue: "q1"},
		{name: "queued without queue", kind: KindQueued},
		{name: "human without user", kind: KindHumanAssigned, queue: "q1"},
		{name: "unknown kind", kind: "robot"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeRouting(tc.kind, tc.queue, tc.user, tc.prompt)
			assert.Error(t, err)
		})
	}
}

func TestDecodeRouting_EmptyKindIsUnassigned(t *testing.T) {
	rs, err := DecodeRouting("", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, Unassigned{}, rs)
}

func TestEncodeRouting(t *testing.T) {
	kind, q, u, p := EncodeRouting(AIAssisted{QueueID: "q1", PromptID: "p1"})
	assert.Equal(t, KindAIAssisted, kind)
	assert.Equal(t, "q1", q)
	assert.Empty(t, u)
	assert.Equal(t, "p1", p)

	rs, err := DecodeRouting(kind, q, u, p)
	require.NoError(t, err)
	assert.Equal(t, AIAssisted{QueueID: "q1", PromptID: "p1"}, rs)
}

func TestTicketJSON_FlattensRouting(t *testing.T) {
	tk := Ticket{ID: "t1", CompanyID: "co", ContactID: "c1", Channel: ChannelWhatsApp, Status: StatusPending, Routing: DepartmentBot{QueueID: "q1"}}
	b, err := json.Marshal(tk)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, "department_bot", out["routing"])
	assert.Equal(t, "q1", out["queue_id"])
	assert.Equal(t, true, out["chatbot"])
	assert.Equal(t, false, out["integration"])
	assert.NotContains(t, out, "user_id")
}

func TestIdentityKeyFor(t *testing.T) {
	assert.Equal(t, "whatsapp:w1:c1", IdentityKeyFor("c1", ChannelWhatsApp, "w1"))
	assert.Equal(t, "facebook:c1", IdentityKeyFor("c1", ChannelFacebook, "p1"))
}

func TestBotCoolingDown(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	engaged := now.Add(-10 * time.Minute)
	tr := Tracking{ChatbotAt: &engaged}

	assert.True(t, tr.BotCoolingDown(now, 30*time.Minute, 1))
	assert.False(t, tr.BotCoolingDown(now, 30*time.Minute, 0))
	assert.False(t, tr.BotCoolingDown(now, 5*time.Minute, 1))
	assert.False(t, Tracking{}.BotCoolingDown(now, 30*time.Minute, 1))
}
