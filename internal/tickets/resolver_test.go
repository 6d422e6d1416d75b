package tickets

import (
	"context"
	"sync"
	"testing"
	"time"

	"omnichat-platform/internal/apperr"
	"omnichat-platform/internal/contacts"
	"omnichat-platform/internal/events"
	"omnichat-platform/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	repo     *MemoryRepo
	pub      *events.MemoryPublisher
	resolver *Resolver
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo: NewMemoryRepo(),
		pub:  events.NewMemoryPublisher(),
		now:  time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	f.repo.SetClock(func() time.Time { return f.now })
	cs := contacts.NewMemoryRepo(
		contacts.Contact{ID: "c1", CompanyID: "co", Name: "Ana Lima", Number: "5511999990001", Channel: "whatsapp"},
		contacts.Contact{ID: "g1", CompanyID: "co", Name: "Team", Number: "120363", Channel: "whatsapp", IsGroup: true},
	)
	f.resolver = NewResolver(f.repo, cs, ResolverOptions{
		Publisher:      f.pub,
		Logger:         logger.Discard(),
		ReopenWindow:   2 * time.Hour,
		ReopenChannels: []Channel{ChannelWhatsApp},
	})
	f.resolver.clock = func() time.Time { return f.now }
	return f
}

func whatsapp(conn string) ResolveInput {
	return ResolveInput{CompanyID: "co", ContactID: "c1", Channel: ChannelWhatsApp, ConnectionID: conn, UnreadDelta: 1, LastMessage: "hi"}
}

func activeFor(repo *MemoryRepo, key string) int {
	n := 0
	for _, t := range repo.All() {
		if t.Status.Active() && t.IdentityKey() == key {
			n++
		}
	}
	return n
}

func TestResolve_CreatesPendingUnassignedTicket(t *testing.T) {
	f := newFixture(t)
	tk, err := f.resolver.Resolve(context.Background(), whatsapp("w1"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, tk.Status)
	assert.Equal(t, KindUnassigned, KindOf(tk.Routing))
	assert.Equal(t, 1, tk.UnreadCount)
	assert.Equal(t, "hi", tk.LastMessage)

	tr, err := f.repo.GetTracking(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tk.ID, tr.TicketID)
	assert.Contains(t, f.pub.Scopes(EventTicket), "company:co")
}

func TestResolve_WhatsAppDedupPerConnection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.resolver.Resolve(ctx, whatsapp("w1"))
	require.NoError(t, err)
	b, err := f.resolver.Resolve(ctx, whatsapp("w1"))
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, 2, b.UnreadCount)

	c, err := f.resolver.Resolve(ctx, whatsapp("w2"))
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestResolve_ConcurrentCallsConvergeOnOneTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers = 16
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tk, err := f.resolver.Resolve(ctx, whatsapp("w1"))
			if assert.NoError(t, err) {
				ids[i] = tk.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, activeFor(f.repo, IdentityKeyFor("c1", ChannelWhatsApp, "w1")))
	tk, err := f.repo.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, workers, tk.UnreadCount)
}

func TestResolve_CrossChannelIndependence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	wa, err := f.resolver.Resolve(ctx, whatsapp("w1"))
	require.NoError(t, err)
	fb, err := f.resolver.Resolve(ctx, ResolveInput{CompanyID: "co", ContactID: "c1", Channel: ChannelFacebook, ConnectionID: "p1"})
	require.NoError(t, err)
	ig, err := f.resolver.Resolve(ctx, ResolveInput{CompanyID: "co", ContactID: "c1", Channel: ChannelInstagram})
	require.NoError(t, err)

	assert.NotEqual(t, wa.ID, fb.ID)
	assert.NotEqual(t, fb.ID, ig.ID)

	// Non-WhatsApp identity ignores the connection.
	fb2, err := f.resolver.Resolve(ctx, ResolveInput{CompanyID: "co", ContactID: "c1", Channel: ChannelFacebook, ConnectionID: "p2"})
	require.NoError(t, err)
	assert.Equal(t, fb.ID, fb2.ID)
	assert.Equal(t, "p2", fb2.ConnectionID)
}

func TestResolve_IdempotentWithoutActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := ResolveInput{CompanyID: "co", ContactID: "c1", Channel: ChannelWhatsApp, ConnectionID: "w1"}

	a, err := f.resolver.Resolve(ctx, in)
	require.NoError(t, err)
	before := len(f.pub.Messages())
	b, err := f.resolver.Resolve(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, f.pub.Messages(), before)
}

func TestResolve_ReopensRecentlyClosedWithinWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk, err := f.resolver.Resolve(ctx, whatsapp("w1"))
	require.NoError(t, err)
	closed := tk
	closed.Status = StatusClosed
	closed.Routing = Unassigned{}
	_, err = f.repo.Update(ctx, closed, StatusPending)
	require.NoError(t, err)
	require.NoError(t, f.repo.SaveTracking(ctx, Tracking{TicketID: tk.ID, CompanyID: "co", Rated: true, Rating: 5}))

	f.now = f.now.Add(90 * time.Minute)
	again, err := f.resolver.Resolve(ctx, whatsapp("w1"))
	require.NoError(t, err)
	assert.Equal(t, tk.ID, again.ID)
	assert.Equal(t, StatusPending, again.Status)
	assert.Equal(t, KindUnassigned, KindOf(again.Routing))

	tr, err := f.repo.GetTracking(ctx, tk.ID)
	require.NoError(t, err)
	assert.False(t, tr.Rated)
}

func TestResolve_CreatesNewTicketAfterWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk, err := f.resolver.Resolve(ctx, whatsapp("w1"))
	require.NoError(t, err)
	closed := tk
	closed.Status = StatusClosed
	_, err = f.repo.Update(ctx, closed, StatusPending)
	require.NoError(t, err)

	f.now = f.now.Add(3 * time.Hour)
	again, err := f.resolver.Resolve(ctx, whatsapp("w1"))
	require.NoError(t, err)
	assert.NotEqual(t, tk.ID, again.ID)
}

func TestResolve_GroupContactGetsGroupStatus(t *testing.T) {
	f := newFixture(t)
	tk, err := f.resolver.Resolve(context.Background(), ResolveInput{CompanyID: "co", ContactID: "g1", Channel: ChannelWhatsApp, ConnectionID: "w1"})
	require.NoError(t, err)
	assert.Equal(t, StatusGroup, tk.Status)
	assert.True(t, tk.IsGroup)
}

func TestResolve_UnknownContactIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolver.Resolve(context.Background(), ResolveInput{CompanyID: "co", ContactID: "nope", Channel: ChannelSMS})
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
	assert.Empty(t, f.repo.All())
}

func TestResolve_RejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.resolver.Resolve(ctx, ResolveInput{CompanyID: "co", ContactID: "c1", Channel: "fax"})
	assert.True(t, apperr.IsValidation(err))

	_, err = f.resolver.Resolve(ctx, ResolveInput{CompanyID: "co", ContactID: "c1", Channel: ChannelWhatsApp})
	assert.True(t, apperr.IsValidation(err))
}
