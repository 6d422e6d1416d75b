package schedules

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"omnichat-platform/internal/apperr"
	"omnichat-platform/internal/contacts"
	"omnichat-platform/internal/jobqueue"
	"omnichat-platform/internal/tenants"
	"omnichat-platform/internal/tickets"
	"omnichat-platform/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessenger struct {
	mu     sync.Mutex
	bodies []string
	err    error
}

func (m *fakeMessenger) SendToContact(ctx context.Context, companyID, connectionID, contactID, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.bodies = append(m.bodies, body)
	return nil
}

func (m *fakeMessenger) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.bodies...)
}

type fixture struct {
	repo    *MemoryRepo
	jobs    *jobqueue.MemoryQueue
	msgr    *fakeMessenger
	svc     *Service
	scanner *Scanner
	deliver *Deliverer
	now     time.Time
}

const grace = 5 * time.Second

// The company sits at UTC-3: 12:00 UTC is 09:00 on the tenant's wall clock.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo: NewMemoryRepo(),
		jobs: jobqueue.NewMemoryQueue(),
		msgr: &fakeMessenger{},
		now:  time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.repo.clock = clock
	f.jobs.SetClock(clock)

	cs := contacts.NewMemoryRepo(contacts.Contact{ID: "c1", CompanyID: "co", Name: "Ana Lima", Number: "5511999990001", Channel: "whatsapp"})
	deps := Deps{
		Contacts:  cs,
		Companies: tenants.NewMemoryRepo(tenants.Company{ID: "co", Timezone: "America/Sao_Paulo"}),
		Tickets: tickets.NewResolver(tickets.NewMemoryRepo(), cs, tickets.ResolverOptions{
			Logger: logger.Discard(),
		}),
		Messenger: f.msgr,
		Logger:    logger.Discard(),
	}
	f.svc = NewService(f.repo, deps)
	f.svc.clock = clock
	f.scanner = NewScanner(f.repo, deps.Companies, f.jobs, ScannerConfig{Grace: grace}, logger.Discard())
	f.scanner.clock = clock
	f.deliver = NewDeliverer(f.repo, deps)
	f.deliver.clock = clock
	return f
}

// local builds a tenant wall-clock time on the fixture day.
func local(hour, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
}

func (f *fixture) create(t *testing.T, kind ReminderKind, sendAt time.Time) Item {
	t.Helper()
	it, err := f.svc.Create(context.Background(), CreateInput{
		CompanyID: "co", ContactID: "c1", ConnectionID: "conn-1",
		Body: "Weekly sync", SendAt: sendAt, ReminderKind: kind,
	})
	require.NoError(t, err)
	return it
}

func (f *fixture) status(t *testing.T, id string) Status {
	t.Helper()
	it, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	return it.Status
}

func (f *fixture) runJobs(t *testing.T) int {
	t.Helper()
	f.now = f.now.Add(grace + time.Second)
	return f.jobs.RunDue(context.Background(), TopicDeliver, f.deliver.Handle)
}

func TestCreate_StartItemArmsReminder(t *testing.T) {
	f := newFixture(t)
	root := f.create(t, KindStart, local(10, 0))
	assert.Equal(t, ReminderArmed, root.ReminderState)

	set, err := f.repo.ListSet(context.Background(), root.ID)
	require.NoError(t, err)
	require.Len(t, set, 2)
	reminder := set[0]
	assert.Equal(t, KindReminder, reminder.ReminderKind)
	assert.Equal(t, root.ID, reminder.ParentID)
	assert.Equal(t, local(9, 50), reminder.SendAt)
	assert.Equal(t, StatusPending, reminder.Status)
}

func TestCreate_ReminderInThePastIsSkipped(t *testing.T) {
	f := newFixture(t)
	root := f.create(t, KindStart, local(9, 5))
	assert.Equal(t, ReminderSkipped, root.ReminderState)

	set, err := f.repo.ListSet(context.Background(), root.ID)
	require.NoError(t, err)
	assert.Len(t, set, 1)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateInput{CompanyID: "co", ContactID: "c1", Body: "x", SendAt: local(8, 59)})
	assert.True(t, apperr.IsValidation(err), "past send_at: %v", err)

	_, err = f.svc.Create(ctx, CreateInput{CompanyID: "co", ContactID: "c1", Body: "  ", SendAt: local(10, 0)})
	assert.True(t, apperr.IsValidation(err))

	_, err = f.svc.Create(ctx, CreateInput{CompanyID: "co", ContactID: "c1", Body: "x", SendAt: local(10, 0), ReminderKind: KindReminder})
	assert.True(t, apperr.IsValidation(err))

	_, err = f.svc.Create(ctx, CreateInput{CompanyID: "co", ContactID: "nobody", Body: "x", SendAt: local(10, 0)})
	assert.True(t, apperr.IsNotFound(err))
}

func TestCreate_ImmediateUsesTenantNow(t *testing.T) {
	f := newFixture(t)
	it := f.create(t, KindImmediate, time.Time{})
	assert.Equal(t, local(9, 0), it.SendAt)
}

func TestSweep_ComparesInTenantTimezone(t *testing.T) {
	f := newFixture(t)
	it := f.create(t, KindNone, local(10, 0))

	// 10:00 is before 12:00 UTC but still an hour ahead on the tenant clock.
	n, err := f.scanner.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, StatusPending, f.status(t, it.ID))

	f.now = f.now.Add(time.Hour)
	n, err = f.scanner.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, StatusQueued, f.status(t, it.ID))
}

func TestSweep_ItemDueExactlyNowIsEnqueued(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.CreateSet(context.Background(), []Item{{
		ID: "s1", CompanyID: "co", ContactID: "c1", ConnectionID: "conn-1",
		Body: "now", SendAt: local(9, 0), Status: StatusPending, ReminderKind: KindNone,
	}}))

	n, err := f.scanner.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	jobs := f.jobs.Jobs(TopicDeliver)
	require.Len(t, jobs, 1)
	assert.Equal(t, "s1", jobs[0].Ref)
	assert.Equal(t, f.now.Add(grace), jobs[0].RunAt)

	it, err := f.repo.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, jobs[0].ID, it.JobID)
}

func TestSweep_ConcurrentSweepsEnqueueOnce(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.CreateSet(context.Background(), []Item{{
		ID: "s1", CompanyID: "co", ContactID: "c1", ConnectionID: "conn-1",
		Body: "late", SendAt: local(8, 59), Status: StatusPending, ReminderKind: KindNone,
	}}))

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := f.scanner.Sweep(context.Background())
			assert.NoError(t, err)
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, total)
	assert.Len(t, f.jobs.Jobs(TopicDeliver), 1)
	assert.Equal(t, StatusQueued, f.status(t, "s1"))
}

func TestSweep_SkipsItemsWithJobInFlight(t *testing.T) {
	f := newFixture(t)
	it := f.create(t, KindNone, local(9, 0))
	_, err := f.jobs.Enqueue(context.Background(), TopicDeliver, DeliverPayload{ItemID: it.ID}, jobqueue.Options{Ref: it.ID, Delay: time.Minute})
	require.NoError(t, err)

	n, err := f.scanner.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, StatusPending, f.status(t, it.ID))
}

func TestSweep_EnqueueFailureRevertsToPending(t *testing.T) {
	f := newFixture(t)
	it := f.create(t, KindNone, local(9, 0))

	f.jobs.FailEnqueue(errors.New("redis down"))
	n, err := f.scanner.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, StatusPending, f.status(t, it.ID))

	f.jobs.FailEnqueue(nil)
	n, err = f.scanner.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSweep_RequeuesQueuedItemWithoutJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	it := f.create(t, KindNone, local(9, 0))

	// marked QUEUED, then the process died before the job was enqueued
	won, err := f.repo.MarkQueued(ctx, it.ID)
	require.NoError(t, err)
	require.True(t, won)

	n, err := f.scanner.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, f.jobs.Jobs(TopicDeliver))

	f.now = f.now.Add(6 * time.Minute)
	n, err = f.scanner.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, StatusQueued, f.status(t, it.ID))
	require.Len(t, f.jobs.Jobs(TopicDeliver), 1)

	assert.Equal(t, 1, f.runJobs(t))
	assert.Equal(t, StatusSent, f.status(t, it.ID))
	assert.Len(t, f.msgr.sent(), 1)
}

func TestSweep_RequeuesAfterJobDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	it := f.create(t, KindNone, local(9, 0))
	_, err := f.scanner.Sweep(ctx)
	require.NoError(t, err)

	fail := func(ctx context.Context, j jobqueue.Job) error { return errors.New("worker crashed") }
	for i := 0; i < 3; i++ {
		f.now = f.now.Add(time.Minute)
		f.jobs.RunDue(ctx, TopicDeliver, fail)
	}
	require.Empty(t, f.jobs.Jobs(TopicDeliver))
	assert.Equal(t, StatusQueued, f.status(t, it.ID))

	f.now = f.now.Add(5 * time.Minute)
	n, err := f.scanner.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.jobs.Jobs(TopicDeliver), 1)
}

func TestSweep_QueuedItemWithLiveJobIsLeftAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	it := f.create(t, KindNone, local(9, 0))
	_, err := f.scanner.Sweep(ctx)
	require.NoError(t, err)
	jobs := f.jobs.Jobs(TopicDeliver)
	require.Len(t, jobs, 1)

	f.now = f.now.Add(10 * time.Minute)
	n, err := f.scanner.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, jobs, f.jobs.Jobs(TopicDeliver))
	assert.Equal(t, StatusQueued, f.status(t, it.ID))
}

func TestDeliver_SendsOnceAndMarksSent(t *testing.T) {
	f := newFixture(t)
	it := f.create(t, KindStart, local(9, 5))
	f.now = f.now.Add(5 * time.Minute)

	_, err := f.scanner.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.runJobs(t))

	got, err := f.repo.Get(context.Background(), it.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, got.Status)
	require.NotNil(t, got.SentAt)
	assert.NotEmpty(t, got.TicketID)
	assert.Equal(t, []string{"Starting now: Weekly sync"}, f.msgr.sent())

	require.NoError(t, f.deliver.Deliver(context.Background(), it.ID))
	assert.Len(t, f.msgr.sent(), 1)
}

func TestDeliver_FailureMarksErrorWithoutRetry(t *testing.T) {
	f := newFixture(t)
	it := f.create(t, KindNone, local(9, 0))
	f.msgr.err = apperr.Transport("gateway.Send", errors.New("502"))

	_, err := f.scanner.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.runJobs(t))

	got, err := f.repo.Get(context.Background(), it.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.Nil(t, got.SentAt)
	assert.Contains(t, got.LastError, "502")
	assert.Empty(t, f.jobs.Jobs(TopicDeliver))

	// ERROR items are not picked up again.
	n, err := f.scanner.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCancel_SetCancelsReminderAndNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	root := f.create(t, KindStart, local(10, 0))
	set, err := f.repo.ListSet(context.Background(), root.ID)
	require.NoError(t, err)
	reminder := set[0]

	got, err := f.svc.Cancel(context.Background(), reminder.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, StatusCancelled, f.status(t, root.ID))
	require.Len(t, f.msgr.sent(), 1)
	assert.Contains(t, f.msgr.sent()[0], "Cancelled")

	_, err = f.svc.Cancel(context.Background(), root.ID)
	require.NoError(t, err)
	assert.Len(t, f.msgr.sent(), 1)

	f.now = f.now.Add(2 * time.Hour)
	n, err := f.scanner.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	require.NoError(t, f.deliver.Deliver(context.Background(), root.ID))
	require.NoError(t, f.deliver.Deliver(context.Background(), reminder.ID))
	assert.Equal(t, StatusCancelled, f.status(t, root.ID))
	assert.Equal(t, StatusCancelled, f.status(t, reminder.ID))
	assert.Len(t, f.msgr.sent(), 1)
}

func TestCancel_QueuedItemDeliveryBecomesNoop(t *testing.T) {
	f := newFixture(t)
	it := f.create(t, KindNone, local(9, 0))
	_, err := f.scanner.Sweep(context.Background())
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), it.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.runJobs(t))
	assert.Equal(t, StatusCancelled, f.status(t, it.ID))
	assert.Empty(t, f.msgr.sent())
}

func TestCancel_SentItemIsConflict(t *testing.T) {
	f := newFixture(t)
	it := f.create(t, KindNone, local(9, 0))
	_, err := f.scanner.Sweep(context.Background())
	require.NoError(t, err)
	f.runJobs(t)

	_, err = f.svc.Cancel(context.Background(), it.ID)
	assert.True(t, apperr.IsConflict(err))
	assert.Equal(t, StatusSent, f.status(t, it.ID))
}

func TestReschedule_ReplacesWholeSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.create(t, KindStart, local(10, 0))
	oldSet, err := f.repo.ListSet(ctx, old.ID)
	require.NoError(t, err)

	fresh, err := f.svc.Reschedule(ctx, oldSet[0].ID, local(11, 0))
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, fresh.ID)
	assert.Equal(t, local(11, 0), fresh.SendAt)

	for _, it := range oldSet {
		_, err := f.repo.Get(ctx, it.ID)
		assert.True(t, apperr.IsNotFound(err))
		// a stale job for a replaced item is a no-op
		require.NoError(t, f.deliver.Deliver(ctx, it.ID))
	}

	set, err := f.repo.ListSet(ctx, fresh.ID)
	require.NoError(t, err)
	require.Len(t, set, 2)
	assert.Equal(t, local(10, 50), set[0].SendAt)

	_, err = f.svc.Reschedule(ctx, fresh.ID, local(8, 0))
	assert.True(t, apperr.IsValidation(err))
}

func TestReschedule_ErrorItemGetsAFreshSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	it := f.create(t, KindNone, local(9, 0))
	f.msgr.err = apperr.Transport("gateway.Send", errors.New("502"))
	_, err := f.scanner.Sweep(ctx)
	require.NoError(t, err)
	f.runJobs(t)
	require.Equal(t, StatusError, f.status(t, it.ID))

	f.msgr.err = nil
	fresh, err := f.svc.Reschedule(ctx, it.ID, local(9, 30))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, fresh.Status)
	_, err = f.repo.Get(ctx, it.ID)
	assert.True(t, apperr.IsNotFound(err))

	f.now = time.Date(2026, 3, 2, 12, 30, 0, 0, time.UTC)
	n, err := f.scanner.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	f.runJobs(t)
	assert.Equal(t, StatusSent, f.status(t, fresh.ID))
}

func TestReschedule_StartItemAfterReminderSent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.create(t, KindStart, local(10, 0))
	set, err := f.repo.ListSet(ctx, root.ID)
	require.Len(t, set, 2)
	reminder := set[0]
	_, err = f.repo.MarkSent(ctx, reminder.ID, "t1", f.now)
	require.NoError(t, err)
	require.Equal(t, StatusSent, f.status(t, reminder.ID))

	fresh, err := f.svc.Reschedule(ctx, root.ID, local(11, 0))
	require.NoError(t, err)
	assert.Equal(t, local(11, 0), fresh.SendAt)
	_, err = f.repo.Get(ctx, reminder.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestReschedule_SentOrCancelledRootIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sent := f.create(t, KindNone, local(9, 0))
	_, err := f.repo.MarkSent(ctx, sent.ID, "t1", f.now)
	require.NoError(t, err)
	_, err = f.svc.Reschedule(ctx, sent.ID, local(11, 0))
	assert.True(t, apperr.IsConflict(err))

	cancelled := f.create(t, KindNone, local(10, 0))
	_, err = f.svc.Cancel(ctx, cancelled.ID)
	require.NoError(t, err)
	_, err = f.svc.Reschedule(ctx, cancelled.ID, local(11, 0))
	assert.True(t, apperr.IsConflict(err))
}

func TestFormatBody(t *testing.T) {
	it := Item{Body: " Standup ", SendAt: local(9, 50)}
	assert.Equal(t, "Standup", FormatBody(it))

	it.ReminderKind = KindStart
	assert.Equal(t, "Starting now: Standup", FormatBody(it))

	it.ReminderKind = KindReminder
	assert.Equal(t, "Reminder: starts in 10 minutes (10:00).\nStandup", FormatBody(it))
}

func TestWallClock(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*3600)
	got := WallClock(time.Date(2026, 3, 2, 1, 30, 0, 0, time.UTC), loc)
	assert.Equal(t, time.Date(2026, 3, 1, 22, 30, 0, 0, time.UTC), got)
}
