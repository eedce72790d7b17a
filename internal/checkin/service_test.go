package checkin

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/cadence/internal/cache"
	"github.com/petrijr/cadence/internal/dedupe"
	"github.com/petrijr/cadence/internal/engine"
	"github.com/petrijr/cadence/internal/persistence"
	"github.com/petrijr/cadence/internal/schedule"
	"github.com/petrijr/cadence/internal/summary"
	"github.com/petrijr/cadence/pkg/api"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fakeMessenger struct {
	mu       sync.Mutex
	posts    []api.Message
	failPost func(api.Message) bool
	lookups  int

	// afterPost runs outside the lock once a post was accepted.
	afterPost func(api.Message)
}

func (m *fakeMessenger) PostMessage(ctx context.Context, msg api.Message) (api.PostResult, error) {
	m.mu.Lock()
	if m.failPost != nil && m.failPost(msg) {
		m.mu.Unlock()
		return api.PostResult{}, errors.New("channel_is_archived")
	}
	m.posts = append(m.posts, msg)
	hook := m.afterPost
	m.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
	return api.PostResult{TS: "1700000000.000100"}, nil
}

func (m *fakeMessenger) OpenDirectConversation(ctx context.Context, userID string) (string, error) {
	return "D-" + userID, nil
}

func (m *fakeMessenger) GetChannelInfo(ctx context.Context, channelID string) (api.ChannelInfo, error) {
	m.mu.Lock()
	m.lookups++
	m.mu.Unlock()
	return api.ChannelInfo{ID: channelID, Exists: channelID != "C-GONE"}, nil
}

func (m *fakeMessenger) postsTo(prefix string) []api.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []api.Message
	for _, p := range m.posts {
		if strings.HasPrefix(p.Channel, prefix) {
			out = append(out, p)
		}
	}
	return out
}

// 2026-03-02 is a Monday.
var monday0900 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func standup() schedule.Definition {
	return schedule.Definition{
		ID:                   "standup",
		Name:                 "Standup",
		ChannelID:            "C-TEAM",
		TimeUTC:              "09:00",
		Frequency:            schedule.FrequencyWeekdays,
		CollectWindowMinutes: 120,
		ReminderLeadMinutes:  30,
		MaxReminders:         2,
		Participants:         []string{"U1", "U2", "U3"},
	}
}

type harness struct {
	clock     *fakeClock
	engine    api.Engine
	messenger *fakeMessenger
	recorder  *summary.Recorder
	svc       *Service
}

func newHarness(t *testing.T, defs ...schedule.Definition) *harness {
	t.Helper()
	clock := &fakeClock{now: monday0900}
	eng := engine.NewEngineWithConfig(engine.Config{
		Persistence: persistence.Persistence{
			Instances: persistence.NewInMemoryStore(),
			Events:    persistence.NewInMemoryEventStore(),
		},
		Clock: clock.Now,
	})
	m := &fakeMessenger{}
	rec := summary.NewRecorder(10)
	svc := New(Config{
		Engine:      eng,
		Messenger:   m,
		Definitions: defs,
		Summaries:   rec,
		Guard:       dedupe.NewGuardWithClock(time.Minute, clock.Now),
		Channels:    cache.New[string, api.ChannelInfo](cache.Config{MaxSize: 16, DefaultTTL: time.Hour, Clock: clock.Now}),
		Clock:       clock.Now,
	})
	return &harness{clock: clock, engine: eng, messenger: m, recorder: rec, svc: svc}
}

// peer builds a second Service over the same engine and messenger, the way
// another process instance would see them. It has its own guard.
func (h *harness) peer(defs ...schedule.Definition) *Service {
	return New(Config{
		Engine:      h.engine,
		Messenger:   h.messenger,
		Definitions: defs,
		Guard:       dedupe.NewGuardWithClock(time.Minute, h.clock.Now),
		Clock:       h.clock.Now,
	})
}

func (h *harness) run(t *testing.T) *api.WorkflowInstance {
	t.Helper()
	inst, err := h.engine.Get(context.Background(), RunID("standup", monday0900))
	require.NoError(t, err)
	return inst
}

func TestTriggerDue_StartsRunAndPostsPrompt(t *testing.T) {
	h := newHarness(t, standup())
	h.clock.Set(monday0900.Add(3 * time.Minute))

	sum, err := h.svc.TriggerDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Counts["started"])

	inst := h.run(t)
	assert.Equal(t, api.StateCollecting, inst.State)
	assert.Equal(t, int64(2), inst.Version)
	p := inst.Payload.(*api.CheckinPayload)
	assert.Equal(t, monday0900, p.ScheduledFor)
	assert.Equal(t, monday0900.Add(2*time.Hour), p.CollectUntil)
	assert.Equal(t, "1700000000.000100", p.PromptTS)
	assert.Len(t, h.messenger.postsTo("C-TEAM"), 1)
	assert.Equal(t, 1, h.recorder.Len())
}

func TestTriggerDue_IdempotentAcrossTicks(t *testing.T) {
	h := newHarness(t, standup())
	ctx := context.Background()

	h.clock.Set(monday0900.Add(time.Minute))
	_, err := h.svc.TriggerDue(ctx)
	require.NoError(t, err)

	h.clock.Set(monday0900.Add(6 * time.Minute))
	sum, err := h.svc.TriggerDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Counts["already_started"])
	assert.Len(t, h.messenger.postsTo("C-TEAM"), 1)
	assert.Equal(t, 1, h.messenger.lookups, "channel lookup cached")
}

func TestTriggerDue_ConcurrentTicksStartOnce(t *testing.T) {
	h := newHarness(t, standup())
	h.clock.Set(monday0900.Add(2 * time.Minute))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.svc.TriggerDue(context.Background())
		}()
	}
	wg.Wait()

	runs, err := h.engine.List(context.Background(), api.InstanceListOptions{Type: api.WorkflowTypeCheckin})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
	assert.Len(t, h.messenger.postsTo("C-TEAM"), 1)
}

func TestTriggerDue_NotDueAndDisabled(t *testing.T) {
	off := false
	disabled := standup()
	disabled.ID = "retro"
	disabled.Enabled = &off
	h := newHarness(t, standup(), disabled)

	h.clock.Set(time.Date(2026, 3, 7, 9, 3, 0, 0, time.UTC)) // Saturday
	sum, err := h.svc.TriggerDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Counts["not_due"])
	assert.Equal(t, 1, sum.Counts["disabled"])
	assert.Empty(t, h.messenger.postsTo("C"))
}

func TestTriggerDue_PromptFailureMarksRunFailed(t *testing.T) {
	h := newHarness(t, standup())
	h.messenger.failPost = func(api.Message) bool { return true }

	sum, err := h.svc.TriggerDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Counts["failed"])
	require.Len(t, sum.Errors, 1)

	inst := h.run(t)
	assert.Equal(t, api.StateFailed, inst.State)
	assert.Equal(t, api.RunFailed, inst.Payload.(*api.CheckinPayload).Status)
}

func TestTriggerDue_MissingChannel(t *testing.T) {
	def := standup()
	def.ChannelID = "C-GONE"
	h := newHarness(t, def)

	sum, err := h.svc.TriggerDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Counts["failed"])

	runs, err := h.engine.List(context.Background(), api.InstanceListOptions{Type: api.WorkflowTypeCheckin})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRecordResponse(t *testing.T) {
	h := newHarness(t, standup())
	ctx := context.Background()
	_, err := h.svc.TriggerDue(ctx)
	require.NoError(t, err)

	h.clock.Set(monday0900.Add(10 * time.Minute))
	inst, err := h.svc.RecordResponse(ctx, RunID("standup", monday0900), "U2", "shipping the importer")
	require.NoError(t, err)
	p := inst.Payload.(*api.CheckinPayload)
	assert.Equal(t, "shipping the importer", p.Responses["U2"].Text)

	h.clock.Set(monday0900.Add(2 * time.Hour))
	_, err = h.svc.RecordResponse(ctx, RunID("standup", monday0900), "U3", "late")
	assert.ErrorIs(t, err, api.ErrInvalidTransition)

	_, err = h.svc.RecordResponse(ctx, "checkin:missing", "U1", "x")
	assert.ErrorIs(t, err, api.ErrNotFoundOrExpired)
}

func TestRecordResponse_ConcurrentAnswersAllKept(t *testing.T) {
	h := newHarness(t, standup())
	ctx := context.Background()
	_, err := h.svc.TriggerDue(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, who := range []string{"U1", "U2"} {
		wg.Add(1)
		go func(who string) {
			defer wg.Done()
			_, err := h.svc.RecordResponse(ctx, RunID("standup", monday0900), who, "ok")
			errs <- err
		}(who)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	p := h.run(t).Payload.(*api.CheckinPayload)
	assert.Len(t, p.Responses, 2)
}

func TestSendReminders_LeadWindowAndSpacing(t *testing.T) {
	h := newHarness(t, standup())
	ctx := context.Background()
	_, err := h.svc.TriggerDue(ctx)
	require.NoError(t, err)
	_, err = h.svc.RecordResponse(ctx, RunID("standup", monday0900), "U1", "done")
	require.NoError(t, err)

	// Too early: more than the lead time remains.
	h.clock.Set(monday0900.Add(time.Hour))
	sum, err := h.svc.SendReminders(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Counts["reminded"])

	h.clock.Set(monday0900.Add(100 * time.Minute))
	sum, err = h.svc.SendReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Counts["reminded"])
	assert.Len(t, h.messenger.postsTo("D-"), 2)

	h.clock.Set(monday0900.Add(101 * time.Minute))
	sum, err = h.svc.SendReminders(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Counts["reminded"])

	p := h.run(t).Payload.(*api.CheckinPayload)
	require.Len(t, p.Reminders, 1)
	assert.Equal(t, []string{"U2", "U3"}, p.Reminders[0].Participants)
}

func TestSendReminders_FailedDMKeepsLoggedReminder(t *testing.T) {
	h := newHarness(t, standup())
	ctx := context.Background()
	_, err := h.svc.TriggerDue(ctx)
	require.NoError(t, err)

	h.messenger.failPost = func(m api.Message) bool { return m.Channel == "D-U2" }
	h.clock.Set(monday0900.Add(100 * time.Minute))
	sum, err := h.svc.SendReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Counts["reminder_failed"])
	assert.Equal(t, 2, sum.Counts["reminded"])

	p := h.run(t).Payload.(*api.CheckinPayload)
	require.Len(t, p.Reminders, 1)
	assert.Equal(t, []string{"U1", "U2", "U3"}, p.Reminders[0].Participants)
}

func TestSendReminders_ResponseDuringSendKeepsBatch(t *testing.T) {
	h := newHarness(t, standup())
	ctx := context.Background()
	_, err := h.svc.TriggerDue(ctx)
	require.NoError(t, err)
	runID := RunID("standup", monday0900)

	var once sync.Once
	h.messenger.afterPost = func(m api.Message) {
		if m.Channel != "D-U1" {
			return
		}
		once.Do(func() {
			_, err := h.svc.RecordResponse(ctx, runID, "U3", "answered mid-sweep")
			assert.NoError(t, err)
		})
	}

	h.clock.Set(monday0900.Add(100 * time.Minute))
	sum, err := h.svc.SendReminders(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Counts["conflicts"])
	assert.Len(t, h.messenger.postsTo("D-"), 3)

	p := h.run(t).Payload.(*api.CheckinPayload)
	require.Len(t, p.Reminders, 1)
	assert.Contains(t, p.Responses, "U3")

	h.clock.Set(monday0900.Add(101 * time.Minute))
	sum, err = h.svc.SendReminders(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Counts["reminded"])
	assert.Len(t, h.messenger.postsTo("D-"), 3, "spacing gate sees the first batch")
}

func TestSendReminders_PeerSweepDuringSendSendsNothing(t *testing.T) {
	h := newHarness(t, standup())
	ctx := context.Background()
	_, err := h.svc.TriggerDue(ctx)
	require.NoError(t, err)
	other := h.peer(standup())

	var once sync.Once
	var peerSum *api.RunSummary
	h.messenger.afterPost = func(m api.Message) {
		if m.Channel != "D-U1" {
			return
		}
		once.Do(func() {
			var err error
			peerSum, err = other.SendReminders(ctx)
			assert.NoError(t, err)
		})
	}

	h.clock.Set(monday0900.Add(100 * time.Minute))
	_, err = h.svc.SendReminders(ctx)
	require.NoError(t, err)

	require.NotNil(t, peerSum)
	assert.Zero(t, peerSum.Counts["reminded"])
	assert.Len(t, h.messenger.postsTo("D-"), 3)
	assert.Len(t, h.run(t).Payload.(*api.CheckinPayload).Reminders, 1)
}

func TestSendReminders_ClaimRecomputesAfterConflict(t *testing.T) {
	h := newHarness(t, standup())
	ctx := context.Background()
	_, err := h.svc.TriggerDue(ctx)
	require.NoError(t, err)
	h.clock.Set(monday0900.Add(100 * time.Minute))

	stale := h.run(t)
	_, err = h.svc.RecordResponse(ctx, stale.ID, "U2", "done")
	require.NoError(t, err)

	claimed, recipients, err := h.svc.claimReminderBatch(ctx, stale, standup(), h.clock.Now())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, []string{"U1", "U3"}, recipients)

	p := h.run(t).Payload.(*api.CheckinPayload)
	require.Len(t, p.Reminders, 1)
	assert.Equal(t, []string{"U1", "U3"}, p.Reminders[0].Participants)
	assert.Contains(t, p.Responses, "U2")
}

func TestFinalize_PostsDigestOnce(t *testing.T) {
	h := newHarness(t, standup())
	ctx := context.Background()
	_, err := h.svc.TriggerDue(ctx)
	require.NoError(t, err)
	_, err = h.svc.RecordResponse(ctx, RunID("standup", monday0900), "U1", "reviewing PRs")
	require.NoError(t, err)

	h.clock.Set(monday0900.Add(time.Hour))
	sum, err := h.svc.Finalize(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Counts["completed"], "window still open")

	h.clock.Set(monday0900.Add(2 * time.Hour))
	sum, err = h.svc.Finalize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Counts["completed"])

	inst := h.run(t)
	assert.Equal(t, api.StateCompleted, inst.State)
	assert.Equal(t, api.RunCompleted, inst.Payload.(*api.CheckinPayload).Status)

	posts := h.messenger.postsTo("C-TEAM")
	require.Len(t, posts, 2)
	digest := posts[1]
	assert.Equal(t, "1700000000.000100", digest.ThreadTS)
	assert.Contains(t, digest.Text, "1 of 3 responded")
	assert.Contains(t, digest.Text, "reviewing PRs")

	sum, err = h.svc.Finalize(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Counts["completed"])
	assert.Len(t, h.messenger.postsTo("C-TEAM"), 2)
}

func TestFinalize_PostFailureMarksFailed(t *testing.T) {
	h := newHarness(t, standup())
	ctx := context.Background()
	_, err := h.svc.TriggerDue(ctx)
	require.NoError(t, err)

	h.messenger.failPost = func(api.Message) bool { return true }
	h.clock.Set(monday0900.Add(3 * time.Hour))
	sum, err := h.svc.Finalize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Counts["failed"])
	assert.Equal(t, api.StateFailed, h.run(t).State)
}

func TestFinalize_PeerDuringDigestPostDoesNotRepost(t *testing.T) {
	h := newHarness(t, standup())
	ctx := context.Background()
	_, err := h.svc.TriggerDue(ctx)
	require.NoError(t, err)
	other := h.peer(standup())

	var once sync.Once
	var peerSum *api.RunSummary
	h.messenger.afterPost = func(m api.Message) {
		if m.ThreadTS == "" {
			return
		}
		once.Do(func() {
			var err error
			peerSum, err = other.Finalize(ctx)
			assert.NoError(t, err)
		})
	}

	h.clock.Set(monday0900.Add(2 * time.Hour))
	sum, err := h.svc.Finalize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Counts["completed"])

	require.NotNil(t, peerSum)
	assert.Zero(t, peerSum.Counts["completed"])

	var digests int
	for _, m := range h.messenger.postsTo("C-TEAM") {
		if m.ThreadTS != "" {
			digests++
		}
	}
	assert.Equal(t, 1, digests)
	assert.Equal(t, api.StateCompleted, h.run(t).State)
}

func TestFinalize_ConcurrentFinalizersPostOnce(t *testing.T) {
	h := newHarness(t, standup())
	ctx := context.Background()
	_, err := h.svc.TriggerDue(ctx)
	require.NoError(t, err)
	h.clock.Set(monday0900.Add(2 * time.Hour))

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.peer(standup()).Finalize(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, h.messenger.postsTo("C-TEAM"), 2, "prompt and one digest")
	assert.Equal(t, api.StateCompleted, h.run(t).State)
}

func TestFinalize_ClaimIsExclusive(t *testing.T) {
	h := newHarness(t, standup())
	ctx := context.Background()
	_, err := h.svc.TriggerDue(ctx)
	require.NoError(t, err)
	h.clock.Set(monday0900.Add(2 * time.Hour))

	claimed, err := h.svc.claimFinalize(ctx, h.run(t), h.clock.Now())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, api.StateAwaitingResponse, claimed.State)
	assert.Equal(t, api.RunFinalizing, claimed.Payload.(*api.CheckinPayload).Status)

	again, err := h.svc.claimFinalize(ctx, h.run(t), h.clock.Now())
	require.NoError(t, err)
	assert.Nil(t, again)

	sum, err := h.svc.SendReminders(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Counts["reminded"])
}

func TestRunID(t *testing.T) {
	berlin := time.FixedZone("CET", 3600)
	got := RunID("standup", time.Date(2026, 3, 2, 10, 0, 0, 0, berlin))
	assert.Equal(t, "checkin:standup:2026-03-02T09:00:00Z", got)
}
