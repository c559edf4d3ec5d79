package heartbeat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dootlabs/doot/pkg/schedule"
	"github.com/dootlabs/doot/pkg/session"
	"github.com/dootlabs/doot/pkg/store"
)

type stubExecutor struct {
	reply   string
	err     error
	prompts []string
}

func (e *stubExecutor) Execute(_ context.Context, history []session.Message, _ string) ([]session.Message, string, error) {
	e.prompts = append(e.prompts, history[len(history)-1].Content)
	if e.err != nil {
		return nil, "", e.err
	}
	return history, e.reply, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *recordingNotifier) Send(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, text)
	return nil
}

type recordingDispatcher struct {
	entries []schedule.Entry
}

func (d *recordingDispatcher) Dispatch(entry schedule.Entry) bool {
	d.entries = append(d.entries, entry)
	return true
}

type fixture struct {
	service    *Service
	store      *store.Store
	executor   *stubExecutor
	notifier   *recordingNotifier
	dispatcher *recordingDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	engine, err := schedule.NewEngine(st, "UTC", "schedule.json", "schedule_last_run.json")
	require.NoError(t, err)

	executor := &stubExecutor{reply: SentinelOK}
	notifier := &recordingNotifier{}
	dispatcher := &recordingDispatcher{}
	svc := New(30*time.Minute, 0, "", st, executor, engine, dispatcher, notifier)
	return &fixture{service: svc, store: st, executor: executor, notifier: notifier, dispatcher: dispatcher}
}

func TestSentinelReplyStaysQuiet(t *testing.T) {
	f := newFixture(t)
	f.executor.reply = SentinelOK

	f.service.tick()
	assert.Empty(t, f.notifier.sent)
}

func TestSentinelPrefixAndEmptyStayQuiet(t *testing.T) {
	f := newFixture(t)

	f.executor.reply = SentinelOK + " - nothing going on today."
	f.service.tick()
	assert.Empty(t, f.notifier.sent)

	f.executor.reply = "   "
	f.service.tick()
	assert.Empty(t, f.notifier.sent)
}

func TestNonSentinelReplyIsNotifiedExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.executor.reply = "Two unread emails need a response."

	f.service.tick()
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "Two unread emails need a response.", f.notifier.sent[0])
}

func TestChecklistTurnFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.executor.err = errors.New("model unavailable")

	// never surfaces to the notification channel
	f.service.tick()
	assert.Empty(t, f.notifier.sent)
}

func TestChecklistIsLoadedFreshEachTick(t *testing.T) {
	f := newFixture(t)

	f.service.tick()
	require.Len(t, f.executor.prompts, 1)
	assert.Contains(t, f.executor.prompts[0], "Check email and calendar")

	require.NoError(t, f.store.Write("HEARTBEAT.md", []byte("Watch the build dashboard.")))
	f.service.tick()
	require.Len(t, f.executor.prompts, 2)
	assert.Contains(t, f.executor.prompts[1], "Watch the build dashboard.")
}

func TestCustomChecklistKey(t *testing.T) {
	f := newFixture(t)
	f.service.checklistKey = "agenda/CHECKS.md"
	require.NoError(t, f.store.Write("agenda/CHECKS.md", []byte("Review the on-call queue.")))

	f.service.tick()
	require.Len(t, f.executor.prompts, 1)
	assert.Contains(t, f.executor.prompts[0], "Review the on-call queue.")
}

func TestTickDispatchesDueTasks(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Write("schedule.json",
		[]byte(`[{"time":"00:00","task_id":"report","recurrence":"daily","delivery":"email"}]`)))

	f.service.tick()
	require.Len(t, f.dispatcher.entries, 1)
	assert.Equal(t, "report", f.dispatcher.entries[0].TaskID)
}

func TestTurnFailureDoesNotBlockScheduleDispatch(t *testing.T) {
	f := newFixture(t)
	f.executor.err = errors.New("model unavailable")
	require.NoError(t, f.store.Write("schedule.json",
		[]byte(`[{"time":"00:00","task_id":"report","recurrence":"daily","delivery":"email"}]`)))

	f.service.tick()
	assert.Len(t, f.dispatcher.entries, 1)
}

func TestDisabledIntervalNeverTicks(t *testing.T) {
	f := newFixture(t)
	f.service.interval = 0

	f.service.Start()
	defer f.service.Stop()
	assert.Nil(t, f.service.cron)
}

func TestFixedClockDueEvaluation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Write("schedule.json",
		[]byte(`[{"time":"07:00","task_id":"report","recurrence":"daily","delivery":"email"}]`)))

	f.service.now = func() time.Time {
		return time.Date(2026, 8, 31, 6, 30, 0, 0, time.UTC)
	}
	f.service.tick()
	assert.Empty(t, f.dispatcher.entries)

	f.service.now = func() time.Time {
		return time.Date(2026, 8, 31, 7, 30, 0, 0, time.UTC)
	}
	f.service.tick()
	assert.Len(t, f.dispatcher.entries, 1)
}
