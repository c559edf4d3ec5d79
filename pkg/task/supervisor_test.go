package task

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
	mu    sync.Mutex
	reply string
	err   error
	hold  chan struct{}
	calls int
}

func (e *stubExecutor) Execute(_ context.Context, history []session.Message, _ string) ([]session.Message, string, error) {
	e.mu.Lock()
	e.calls++
	reply, err, hold := e.reply, e.err, e.hold
	e.mu.Unlock()
	if hold != nil {
		<-hold
	}
	if err != nil {
		return nil, "", err
	}
	return history, reply, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	sent   []string
	err    error
	onSend func()
}

func (n *recordingNotifier) Send(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.onSend != nil {
		n.onSend()
	}
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, text)
	return nil
}

type fixture struct {
	supervisor *Supervisor
	engine     *schedule.Engine
	store      *store.Store
	executor   *stubExecutor
	notifier   *recordingNotifier
	done       chan TaskRun
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	engine, err := schedule.NewEngine(st, "UTC", "schedule.json", "schedule_last_run.json")
	require.NoError(t, err)

	executor := &stubExecutor{reply: "today's report body"}
	notifier := &recordingNotifier{}
	sup := NewSupervisor(st, executor, engine, notifier, nil, cfg)

	done := make(chan TaskRun, 8)
	sup.OnDone = func(run TaskRun) { done <- run }

	return &fixture{supervisor: sup, engine: engine, store: st, executor: executor, notifier: notifier, done: done}
}

func (f *fixture) waitDone(t *testing.T) TaskRun {
	t.Helper()
	select {
	case run := <-f.done:
		return run
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
		return TaskRun{}
	}
}

func today() string {
	return time.Now().UTC().Format(schedule.DateLayout)
}

func reportEntry(delivery string) schedule.Entry {
	return schedule.Entry{Time: "07:00", TaskID: TaskReport, Recurrence: schedule.RecurrenceDaily, Delivery: delivery}
}

func TestSuccessfulRunMarksLedgerAndSavesArtifact(t *testing.T) {
	f := newFixture(t, Config{Location: "Providence, RI", MarkFailedRuns: true})

	require.True(t, f.supervisor.Dispatch(reportEntry(schedule.DeliveryNone)))
	run := f.waitDone(t)

	assert.Equal(t, StatusSucceeded, run.Status)
	assert.Equal(t, TaskReport, run.TaskID)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, today(), f.engine.LastRun(TaskReport))

	data, ok, err := f.store.Read("reports/" + today() + ".md")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "today's report body\n", string(data))
}

func TestOncePerDay(t *testing.T) {
	f := newFixture(t, Config{MarkFailedRuns: true})
	require.NoError(t, f.store.Write("schedule.json",
		[]byte(`[{"time":"00:00","task_id":"report","recurrence":"daily","delivery":"none"}]`)))

	require.Len(t, f.engine.Due(time.Now()), 1)

	require.True(t, f.supervisor.Dispatch(reportEntry(schedule.DeliveryNone)))
	f.waitDone(t)

	// same calendar day: never due again
	assert.Empty(t, f.engine.Due(time.Now()))
	// the day after: due again
	assert.Len(t, f.engine.Due(time.Now().AddDate(0, 0, 1)), 1)
}

func TestLedgerWrittenBeforeDelivery(t *testing.T) {
	f := newFixture(t, Config{MarkFailedRuns: true})

	var ledgerAtDelivery string
	f.notifier.onSend = func() {
		ledgerAtDelivery = f.engine.LastRun(TaskReport)
	}
	f.notifier.err = errors.New("chat unreachable")

	require.True(t, f.supervisor.Dispatch(reportEntry(schedule.DeliveryChat)))
	run := f.waitDone(t)

	// delivery failed, but the day is already recorded: no retry storm
	assert.Equal(t, StatusSucceeded, run.Status)
	assert.Equal(t, today(), ledgerAtDelivery)
	assert.Equal(t, today(), f.engine.LastRun(TaskReport))
}

func TestChatDeliverySendsReportText(t *testing.T) {
	f := newFixture(t, Config{MarkFailedRuns: true})

	require.True(t, f.supervisor.Dispatch(reportEntry(schedule.DeliveryChat)))
	f.waitDone(t)

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "today's report body", f.notifier.sent[0])
}

func TestDuplicateDispatchIsStructurallyPrevented(t *testing.T) {
	f := newFixture(t, Config{MarkFailedRuns: true})
	f.executor.hold = make(chan struct{})

	require.True(t, f.supervisor.Dispatch(reportEntry(schedule.DeliveryNone)))
	assert.True(t, f.supervisor.Running(TaskReport))

	// second due detection while the first run is in flight
	assert.False(t, f.supervisor.Dispatch(reportEntry(schedule.DeliveryNone)))

	close(f.executor.hold)
	f.waitDone(t)
	assert.False(t, f.supervisor.Running(TaskReport))
}

func TestFailedTurnMarksLedgerWhenPolicySet(t *testing.T) {
	f := newFixture(t, Config{MarkFailedRuns: true})
	f.executor.err = errors.New("model timeout")

	require.True(t, f.supervisor.Dispatch(reportEntry(schedule.DeliveryEmail)))
	run := f.waitDone(t)

	assert.Equal(t, StatusFailed, run.Status)
	// starvation-avoidance policy: the day is burned even on failure
	assert.Equal(t, today(), f.engine.LastRun(TaskReport))
}

func TestFailedTurnRetriesWhenPolicyUnset(t *testing.T) {
	f := newFixture(t, Config{MarkFailedRuns: false})
	f.executor.err = errors.New("model timeout")

	require.True(t, f.supervisor.Dispatch(reportEntry(schedule.DeliveryEmail)))
	run := f.waitDone(t)

	assert.Equal(t, StatusFailed, run.Status)
	assert.Empty(t, f.engine.LastRun(TaskReport))
}

func TestEmptyOutputIsRetriedEitherWay(t *testing.T) {
	f := newFixture(t, Config{MarkFailedRuns: true})
	f.executor.reply = "   "

	require.True(t, f.supervisor.Dispatch(reportEntry(schedule.DeliveryNone)))
	run := f.waitDone(t)

	assert.Equal(t, StatusFailed, run.Status)
	assert.Empty(t, f.engine.LastRun(TaskReport))
}

func TestUnknownTaskIDFailsWithoutLedgerWrite(t *testing.T) {
	f := newFixture(t, Config{MarkFailedRuns: true})

	entry := schedule.Entry{Time: "07:00", TaskID: "mystery", Recurrence: schedule.RecurrenceDaily, Delivery: schedule.DeliveryNone}
	require.True(t, f.supervisor.Dispatch(entry))
	run := f.waitDone(t)

	assert.Equal(t, StatusFailed, run.Status)
	assert.Empty(t, f.engine.LastRun("mystery"))
	assert.Zero(t, f.executor.calls)
}

func TestCustomPromptTemplateSubstitution(t *testing.T) {
	f := newFixture(t, Config{Location: "Lisbon", MarkFailedRuns: true})
	require.NoError(t, f.store.Write("REPORT_PROMPT.md", []byte("Weather for {location} and news for [location].")))

	assert.Equal(t, "Weather for Lisbon and news for Lisbon.", f.supervisor.reportPrompt())
}
