package heartbeat

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dootlabs/doot/pkg/schedule"
	"github.com/dootlabs/doot/pkg/session"
	"github.com/dootlabs/doot/pkg/store"
)

// SentinelOK is the reply that means "nothing needs attention": the tick
// stays silent instead of notifying the user.
const SentinelOK = "HEARTBEAT_OK"

const defaultChecklistKey = "HEARTBEAT.md"

const defaultChecklist = "Check email and calendar for anything needing attention. " +
	"If nothing requires the user's attention, reply with exactly HEARTBEAT_OK."

const tickInstruction = "This is a scheduled heartbeat. Follow the checklist below. " +
	"If nothing requires the user's attention, reply with exactly HEARTBEAT_OK and nothing else. " +
	"Otherwise briefly summarize what needs attention.\n\n"

// Notifier delivers a heartbeat summary to the user's chat.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Dispatcher launches a due task in the background.
type Dispatcher interface {
	Dispatch(entry schedule.Entry) bool
}

// Service is the single recurring driver of the temporal subsystem. Every
// interval it runs one stateless checklist turn, notifies the user unless the
// reply is the no-op sentinel, then dispatches any due scheduled tasks. It is
// a polling scheduler: precision equals the tick interval, and missed ticks
// are not made up.
type Service struct {
	interval     time.Duration
	timeout      time.Duration
	checklistKey string
	store        *store.Store
	executor     session.Executor
	engine       *schedule.Engine
	dispatcher   Dispatcher
	notifier     Notifier

	cron *cron.Cron
	// test hook: the clock ticks are evaluated against
	now func() time.Time
}

// New creates the heartbeat service. An interval of zero (or less) disables
// the whole temporal subsystem; timeout bounds the checklist turn; an empty
// checklistKey selects HEARTBEAT.md.
func New(interval, timeout time.Duration, checklistKey string, st *store.Store, executor session.Executor, engine *schedule.Engine, dispatcher Dispatcher, notifier Notifier) *Service {
	if checklistKey == "" {
		checklistKey = defaultChecklistKey
	}
	return &Service{
		interval:     interval,
		timeout:      timeout,
		checklistKey: checklistKey,
		store:        st,
		executor:     executor,
		engine:       engine,
		dispatcher:   dispatcher,
		notifier:     notifier,
		now:          time.Now,
	}
}

// Start begins ticking. Ticks never overlap: a tick that outlives the
// interval causes the next one to be skipped, not queued.
func (s *Service) Start() {
	if s.interval <= 0 {
		log.Println("Heartbeat disabled (interval <= 0)")
		return
	}
	logger := cron.PrintfLogger(log.Default())
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(logger),
		cron.Recover(logger),
	))
	s.cron.Schedule(cron.Every(s.interval), cron.FuncJob(s.tick))
	s.cron.Start()
	log.Printf("Heartbeat enabled every %s", s.interval)
}

// Stop stops ticking. Already-dispatched tasks run to completion; stopping
// the loop is the only cancellation lever.
func (s *Service) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// tick is one execution of the loop body: the checklist turn, then due-task
// dispatch. Dispatch hands tasks off without waiting, so a slow task never
// delays the next tick.
func (s *Service) tick() {
	s.runChecklistTurn()
	for _, entry := range s.engine.Due(s.now()) {
		log.Printf("Kicking off scheduled task: %s", entry.TaskID)
		s.dispatcher.Dispatch(entry)
	}
}

// runChecklistTurn runs the checklist through a stateless turn, never mixed
// into the user-visible session, and notifies the user unless the reply is
// the sentinel.
func (s *Service) runChecklistTurn() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	history := []session.Message{{
		Role:      session.RoleUser,
		Content:   tickInstruction + s.checklist(),
		Timestamp: s.now(),
	}}
	_, reply, err := s.executor.Execute(ctx, history, "")
	if err != nil {
		// Tick errors stay internal; the next tick retries naturally.
		log.Printf("Heartbeat turn failed: %v", err)
		return
	}

	reply = strings.TrimSpace(reply)
	if isQuiet(reply) {
		log.Println("Heartbeat (nothing to report)")
		return
	}
	if s.notifier == nil {
		log.Printf("Heartbeat reported something but no notifier is configured: %s", reply)
		return
	}
	if err := s.notifier.Send(ctx, reply); err != nil {
		log.Printf("Heartbeat notification failed: %v", err)
	}
}

func (s *Service) checklist() string {
	if data, ok, err := s.store.Read(s.checklistKey); err == nil && ok {
		return strings.TrimSpace(string(data))
	} else if err != nil {
		log.Printf("Could not read %s: %v", s.checklistKey, err)
	}
	return defaultChecklist
}

// isQuiet is true when the reply means there is nothing to report. Models
// often append commentary after a sentinel, so a prefix match counts too.
func isQuiet(reply string) bool {
	if reply == "" {
		return true
	}
	upper := strings.ToUpper(reply)
	return upper == SentinelOK || strings.HasPrefix(upper, SentinelOK)
}
