package task

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dootlabs/doot/pkg/schedule"
	"github.com/dootlabs/doot/pkg/session"
	"github.com/dootlabs/doot/pkg/store"
)

// TaskReport is the only built-in task type: a daily report compiled through
// a stateless turn and delivered through the configured channel.
const TaskReport = "report"

const reportPromptKey = "REPORT_PROMPT.md"

const defaultReportPrompt = "Search the web for current weather in {location} and recent police or " +
	"public safety activity or incidents in {location}. Compile a brief daily " +
	"report with dates and sources. Use a neutral tone."

// Status of one background execution.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// TaskRun is the ephemeral record of one background execution. It is never
// persisted; it exists for the lifetime of the goroutine and is handed to the
// OnDone hook when the terminal state is known.
type TaskRun struct {
	ID        string
	TaskID    string
	StartedAt time.Time
	Status    Status
}

// Notifier delivers a short text to the user's chat. Failures are logged by
// the supervisor, never fatal.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// EmailSender delivers a report by email. Implementing a mail client is
// outside this engine; the supervisor only consumes the interface.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Config tunes the supervisor.
type Config struct {
	// Location and ToEmail are substituted into the report prompt and used
	// as the email recipient.
	Location string
	ToEmail  string
	// MarkFailedRuns records a task as run today even when its reasoning
	// step failed, trading a silently skipped day for protection against
	// retry storms over a flaky upstream.
	MarkFailedRuns bool
	// Timeout bounds each task's executor call; zero means no bound.
	Timeout time.Duration
}

// Supervisor launches due tasks as independent background units, isolates
// their failures, and guarantees a task id cannot run twice concurrently or
// twice in the same recurrence window.
type Supervisor struct {
	store    *store.Store
	executor session.Executor
	engine   *schedule.Engine
	notifier Notifier
	emailer  EmailSender
	cfg      Config

	mu       sync.Mutex
	inflight map[string]struct{}

	// OnDone, if set, observes every terminal TaskRun. Used by tests.
	OnDone func(TaskRun)
}

// NewSupervisor creates a Supervisor. notifier and emailer may be nil; the
// corresponding delivery modes then degrade to a logged warning.
func NewSupervisor(st *store.Store, executor session.Executor, engine *schedule.Engine, notifier Notifier, emailer EmailSender, cfg Config) *Supervisor {
	return &Supervisor{
		store:    st,
		executor: executor,
		engine:   engine,
		notifier: notifier,
		emailer:  emailer,
		cfg:      cfg,
		inflight: make(map[string]struct{}),
	}
}

// Dispatch launches entry as a background execution. It returns false,
// without launching, when the task id is already in flight; duplicate
// dispatch prevention is structural, not a runtime error.
func (s *Supervisor) Dispatch(entry schedule.Entry) bool {
	s.mu.Lock()
	if _, running := s.inflight[entry.TaskID]; running {
		s.mu.Unlock()
		log.Printf("Task %s already in flight, skipping dispatch", entry.TaskID)
		return false
	}
	s.inflight[entry.TaskID] = struct{}{}
	s.mu.Unlock()

	go s.run(entry)
	return true
}

// Running reports whether taskID is currently in flight.
func (s *Supervisor) Running(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[taskID]
	return ok
}

func (s *Supervisor) run(entry schedule.Entry) {
	run := TaskRun{
		ID:        uuid.NewString(),
		TaskID:    entry.TaskID,
		StartedAt: time.Now(),
		Status:    StatusRunning,
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Task %s panicked: %v", entry.TaskID, r)
			run.Status = StatusFailed
		}
		s.mu.Lock()
		delete(s.inflight, entry.TaskID)
		s.mu.Unlock()
		if s.OnDone != nil {
			s.OnDone(run)
		}
	}()

	today := time.Now().In(s.engine.Location()).Format(schedule.DateLayout)
	log.Printf("Task %s starting (run=%s, delivery=%s)", entry.TaskID, run.ID, entry.Delivery)

	if entry.TaskID != TaskReport {
		log.Printf("Unknown scheduled task_id=%s", entry.TaskID)
		run.Status = StatusFailed
		return
	}

	text, err := s.runReportTurn()
	if err != nil {
		log.Printf("Task %s turn failed: %v", entry.TaskID, err)
		run.Status = StatusFailed
		if s.cfg.MarkFailedRuns {
			// Deliberate: record the failed attempt as today's run so a
			// flaky upstream cannot cause a retry storm. The cost is a
			// silently skipped day.
			if err := s.engine.MarkRun(entry.TaskID, today); err != nil {
				log.Printf("Could not mark failed run for %s: %v", entry.TaskID, err)
			}
		}
		return
	}
	if strings.TrimSpace(text) == "" {
		// No output is treated as not-run: the next tick retries.
		log.Printf("Task %s produced no output", entry.TaskID)
		run.Status = StatusFailed
		return
	}

	artifactKey := "reports/" + today + ".md"
	if err := s.store.Write(artifactKey, []byte(strings.TrimSpace(text)+"\n")); err != nil {
		log.Printf("Could not save report artifact %s: %v", artifactKey, err)
	} else {
		log.Printf("Report saved to %s", artifactKey)
	}

	// The ledger write precedes delivery: a crash mid-delivery must not
	// cause a second run today.
	if err := s.engine.MarkRun(entry.TaskID, today); err != nil {
		log.Printf("Could not mark run for %s: %v", entry.TaskID, err)
	}

	s.deliver(entry, today, strings.TrimSpace(text), artifactKey)
	run.Status = StatusSucceeded
}

// runReportTurn loads the report prompt, substitutes placeholders and runs
// one stateless turn, a fresh conversation that never touches the shared
// session.
func (s *Supervisor) runReportTurn() (string, error) {
	prompt := s.reportPrompt()

	ctx := context.Background()
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	history := []session.Message{{
		Role:      session.RoleUser,
		Content:   prompt,
		Timestamp: time.Now(),
	}}
	_, reply, err := s.executor.Execute(ctx, history, "")
	if err != nil {
		return "", fmt.Errorf("report turn: %w", err)
	}
	return reply, nil
}

func (s *Supervisor) reportPrompt() string {
	prompt := defaultReportPrompt
	if data, ok, err := s.store.Read(reportPromptKey); err == nil && ok {
		prompt = strings.TrimSpace(string(data))
	} else if err != nil {
		log.Printf("Could not read %s: %v", reportPromptKey, err)
	}
	prompt = strings.ReplaceAll(prompt, "{location}", s.cfg.Location)
	prompt = strings.ReplaceAll(prompt, "[location]", s.cfg.Location)
	return prompt
}

func (s *Supervisor) deliver(entry schedule.Entry, day, text, artifactKey string) {
	ctx := context.Background()
	switch entry.Delivery {
	case schedule.DeliveryEmail:
		if s.emailer == nil || s.cfg.ToEmail == "" {
			log.Printf("No email sender configured, report for %s kept at %s", day, artifactKey)
			return
		}
		subject := fmt.Sprintf("Daily report – %s", day)
		if err := s.emailer.SendEmail(ctx, s.cfg.ToEmail, subject, text); err != nil {
			log.Printf("Could not email report for %s: %v", day, err)
			return
		}
		log.Printf("Report email sent to %s", s.cfg.ToEmail)
		s.notify(ctx, fmt.Sprintf("Daily report sent to your email and saved to %s.", artifactKey))
	case schedule.DeliveryChat:
		s.notify(ctx, text)
	case schedule.DeliveryFile, schedule.DeliveryNone:
		// artifact already persisted
	}
}

func (s *Supervisor) notify(ctx context.Context, text string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, text); err != nil {
		log.Printf("Could not send task notification: %v", err)
	}
}
