package schedule

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dootlabs/doot/pkg/store"
)

// DateLayout is the ISO calendar date format used in the ledger.
const DateLayout = "2006-01-02"

// Engine decides which scheduled tasks are due. It re-reads the schedule
// document and the last-run ledger on every call; it holds no state across
// ticks, so Due is a pure function of the store contents and the clock.
type Engine struct {
	store       *store.Store
	loc         *time.Location
	scheduleKey string
	ledgerKey   string

	ledgerMu sync.Mutex
}

// NewEngine creates an Engine evaluating entries in the given timezone name.
// An invalid timezone is an error here, at startup, never per tick.
func NewEngine(st *store.Store, timezone, scheduleKey, ledgerKey string) (*Engine, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load schedule timezone %q: %w", timezone, err)
	}
	return &Engine{
		store:       st,
		loc:         loc,
		scheduleKey: scheduleKey,
		ledgerKey:   ledgerKey,
	}, nil
}

// Location returns the configured schedule timezone.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// Load reads the current schedule. Malformed entries and duplicate task ids
// are skipped with a warning, never fatal; the count of skipped entries is
// returned alongside the valid ones. A missing or unparseable document is an
// empty schedule.
func (e *Engine) Load() ([]Entry, int) {
	data, ok, err := e.store.Read(e.scheduleKey)
	if err != nil {
		log.Printf("Could not read schedule %s: %v", e.scheduleKey, err)
		return nil, 0
	}
	if !ok {
		return nil, 0
	}
	raw, err := parseDocument(data)
	if err != nil {
		log.Printf("Could not parse schedule %s: %v", e.scheduleKey, err)
		return nil, 0
	}

	seen := make(map[string]bool, len(raw))
	entries := make([]Entry, 0, len(raw))
	skipped := 0
	for _, entry := range raw {
		if err := entry.validate(); err != nil {
			log.Printf("Skipping schedule entry %+v: %v", entry, err)
			skipped++
			continue
		}
		if seen[entry.TaskID] {
			log.Printf("Skipping schedule entry %+v: duplicate task_id", entry)
			skipped++
			continue
		}
		seen[entry.TaskID] = true
		if entry.Delivery == "" {
			entry.Delivery = DeliveryEmail
		}
		entries = append(entries, entry)
	}
	return entries, skipped
}

// Ledger reads the last-run ledger; missing or unreadable means empty.
func (e *Engine) Ledger() Ledger {
	ledger := Ledger{}
	if _, err := e.store.ReadJSON(e.ledgerKey, &ledger); err != nil {
		log.Printf("Could not read ledger %s: %v", e.ledgerKey, err)
		return Ledger{}
	}
	return ledger
}

// Due returns the entries whose scheduled time-of-day has passed in the
// configured timezone and that have not completed today. A task whose time
// passed while the process was down is still due on the first call after
// restart, since the ledger has no entry for today.
func (e *Engine) Due(now time.Time) []Entry {
	local := now.In(e.loc)
	today := local.Format(DateLayout)
	minutes := local.Hour()*60 + local.Minute()

	entries, _ := e.Load()
	ledger := e.Ledger()

	var due []Entry
	for _, entry := range entries {
		at, err := ParseTimeOfDay(entry.Time)
		if err != nil {
			// validate already filtered these; keep the engine total anyway
			continue
		}
		if at > minutes {
			continue
		}
		if ledger[entry.TaskID] == today {
			continue
		}
		due = append(due, entry)
	}
	return due
}

// MarkRun records that taskID completed on day (ISO date). Dates only move
// forward: an older date never overwrites a newer one. The read-modify-write
// is serialized so independent tasks cannot lose each other's updates.
func (e *Engine) MarkRun(taskID, day string) error {
	e.ledgerMu.Lock()
	defer e.ledgerMu.Unlock()

	ledger := e.Ledger()
	// ISO dates order lexicographically
	if prev, ok := ledger[taskID]; ok && prev >= day {
		return nil
	}
	ledger[taskID] = day
	if err := e.store.WriteJSON(e.ledgerKey, ledger); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

// LastRun returns the ledger date for taskID, empty if never run.
func (e *Engine) LastRun(taskID string) string {
	return e.Ledger()[taskID]
}
