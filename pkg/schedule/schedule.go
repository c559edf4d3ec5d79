package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidTimeOfDay reports a malformed HH:MM field.
var ErrInvalidTimeOfDay = errors.New("invalid time of day")

// Delivery modes for a scheduled task's result.
const (
	DeliveryEmail = "email"
	DeliveryFile  = "file"
	DeliveryChat  = "chat"
	DeliveryNone  = "none"
)

// RecurrenceDaily is the only supported recurrence.
const RecurrenceDaily = "daily"

// Entry is one scheduled task definition. The authoritative set lives in the
// schedule document and is re-read every tick, so edits take effect without a
// restart.
type Entry struct {
	Time       string `json:"time" yaml:"time"`
	TaskID     string `json:"task_id" yaml:"task_id"`
	Recurrence string `json:"recurrence" yaml:"recurrence"`
	Delivery   string `json:"delivery" yaml:"delivery"`
}

// Ledger maps a task id to the ISO date it last completed on.
type Ledger map[string]string

// ParseTimeOfDay parses "HH:MM" into minutes since midnight.
func ParseTimeOfDay(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 3)
	if len(parts) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	return hour*60 + minute, nil
}

func (e Entry) validate() error {
	if strings.TrimSpace(e.TaskID) == "" {
		return errors.New("missing task_id")
	}
	if _, err := ParseTimeOfDay(e.Time); err != nil {
		return err
	}
	if e.Recurrence != "" && e.Recurrence != RecurrenceDaily {
		return fmt.Errorf("unsupported recurrence %q", e.Recurrence)
	}
	switch e.Delivery {
	case "", DeliveryEmail, DeliveryFile, DeliveryChat, DeliveryNone:
		return nil
	default:
		return fmt.Errorf("unsupported delivery %q", e.Delivery)
	}
}

// parseDocument accepts the schedule document as a JSON array, a YAML list,
// or the line format "07:00 report daily email" (blank lines and # comments
// ignored).
func parseDocument(data []byte) ([]Entry, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var entries []Entry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("parse schedule json: %w", err)
		}
		return entries, nil
	}

	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err == nil && len(entries) > 0 {
		return entries, nil
	}

	var out []Entry
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 4 {
			return nil, fmt.Errorf("parse schedule line %q: want \"time task_id recurrence delivery\"", line)
		}
		out = append(out, Entry{
			Time:       parts[0],
			TaskID:     parts[1],
			Recurrence: parts[2],
			Delivery:   parts[3],
		})
	}
	return out, nil
}
