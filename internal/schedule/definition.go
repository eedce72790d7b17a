package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Frequency selects which days a check-in fires on.
type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekdays Frequency = "weekdays"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyCron     Frequency = "cron"
)

const (
	// DefaultTriggerWindow is the tolerance after the scheduled instant
	// within which a tick still counts as on time.
	DefaultTriggerWindow = 15 * time.Minute

	// DefaultCollectWindow is how long a run collects answers.
	DefaultCollectWindow = 2 * time.Hour

	// DefaultReminderLead is how close to the deadline reminders start.
	DefaultReminderLead = 30 * time.Minute
)

// Definition is one recurring check-in as written in the definitions file.
type Definition struct {
	ID        string    `yaml:"id"`
	Name      string    `yaml:"name"`
	ChannelID string    `yaml:"channel_id"`
	Enabled   *bool     `yaml:"enabled"`
	TimeUTC   string    `yaml:"time_utc"` // "HH:MM"
	Frequency Frequency `yaml:"frequency"`

	// Weekday is the target day for weekly check-ins, e.g. "monday".
	Weekday string `yaml:"weekday"`

	// Cron is a five-field expression used when Frequency is "cron".
	Cron string `yaml:"cron"`

	TriggerWindowMinutes int `yaml:"trigger_window_minutes"`
	CollectWindowMinutes int `yaml:"collect_window_minutes"`
	ReminderLeadMinutes  int `yaml:"reminder_lead_minutes"`
	MaxReminders         int `yaml:"max_reminders"`

	Prompt       string   `yaml:"prompt"`
	Participants []string `yaml:"participants"`
}

// IsEnabled reports whether the definition should be evaluated. Definitions
// are enabled unless explicitly disabled.
func (d Definition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// TriggerWindow returns the due window length.
func (d Definition) TriggerWindow() time.Duration {
	return minutesOr(d.TriggerWindowMinutes, DefaultTriggerWindow)
}

// CollectWindow returns how long after the scheduled instant answers are
// accepted.
func (d Definition) CollectWindow() time.Duration {
	return minutesOr(d.CollectWindowMinutes, DefaultCollectWindow)
}

// ReminderLead returns the lead time before the deadline within which
// reminders may be sent.
func (d Definition) ReminderLead() time.Duration {
	return minutesOr(d.ReminderLeadMinutes, DefaultReminderLead)
}

// TargetWeekday returns the configured weekday for weekly check-ins,
// Monday when unset.
func (d Definition) TargetWeekday() (time.Weekday, error) {
	if d.Weekday == "" {
		return time.Monday, nil
	}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if strings.EqualFold(wd.String(), d.Weekday) || strings.EqualFold(wd.String()[:3], d.Weekday) {
			return wd, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", d.Weekday)
}

// Validate checks the fields the calculator depends on.
func (d Definition) Validate() error {
	if d.ID == "" {
		return errors.New("id is required")
	}
	if d.ChannelID == "" {
		return fmt.Errorf("%s: channel_id is required", d.ID)
	}
	switch d.Frequency {
	case FrequencyDaily, FrequencyWeekdays:
	case FrequencyWeekly:
		if _, err := d.TargetWeekday(); err != nil {
			return fmt.Errorf("%s: %w", d.ID, err)
		}
	case FrequencyCron:
		if _, err := ParseCron(d.Cron); err != nil {
			return fmt.Errorf("%s: invalid cron %q: %w", d.ID, d.Cron, err)
		}
		return nil
	default:
		return fmt.Errorf("%s: unknown frequency %q", d.ID, d.Frequency)
	}
	if _, _, err := parseClock(d.TimeUTC); err != nil {
		return fmt.Errorf("%s: %w", d.ID, err)
	}
	if d.MaxReminders < 0 {
		return fmt.Errorf("%s: max_reminders must not be negative", d.ID)
	}
	return nil
}

func minutesOr(m int, def time.Duration) time.Duration {
	if m <= 0 {
		return def
	}
	return time.Duration(m) * time.Minute
}

func parseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("time_utc %q must be HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}
