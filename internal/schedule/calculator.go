package schedule

import (
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// IdempotencyWindow is the symmetric tolerance within which two runs of the
// same schedule are considered the same run.
const IdempotencyWindow = 10 * time.Minute

// cronParser supports standard 5-field cron and descriptors like "@daily".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseCron parses a cron expression.
func ParseCron(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// ComputeScheduledTime anchors the definition's HH:MM to now's UTC calendar
// date. It is not meaningful for cron definitions.
func ComputeScheduledTime(def Definition, now time.Time) (time.Time, error) {
	hour, minute, err := parseClock(def.TimeUTC)
	if err != nil {
		return time.Time{}, err
	}
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC), nil
}

// DueAt returns the scheduled instant now belongs to, and whether now lies
// inside that instant's due window [scheduled, scheduled+window].
func DueAt(def Definition, now time.Time) (time.Time, bool) {
	now = now.UTC()
	window := def.TriggerWindow()

	if def.Frequency == FrequencyCron {
		sched, err := ParseCron(def.Cron)
		if err != nil {
			return time.Time{}, false
		}
		// Next is strictly after its argument; step back one second so an
		// activation exactly at the window start is included.
		at := sched.Next(now.Add(-window).Add(-time.Second))
		if at.Before(now.Add(-window)) || at.After(now) {
			return time.Time{}, false
		}
		return at, true
	}

	scheduled, err := ComputeScheduledTime(def, now)
	if err != nil {
		return time.Time{}, false
	}

	switch def.Frequency {
	case FrequencyDaily:
	case FrequencyWeekdays:
		if wd := scheduled.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return time.Time{}, false
		}
	case FrequencyWeekly:
		target, err := def.TargetWeekday()
		if err != nil || scheduled.Weekday() != target {
			return time.Time{}, false
		}
	default:
		return time.Time{}, false
	}

	if now.Before(scheduled) || now.After(scheduled.Add(window)) {
		return time.Time{}, false
	}
	return scheduled, true
}

// IsDue reports whether a run of def should be triggered at now.
func IsDue(def Definition, now time.Time) bool {
	_, due := DueAt(def, now)
	return due
}

// WithinIdempotencyWindow reports whether existing and scheduled are close
// enough to be the same run.
func WithinIdempotencyWindow(existing, scheduled time.Time) bool {
	d := existing.Sub(scheduled)
	if d < 0 {
		d = -d
	}
	return d <= IdempotencyWindow
}
