// Package reminder decides which participants of a collecting check-in run
// should be nudged again.
//
// Reminder history is an append-only log of batches. Per-participant counts
// are never stored; they are folded from the log on demand.
package reminder

import (
	"time"

	"github.com/petrijr/cadence/pkg/api"
)

const (
	DefaultMinSinceScheduled = 10 * time.Minute
	DefaultMinBetweenBatches = 10 * time.Minute
)

// Policy holds the reminder limits of one check-in definition.
type Policy struct {
	// MaxReminders caps how many reminders a single participant receives
	// per run. Zero or less disables reminders.
	MaxReminders int

	// LeadTime is how close to the collection deadline reminders start.
	LeadTime time.Duration

	// MinSinceScheduled keeps reminders away from the initial prompt.
	MinSinceScheduled time.Duration

	// MinBetweenBatches is the global spacing between two reminder
	// batches of the same run.
	MinBetweenBatches time.Duration
}

// DefaultPolicy returns a policy with the default gates.
func DefaultPolicy(maxReminders int, lead time.Duration) Policy {
	return Policy{
		MaxReminders:      maxReminders,
		LeadTime:          lead,
		MinSinceScheduled: DefaultMinSinceScheduled,
		MinBetweenBatches: DefaultMinBetweenBatches,
	}
}

// ComputeRecipients returns the participants that should receive a reminder
// at now, in participant order. The result is empty whenever any gate is
// closed.
func ComputeRecipients(
	participants []string,
	responded map[string]bool,
	log []api.ReminderBatch,
	policy Policy,
	scheduledFor, collectUntil, now time.Time,
) []string {
	if policy.MaxReminders <= 0 {
		return nil
	}
	if !collectUntil.After(now) {
		return nil
	}
	if collectUntil.Sub(now) > policy.LeadTime {
		return nil
	}
	if now.Sub(scheduledFor) < policy.MinSinceScheduled {
		return nil
	}
	if last, ok := LastSentAt(log); ok && now.Sub(last) < policy.MinBetweenBatches {
		return nil
	}

	counts := Counts(log)
	seen := make(map[string]bool, len(participants))
	var out []string
	for _, p := range participants {
		if seen[p] {
			continue
		}
		seen[p] = true
		if responded[p] || counts[p] >= policy.MaxReminders {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Counts folds the log into the number of reminders each participant got.
func Counts(log []api.ReminderBatch) map[string]int {
	counts := make(map[string]int)
	for _, batch := range log {
		for _, p := range batch.Participants {
			counts[p]++
		}
	}
	return counts
}

// LastSentAt returns the time of the most recent batch.
func LastSentAt(log []api.ReminderBatch) (time.Time, bool) {
	var last time.Time
	for _, batch := range log {
		if batch.SentAt.After(last) {
			last = batch.SentAt
		}
	}
	return last, !last.IsZero()
}

// Append returns log with one new batch for sent. The existing entries are
// not modified. An empty sent leaves the log unchanged.
func Append(log []api.ReminderBatch, sentAt time.Time, sent []string) []api.ReminderBatch {
	if len(sent) == 0 {
		return log
	}
	out := make([]api.ReminderBatch, len(log), len(log)+1)
	copy(out, log)
	return append(out, api.ReminderBatch{
		SentAt:       sentAt,
		Participants: append([]string(nil), sent...),
	})
}
