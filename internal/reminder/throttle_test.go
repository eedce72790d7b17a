package reminder

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/cadence/pkg/api"
)

var (
	scheduledFor = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	collectUntil = scheduledFor.Add(2 * time.Hour)
)

func TestComputeRecipients_LeadWindowThenSpacingBlocksRepeat(t *testing.T) {
	policy := DefaultPolicy(2, 30*time.Minute)
	participants := []string{"U1", "U2", "U3", "U4"}
	responded := map[string]bool{"U2": true}

	now := collectUntil.Add(-20 * time.Minute)
	got := ComputeRecipients(participants, responded, nil, policy, scheduledFor, collectUntil, now)
	require.Equal(t, []string{"U1", "U3", "U4"}, got)

	log := Append(nil, now, got)
	again := ComputeRecipients(participants, responded, log, policy, scheduledFor, collectUntil, now.Add(time.Minute))
	assert.Empty(t, again)
}

func TestComputeRecipients_Gates(t *testing.T) {
	participants := []string{"U1"}
	base := DefaultPolicy(2, 30*time.Minute)

	cases := []struct {
		name   string
		policy Policy
		log    []api.ReminderBatch
		until  time.Time
		now    time.Time
	}{
		{"disabled", DefaultPolicy(0, 30*time.Minute), nil, collectUntil, collectUntil.Add(-10 * time.Minute)},
		{"window closed", base, nil, collectUntil, collectUntil},
		{"window passed", base, nil, collectUntil, collectUntil.Add(time.Minute)},
		{"before lead time", base, nil, collectUntil, collectUntil.Add(-31 * time.Minute)},
		{"too soon after prompt", base, nil, scheduledFor.Add(20 * time.Minute), scheduledFor.Add(5 * time.Minute)},
		{"too soon after batch", base, []api.ReminderBatch{{SentAt: collectUntil.Add(-25 * time.Minute), Participants: []string{"U9"}}}, collectUntil, collectUntil.Add(-20 * time.Minute)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeRecipients(participants, nil, tc.log, tc.policy, scheduledFor, tc.until, tc.now)
			assert.Empty(t, got)
		})
	}
}

func TestComputeRecipients_GatesAreIndependent(t *testing.T) {
	policy := Policy{
		MaxReminders:      3,
		LeadTime:          time.Hour,
		MinSinceScheduled: 5 * time.Minute,
		MinBetweenBatches: 30 * time.Minute,
	}
	until := scheduledFor.Add(time.Hour)
	log := []api.ReminderBatch{{SentAt: scheduledFor.Add(6 * time.Minute), Participants: []string{"U1"}}}

	now := scheduledFor.Add(20 * time.Minute)
	assert.Empty(t, ComputeRecipients([]string{"U1"}, nil, log, policy, scheduledFor, until, now))

	now = scheduledFor.Add(36 * time.Minute)
	assert.Equal(t, []string{"U1"}, ComputeRecipients([]string{"U1"}, nil, log, policy, scheduledFor, until, now))
}

func TestComputeRecipients_StopsAtMax(t *testing.T) {
	policy := DefaultPolicy(2, 30*time.Minute)
	log := []api.ReminderBatch{
		{SentAt: collectUntil.Add(-60 * time.Minute), Participants: []string{"U1", "U2"}},
		{SentAt: collectUntil.Add(-45 * time.Minute), Participants: []string{"U1"}},
	}

	got := ComputeRecipients([]string{"U1", "U2"}, nil, log, policy, scheduledFor, collectUntil, collectUntil.Add(-15*time.Minute))
	assert.Equal(t, []string{"U2"}, got)
}

func TestComputeRecipients_DeduplicatesParticipants(t *testing.T) {
	policy := DefaultPolicy(1, 30*time.Minute)
	got := ComputeRecipients([]string{"U1", "U1", "U2"}, nil, nil, policy, scheduledFor, collectUntil, collectUntil.Add(-5*time.Minute))
	assert.Equal(t, []string{"U1", "U2"}, got)
}

func TestComputeRecipients_NeverRespondedOrAtMax(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(8)
		participants := make([]string, n)
		responded := map[string]bool{}
		for j := range participants {
			participants[j] = fmt.Sprintf("U%d", j)
			if rng.Intn(3) == 0 {
				responded[participants[j]] = true
			}
		}

		var log []api.ReminderBatch
		at := scheduledFor
		for b := rng.Intn(4); b > 0; b-- {
			at = at.Add(time.Duration(1+rng.Intn(20)) * time.Minute)
			var sent []string
			for _, p := range participants {
				if rng.Intn(2) == 0 {
					sent = append(sent, p)
				}
			}
			log = Append(log, at, sent)
		}

		policy := Policy{
			MaxReminders:      rng.Intn(4),
			LeadTime:          time.Duration(rng.Intn(180)) * time.Minute,
			MinSinceScheduled: time.Duration(rng.Intn(20)) * time.Minute,
			MinBetweenBatches: time.Duration(rng.Intn(20)) * time.Minute,
		}
		now := scheduledFor.Add(time.Duration(rng.Intn(150)) * time.Minute)

		counts := Counts(log)
		for _, p := range ComputeRecipients(participants, responded, log, policy, scheduledFor, collectUntil, now) {
			if responded[p] {
				t.Fatalf("iteration %d: responded participant %s selected", i, p)
			}
			if counts[p] >= policy.MaxReminders {
				t.Fatalf("iteration %d: participant %s at max (%d) selected", i, p, counts[p])
			}
		}
	}
}

func TestAppend_NeverMergesEntries(t *testing.T) {
	first := Append(nil, scheduledFor, []string{"U1"})
	second := Append(first, scheduledFor.Add(time.Minute), []string{"U1", "U2"})

	require.Len(t, first, 1)
	require.Len(t, second, 2)
	assert.Equal(t, []string{"U1"}, second[0].Participants)
	assert.Equal(t, map[string]int{"U1": 2, "U2": 1}, Counts(second))

	assert.Equal(t, second, Append(second, scheduledFor.Add(2*time.Minute), nil))
}

func TestLastSentAt(t *testing.T) {
	_, ok := LastSentAt(nil)
	assert.False(t, ok)

	log := Append(Append(nil, scheduledFor, []string{"a"}), scheduledFor.Add(time.Hour), []string{"b"})
	last, ok := LastSentAt(log)
	require.True(t, ok)
	assert.Equal(t, scheduledFor.Add(time.Hour), last)
}
