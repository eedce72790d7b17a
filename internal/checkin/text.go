package checkin

import (
	"fmt"
	"sort"
	"strings"

	"github.com/petrijr/cadence/internal/schedule"
	"github.com/petrijr/cadence/pkg/api"
)

func displayName(def schedule.Definition, scheduleID string) string {
	if def.Name != "" {
		return def.Name
	}
	if def.ID != "" {
		return def.ID
	}
	return scheduleID
}

func promptText(def schedule.Definition) string {
	prompt := def.Prompt
	if prompt == "" {
		prompt = "Time for the check-in. Reply in the thread."
	}
	return fmt.Sprintf("*%s*\n%s", displayName(def, def.ID), prompt)
}

func reminderText(def schedule.Definition, p *api.CheckinPayload) string {
	return fmt.Sprintf("Reminder: %s closes at %s UTC and we have not heard from you yet.",
		displayName(def, p.ScheduleID), p.CollectUntil.UTC().Format("15:04"))
}

func digestText(def schedule.Definition, p *api.CheckinPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s* summary: %d of %d responded\n",
		displayName(def, p.ScheduleID), len(p.Responses), len(p.Participants))

	seen := make(map[string]bool, len(p.Participants))
	for _, who := range p.Participants {
		seen[who] = true
		if r, ok := p.Responses[who]; ok {
			fmt.Fprintf(&b, "• <@%s>: %s\n", who, r.Text)
		}
	}

	var extra []string
	for who := range p.Responses {
		if !seen[who] {
			extra = append(extra, who)
		}
	}
	sort.Strings(extra)
	for _, who := range extra {
		fmt.Fprintf(&b, "• <@%s>: %s\n", who, p.Responses[who].Text)
	}

	var missing []string
	for _, who := range p.Participants {
		if _, ok := p.Responses[who]; !ok {
			missing = append(missing, "<@"+who+">")
		}
	}
	if len(missing) > 0 {
		fmt.Fprintf(&b, "No answer: %s\n", strings.Join(missing, ", "))
	}
	return b.String()
}
