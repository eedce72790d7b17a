package collab

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/petrijr/cadence/pkg/api"
)

// TemplatePlan builds the deterministic fallback plan for an item.
func TemplatePlan(pc api.PlanContext) api.Plan {
	label := pc.Number
	if label == "" {
		label = pc.ItemID
	}

	summary := fmt.Sprintf("%s has had no update for %d days.", label, pc.DaysStale)
	if pc.ShortDescription != "" {
		summary = fmt.Sprintf("%s (%s) has had no update for %d days.", label, pc.ShortDescription, pc.DaysStale)
	}

	reminders := []string{
		fmt.Sprintf("Add a work note to %s describing the current status.", label),
	}
	if pc.Priority == "1" || pc.Priority == "2" {
		reminders = append(reminders, fmt.Sprintf("Priority %s: confirm the next action today.", pc.Priority))
	}

	return api.Plan{
		Summary:   summary,
		Reminders: reminders,
		Questions: []string{
			"Is this still being worked on?",
			"Is anything blocking progress?",
		},
		Fallback: true,
	}
}

// TemplatePlanner is a Planner that always returns TemplatePlan.
type TemplatePlanner struct{}

var _ api.Planner = TemplatePlanner{}

func (TemplatePlanner) GeneratePlan(ctx context.Context, pc api.PlanContext) (api.Plan, error) {
	return TemplatePlan(pc), nil
}

// LogTicketWriter is a dry-run TicketWriter that only logs.
type LogTicketWriter struct {
	Logger *slog.Logger
}

var _ api.TicketWriter = LogTicketWriter{}

func (w LogTicketWriter) RecordPlan(ctx context.Context, itemID string, plan api.Plan) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "plan_recorded",
		slog.String("item_id", itemID),
		slog.Bool("fallback", plan.Fallback),
		slog.Int("reminders", len(plan.Reminders)),
	)
	return nil
}
