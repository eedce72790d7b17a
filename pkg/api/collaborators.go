package api

import (
	"context"
	"encoding/json"
)

// Message is an outgoing chat message. Blocks carries platform-specific rich
// layout and is passed through untouched.
type Message struct {
	Channel  string
	Text     string
	Blocks   json.RawMessage
	ThreadTS string
}

// PostResult identifies a posted message.
type PostResult struct {
	TS string
}

// ChannelInfo is the subset of channel metadata the engine needs.
type ChannelInfo struct {
	ID     string
	Exists bool
}

// Messenger is the chat platform collaborator.
type Messenger interface {
	PostMessage(ctx context.Context, msg Message) (PostResult, error)
	OpenDirectConversation(ctx context.Context, userID string) (string, error)
	GetChannelInfo(ctx context.Context, channelID string) (ChannelInfo, error)
}

// PlanContext is everything the planner gets to see about one stale item.
type PlanContext struct {
	ItemID           string
	Number           string
	ShortDescription string
	Priority         string
	State            string
	OwnerName        string
	AssignmentGroup  string
	DaysStale        int
}

// Plan is a follow-up plan for one stale item.
type Plan struct {
	Summary   string   `json:"summary"`
	Reminders []string `json:"reminders"`
	Questions []string `json:"questions"`

	// Fallback is set when the plan was produced by the deterministic
	// template instead of the planner.
	Fallback bool `json:"fallback,omitempty"`
}

// Planner is the LLM planning collaborator. Calls may fail or time out.
type Planner interface {
	GeneratePlan(ctx context.Context, pc PlanContext) (Plan, error)
}

// TicketWriter records plans back on the ticketing system.
type TicketWriter interface {
	RecordPlan(ctx context.Context, itemID string, plan Plan) error
}
