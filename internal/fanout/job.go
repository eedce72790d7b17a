// Package fanout partitions a stale-item backlog by owner into bounded jobs
// and processes one job at a time on the worker side.
package fanout

import (
	"encoding/gob"
	"time"
)

// UnassignedOwner is the owner key of items without an owner.
const UnassignedOwner = "Unassigned"

// StaleItem is a snapshot of a ticket taken at dispatch time. The worker
// acts on it without refetching.
type StaleItem struct {
	ID               string    `json:"id"`
	Number           string    `json:"number"`
	ShortDescription string    `json:"short_description"`
	Priority         string    `json:"priority"`
	State            string    `json:"state"`
	OwnerID          string    `json:"owner_id"`
	OwnerName        string    `json:"owner_name"`
	AssignmentGroup  string    `json:"assignment_group"`
	LastUpdated      time.Time `json:"last_updated"`
	URL              string    `json:"url"`
}

// OwnerKey returns the explicit owner ID, else the display name, else
// UnassignedOwner.
func (it StaleItem) OwnerKey() string {
	switch {
	case it.OwnerID != "":
		return it.OwnerID
	case it.OwnerName != "":
		return it.OwnerName
	default:
		return UnassignedOwner
	}
}

// OwnerJob is one owner's bounded batch, carried as a queue task payload.
type OwnerJob struct {
	JobID           string
	OwnerKey        string
	OwnerName       string
	AssignmentGroup string
	Channel         string
	CorrelationID   string
	DispatchedAt    time.Time
	Items           []StaleItem
}

// GroupBacklog is the pre-computed stale list of one assignment group.
type GroupBacklog struct {
	AssignmentGroup string      `json:"assignment_group"`
	Channel         string      `json:"channel"`
	Items           []StaleItem `json:"items"`
}

func init() {
	gob.Register(OwnerJob{})
}
