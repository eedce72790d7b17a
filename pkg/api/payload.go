package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Payload is the typed state carried by a workflow instance. Each
// WorkflowType has exactly one payload shape, registered with
// RegisterPayload, and every read and write goes through Validate.
type Payload interface {
	WorkflowType() WorkflowType
	Validate() error
}

var (
	registryMu sync.RWMutex
	registry   = map[WorkflowType]func() Payload{}
)

func init() {
	RegisterPayload(WorkflowTypeCheckin, func() Payload { return &CheckinPayload{} })
	RegisterPayload(WorkflowTypeWizard, func() Payload { return &WizardPayload{} })
}

// RegisterPayload associates a workflow type with a constructor for its
// payload. The constructor must return a pointer suitable for
// json.Unmarshal. Registering the same type twice replaces the previous
// constructor.
func RegisterPayload(t WorkflowType, factory func() Payload) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = factory
}

// EncodePayload validates p and serializes it to JSON.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", p.WorkflowType(), err)
	}
	return json.Marshal(p)
}

// DecodePayload deserializes data into the payload registered for t and
// validates it. Empty data decodes to a nil payload.
func DecodePayload(t WorkflowType, data []byte) (Payload, error) {
	if len(data) == 0 {
		return nil, nil
	}
	registryMu.RLock()
	factory, ok := registry[t]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no payload registered for workflow type %q", t)
	}

	p := factory()
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", t, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", t, err)
	}
	return p, nil
}

// ClonePayload returns a deep copy of p by round-tripping it through its
// codec.
func ClonePayload(p Payload) (Payload, error) {
	data, err := EncodePayload(p)
	if err != nil {
		return nil, err
	}
	return DecodePayload(p.WorkflowType(), data)
}

// RunStatus is the check-in run status exposed to chat users.
type RunStatus string

const (
	RunCollecting RunStatus = "collecting"
	RunFinalizing RunStatus = "finalizing"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

// CheckinResponse is one participant's answer to a check-in prompt.
type CheckinResponse struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// ReminderBatch is one entry of a run's append-only reminder log.
type ReminderBatch struct {
	SentAt       time.Time `json:"sentAt"`
	Participants []string  `json:"participants"`
}

// CheckinPayload is the scheduled run carried by a checkin instance.
type CheckinPayload struct {
	ScheduleID   string                     `json:"scheduleId"`
	ScheduledFor time.Time                  `json:"scheduledFor"`
	CollectUntil time.Time                  `json:"collectUntil"`
	ChannelID    string                     `json:"channelId"`
	Status       RunStatus                  `json:"status"`
	PromptTS     string                     `json:"promptTs,omitempty"`
	Participants []string                   `json:"participants"`
	Responses    map[string]CheckinResponse `json:"responses,omitempty"`
	Reminders    []ReminderBatch            `json:"reminders,omitempty"`
}

func (*CheckinPayload) WorkflowType() WorkflowType { return WorkflowTypeCheckin }

func (p *CheckinPayload) Validate() error {
	switch {
	case p.ScheduleID == "":
		return errors.New("scheduleId is required")
	case p.ChannelID == "":
		return errors.New("channelId is required")
	case p.ScheduledFor.IsZero():
		return errors.New("scheduledFor is required")
	case p.CollectUntil.Before(p.ScheduledFor):
		return errors.New("collectUntil must not precede scheduledFor")
	}
	switch p.Status {
	case RunCollecting, RunFinalizing, RunCompleted, RunFailed:
	default:
		return fmt.Errorf("unknown run status %q", p.Status)
	}
	for i := 1; i < len(p.Reminders); i++ {
		if p.Reminders[i].SentAt.Before(p.Reminders[i-1].SentAt) {
			return errors.New("reminder log is not in chronological order")
		}
	}
	return nil
}

// Responded returns the set of participants that already answered.
func (p *CheckinPayload) Responded() map[string]bool {
	out := make(map[string]bool, len(p.Responses))
	for who := range p.Responses {
		out[who] = true
	}
	return out
}

// WizardPayload is the progress of a multi-step guided form.
type WizardPayload struct {
	FlowID        string                       `json:"flowId"`
	UserID        string                       `json:"userId,omitempty"`
	CurrentStep   int                          `json:"currentStep"`
	TotalSteps    int                          `json:"totalSteps"`
	CollectedData map[string]map[string]string `json:"collectedData"`
}

func (*WizardPayload) WorkflowType() WorkflowType { return WorkflowTypeWizard }

func (p *WizardPayload) Validate() error {
	switch {
	case p.FlowID == "":
		return errors.New("flowId is required")
	case p.TotalSteps <= 0:
		return errors.New("totalSteps must be positive")
	case p.CurrentStep < 0 || p.CurrentStep >= p.TotalSteps:
		return fmt.Errorf("currentStep %d out of range [0,%d)", p.CurrentStep, p.TotalSteps)
	}
	return nil
}
