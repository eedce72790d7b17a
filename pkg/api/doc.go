// Package api contains the core types shared by the cadence workflow and
// scheduling engine: workflow instances and their typed payloads, the
// Engine contract, errors, observers, collaborator interfaces and run
// summaries.
//
// # Workflow Instances
//
// A WorkflowInstance is a persisted, versioned record of a long-running
// conversational interaction: a check-in run collecting answers, or a
// multi-step form being filled in. Every instance carries a Version that
// starts at 1. Writers pass the version they read to Engine.Transition, and
// the store applies the change only if nobody else wrote in between
// (optimistic concurrency). A lost race surfaces as ErrVersionConflict and
// leaves the stored record untouched.
//
// Instances become inactive when they reach a terminal State (COMPLETED,
// CANCELLED, EXPIRED, FAILED) or when ExpiresAt passes, whichever happens
// first. No transition is permitted out of a terminal state.
//
// # Payloads
//
// Payload is a tagged union keyed by WorkflowType. The built-in shapes are
// CheckinPayload and WizardPayload; applications may add their own with
// RegisterPayload. Payloads are validated whenever they are written and
// whenever they are decoded from a store.
//
// # Collaborators
//
// Messenger, Planner and TicketWriter describe the chat platform, the LLM
// planning service and the ticketing system. The engine never talks to
// those systems directly; callers inject implementations.
//
// # Observability
//
// Observer receives instance lifecycle callbacks (LoggingObserver and
// BasicMetrics are provided). RunSummary is the serializable outcome of each
// periodic pass.
package api
