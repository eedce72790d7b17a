// Package checkin drives recurring check-in runs: it creates a run when a
// schedule is due, records answers, nudges non-responders and posts the
// final digest.
//
// Every entry point is safe to call from concurrent periodic ticks. Runs
// are created with a deterministic ID and mutated only through the engine's
// compare-and-swap, so overlapping ticks collide in the store instead of
// double-posting.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/petrijr/cadence/internal/cache"
	"github.com/petrijr/cadence/internal/dedupe"
	"github.com/petrijr/cadence/internal/reminder"
	"github.com/petrijr/cadence/internal/schedule"
	"github.com/petrijr/cadence/internal/summary"
	"github.com/petrijr/cadence/pkg/api"
)

const (
	// DefaultRetention keeps a run readable after its collection window.
	DefaultRetention = 24 * time.Hour

	// responseAttempts bounds how often RecordResponse re-reads after
	// losing a race.
	responseAttempts = 3

	actorScheduler = "scheduler"
	actorReminders = "reminders"
	actorFinalizer = "finalizer"
)

// Config wires a Service.
type Config struct {
	Engine    api.Engine
	Messenger api.Messenger

	Definitions []schedule.Definition

	// Summaries receives one RunSummary per pass. Optional.
	Summaries *summary.Recorder

	// Guard suppresses repeated digest posts. Optional.
	Guard *dedupe.Guard

	// Channels caches channel lookups. Optional.
	Channels *cache.Cache[string, api.ChannelInfo]

	// MinSinceScheduled and MinBetweenBatches default to the reminder
	// package defaults.
	MinSinceScheduled time.Duration
	MinBetweenBatches time.Duration

	// Retention is added to CollectUntil to compute the run TTL.
	Retention time.Duration

	Logger *slog.Logger
	Clock  func() time.Time
}

// Service implements the check-in lifecycle.
type Service struct {
	engine    api.Engine
	messenger api.Messenger
	defs      map[string]schedule.Definition
	order     []string
	summaries *summary.Recorder
	guard     *dedupe.Guard
	channels  *cache.Cache[string, api.ChannelInfo]
	minSince  time.Duration
	minGap    time.Duration
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Service.
func New(cfg Config) *Service {
	s := &Service{
		engine:    cfg.Engine,
		messenger: cfg.Messenger,
		defs:      make(map[string]schedule.Definition, len(cfg.Definitions)),
		summaries: cfg.Summaries,
		guard:     cfg.Guard,
		channels:  cfg.Channels,
		minSince:  cfg.MinSinceScheduled,
		minGap:    cfg.MinBetweenBatches,
		retention: cfg.Retention,
		logger:    cfg.Logger,
		now:       cfg.Clock,
	}
	for _, d := range cfg.Definitions {
		if _, dup := s.defs[d.ID]; !dup {
			s.order = append(s.order, d.ID)
		}
		s.defs[d.ID] = d
	}
	if s.minSince <= 0 {
		s.minSince = reminder.DefaultMinSinceScheduled
	}
	if s.minGap <= 0 {
		s.minGap = reminder.DefaultMinBetweenBatches
	}
	if s.retention <= 0 {
		s.retention = DefaultRetention
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// RunID is the deterministic instance ID of the run of scheduleID at
// scheduledFor.
func RunID(scheduleID string, scheduledFor time.Time) string {
	return fmt.Sprintf("checkin:%s:%s", scheduleID, scheduledFor.UTC().Format(time.RFC3339))
}

// TriggerDue starts a run for every enabled definition that is due now and
// has no run within the idempotency window. The initial prompt is posted
// to the definition's channel.
func (s *Service) TriggerDue(ctx context.Context) (*api.RunSummary, error) {
	now := s.now()
	sum := api.NewRunSummary(api.SummaryTrigger, "", now)

	for _, id := range s.order {
		def := s.defs[id]
		group := sum.Group(def.ID)
		group.Total++

		if !def.IsEnabled() {
			group.Skipped++
			sum.Inc("disabled", 1)
			continue
		}
		scheduledFor, due := schedule.DueAt(def, now)
		if !due {
			group.Skipped++
			sum.Inc("not_due", 1)
			continue
		}

		started, err := s.trigger(ctx, def, scheduledFor, now)
		switch {
		case err != nil && isPersistenceFailure(err):
			s.finish(sum)
			return sum, err
		case err != nil:
			group.Failed++
			sum.Inc("failed", 1)
			sum.AddError(fmt.Errorf("%s: %w", def.ID, err))
		case started:
			group.Processed++
			sum.Inc("started", 1)
		default:
			group.Skipped++
			sum.Inc("already_started", 1)
		}
	}
	return s.finish(sum), nil
}

func (s *Service) trigger(ctx context.Context, def schedule.Definition, scheduledFor, now time.Time) (bool, error) {
	logger := s.logger.With(slog.String("schedule_id", def.ID))

	existing, err := s.engine.List(ctx, api.InstanceListOptions{
		Type:        api.WorkflowTypeCheckin,
		ReferenceID: def.ID,
	})
	if err != nil {
		return false, persistenceError(err)
	}
	for _, inst := range existing {
		p, ok := inst.Payload.(*api.CheckinPayload)
		if ok && schedule.WithinIdempotencyWindow(p.ScheduledFor, scheduledFor) {
			return false, nil
		}
	}

	info, err := s.channelInfo(ctx, def.ChannelID)
	if err != nil {
		return false, err
	}
	if !info.Exists {
		return false, fmt.Errorf("channel %s does not exist", def.ChannelID)
	}

	collectUntil := scheduledFor.Add(def.CollectWindow())
	inst, err := s.engine.Start(ctx, api.StartRequest{
		ID:           RunID(def.ID, scheduledFor),
		Type:         api.WorkflowTypeCheckin,
		ReferenceID:  def.ID,
		InitialState: api.StateCollecting,
		TTL:          collectUntil.Add(s.retention).Sub(now),
		ContextKey:   def.ChannelID,
		Payload: &api.CheckinPayload{
			ScheduleID:   def.ID,
			ScheduledFor: scheduledFor,
			CollectUntil: collectUntil,
			ChannelID:    def.ChannelID,
			Status:       api.RunCollecting,
			Participants: append([]string(nil), def.Participants...),
		},
	})
	if errors.Is(err, api.ErrInstanceExists) {
		return false, nil
	}
	if err != nil {
		return false, persistenceError(err)
	}

	res, postErr := s.messenger.PostMessage(ctx, api.Message{
		Channel: def.ChannelID,
		Text:    promptText(def),
	})

	p := inst.Payload.(*api.CheckinPayload)
	req := api.TransitionRequest{ToState: api.StateCollecting, Payload: p, Actor: actorScheduler}
	if postErr != nil {
		p.Status = api.RunFailed
		req.ToState = api.StateFailed
	} else {
		p.PromptTS = res.TS
	}
	if _, err := s.engine.Transition(ctx, inst.ID, inst.Version, req); err != nil {
		logger.WarnContext(ctx, "checkin_prompt_not_recorded", slog.String("instance_id", inst.ID), slog.Any("error", err))
	}

	if postErr != nil {
		return false, api.NewCollaboratorError("messenger", "post_prompt", false, postErr)
	}
	logger.InfoContext(ctx, "checkin_started",
		slog.String("instance_id", inst.ID),
		slog.Time("scheduled_for", scheduledFor),
		slog.Int("participants", len(p.Participants)),
	)
	return true, nil
}

// RecordResponse stores participant's answer on the run. A lost race is
// retried by re-reading the run a bounded number of times.
func (s *Service) RecordResponse(ctx context.Context, runID, participant, text string) (*api.WorkflowInstance, error) {
	var lastErr error
	for attempt := 0; attempt < responseAttempts; attempt++ {
		inst, err := s.engine.Get(ctx, runID)
		if err != nil {
			return nil, err
		}
		now := s.now()
		if !inst.Active(now) {
			return nil, fmt.Errorf("run %s: %w", runID, api.ErrNotFoundOrExpired)
		}
		p, ok := inst.Payload.(*api.CheckinPayload)
		if !ok {
			return nil, fmt.Errorf("instance %s is not a check-in run: %w", runID, api.ErrInvalidTransition)
		}
		if p.Status != api.RunCollecting || !now.Before(p.CollectUntil) {
			return nil, fmt.Errorf("run %s is no longer collecting: %w", runID, api.ErrInvalidTransition)
		}

		if p.Responses == nil {
			p.Responses = make(map[string]api.CheckinResponse)
		}
		p.Responses[participant] = api.CheckinResponse{Text: text, At: now}

		updated, err := s.engine.Transition(ctx, inst.ID, inst.Version, api.TransitionRequest{
			ToState: inst.State,
			Payload: p,
			Actor:   participant,
		})
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, api.ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// SendReminders nudges non-responders of every collecting run. The batch
// is appended to the reminder log through the engine before any DM goes
// out, so concurrent sweeps never remind the same participants twice and
// per-participant counts only grow. A recipient whose DM fails keeps the
// logged reminder.
func (s *Service) SendReminders(ctx context.Context) (*api.RunSummary, error) {
	now := s.now()
	sum := api.NewRunSummary(api.SummaryReminders, "", now)

	runs, err := s.collectingRuns(ctx)
	if err != nil {
		return s.finish(sum), err
	}

	for _, inst := range runs {
		p := inst.Payload.(*api.CheckinPayload)
		def, ok := s.defs[p.ScheduleID]
		if !ok || !inst.Active(now) {
			continue
		}
		group := sum.Group(def.ID)
		group.Total++

		claimed, recipients, err := s.claimReminderBatch(ctx, inst, def, now)
		switch {
		case err != nil && isLostRace(err):
			group.Skipped++
			sum.Inc("conflicts", 1)
			s.logger.WarnContext(ctx, "reminder_batch_not_claimed", slog.String("instance_id", inst.ID), slog.Any("error", err))
			continue
		case err != nil:
			return s.finish(sum), persistenceError(err)
		case len(recipients) == 0:
			group.Skipped++
			continue
		}

		sent := 0
		for _, user := range recipients {
			if err := s.remind(ctx, def, claimed, user); err != nil {
				group.Failed++
				sum.Inc("reminder_failed", 1)
				sum.AddError(fmt.Errorf("%s/%s: %w", inst.ID, user, err))
				continue
			}
			sent++
		}
		if sent > 0 {
			group.Processed++
			sum.Inc("reminded", sent)
		}
	}
	return s.finish(sum), nil
}

// claimReminderBatch appends a batch for the current recipients of the run
// under compare-and-swap. A lost race re-reads the run and recomputes the
// recipients, so answers recorded in between drop out of the batch. It
// returns no recipients when nobody is due.
func (s *Service) claimReminderBatch(ctx context.Context, inst *api.WorkflowInstance, def schedule.Definition, now time.Time) (*api.CheckinPayload, []string, error) {
	policy := reminder.Policy{
		MaxReminders:      def.MaxReminders,
		LeadTime:          def.ReminderLead(),
		MinSinceScheduled: s.minSince,
		MinBetweenBatches: s.minGap,
	}

	var lastErr error
	for attempt := 0; attempt < responseAttempts; attempt++ {
		if attempt > 0 {
			var err error
			if inst, err = s.engine.Get(ctx, inst.ID); err != nil {
				return nil, nil, err
			}
		}
		p, ok := inst.Payload.(*api.CheckinPayload)
		if !ok || inst.State != api.StateCollecting || p.Status != api.RunCollecting || !inst.Active(now) {
			return nil, nil, nil
		}

		recipients := reminder.ComputeRecipients(p.Participants, p.Responded(), p.Reminders, policy, p.ScheduledFor, p.CollectUntil, now)
		if len(recipients) == 0 {
			return p, nil, nil
		}

		p.Reminders = reminder.Append(p.Reminders, now, recipients)
		_, err := s.engine.Transition(ctx, inst.ID, inst.Version, api.TransitionRequest{
			ToState: inst.State,
			Payload: p,
			Actor:   actorReminders,
		})
		if err == nil {
			return p, recipients, nil
		}
		if !errors.Is(err, api.ErrVersionConflict) {
			return nil, nil, err
		}
		lastErr = err
	}
	return nil, nil, lastErr
}

func (s *Service) remind(ctx context.Context, def schedule.Definition, p *api.CheckinPayload, user string) error {
	channel, err := s.messenger.OpenDirectConversation(ctx, user)
	if err != nil {
		return api.NewCollaboratorError("messenger", "open_direct_conversation", true, err)
	}
	_, err = s.messenger.PostMessage(ctx, api.Message{
		Channel: channel,
		Text:    reminderText(def, p),
	})
	if err != nil {
		return api.NewCollaboratorError("messenger", "post_reminder", false, err)
	}
	return nil
}

// Finalize closes every collecting run whose window has ended. A run is
// first claimed by moving it to AWAITING_RESPONSE under compare-and-swap;
// only the claimant posts the digest and then moves the run to COMPLETED,
// or FAILED if posting failed.
func (s *Service) Finalize(ctx context.Context) (*api.RunSummary, error) {
	now := s.now()
	sum := api.NewRunSummary(api.SummaryFinalize, "", now)

	runs, err := s.collectingRuns(ctx)
	if err != nil {
		return s.finish(sum), err
	}

	for _, inst := range runs {
		p := inst.Payload.(*api.CheckinPayload)
		if now.Before(p.CollectUntil) || inst.Expired(now) {
			continue
		}
		group := sum.Group(p.ScheduleID)
		group.Total++

		key := dedupe.Key{ResourceID: inst.ID, ChannelID: p.ChannelID}
		if s.guard != nil && s.guard.IsDuplicate(key) {
			group.Skipped++
			sum.Inc("suppressed", 1)
			continue
		}

		claimed, err := s.claimFinalize(ctx, inst, now)
		switch {
		case err != nil && isLostRace(err):
			group.Skipped++
			sum.Inc("conflicts", 1)
			continue
		case err != nil:
			return s.finish(sum), persistenceError(err)
		case claimed == nil:
			group.Skipped++
			continue
		}
		p = claimed.Payload.(*api.CheckinPayload)

		_, postErr := s.messenger.PostMessage(ctx, api.Message{
			Channel:  p.ChannelID,
			Text:     digestText(s.defs[p.ScheduleID], p),
			ThreadTS: p.PromptTS,
		})

		req := api.TransitionRequest{ToState: api.StateCompleted, Payload: p, Actor: actorFinalizer}
		p.Status = api.RunCompleted
		if postErr != nil {
			req.ToState = api.StateFailed
			p.Status = api.RunFailed
			if s.guard != nil {
				s.guard.Forget(key)
			}
			sum.AddError(fmt.Errorf("%s: %w", inst.ID, api.NewCollaboratorError("messenger", "post_digest", false, postErr)))
		}

		_, err = s.engine.Transition(ctx, claimed.ID, claimed.Version, req)
		switch {
		case err != nil && isLostRace(err):
			group.Skipped++
			sum.Inc("conflicts", 1)
			s.logger.WarnContext(ctx, "checkin_outcome_not_recorded", slog.String("instance_id", inst.ID), slog.Any("error", err))
		case err != nil:
			return s.finish(sum), persistenceError(err)
		case postErr != nil:
			group.Failed++
			sum.Inc("failed", 1)
		default:
			group.Processed++
			sum.Inc("completed", 1)
			s.logger.InfoContext(ctx, "checkin_completed",
				slog.String("instance_id", inst.ID),
				slog.Int("responses", len(p.Responses)),
			)
		}
	}
	return s.finish(sum), nil
}

// claimFinalize moves a closed run out of collection so no other finalizer
// or responder can touch it. A conflict caused by a late write re-reads the
// run; it returns nil when the run is no longer collecting.
func (s *Service) claimFinalize(ctx context.Context, inst *api.WorkflowInstance, now time.Time) (*api.WorkflowInstance, error) {
	var lastErr error
	for attempt := 0; attempt < responseAttempts; attempt++ {
		if attempt > 0 {
			var err error
			if inst, err = s.engine.Get(ctx, inst.ID); err != nil {
				return nil, err
			}
		}
		p, ok := inst.Payload.(*api.CheckinPayload)
		if !ok || inst.State != api.StateCollecting || p.Status != api.RunCollecting || inst.Expired(now) {
			return nil, nil
		}

		p.Status = api.RunFinalizing
		claimed, err := s.engine.Transition(ctx, inst.ID, inst.Version, api.TransitionRequest{
			ToState: api.StateAwaitingResponse,
			Payload: p,
			Actor:   actorFinalizer,
		})
		if err == nil {
			return claimed, nil
		}
		if !errors.Is(err, api.ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *Service) collectingRuns(ctx context.Context) ([]*api.WorkflowInstance, error) {
	runs, err := s.engine.List(ctx, api.InstanceListOptions{
		Type:   api.WorkflowTypeCheckin,
		States: []api.State{api.StateCollecting},
	})
	if err != nil {
		return nil, persistenceError(err)
	}
	out := runs[:0]
	for _, inst := range runs {
		if p, ok := inst.Payload.(*api.CheckinPayload); ok && p.Status == api.RunCollecting {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (s *Service) channelInfo(ctx context.Context, channelID string) (api.ChannelInfo, error) {
	load := func(ctx context.Context) (api.ChannelInfo, error) {
		info, err := s.messenger.GetChannelInfo(ctx, channelID)
		if err != nil {
			return info, api.NewCollaboratorError("messenger", "channel_info", true, err)
		}
		return info, nil
	}
	if s.channels == nil {
		return load(ctx)
	}
	return s.channels.GetOrLoad(ctx, channelID, load)
}

func (s *Service) finish(sum *api.RunSummary) *api.RunSummary {
	sum.Finish(s.now())
	if s.summaries != nil {
		s.summaries.Record(sum)
	}
	return sum
}
