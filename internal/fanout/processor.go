package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/petrijr/cadence/internal/cache"
	"github.com/petrijr/cadence/internal/collab"
	"github.com/petrijr/cadence/internal/dedupe"
	"github.com/petrijr/cadence/internal/summary"
	"github.com/petrijr/cadence/internal/taskqueue"
	"github.com/petrijr/cadence/pkg/api"
)

// DefaultPlanTimeout bounds one planner call.
const DefaultPlanTimeout = 20 * time.Second

// ProcessorConfig wires a Processor.
type ProcessorConfig struct {
	Planner   api.Planner
	Tickets   api.TicketWriter
	Messenger api.Messenger

	// Guard suppresses repeated owner messages. Optional.
	Guard *dedupe.Guard

	// Limiter paces owner messages. Optional.
	Limiter *rate.Limiter

	// Plans caches planner output per item snapshot. Optional.
	Plans *cache.Cache[string, api.Plan]

	// Channels caches channel lookups in the legacy path. Optional.
	Channels *cache.Cache[string, api.ChannelInfo]

	// OwnerBatchLimit caps items per owner in the legacy path.
	OwnerBatchLimit int

	PlanTimeout time.Duration
	Summaries   *summary.Recorder
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Processor handles one owner job: plan each item, write the plan back and
// post one aggregated message to the owner.
type Processor struct {
	cfg    ProcessorConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewProcessor creates a Processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.PlanTimeout <= 0 {
		cfg.PlanTimeout = DefaultPlanTimeout
	}
	if cfg.OwnerBatchLimit <= 0 {
		cfg.OwnerBatchLimit = DefaultOwnerBatchLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Planner == nil {
		cfg.Planner = collab.TemplatePlanner{}
	}
	if cfg.Tickets == nil {
		cfg.Tickets = collab.LogTicketWriter{Logger: cfg.Logger}
	}
	if cfg.Messenger == nil {
		cfg.Messenger = collab.NewLogMessenger(cfg.Logger)
	}
	p := &Processor{cfg: cfg, logger: cfg.Logger, now: cfg.Clock}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// HandleTask is a worker handler for owner-job tasks. Collaborator
// failures are recorded in the summary and never returned, so the worker
// does not redeliver a job whose writes may already have happened.
func (p *Processor) HandleTask(ctx context.Context, task taskqueue.Task) error {
	var job OwnerJob
	switch v := task.Payload.(type) {
	case OwnerJob:
		job = v
	case *OwnerJob:
		job = *v
	default:
		return fmt.Errorf("owner-job task %s: unexpected payload %T", task.ID, task.Payload)
	}
	if job.CorrelationID == "" {
		job.CorrelationID = task.CorrelationID
	}
	_, err := p.ProcessJob(ctx, job)
	return err
}

type itemOutcome struct {
	item StaleItem
	plan api.Plan
}

// ProcessJob processes every item of job independently and then posts the
// aggregated owner message. Only context cancellation is returned as an
// error.
func (p *Processor) ProcessJob(ctx context.Context, job OwnerJob) (*api.RunSummary, error) {
	sum := api.NewRunSummary(api.SummaryJob, job.CorrelationID, p.now())
	sum.Group(job.AssignmentGroup).Total = len(job.Items)
	err := p.processJob(ctx, job, sum)
	return p.finish(sum), err
}

func (p *Processor) processJob(ctx context.Context, job OwnerJob, sum *api.RunSummary) error {
	logger := p.logger.With(
		slog.String("job_id", job.JobID),
		slog.String("owner_key", job.OwnerKey),
		slog.String("correlation_id", job.CorrelationID),
	)
	group := sum.Group(job.AssignmentGroup)

	outcomes := make([]itemOutcome, 0, len(job.Items))
	for _, item := range job.Items {
		if err := ctx.Err(); err != nil {
			return err
		}

		plan := p.plan(ctx, job, item, sum)
		if err := p.cfg.Tickets.RecordPlan(ctx, item.ID, plan); err != nil {
			group.Failed++
			sum.Inc("record_failed", 1)
			sum.AddError(fmt.Errorf("record plan %s: %w", item.Number, api.NewCollaboratorError("tickets", "record_plan", false, err)))
			logger.WarnContext(ctx, "plan_record_failed", slog.String("item_id", item.ID), slog.Any("error", err))
		} else {
			group.Processed++
			sum.Inc("items_processed", 1)
		}
		outcomes = append(outcomes, itemOutcome{item: item, plan: plan})
	}

	if len(outcomes) == 0 {
		return nil
	}
	if err := p.postOwnerMessage(ctx, job, outcomes, sum); err != nil {
		if errors.Is(err, api.ErrDuplicateSuppressed) {
			sum.Inc("messages_suppressed", 1)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sum.Inc("message_failed", 1)
		sum.AddError(err)
		logger.WarnContext(ctx, "owner_message_failed", slog.Any("error", err))
		return nil
	}
	sum.Inc("messages_posted", 1)
	return nil
}

func (p *Processor) plan(ctx context.Context, job OwnerJob, item StaleItem, sum *api.RunSummary) api.Plan {
	pc := api.PlanContext{
		ItemID:           item.ID,
		Number:           item.Number,
		ShortDescription: item.ShortDescription,
		Priority:         item.Priority,
		State:            item.State,
		OwnerName:        firstNonEmpty(item.OwnerName, job.OwnerName, job.OwnerKey),
		AssignmentGroup:  firstNonEmpty(item.AssignmentGroup, job.AssignmentGroup),
		DaysStale:        daysSince(item.LastUpdated, p.now()),
	}

	load := func(ctx context.Context) (api.Plan, error) {
		pctx, cancel := context.WithTimeout(ctx, p.cfg.PlanTimeout)
		defer cancel()
		return p.cfg.Planner.GeneratePlan(pctx, pc)
	}

	var (
		plan api.Plan
		err  error
	)
	if p.cfg.Plans != nil {
		key := item.ID + "@" + item.LastUpdated.UTC().Format(time.RFC3339Nano)
		plan, err = p.cfg.Plans.GetOrLoad(ctx, key, load)
	} else {
		plan, err = load(ctx)
	}
	if err != nil {
		sum.Inc("plan_fallback", 1)
		p.logger.WarnContext(ctx, "plan_fallback",
			slog.String("item_id", item.ID),
			slog.Any("error", err),
		)
		return collab.TemplatePlan(pc)
	}
	return plan
}

func (p *Processor) postOwnerMessage(ctx context.Context, job OwnerJob, outcomes []itemOutcome, sum *api.RunSummary) error {
	channel := job.Channel
	if channel == "" {
		if job.OwnerKey == UnassignedOwner {
			return errors.New("no channel for unassigned items")
		}
		dm, err := p.cfg.Messenger.OpenDirectConversation(ctx, job.OwnerKey)
		if err != nil {
			return api.NewCollaboratorError("messenger", "open_direct_conversation", true, err)
		}
		channel = dm
	}

	key := dedupe.Key{ResourceID: "owner:" + job.AssignmentGroup + ":" + job.OwnerKey, ChannelID: channel}
	if p.cfg.Guard != nil && p.cfg.Guard.IsDuplicate(key) {
		return api.ErrDuplicateSuppressed
	}
	if p.cfg.Limiter != nil {
		if err := p.cfg.Limiter.Wait(ctx); err != nil {
			p.forget(key)
			return err
		}
	}

	_, err := p.cfg.Messenger.PostMessage(ctx, api.Message{
		Channel: channel,
		Text:    ownerMessage(job, outcomes),
	})
	if err != nil {
		p.forget(key)
		return api.NewCollaboratorError("messenger", "post_owner_message", false, err)
	}
	return nil
}

func (p *Processor) forget(key dedupe.Key) {
	if p.cfg.Guard != nil {
		p.cfg.Guard.Forget(key)
	}
}

// ProcessGroups is the inline path without the queue: each group's owners
// are processed directly. A failure or panic in one group is recorded and
// the remaining groups still run.
func (p *Processor) ProcessGroups(ctx context.Context, backlog []GroupBacklog) (*api.RunSummary, error) {
	sum := api.NewRunSummary(api.SummaryLegacy, "", p.now())
	for _, g := range backlog {
		if err := ctx.Err(); err != nil {
			return p.finish(sum), err
		}
		if err := p.processGroup(ctx, g, sum); err != nil {
			if ctx.Err() != nil {
				return p.finish(sum), ctx.Err()
			}
			group := sum.Group(g.AssignmentGroup)
			group.Failed = group.Total - group.Processed
			sum.Inc("groups_failed", 1)
			sum.AddError(fmt.Errorf("group %s: %w", g.AssignmentGroup, err))
			p.logger.WarnContext(ctx, "group_failed",
				slog.String("assignment_group", g.AssignmentGroup),
				slog.Any("error", err),
			)
		}
	}
	return p.finish(sum), nil
}

func (p *Processor) processGroup(ctx context.Context, g GroupBacklog, sum *api.RunSummary) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	group := sum.Group(g.AssignmentGroup)
	group.Total = len(g.Items)

	if g.Channel != "" {
		info, err := p.channelInfo(ctx, g.Channel)
		if err != nil {
			return err
		}
		if !info.Exists {
			return fmt.Errorf("channel %s does not exist", g.Channel)
		}
	}

	for _, b := range groupByOwner(g.Items) {
		items := b.items
		if len(items) > p.cfg.OwnerBatchLimit {
			group.Skipped += len(items) - p.cfg.OwnerBatchLimit
			items = items[:p.cfg.OwnerBatchLimit]
		}
		job := OwnerJob{
			OwnerKey:        b.key,
			OwnerName:       b.name,
			AssignmentGroup: g.AssignmentGroup,
			Channel:         g.Channel,
			DispatchedAt:    p.now(),
			Items:           items,
		}
		if err := p.processJob(ctx, job, sum); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) channelInfo(ctx context.Context, channelID string) (api.ChannelInfo, error) {
	load := func(ctx context.Context) (api.ChannelInfo, error) {
		return p.cfg.Messenger.GetChannelInfo(ctx, channelID)
	}
	if p.cfg.Channels == nil {
		return load(ctx)
	}
	return p.cfg.Channels.GetOrLoad(ctx, channelID, load)
}

func (p *Processor) finish(sum *api.RunSummary) *api.RunSummary {
	sum.Finish(p.now())
	if p.cfg.Summaries != nil {
		p.cfg.Summaries.Record(sum)
	}
	return sum
}

func ownerMessage(job OwnerJob, outcomes []itemOutcome) string {
	var b strings.Builder
	who := firstNonEmpty(job.OwnerName, job.OwnerKey)
	if job.OwnerKey != UnassignedOwner && job.OwnerKey != job.OwnerName {
		who = "<@" + job.OwnerKey + ">"
	}
	fmt.Fprintf(&b, "%s, %d stale item(s) in %s need attention:\n", who, len(outcomes), job.AssignmentGroup)
	for _, o := range outcomes {
		label := firstNonEmpty(o.item.Number, o.item.ID)
		if o.item.URL != "" {
			label = "<" + o.item.URL + "|" + label + ">"
		}
		fmt.Fprintf(&b, "• %s: %s\n", label, o.plan.Summary)
		for _, r := range o.plan.Reminders {
			fmt.Fprintf(&b, "    - %s\n", r)
		}
	}
	return b.String()
}

func daysSince(t, now time.Time) int {
	if t.IsZero() || now.Before(t) {
		return 0
	}
	return int(now.Sub(t).Hours() / 24)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
