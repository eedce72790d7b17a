package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/cadence/internal/summary"
	"github.com/petrijr/cadence/internal/taskqueue"
	"github.com/petrijr/cadence/pkg/api"
)

const (
	DefaultOwnerBatchLimit = 10
	DefaultOwnerJobLimit   = 25
)

// EnqueueFunc hands a job to the async queue.
type EnqueueFunc func(ctx context.Context, job OwnerJob) error

// QueueEnqueuer returns an EnqueueFunc that wraps jobs in owner-job tasks.
func QueueEnqueuer(q taskqueue.Queue) EnqueueFunc {
	return func(ctx context.Context, job OwnerJob) error {
		return q.Enqueue(ctx, taskqueue.Task{
			Type:          taskqueue.TaskTypeOwnerJob,
			Payload:       job,
			CorrelationID: job.CorrelationID,
			EnqueuedAt:    job.DispatchedAt,
		})
	}
}

// DispatchConfig bounds one dispatch call.
type DispatchConfig struct {
	// OwnerBatchLimit caps items per job.
	OwnerBatchLimit int

	// OwnerJobLimit caps jobs per Dispatch call across all groups.
	OwnerJobLimit int

	Summaries *summary.Recorder
	Logger    *slog.Logger
	Clock     func() time.Time
	NewID     func() string
}

// Dispatcher turns backlogs into owner jobs.
type Dispatcher struct {
	cfg     DispatchConfig
	enqueue EnqueueFunc
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(enqueue EnqueueFunc, cfg DispatchConfig) *Dispatcher {
	if cfg.OwnerBatchLimit <= 0 {
		cfg.OwnerBatchLimit = DefaultOwnerBatchLimit
	}
	if cfg.OwnerJobLimit <= 0 {
		cfg.OwnerJobLimit = DefaultOwnerJobLimit
	}
	d := &Dispatcher{
		cfg:     cfg,
		enqueue: enqueue,
		logger:  cfg.Logger,
		now:     cfg.Clock,
		newID:   cfg.NewID,
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.newID == nil {
		d.newID = uuid.NewString
	}
	return d
}

type ownerBucket struct {
	key   string
	name  string
	items []StaleItem
}

// groupByOwner buckets items by owner key in first-seen order.
func groupByOwner(items []StaleItem) []ownerBucket {
	index := make(map[string]int)
	var buckets []ownerBucket
	for _, it := range items {
		key := it.OwnerKey()
		i, ok := index[key]
		if !ok {
			i = len(buckets)
			index[key] = i
			buckets = append(buckets, ownerBucket{key: key, name: it.OwnerName})
		}
		buckets[i].items = append(buckets[i].items, it)
	}
	return buckets
}

// Dispatch emits at most OwnerJobLimit jobs, each with at most
// OwnerBatchLimit items. Owners left once the cap is reached are skipped
// and picked up by a later call. A failed enqueue is counted and does not
// use up the cap.
func (d *Dispatcher) Dispatch(ctx context.Context, backlog []GroupBacklog) (*api.RunSummary, error) {
	correlationID := d.newID()
	sum := api.NewRunSummary(api.SummaryDispatch, correlationID, d.now())
	logger := d.logger.With(slog.String("correlation_id", correlationID))

	emitted := 0
	for _, g := range backlog {
		group := sum.Group(g.AssignmentGroup)
		group.Total = len(g.Items)

		for _, b := range groupByOwner(g.Items) {
			if err := ctx.Err(); err != nil {
				return d.finish(sum), err
			}
			if emitted >= d.cfg.OwnerJobLimit {
				group.Skipped += len(b.items)
				sum.Inc("owners_skipped", 1)
				continue
			}

			items := b.items
			if len(items) > d.cfg.OwnerBatchLimit {
				sum.Inc("items_deferred", len(items)-d.cfg.OwnerBatchLimit)
				group.Skipped += len(items) - d.cfg.OwnerBatchLimit
				items = items[:d.cfg.OwnerBatchLimit]
			}

			job := OwnerJob{
				JobID:           d.newID(),
				OwnerKey:        b.key,
				OwnerName:       b.name,
				AssignmentGroup: g.AssignmentGroup,
				Channel:         g.Channel,
				CorrelationID:   correlationID,
				DispatchedAt:    d.now(),
				Items:           append([]StaleItem(nil), items...),
			}
			if err := d.enqueue(ctx, job); err != nil {
				group.Failed += len(items)
				sum.Inc("enqueue_failed", 1)
				sum.AddError(fmt.Errorf("enqueue %s/%s: %w", g.AssignmentGroup, b.key, err))
				logger.WarnContext(ctx, "owner_job_enqueue_failed",
					slog.String("owner_key", b.key),
					slog.String("assignment_group", g.AssignmentGroup),
					slog.Any("error", err),
				)
				continue
			}

			emitted++
			group.Processed += len(items)
			sum.Inc("jobs", 1)
		}
	}

	logger.InfoContext(ctx, "dispatch_finished",
		slog.Int("jobs", emitted),
		slog.Int("owners_skipped", sum.Counts["owners_skipped"]),
	)
	return d.finish(sum), nil
}

func (d *Dispatcher) finish(sum *api.RunSummary) *api.RunSummary {
	sum.Finish(d.now())
	if d.cfg.Summaries != nil {
		d.cfg.Summaries.Record(sum)
	}
	return sum
}
