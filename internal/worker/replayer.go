package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"intake/internal/events"
	"intake/internal/google"
	"intake/internal/logging"
	"intake/internal/metrics"
	"intake/internal/models"
	"intake/internal/queue"
	"intake/internal/remote"

	"github.com/rs/zerolog"
)

var (
	// ErrUnknownTaskType is returned for task kinds without a handler.
	ErrUnknownTaskType = errors.New("unknown task type")
	// ErrBlobMissing means the staged blob of an upload task is gone.
	ErrBlobMissing = errors.New("staged blob missing")
	// ErrNoUploader means upload tasks cannot run in this process.
	ErrNoUploader = errors.New("document uploader not configured")

	errBadPayload = errors.New("undecodable task payload")
)

// TaskQueue is the part of the offline queue the replayer drives.
type TaskQueue interface {
	GetQueue(ctx context.Context) ([]models.Task, error)
	RemoveTask(ctx context.Context, id string) error
	IncrementRetries(ctx context.Context, id string, cause error) (bool, error)
	Drop(ctx context.Context, id string, cause error) error
	Policy() queue.RetryPolicy
}

type BlobStore interface {
	GetBlob(ctx context.Context, key string) (*models.StagedBlob, error)
	DeleteBlob(ctx context.Context, key string) error
}

// LocalRecords is the device-side draft cache updated after replay.
type LocalRecords interface {
	MarkLocalRecordSynced(ctx context.Context, correlationID string, asOf time.Time) (bool, error)
	DeleteLocalTombstone(ctx context.Context, correlationID string) error
}

type DocumentUploader interface {
	Upload(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// Verifier runs the secondary integration call detached from the pass.
type Verifier interface {
	Dispatch(ctx context.Context, rec models.Record)
	Wait()
}

type CacheInvalidator interface {
	Invalidate(ctx context.Context, collections ...string) error
}

type Notifier interface {
	Notify(ctx context.Context, summary models.ReplaySummary)
}

// ActorProvider supplies the authenticated agent, if any.
type ActorProvider interface {
	Actor() (string, bool)
}

// Connectivity reports whether the remote side is reachable.
type Connectivity interface {
	Online() bool
}

type Deps struct {
	Queue    TaskQueue
	Remote   remote.Store
	Blobs    BlobStore
	Local    LocalRecords
	Uploader DocumentUploader
	Verifier Verifier
	Cache    CacheInvalidator
	Notifier Notifier
	Session  ActorProvider
	Network  Connectivity
	Bus      *events.EventBus
	Logger   *zerolog.Logger
}

// Replayer drains the offline queue against the remote store, one task at
// a time in queue order.
type Replayer struct {
	deps    Deps
	logger  *zerolog.Logger
	running atomic.Bool
	now     func() time.Time

	mu     sync.Mutex
	totals models.ReplaySummary
}

func NewReplayer(deps Deps) *Replayer {
	return &Replayer{
		deps:   deps,
		logger: logging.Component(deps.Logger, "replayer"),
		now:    time.Now,
	}
}

// Totals returns counters accumulated over every pass since start.
func (r *Replayer) Totals() models.ReplaySummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totals
}

// Running reports whether a pass is in flight.
func (r *Replayer) Running() bool {
	return r.running.Load()
}

// Wait blocks until detached verification calls have finished.
func (r *Replayer) Wait() {
	if r.deps.Verifier != nil {
		r.deps.Verifier.Wait()
	}
}

// Run triggers a pass every interval while the network is online.
func (r *Replayer) Run(ctx context.Context, interval time.Duration) {
	r.logger.Info().Dur("interval", interval).Msg("replayer started")
	defer r.logger.Info().Msg("replayer stopped")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.deps.Network != nil && !r.deps.Network.Online() {
				continue
			}
			r.ProcessQueue(ctx)
		}
	}
}

// ProcessQueue performs one drain pass over the queue as it exists now. The
// bool is false when no pass ran: another pass was in flight, no actor is
// signed in, or no remote store is configured. Per-task failures are classified and counted, never returned.
func (r *Replayer) ProcessQueue(ctx context.Context) (models.ReplaySummary, bool) {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Debug().Msg("replay already in flight, skipping")
		return models.ReplaySummary{}, false
	}
	defer r.running.Store(false)

	actor, ok := r.actor()
	if !ok {
		r.logger.Debug().Msg("no authenticated actor, leaving queue untouched")
		return models.ReplaySummary{}, false
	}
	if r.deps.Remote == nil {
		r.logger.Debug().Msg("remote store not configured, leaving queue untouched")
		return models.ReplaySummary{}, false
	}

	summary := models.ReplaySummary{StartedAt: r.now()}
	tasks, err := r.deps.Queue.GetQueue(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("read queue")
		return summary, false
	}
	metrics.IncReplayPass()

	policy := r.deps.Queue.Policy()
	blocked := make(map[string]bool)
	affected := make(map[string]struct{})

	for i := range tasks {
		task := tasks[i]
		if ctx.Err() != nil {
			break
		}
		log := r.logger.With().
			Str("task_id", task.ID).
			Str("type", string(task.Type)).
			Str("correlation_id", task.CorrelationID).
			Logger()

		if blocked[task.CorrelationID] || !policy.Ready(task, r.now()) {
			if task.CorrelationID != "" {
				blocked[task.CorrelationID] = true
			}
			summary.Deferred++
			metrics.IncReplayed(string(task.Type), metrics.OutcomeDeferred)
			continue
		}

		summary.Attempted++
		cleanup, err := r.dispatch(ctx, actor, task)
		switch {
		case err == nil:
			if err := r.deps.Queue.RemoveTask(ctx, task.ID); err != nil {
				log.Error().Err(err).Msg("remove replayed task")
			}
			if cleanup != nil {
				cleanup()
			}
			summary.Succeeded++
			affected[task.Type.Collection()] = struct{}{}
			metrics.IncReplayed(string(task.Type), metrics.OutcomeSuccess)
			log.Debug().Msg("task replayed")

		case isTaskFatal(err):
			if dropErr := r.deps.Queue.Drop(ctx, task.ID, err); dropErr != nil {
				log.Error().Err(dropErr).Msg("drop task")
			}
			summary.PermanentFailures++
			metrics.IncReplayed(string(task.Type), metrics.OutcomePermanent)
			if task.CorrelationID != "" {
				blocked[task.CorrelationID] = true
			}
			log.Warn().Err(err).Msg("task failed permanently")

		default:
			retry, incErr := r.deps.Queue.IncrementRetries(ctx, task.ID, err)
			if incErr != nil {
				log.Error().Err(incErr).Msg("increment retries")
			}
			if retry {
				summary.Retrying++
				metrics.IncReplayed(string(task.Type), metrics.OutcomeRetry)
				if task.CorrelationID != "" {
					blocked[task.CorrelationID] = true
				}
				log.Info().Err(err).Int("retry_count", task.RetryCount+1).Msg("task failed, will retry")
			} else {
				summary.PermanentFailures++
				metrics.IncReplayed(string(task.Type), metrics.OutcomePermanent)
				if task.CorrelationID != "" {
					blocked[task.CorrelationID] = true
				}
				log.Warn().Err(err).Msg("task exceeded retry limit")
			}
		}
	}

	summary.Duration = time.Since(summary.StartedAt)
	r.afterPass(ctx, summary, affected)
	return summary, true
}

func (r *Replayer) actor() (string, bool) {
	if r.deps.Session == nil {
		return "", false
	}
	id, ok := r.deps.Session.Actor()
	return id, ok && id != ""
}

func (r *Replayer) afterPass(ctx context.Context, summary models.ReplaySummary, affected map[string]struct{}) {
	r.mu.Lock()
	r.totals.Attempted += summary.Attempted
	r.totals.Succeeded += summary.Succeeded
	r.totals.PermanentFailures += summary.PermanentFailures
	r.totals.Retrying += summary.Retrying
	r.totals.Deferred += summary.Deferred
	r.totals.StartedAt = summary.StartedAt
	r.totals.Duration += summary.Duration
	r.mu.Unlock()

	if len(affected) > 0 {
		collections := make([]string, 0, len(affected))
		for c := range affected {
			collections = append(collections, c)
		}
		sort.Strings(collections)
		if r.deps.Cache != nil {
			if err := r.deps.Cache.Invalidate(ctx, collections...); err != nil {
				r.logger.Warn().Err(err).Strs("collections", collections).Msg("cache invalidation failed")
			}
		}
		if err := r.deps.Bus.PublishJSON(events.EventCacheInvalidated, events.CacheInvalidatedPayload{Collections: collections}); err != nil {
			r.logger.Warn().Err(err).Msg("publish cache event")
		}
	}

	if summary.Attempted == 0 {
		return
	}

	if r.deps.Notifier != nil {
		r.deps.Notifier.Notify(ctx, summary)
	}
	if err := r.deps.Bus.PublishJSON(events.EventSyncCompleted, events.SyncCompletedPayload{
		Summary: summary,
		Message: summary.Message(),
	}); err != nil {
		r.logger.Warn().Err(err).Msg("publish sync event")
	}

	r.logger.Info().
		Int("attempted", summary.Attempted).
		Int("succeeded", summary.Succeeded).
		Int("retrying", summary.Retrying).
		Int("permanent_failures", summary.PermanentFailures).
		Int("deferred", summary.Deferred).
		Dur("duration", summary.Duration).
		Msg(summary.Message())
}

func isTaskFatal(err error) bool {
	return errors.Is(err, ErrUnknownTaskType) ||
		errors.Is(err, errBadPayload) ||
		errors.Is(err, ErrBlobMissing) ||
		errors.Is(err, ErrNoUploader) ||
		remote.IsPermanent(err) ||
		google.IsPermanent(err)
}

func badPayload(err error) error {
	return fmt.Errorf("%w: %w", errBadPayload, err)
}
