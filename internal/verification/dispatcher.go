package verification

import (
	"context"
	"sync"
	"time"

	"intake/internal/events"
	"intake/internal/logging"
	"intake/internal/metrics"
	"intake/internal/models"

	"github.com/rs/zerolog"
)

const DefaultTimeout = 30 * time.Second

// StatusWriter persists the verification outcome on the remote record.
type StatusWriter interface {
	UpdateVerification(ctx context.Context, correlationID, status, message string) error
}

// LocalMirror copies the outcome onto the device copy of the record.
type LocalMirror interface {
	SetLocalVerification(ctx context.Context, correlationID, status string) error
}

// CacheInvalidator drops cached list views built from a remote collection.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, collections ...string) error
}

// Dispatcher runs verification calls detached from the replay pass that
// started them.
type Dispatcher struct {
	client  Client
	writer  StatusWriter
	local   LocalMirror
	cache   CacheInvalidator
	timeout time.Duration
	bus     *events.EventBus
	logger  *zerolog.Logger
	wg      sync.WaitGroup
}

func NewDispatcher(client Client, writer StatusWriter, local LocalMirror, timeout time.Duration, bus *events.EventBus, logger *zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		client:  client,
		writer:  writer,
		local:   local,
		timeout: timeout,
		bus:     bus,
		logger:  logging.Component(logger, "verification"),
	}
}

// WithCache makes a successful write-back invalidate the cached
// applications list. Call it before the first Dispatch.
func (d *Dispatcher) WithCache(cache CacheInvalidator) *Dispatcher {
	d.cache = cache
	return d
}

// Dispatch starts verification of rec in the background and returns at once.
// Cancelling ctx does not stop the call; only the timeout does.
func (d *Dispatcher) Dispatch(ctx context.Context, rec models.Record) {
	detached := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(detached, rec)
	}()
}

// Wait blocks until every dispatched verification has written its outcome.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, rec models.Record) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	result := d.client.Verify(callCtx, rec.CorrelationID, rec.Data)
	if callCtx.Err() != nil && result.Kind != models.VerificationKindSuccess {
		result = models.VerificationResult{
			Kind:    models.VerificationKindTransportError,
			Code:    "timeout",
			Message: "verification timed out after " + d.timeout.String(),
		}
	}
	cancel()

	metrics.IncVerification(string(result.Kind))
	log := d.logger.With().
		Str("correlation_id", rec.CorrelationID).
		Str("kind", string(result.Kind)).
		Str("code", result.Code).
		Logger()

	writeCtx, cancelWrite := context.WithTimeout(ctx, d.timeout)
	defer cancelWrite()

	status := result.Status()
	if err := d.writer.UpdateVerification(writeCtx, rec.CorrelationID, status, result.Message); err != nil {
		log.Error().Err(err).Msg("verification write-back failed")
	} else {
		log.Info().Str("status", status).Msg("verification recorded")
		if d.cache != nil {
			if err := d.cache.Invalidate(writeCtx, models.CollectionApplications); err != nil {
				log.Warn().Err(err).Msg("invalidate list cache")
			}
		}
	}
	if d.local != nil {
		if err := d.local.SetLocalVerification(writeCtx, rec.CorrelationID, status); err != nil {
			log.Warn().Err(err).Msg("local verification mirror failed")
		}
	}

	if err := d.bus.PublishJSON(events.EventVerification, events.VerificationPayload{
		CorrelationID: rec.CorrelationID,
		Result:        result,
	}); err != nil {
		log.Warn().Err(err).Msg("publish verification event")
	}
}
