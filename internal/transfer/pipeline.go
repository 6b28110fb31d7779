// Package transfer runs export requests against a transport with per-slot
// supersession, caller deadlines and cancellation.
package transfer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/airdash/airdash/internal/export"
)

const instrumentationName = "github.com/airdash/airdash/internal/transfer"

// Slot is a single-occupancy execution context. Preview and download jobs
// run in independent slots.
type Slot string

const (
	SlotPreview  Slot = "preview"
	SlotDownload Slot = "download"
)

// Transport sends an export request and returns the raw payload.
// Implementations must abort promptly when ctx is cancelled.
type Transport interface {
	Send(ctx context.Context, req *export.Request) (export.RawResponse, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *export.Request) (export.RawResponse, error)

// Send calls f.
func (f TransportFunc) Send(ctx context.Context, req *export.Request) (export.RawResponse, error) {
	return f(ctx, req)
}

// Job cancellation causes.
var (
	// ErrSuperseded cancels a job when a newer job starts in the same slot.
	ErrSuperseded = errors.New("superseded by a newer job")

	// ErrCancelledByCaller cancels a job through Cancel.
	ErrCancelledByCaller = errors.New("cancelled by caller")

	// ErrReleased cancels a job that was released before it finished.
	ErrReleased = errors.New("job released")

	errDeadline = errors.New("transfer deadline exceeded")
)

// Config holds configuration for the pipeline.
type Config struct {
	// Transport performs the network call.
	Transport Transport

	// Logger for job lifecycle events.
	Logger zerolog.Logger

	// Tracer for job spans. Default: the global tracer provider.
	Tracer trace.Tracer

	// Meter for job metrics. Default: the global meter provider.
	Meter metric.Meter
}

// Options are per-job settings.
type Options struct {
	// Deadline bounds the transfer. Zero leaves it to the transport.
	Deadline time.Duration
}

// Pipeline issues export requests with at most one in-flight job per slot.
type Pipeline struct {
	transport Transport
	logger    zerolog.Logger
	tracer    trace.Tracer
	metrics   *metrics

	mu    sync.Mutex
	slots map[Slot]*slotState
}

type slotState struct {
	commitMu sync.Mutex
	current  *Job
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	meter := cfg.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	return &Pipeline{
		transport: cfg.Transport,
		logger:    cfg.Logger.With().Str("component", "transfer").Logger(),
		tracer:    tracer,
		metrics:   newMetrics(meter, cfg.Logger),
		slots:     make(map[Slot]*slotState),
	}
}

// Job is one transfer in a slot. A job is created by Start, runs one
// request with Execute, applies its result with Commit and ends with Release.
type Job struct {
	ID   string
	Slot Slot

	pipeline *Pipeline
	state    *slotState
	ctx      context.Context
	cancel   context.CancelCauseFunc
	timer    *time.Timer
	started  time.Time

	// mu guards arrived. The deadline only cancels the job while the
	// transport is in flight.
	mu      sync.Mutex
	arrived bool
}

// Start creates a job in slot, first cancelling the job the slot holds.
// The previous job is cancelled before Start returns, so its result can no
// longer be committed.
func (p *Pipeline) Start(parent context.Context, slot Slot, opts Options) *Job {
	ctx, cancel := context.WithCancelCause(parent)
	job := &Job{
		ID:       uuid.NewString(),
		Slot:     slot,
		pipeline: p,
		ctx:      ctx,
		cancel:   cancel,
		started:  time.Now(),
	}

	p.mu.Lock()
	state, ok := p.slots[slot]
	if !ok {
		state = &slotState{}
		p.slots[slot] = state
	}
	job.state = state
	previous := state.current
	state.current = job
	p.mu.Unlock()

	if previous != nil {
		previous.cancel(ErrSuperseded)
		p.logger.Debug().Str("slot", string(slot)).Str("job_id", previous.ID).Msg("superseded in-flight job")
	}

	if opts.Deadline > 0 {
		job.timer = time.AfterFunc(opts.Deadline, job.expire)
	}
	return job
}

// Context returns the job context. It is cancelled when the job is
// superseded, cancelled, released or its deadline expires.
func (j *Job) Context() context.Context {
	return j.ctx
}

// Execute sends req and classifies the outcome. Errors are *export.Error
// values of kind timeout, cancelled or transport. A response that arrives
// after the job was cancelled is discarded and reported as cancelled. The
// deadline only counts while the transport is in flight: once Send returns,
// a late timer no longer cancels the job.
func (j *Job) Execute(req *export.Request) (export.RawResponse, error) {
	p := j.pipeline
	ctx, span := p.tracer.Start(j.ctx, "transfer.execute",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("transfer.slot", string(j.Slot)),
			attribute.String("transfer.job_id", j.ID),
			attribute.String("export.download_type", string(req.DownloadType)),
			attribute.String("export.frequency", string(req.Frequency)),
		),
	)
	defer span.End()

	p.metrics.started(j.Slot)
	resp, err := p.transport.Send(ctx, req)
	j.arrive()

	err = classify(j.ctx, err)
	kind := outcome(err)
	span.SetAttributes(attribute.String("transfer.outcome", kind))
	p.metrics.finished(j.Slot, kind, time.Since(j.started))

	log := p.logger.With().Str("slot", string(j.Slot)).Str("job_id", j.ID).Dur("duration", time.Since(j.started)).Logger()
	switch {
	case err == nil:
		log.Info().Str("response", resp.Kind().String()).Msg("transfer completed")
		return resp, nil
	case export.IsCancelled(err):
		log.Debug().Err(err).Msg("transfer cancelled")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn().Err(err).Str("kind", kind).Msg("transfer failed")
	}
	return export.RawResponse{}, err
}

// Commit runs fn if the job is still the current job of its slot and has not
// been cancelled. Commits within a slot are serialized, so a superseded job
// can never apply its result after a newer one. A job that lost its slot
// gets a cancelled error and fn is not called.
func (j *Job) Commit(fn func() error) error {
	j.state.commitMu.Lock()
	defer j.state.commitMu.Unlock()

	j.pipeline.mu.Lock()
	current := j.state.current == j
	j.pipeline.mu.Unlock()

	if !current || j.ctx.Err() != nil {
		return cancelledError(context.Cause(j.ctx))
	}
	return fn()
}

// Cancel aborts the job. It is a no-op once the job has finished.
func (j *Job) Cancel() {
	j.cancel(ErrCancelledByCaller)
}

// Release frees the job's resources and vacates its slot if it still holds it.
func (j *Job) Release() {
	j.stopTimer()
	j.cancel(ErrReleased)

	p := j.pipeline
	p.mu.Lock()
	if j.state.current == j {
		j.state.current = nil
	}
	p.mu.Unlock()
}

func (j *Job) expire() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.arrived {
		j.cancel(errDeadline)
	}
}

func (j *Job) arrive() {
	j.mu.Lock()
	j.arrived = true
	j.mu.Unlock()
	j.stopTimer()
}

func (j *Job) stopTimer() {
	if j.timer != nil {
		j.timer.Stop()
	}
}

// Execute runs req as a new job in slot and releases it. Use Start when the
// result must be committed.
func (p *Pipeline) Execute(ctx context.Context, slot Slot, req *export.Request, opts Options) (export.RawResponse, error) {
	job := p.Start(ctx, slot, opts)
	defer job.Release()
	return job.Execute(req)
}

// Cancel aborts the in-flight job of slot and reports whether there was one.
func (p *Pipeline) Cancel(slot Slot) bool {
	p.mu.Lock()
	state, ok := p.slots[slot]
	var job *Job
	if ok {
		job = state.current
	}
	p.mu.Unlock()

	if job == nil {
		return false
	}
	job.Cancel()
	return true
}

// InFlight reports whether slot holds an unfinished job.
func (p *Pipeline) InFlight(slot Slot) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.slots[slot]
	return ok && state.current != nil && state.current.ctx.Err() == nil
}

// classify maps a transport result to the export error taxonomy. The job
// context decides first: once it is done, the outcome is a timeout when the
// deadline fired and a cancellation otherwise, whatever the transport said.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		if errors.Is(cause, errDeadline) {
			return export.WrapError(export.KindTimeout, "the request took too long, try again", cause)
		}
		return cancelledError(cause)
	}
	if err == nil {
		return nil
	}

	var exportErr *export.Error
	if errors.As(err, &exportErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return export.WrapError(export.KindTimeout, "the request took too long, try again", err)
	}
	return export.WrapError(export.KindTransport, err.Error(), err)
}

func cancelledError(cause error) error {
	return export.WrapError(export.KindCancelled, "", cause)
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if kind := export.KindOf(err); kind != "" {
		return string(kind)
	}
	return string(export.KindTransport)
}
