// Package engine runs the export flow of one user session: validation,
// grid resolution, preview and full download over a shared form state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/airdash/airdash/internal/catalog"
	"github.com/airdash/airdash/internal/events"
	"github.com/airdash/airdash/internal/export"
	"github.com/airdash/airdash/internal/materialize"
	"github.com/airdash/airdash/internal/preview"
	"github.com/airdash/airdash/internal/transfer"
)

// DefaultDownloadTimeout bounds a full download when none is configured.
const DefaultDownloadTimeout = 60 * time.Second

// Config holds configuration for an engine.
type Config struct {
	// Transport performs export requests. A pipeline is created around it.
	Transport transfer.Transport

	// Resolver expands country and city selections into site ids.
	Resolver catalog.GridResolver

	// Materializer renders downloads. Default: materialize.New.
	Materializer *materialize.Materializer

	// Publisher receives selection and export events. Default: events.Nop.
	Publisher events.Publisher

	// Limits bound the multi-select selection.
	Limits export.SelectionLimits

	// DownloadTimeout bounds full downloads (default: 60s).
	DownloadTimeout time.Duration

	// PreviewTimeout bounds previews. Zero leaves it to the transport.
	PreviewTimeout time.Duration

	// SessionID stamps published events.
	SessionID string

	Logger zerolog.Logger
}

// Engine owns one form state and its preview and download slots.
type Engine struct {
	state        *export.FormState
	pipeline     *transfer.Pipeline
	previews     *preview.Generator
	resolver     catalog.GridResolver
	materializer *materialize.Materializer
	publisher    events.Publisher
	timeout      time.Duration
	sessionID    string
	logger       zerolog.Logger

	mu        sync.Mutex
	lastRetry *attempt
}

// attempt is a failed download kept for RetryDownload.
type attempt struct {
	snap    export.Snapshot
	columns []string
}

// New creates an engine.
func New(cfg Config) *Engine {
	base := cfg.Logger
	if cfg.SessionID != "" {
		base = base.With().Str("session_id", cfg.SessionID).Logger()
	}

	timeout := cfg.DownloadTimeout
	if timeout == 0 {
		timeout = DefaultDownloadTimeout
	}
	mat := cfg.Materializer
	if mat == nil {
		mat = materialize.New(materialize.Config{Logger: base})
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.Nop{}
	}

	pipeline := transfer.New(transfer.Config{Transport: cfg.Transport, Logger: base})

	e := &Engine{
		state:        export.NewFormState(cfg.Limits),
		pipeline:     pipeline,
		previews:     preview.NewGenerator(preview.Config{Pipeline: pipeline, Logger: base, Timeout: cfg.PreviewTimeout}),
		resolver:     cfg.Resolver,
		materializer: mat,
		publisher:    publisher,
		timeout:      timeout,
		sessionID:    cfg.SessionID,
		logger:       base.With().Str("component", "engine").Logger(),
	}
	e.state.OnChange(e.forward)
	return e
}

// State returns the form state the engine reads from.
func (e *Engine) State() *export.FormState {
	return e.state
}

// Formats returns the file types the engine can produce.
func (e *Engine) Formats() []export.FileType {
	return e.materializer.Formats()
}

// Preview validates the form and returns a sample of the export. A newer
// preview cancels this one; downloads are unaffected.
func (e *Engine) Preview(ctx context.Context) (*export.PreviewResult, error) {
	snap := e.state.Snapshot()
	if err := export.Validate(snap); err != nil {
		return nil, err
	}
	return e.previews.PreviewResolved(ctx, snap, e.resolve)
}

// Download validates the form, fetches the full export and saves it to sink
// in the configured format, keeping only columns when given. The selection
// is cleared once the file is saved.
//
// A newer download cancels this one. Cancellation is reported as an error of
// kind cancelled and publishes nothing.
func (e *Engine) Download(ctx context.Context, columns []string, sink materialize.Sink) (*materialize.File, error) {
	snap := e.state.Snapshot()
	if err := export.Validate(snap); err != nil {
		return nil, err
	}
	return e.download(ctx, snap, columns, sink)
}

// RetryDownload resubmits the last download that failed with a timeout or a
// transport error, using the same form snapshot and columns.
func (e *Engine) RetryDownload(ctx context.Context, sink materialize.Sink) (*materialize.File, error) {
	e.mu.Lock()
	last := e.lastRetry
	e.mu.Unlock()

	if last == nil {
		return nil, &export.Error{Kind: export.KindValidation, Err: export.ErrNothingToRetry}
	}
	return e.download(ctx, last.snap, last.columns, sink)
}

// CanRetry reports whether RetryDownload has a failed download to resubmit.
func (e *Engine) CanRetry() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRetry != nil
}

// Cancel aborts the in-flight job of slot and reports whether there was one.
func (e *Engine) Cancel(slot transfer.Slot) bool {
	return e.pipeline.Cancel(slot)
}

// InFlight reports whether slot has a running job.
func (e *Engine) InFlight(slot transfer.Slot) bool {
	return e.pipeline.InFlight(slot)
}

// Close cancels every running job.
func (e *Engine) Close() {
	e.pipeline.Cancel(transfer.SlotPreview)
	e.pipeline.Cancel(transfer.SlotDownload)
}

func (e *Engine) download(ctx context.Context, snap export.Snapshot, columns []string, sink materialize.Sink) (*materialize.File, error) {
	columns = append([]string(nil), columns...)

	job := e.pipeline.Start(ctx, transfer.SlotDownload, transfer.Options{Deadline: e.timeout})
	defer job.Release()

	ids, err := e.resolve(job.Context(), snap)
	if err != nil {
		if job.Context().Err() != nil {
			return nil, export.WrapError(export.KindCancelled, "", context.Cause(job.Context()))
		}
		e.failed(ctx, job, snap, columns, err)
		return nil, err
	}

	raw, err := job.Execute(export.BuildRequest(snap, ids))
	if err != nil {
		e.failed(ctx, job, snap, columns, err)
		return nil, err
	}

	var file *materialize.File
	err = job.Commit(func() error {
		f, err := e.materializer.Deliver(job.Context(), raw, snap.Configuration, columns, sink)
		if err != nil {
			return err
		}
		file = f
		e.state.ClearSelection()
		return nil
	})
	if err != nil {
		e.failed(ctx, job, snap, columns, err)
		return nil, err
	}

	e.mu.Lock()
	e.lastRetry = nil
	e.mu.Unlock()

	e.logger.Info().
		Str("job_id", job.ID).
		Str("filename", file.Filename).
		Int("bytes", len(file.Bytes)).
		Msg("export saved")
	e.publish(ctx, events.TypeExportCompleted, completedData{
		JobID:    job.ID,
		Filename: file.Filename,
		Format:   snap.Configuration.FileType,
		Bytes:    len(file.Bytes),
	})
	return file, nil
}

// resolve returns the site ids a grid selection expands to, or nil when the
// selection is not a grid.
func (e *Engine) resolve(ctx context.Context, snap export.Snapshot) ([]string, error) {
	if !snap.FilterType.IsGrid() {
		return nil, nil
	}
	if e.resolver == nil {
		return nil, errors.New("no grid resolver configured")
	}

	gridID := snap.Selection[0].ID
	ids, err := e.resolver.ResolveGrid(ctx, gridID)
	switch {
	case errors.Is(err, catalog.ErrGridNotFound):
		ids = nil
	case err != nil:
		return nil, export.WrapError(export.KindTransport, fmt.Sprintf("could not load the sites of %s", gridName(snap)), err)
	}
	if err := export.ValidateResolved(snap, ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func gridName(snap export.Snapshot) string {
	if name := snap.Selection[0].Name; name != "" {
		return name
	}
	return snap.Selection[0].ID
}

// failed publishes a failure and keeps retryable attempts for RetryDownload.
func (e *Engine) failed(ctx context.Context, job *transfer.Job, snap export.Snapshot, columns []string, err error) {
	if export.IsCancelled(err) {
		return
	}
	if export.IsRetryable(err) {
		e.mu.Lock()
		e.lastRetry = &attempt{snap: snap, columns: columns}
		e.mu.Unlock()
	}

	kind := export.KindOf(err)
	if kind == "" {
		kind = export.KindTransport
	}
	e.logger.Warn().Err(err).Str("job_id", job.ID).Str("kind", string(kind)).Msg("export failed")
	e.publish(ctx, events.TypeExportFailed, failedData{
		JobID:     job.ID,
		Kind:      kind,
		Message:   err.Error(),
		Retryable: export.IsRetryable(err),
	})
}

type completedData struct {
	JobID    string          `json:"job_id"`
	Filename string          `json:"filename"`
	Format   export.FileType `json:"format"`
	Bytes    int             `json:"bytes"`
}

type failedData struct {
	JobID     string      `json:"job_id"`
	Kind      export.Kind `json:"kind"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
}

type changeData struct {
	Field    export.Field    `json:"field,omitempty"`
	Snapshot export.Snapshot `json:"snapshot"`
}

func (e *Engine) forward(c export.Change) {
	var eventType string
	switch c.Kind {
	case export.ChangeFilterType:
		eventType = events.TypeFilterTypeChanged
	case export.ChangeSelection:
		eventType = events.TypeSelectionChanged
	default:
		eventType = events.TypeConfigurationChanged
	}
	e.publish(context.Background(), eventType, changeData{Field: c.Field, Snapshot: c.Snapshot})
}

func (e *Engine) publish(ctx context.Context, eventType string, data any) {
	if err := e.publisher.Publish(context.WithoutCancel(ctx), events.New(eventType, e.sessionID, data)); err != nil {
		e.logger.Warn().Err(err).Str("event_type", eventType).Msg("failed to publish event")
	}
}
