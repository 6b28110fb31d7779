// Package preview samples the first days of an export before the full
// download is requested.
package preview

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/airdash/airdash/internal/export"
	"github.com/airdash/airdash/internal/materialize"
	"github.com/airdash/airdash/internal/tabular"
	"github.com/airdash/airdash/internal/transfer"
)

const (
	// Window is the longest period a preview requests.
	Window = 7 * 24 * time.Hour

	// MaxRows is the number of data rows kept in a preview.
	MaxRows = 10
)

const noteDateLayout = "2 Jan 2006"

// Config holds configuration for the preview generator.
type Config struct {
	Pipeline *transfer.Pipeline
	Logger   zerolog.Logger

	// Timeout bounds the preview transfer. Zero leaves it to the transport.
	Timeout time.Duration
}

// Generator produces bounded previews through the preview slot.
type Generator struct {
	pipeline *transfer.Pipeline
	logger   zerolog.Logger
	timeout  time.Duration
}

// NewGenerator creates a preview generator.
func NewGenerator(cfg Config) *Generator {
	return &Generator{
		pipeline: cfg.Pipeline,
		logger:   cfg.Logger.With().Str("component", "preview").Logger(),
		timeout:  cfg.Timeout,
	}
}

// ClampRange limits r to at most Window from its start.
func ClampRange(r export.DateRange) (export.DateRange, bool) {
	limit := r.Start.Add(Window)
	if r.End.After(limit) {
		return export.DateRange{Start: r.Start, End: limit}, true
	}
	return r, false
}

// Request builds the preview request for snap: the window is clamped and
// the download type is always CSV, whatever the chosen export format.
func Request(snap export.Snapshot, resolvedIDs []string) (*export.Request, export.DateRange, bool) {
	window, truncated := ClampRange(snap.Configuration.Duration)
	snap.Configuration = snap.Configuration.Clone()
	snap.Configuration.Duration = window
	snap.Configuration.FileType = export.FileCSV
	return export.BuildRequest(snap, resolvedIDs), window, truncated
}

// ResolveFunc returns the site ids a snapshot's grid selection expands to.
// It runs inside the preview job, so a newer preview cancels it.
type ResolveFunc func(ctx context.Context, snap export.Snapshot) ([]string, error)

// Preview requests a sample of snap and returns its columns and first rows.
// It starts a job in the preview slot, superseding any running preview.
//
// Failures are *export.Error values of kind preview wrapping the cause, except
// cancellations, which are returned as kind cancelled.
func (g *Generator) Preview(ctx context.Context, snap export.Snapshot, resolvedIDs []string) (*export.PreviewResult, error) {
	return g.PreviewResolved(ctx, snap, func(context.Context, export.Snapshot) ([]string, error) {
		return resolvedIDs, nil
	})
}

// PreviewResolved is Preview with the grid resolution run in the preview job.
// Resolution failures are wrapped as kind preview like any other failure.
func (g *Generator) PreviewResolved(ctx context.Context, snap export.Snapshot, resolve ResolveFunc) (*export.PreviewResult, error) {
	job := g.pipeline.Start(ctx, transfer.SlotPreview, transfer.Options{Deadline: g.timeout})
	defer job.Release()

	resolvedIDs, err := resolve(job.Context(), snap)
	if err != nil {
		if job.Context().Err() != nil {
			return nil, export.WrapError(export.KindCancelled, "", context.Cause(job.Context()))
		}
		return nil, previewError(err)
	}
	req, window, truncated := Request(snap, resolvedIDs)

	raw, err := job.Execute(req)
	if err != nil {
		return nil, previewError(err)
	}

	table, err := materialize.Normalize(raw)
	if err != nil {
		return nil, previewError(err)
	}

	headers := table.Headers()
	if len(headers) == 0 {
		return nil, previewError(export.NewError(export.KindEmptyResult, "no data is available for this selection"))
	}

	rows := table.Rows()
	if len(rows) > MaxRows {
		rows = rows[:MaxRows]
	}

	result := &export.PreviewResult{
		Headers:        headers,
		Rows:           append([]tabular.Record(nil), rows...),
		DateRange:      window,
		Truncated:      truncated,
		Note:           note(snap.Configuration.Duration, window, truncated),
		DefaultColumns: export.DefaultColumns(headers),
	}

	var committed *export.PreviewResult
	if err := job.Commit(func() error {
		committed = result
		return nil
	}); err != nil {
		return nil, err
	}

	g.logger.Debug().
		Int("columns", len(headers)).
		Int("rows", len(result.Rows)).
		Bool("truncated", truncated).
		Msg("preview generated")
	return committed, nil
}

func previewError(err error) error {
	if export.IsCancelled(err) {
		return err
	}
	return export.WrapError(export.KindPreview, "could not load a preview: "+err.Error(), err)
}

func note(requested, window export.DateRange, truncated bool) string {
	if !truncated {
		return fmt.Sprintf("Showing up to %d rows for the full selected period, %s to %s.",
			MaxRows, window.Start.Format(noteDateLayout), window.End.Format(noteDateLayout))
	}
	days := int(requested.Span().Round(24*time.Hour) / (24 * time.Hour))
	return fmt.Sprintf("Showing up to %d rows from %s to %s, the first 7 days of the selected %d-day period. The download includes the full period.",
		MaxRows, window.Start.Format(noteDateLayout), window.End.Format(noteDateLayout), days)
}
