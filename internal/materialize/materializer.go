// Package materialize turns raw export responses into files in the
// requested format and hands them to a sink.
package materialize

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/airdash/airdash/internal/export"
	"github.com/airdash/airdash/internal/tabular"
)

// EmptyThreshold is the output size, in bytes, at or below which a CSV
// export is treated as containing no data.
const EmptyThreshold = 10

// File is a materialized export.
type File struct {
	Bytes     []byte
	Filename  string
	MediaType string
}

// Renderer serializes a table into one file format.
type Renderer interface {
	Format() export.FileType
	Render(t *Table) ([]byte, error)
}

// Config holds configuration for the materializer.
type Config struct {
	Logger zerolog.Logger

	// Renderers replace the built-in csv, json and pdf renderers by format.
	Renderers []Renderer
}

// Materializer converts raw responses into files.
type Materializer struct {
	logger zerolog.Logger

	mu        sync.RWMutex
	renderers map[export.FileType]Renderer
}

// New creates a materializer with the csv, json and pdf renderers registered.
func New(cfg Config) *Materializer {
	m := &Materializer{
		logger:    cfg.Logger.With().Str("component", "materialize").Logger(),
		renderers: make(map[export.FileType]Renderer),
	}
	m.Register(CSVRenderer{})
	m.Register(JSONRenderer{Indent: "  "})
	m.Register(PDFRenderer{})
	for _, r := range cfg.Renderers {
		m.Register(r)
	}
	return m
}

// Register adds r, replacing any renderer for the same format.
func (m *Materializer) Register(r Renderer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renderers[r.Format()] = r
}

// Formats returns the supported file types, sorted.
func (m *Materializer) Formats() []export.FileType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]export.FileType, 0, len(m.renderers))
	for f := range m.renderers {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Materializer) renderer(format export.FileType) (Renderer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.renderers[format]
	return r, ok
}

// Materialize renders raw in cfg.FileType, keeping only columns when given.
// Required catalog columns present in the data are always kept.
//
// Errors are *export.Error values: unsupported_format when no renderer
// handles the file type and empty_result when there is nothing to save.
func (m *Materializer) Materialize(raw export.RawResponse, cfg export.Configuration, columns []string) (*File, error) {
	r, ok := m.renderer(cfg.FileType)
	if !ok {
		return nil, export.NewError(export.KindUnsupportedFormat, fmt.Sprintf("%s exports are not supported", cfg.FileType))
	}

	table, err := Normalize(raw)
	if err != nil {
		return nil, err
	}
	table.Title = cfg.Title
	table.Columns = export.WithRequiredColumns(columns, table.Headers())

	data, err := r.Render(table)
	if err != nil {
		return nil, err
	}

	m.logger.Debug().
		Str("format", string(cfg.FileType)).
		Int("rows", table.Len()).
		Int("bytes", len(data)).
		Msg("materialized export")

	return &File{
		Bytes:     data,
		Filename:  Filename(cfg.Title, cfg.FileType),
		MediaType: tabular.MediaType(string(cfg.FileType)),
	}, nil
}

// Deliver materializes raw and saves the file to sink. The sink is not
// called when materializing fails or ctx is done by the time the file is
// ready; the latter is reported as a cancelled error.
func (m *Materializer) Deliver(ctx context.Context, raw export.RawResponse, cfg export.Configuration, columns []string, sink Sink) (*File, error) {
	file, err := m.Materialize(raw, cfg, columns)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, export.WrapError(export.KindCancelled, "", context.Cause(ctx))
	}
	if err := sink.Save(ctx, file); err != nil {
		if ctx.Err() != nil {
			return nil, export.WrapError(export.KindCancelled, "", context.Cause(ctx))
		}
		return nil, fmt.Errorf("save %s: %w", file.Filename, err)
	}
	return file, nil
}

func emptyResult() error {
	return export.NewError(export.KindEmptyResult, "no data is available for this selection")
}
