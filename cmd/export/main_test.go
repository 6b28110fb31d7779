package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airdash/airdash/internal/catalog"
	"github.com/airdash/airdash/internal/engine"
	"github.com/airdash/airdash/internal/export"
	"github.com/airdash/airdash/internal/transfer"
)

const sampleCSV = "datetime,site_name,pm2_5\n" +
	"2024-01-01T00:00:00Z,Nakawa,12.5\n" +
	"2024-01-02T00:00:00Z,Nakawa,14.1\n" +
	"2024-01-03T00:00:00Z,Nakawa,11.0"

func newEngine(t *testing.T, calls *[]*export.Request) *engine.Engine {
	t.Helper()
	cat := catalog.NewMemoryCatalog()
	cat.SetGrid("grid_kampala", "site_1", "site_2")

	e := engine.New(engine.Config{
		Transport: transfer.TransportFunc(func(_ context.Context, req *export.Request) (export.RawResponse, error) {
			*calls = append(*calls, req)
			return export.TextResponse(sampleCSV), nil
		}),
		Resolver: cat,
		Limits:   export.AnalysisLimits,
		Logger:   zerolog.Nop(),
	})
	t.Cleanup(e.Close)
	return e
}

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{
		"-items", "site_1, site_2,,",
		"-columns", "datetime,pm2_5",
		"-start", "2024-01-01",
		"-format", "json",
	}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, []string{"site_1", "site_2"}, opts.items)
	assert.Equal(t, []string{"datetime", "pm2_5"}, opts.columns)
	assert.Equal(t, "sites", opts.filter)
	assert.Equal(t, "pm2_5,pm10", opts.pollutants)
	assert.Equal(t, "json", opts.format)
	assert.False(t, opts.preview)
}

func TestParseFlags_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "missing items", args: []string{"-start", "2024-01-01"}},
		{name: "positional args", args: []string{"-items", "site_1", "extra"}},
		{name: "unknown flag", args: []string{"-items", "site_1", "-bogus"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args, io.Discard)
			assert.Error(t, err)
		})
	}
}

func TestOptionsApply_KeepsSelectionAfterDataType(t *testing.T) {
	state := export.NewFormState(export.AnalysisLimits)
	opts, err := parseFlags([]string{
		"-filter", "devices",
		"-items", "aq_1,aq_2",
		"-category", "mobile",
		"-start", "2024-01-01",
		"-end", "2024-01-02",
	}, io.Discard)
	require.NoError(t, err)

	require.NoError(t, opts.apply(state))

	snap := state.Snapshot()
	assert.Equal(t, export.FilterDevices, snap.FilterType)
	assert.Equal(t, []string{"aq_1", "aq_2"}, snap.SelectedIDs())
	assert.Equal(t, export.CategoryMobile, snap.Selection[0].Category)
	assert.Equal(t, export.DataRaw, snap.Configuration.DataType)
	assert.Equal(t, export.FrequencyRaw, snap.Configuration.Frequency)
}

func TestOptionsApply_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		opts options
		kind export.Kind
	}{
		{name: "frequency", opts: options{filter: "sites", items: []string{"site_1"}, frequency: "yearly"}, kind: export.KindValidation},
		{name: "file type", opts: options{filter: "sites", items: []string{"site_1"}, frequency: "daily", format: "xlsx"}, kind: export.KindUnsupportedFormat},
		{name: "start date", opts: options{filter: "sites", items: []string{"site_1"}, start: "01/02/2024"}, kind: export.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			if opts.category == "" {
				opts.category = "lowcost"
			}
			if opts.dataType == "" {
				opts.dataType = "calibrated"
			}
			if opts.format == "" {
				opts.format = "csv"
			}
			if opts.frequency == "" {
				opts.frequency = "daily"
			}
			err := opts.apply(export.NewFormState(export.AnalysisLimits))
			require.Error(t, err)
			assert.Equal(t, tt.kind, export.KindOf(err))
		})
	}

	err := options{filter: "regions"}.apply(export.NewFormState(export.AnalysisLimits))
	assert.Error(t, err)
}

func TestRun_Download(t *testing.T) {
	var calls []*export.Request
	eng := newEngine(t, &calls)
	dir := t.TempDir()

	opts, err := parseFlags([]string{
		"-items", "site_1",
		"-title", "Kampala weekly",
		"-start", "2024-01-01",
		"-end", "2024-01-31",
		"-out", dir,
	}, io.Discard)
	require.NoError(t, err)

	require.NoError(t, run(context.Background(), eng, opts, io.Discard, zerolog.Nop()))

	require.Len(t, calls, 1)
	data, err := os.ReadFile(filepath.Join(dir, "Kampala_weekly.csv"))
	require.NoError(t, err)
	assert.Equal(t, sampleCSV, string(data))
}

func TestRun_Preview(t *testing.T) {
	var calls []*export.Request
	eng := newEngine(t, &calls)

	opts, err := parseFlags([]string{
		"-filter", "cities",
		"-items", "grid_kampala",
		"-start", "2024-01-01",
		"-end", "2024-03-01",
		"-format", "pdf",
		"-preview",
	}, io.Discard)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), eng, opts, &out, zerolog.Nop()))

	require.Len(t, calls, 1)
	assert.Equal(t, []string{"site_1", "site_2"}, calls[0].Sites)

	var result export.PreviewResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.True(t, result.Truncated)
	assert.Equal(t, []string{"datetime", "site_name", "pm2_5"}, result.Headers)
}

func TestRun_ValidationErrorSkipsTransport(t *testing.T) {
	var calls []*export.Request
	eng := newEngine(t, &calls)

	opts, err := parseFlags([]string{"-items", "site_1", "-out", t.TempDir()}, io.Discard)
	require.NoError(t, err)

	err = run(context.Background(), eng, opts, io.Discard, zerolog.Nop())
	require.Error(t, err)
	assert.Equal(t, export.KindValidation, export.KindOf(err))
	assert.Empty(t, calls)
}
