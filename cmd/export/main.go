// Package main provides a one-shot command that exports air quality data
// into a directory.
//
// Usage:
//
//	export -filter sites -items site_1,site_2 -start 2024-01-01 -end 2024-01-31 -format csv -out ./exports
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/airdash/airdash/internal/catalog/airqo"
	"github.com/airdash/airdash/internal/config"
	"github.com/airdash/airdash/internal/engine"
	"github.com/airdash/airdash/internal/export"
	"github.com/airdash/airdash/internal/logging"
	"github.com/airdash/airdash/internal/materialize"
	"github.com/airdash/airdash/internal/transfer/analytics"
)

// Version is set at compile time via ldflags.
var Version = "dev"

const serviceName = "airdash-export"

// options are the parsed command line flags.
type options struct {
	filter     string
	items      []string
	title      string
	category   string
	dataType   string
	pollutants string
	start      string
	end        string
	frequency  string
	format     string
	columns    []string
	out        string
	preview    bool
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if opts.out == "" {
		opts.out = cfg.Export.OutputDir
	}

	log := logging.New(logging.Config{
		Service: serviceName,
		Version: Version,
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := engine.New(engine.Config{
		Transport: analytics.NewClient(analytics.ClientConfig{
			BaseURL: cfg.Analytics.BaseURL,
			Token:   cfg.Analytics.Token,
			Timeout: cfg.Analytics.Timeout,
			Logger:  log,
		}),
		Resolver: airqo.NewClient(airqo.ClientConfig{
			BaseURL: cfg.Catalog.BaseURL,
			Token:   cfg.Catalog.Token,
			Timeout: cfg.Catalog.Timeout,
			Logger:  log,
		}),
		Limits:          export.AnalysisLimits,
		DownloadTimeout: cfg.Export.DownloadTimeout,
		PreviewTimeout:  cfg.Export.PreviewTimeout,
		Logger:          log,
	})
	defer eng.Close()

	if err := run(ctx, eng, opts, os.Stdout, log); err != nil {
		if export.IsCancelled(err) {
			log.Warn().Msg("export cancelled")
			os.Exit(130)
		}
		log.Error().Err(err).Str("kind", string(export.KindOf(err))).Msg("export failed")
		os.Exit(1)
	}
}

// parseFlags parses args into options. Usage goes to output.
func parseFlags(args []string, output io.Writer) (options, error) {
	var (
		opts    options
		items   string
		columns string
	)

	def := export.DefaultConfiguration()
	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.filter, "filter", string(export.FilterSites), "filter type: countries, cities, sites or devices")
	fs.StringVar(&items, "items", "", "comma separated ids to select")
	fs.StringVar(&opts.title, "title", "", "export title, used for the file name")
	fs.StringVar(&opts.category, "category", string(def.DeviceCategory), "device category: lowcost, bam or mobile")
	fs.StringVar(&opts.dataType, "data-type", string(def.DataType), "calibrated or raw")
	fs.StringVar(&opts.pollutants, "pollutants", strings.Join(def.Pollutants, ","), "comma separated pollutants")
	fs.StringVar(&opts.start, "start", "", "start date (YYYY-MM-DD or RFC 3339)")
	fs.StringVar(&opts.end, "end", "", "end date (YYYY-MM-DD or RFC 3339)")
	fs.StringVar(&opts.frequency, "frequency", string(def.Frequency), "raw, hourly, daily, weekly or monthly")
	fs.StringVar(&opts.format, "format", string(def.FileType), "csv, json or pdf")
	fs.StringVar(&columns, "columns", "", "comma separated columns to keep (default: all)")
	fs.StringVar(&opts.out, "out", "", "output directory (default: EXPORT_OUTPUT_DIR)")
	fs.BoolVar(&opts.preview, "preview", false, "print a preview as JSON instead of downloading")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	opts.items = splitList(items)
	opts.columns = splitList(columns)
	if len(opts.items) == 0 {
		return options{}, errors.New("-items is required")
	}
	return opts, nil
}

// apply loads opts into state. Items are toggled last because changing the
// data type clears the selection.
func (o options) apply(state *export.FormState) error {
	ft, err := export.ParseFilterType(o.filter)
	if err != nil {
		return err
	}
	if err := state.SetFilterType(ft); err != nil {
		return err
	}

	fields := []struct {
		field export.Field
		value string
	}{
		{export.FieldTitle, o.title},
		{export.FieldDeviceCategory, o.category},
		{export.FieldDataType, o.dataType},
		{export.FieldPollutants, o.pollutants},
		{export.FieldStartDate, o.start},
		{export.FieldEndDate, o.end},
		{export.FieldFrequency, o.frequency},
		{export.FieldFileType, o.format},
	}
	for _, f := range fields {
		if f.value == "" && (f.field == export.FieldStartDate || f.field == export.FieldEndDate) {
			continue
		}
		if err := state.SetField(f.field, f.value); err != nil {
			return err
		}
	}

	category := export.NormalizeDeviceCategory(o.category)
	for _, id := range o.items {
		item := export.SelectableItem{ID: id}
		if ft == export.FilterDevices {
			item.Category = category
		}
		if err := state.ToggleItem(item); err != nil {
			return err
		}
	}
	return nil
}

// run fills the engine's form from opts and either prints a preview to out
// or downloads into opts.out.
func run(ctx context.Context, eng *engine.Engine, opts options, out io.Writer, log zerolog.Logger) error {
	if err := opts.apply(eng.State()); err != nil {
		return err
	}

	if opts.preview {
		result, err := eng.Preview(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	sink := materialize.DirSink{Dir: opts.out}
	file, err := eng.Download(ctx, opts.columns, sink)
	if err != nil {
		return err
	}
	log.Info().
		Str("path", sink.Path(file)).
		Str("media_type", file.MediaType).
		Int("bytes", len(file.Bytes)).
		Msg("export written")
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

