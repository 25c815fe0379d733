package main

import (
	"context"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/logflow/tracemine/pkg/checkpoint"
	"github.com/logflow/tracemine/pkg/config"
	lferrors "github.com/logflow/tracemine/pkg/errors"
	"github.com/logflow/tracemine/pkg/infer"
	"github.com/logflow/tracemine/pkg/invariant"
	"github.com/logflow/tracemine/pkg/logging"
	"github.com/logflow/tracemine/pkg/metrics"
	"github.com/logflow/tracemine/pkg/oracle"
	"github.com/logflow/tracemine/pkg/telemetry"
	"github.com/logflow/tracemine/pkg/tracegraph"
	"github.com/logflow/tracemine/pkg/traceio"
)

// Loaded by setup before any command runs.
var (
	manager *config.Manager
	cfg     *config.Config
	logger  *zap.Logger
)

// setup loads the configuration and builds the logger.
func setup(cmd *cobra.Command, args []string) error {
	if configPath != "" {
		manager = config.NewManagerWithPaths()
		if err := manager.Load(); err != nil {
			return err
		}
		if err := manager.LoadFile(configPath); err != nil {
			return err
		}
	} else {
		manager = config.NewManager()
		if err := manager.Load(); err != nil {
			return err
		}
	}
	cfg = manager.Get()

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	l, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return err
	}
	logger = l
	return nil
}

// openBackend builds the configured run-record backend, mirrored when a
// mirror is configured. It returns nil when records are disabled.
func openBackend(ctx context.Context, c config.CheckpointConfig) (checkpoint.Backend, error) {
	if !c.Enabled {
		return nil, nil
	}
	primary, err := backendByName(ctx, c.Backend, c)
	if err != nil {
		return nil, err
	}
	if c.Mirror == "" {
		return primary, nil
	}
	secondary, err := backendByName(ctx, c.Mirror, c)
	if err != nil {
		return nil, err
	}
	return checkpoint.NewMultiBackend(primary, secondary, logger), nil
}

func backendByName(ctx context.Context, name string, c config.CheckpointConfig) (checkpoint.Backend, error) {
	switch name {
	case config.BackendFile:
		return checkpoint.NewFileBackend(c.Dir)
	case config.BackendRedis:
		rc := checkpoint.DefaultRedisConfig(c.Redis.Address)
		rc.Password = c.Redis.Password
		rc.Database = c.Redis.Database
		if c.Redis.Prefix != "" {
			rc.Prefix = c.Redis.Prefix
		}
		rc.TTL = c.Redis.TTL
		return checkpoint.NewRedisBackend(rc)
	case config.BackendS3:
		sc := checkpoint.DefaultS3Config(c.S3.Bucket)
		if c.S3.Prefix != "" {
			sc.Prefix = c.S3.Prefix
		}
		sc.Region = c.S3.Region
		sc.Endpoint = c.S3.Endpoint
		sc.UsePathStyle = c.S3.UsePathStyle
		return checkpoint.NewS3Backend(ctx, sc)
	default:
		return nil, lferrors.Newf(lferrors.CodeInvalidConfig, "unknown checkpoint backend %q", name)
	}
}

// openExporter builds the configured metrics exporter. The returned close
// function writes Prometheus text to the configured output, if any.
func openExporter(c config.MetricsConfig) (metrics.Exporter, func() error, error) {
	switch c.Exporter {
	case "", config.ExporterNone:
		return metrics.NewNoop(), func() error { return nil }, nil
	case config.ExporterLog:
		e := metrics.NewLogExporter(logger, zapcore.InfoLevel)
		return e, e.Close, nil
	case config.ExporterVictoria:
		e := metrics.NewVictoriaExporter()
		closeFn := func() error {
			if c.Output == "" {
				return e.Close()
			}
			f, err := os.Create(c.Output)
			if err != nil {
				return lferrors.Wrap(err, lferrors.CodeInvalidConfig, "failed to create metrics output").
					WithContext("path", c.Output)
			}
			defer f.Close()
			e.WritePrometheus(f)
			return e.Close()
		}
		return e, closeFn, nil
	default:
		return nil, nil, lferrors.Newf(lferrors.CodeInvalidConfig, "unknown metrics exporter %q", c.Exporter)
	}
}

func openTelemetry(ctx context.Context, c config.TelemetryConfig) (*telemetry.Provider, error) {
	tc := telemetry.DefaultConfig()
	tc.Enabled = c.Enabled
	tc.Endpoint = c.Endpoint
	tc.Insecure = c.Insecure
	tc.Environment = c.Environment
	tc.SamplingRatio = c.SamplingRatio
	tc.ServiceVersion = version
	return telemetry.Init(ctx, tc)
}

// engineOptions translates the inference configuration into engine options.
func engineOptions(c *config.Config) ([]infer.Option, error) {
	o, err := oracle.New(c.Oracle.Name)
	if err != nil {
		return nil, err
	}
	workers := c.Inference.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return []infer.Option{
		infer.WithLogger(logger),
		infer.WithOracle(o),
		infer.WithCoarsen(c.Inference.Coarsen),
		infer.WithMaxSplits(c.Inference.MaxSplits),
		infer.WithMaxDuration(c.Inference.MaxDuration),
		infer.WithSanityCheck(c.Inference.CheckSanity),
		infer.WithSelfCheck(c.Inference.SelfCheck),
		infer.WithImmediate(c.Inference.MineImmediate),
		infer.WithRelations(c.Inference.Relations...),
		infer.WithMinerOptions(
			invariant.WithLogger(logger),
			invariant.WithConcurrency(workers),
			invariant.WithConcurrencyInvariants(c.Inference.MineConcurrency),
			invariant.WithInterruptedBy(c.Inference.MineInterruptedBy),
		),
	}, nil
}

// Input flags shared by commands that read traces.
type inputFlags struct {
	format      string
	traceColumn string
	typeColumn  string
	delimiter   string
	orders      []string
}

func (f *inputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.format, "format", "f", "", "Input format (jsonl, csv, xlsx, text) - detected from the extension if not specified")
	cmd.Flags().StringVar(&f.traceColumn, "trace-column", "", "CSV/XLSX column holding the trace id")
	cmd.Flags().StringVar(&f.typeColumn, "type-column", "", "CSV/XLSX column holding the event type")
	cmd.Flags().StringVar(&f.delimiter, "delimiter", ",", "CSV field delimiter")
	cmd.Flags().StringSliceVar(&f.orders, "order", nil, "Declare a custom relation's order as rel=total|partial")
}

func (f *inputFlags) load(ctx context.Context, path string) ([]tracegraph.Trace, error) {
	format := traceio.ParseFormat(f.format)
	if f.format != "" && format == traceio.FormatUnknown {
		return nil, lferrors.Newf(lferrors.CodeInvalidFormat, "unknown input format %q", f.format)
	}
	lc := traceio.DefaultConfig()
	if f.traceColumn != "" {
		lc.TraceColumn = f.traceColumn
	}
	if f.typeColumn != "" {
		lc.TypeColumn = f.typeColumn
	}
	if d := []rune(f.delimiter); len(d) == 1 {
		lc.Delimiter = d[0]
	} else if f.delimiter == `\t` {
		lc.Delimiter = '\t'
	}

	traces, err := traceio.LoadFile(ctx, path, format, lc)
	if err != nil {
		return nil, err
	}
	logger.Debug("Traces loaded", zap.String("input", path), zap.Int("traces", len(traces)))
	return traces, nil
}

// orderOptions parses --order rel=total|partial.
func (f *inputFlags) orderOptions() ([]infer.Option, error) {
	var opts []infer.Option
	for _, arg := range f.orders {
		rel, order, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, lferrors.Newf(lferrors.CodeInvalidConfig, "invalid --order %q, want rel=total|partial", arg)
		}
		o, ok := tracegraph.ParseOrder(order)
		if !ok {
			return nil, lferrors.Newf(lferrors.CodeInvalidConfig, "unknown order %q", order)
		}
		opts = append(opts, infer.WithRelationOrder(rel, o))
	}
	return opts, nil
}
