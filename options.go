package geosem

import (
	"log/slog"

	"github.com/hupe1980/geosem/atom"
	"github.com/hupe1980/geosem/blobstore"
	"github.com/hupe1980/geosem/codec"
	"github.com/hupe1980/geosem/curve"
	"github.com/hupe1980/geosem/distance"
	"github.com/hupe1980/geosem/event"
	"github.com/hupe1980/geosem/maintenance"
	"github.com/hupe1980/geosem/projector"
)

type options struct {
	codec            codec.Codec
	records          atom.Records
	blobs            blobstore.Store
	checkpoints      blobstore.Store
	notifier         event.Notifier
	metricsCollector MetricsCollector
	logger           *Logger
	metric           distance.Metric
	basisSeed        int64
	defaultRadius    float64
	curveOptions     []func(o *curve.Options)
	projectorOptions []func(o *projector.Options)
	rebaseOptions    []func(o *maintenance.Options)
}

// Option configures Index constructor behavior.
type Option func(*options)

// WithCodec configures the codec used for snapshots and rebase checkpoints.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithRecords configures the atom record backend. Defaults to the in-memory
// store; pass a ddb.Records to back records with DynamoDB.
func WithRecords(r atom.Records) Option {
	return func(o *options) {
		o.records = r
	}
}

// WithBlobStore configures where raw content bytes are stored. Defaults to
// an in-memory store; pass a local, S3 or MinIO store for durability.
func WithBlobStore(s blobstore.Store) Option {
	return func(o *options) {
		o.blobs = s
	}
}

// WithCheckpointStore configures where rebase checkpoints are written.
// Defaults to the content blob store.
func WithCheckpointStore(s blobstore.Store) Option {
	return func(o *options) {
		o.checkpoints = s
	}
}

// WithNotifier configures the atom lifecycle event notifier.
// Pass event.Multi{...} to fan out to several sinks.
func WithNotifier(n event.Notifier) Option {
	return func(o *options) {
		o.notifier = n
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetric configures the anchor distance metric used by new bases.
func WithMetric(m distance.Metric) Option {
	return func(o *options) {
		o.metric = m
	}
}

// WithBasisSeed configures the seed used for initial deterministic bases.
func WithBasisSeed(seed int64) Option {
	return func(o *options) {
		o.basisSeed = seed
	}
}

// WithDefaultRadius configures the default stage-one search radius in
// projected space. Small radii lose recall near cell boundaries; large radii
// drift the candidate set toward a full scan.
func WithDefaultRadius(r float64) Option {
	return func(o *options) {
		o.defaultRadius = r
	}
}

// WithCurveOptions configures the spatial encoder (precision bits, bounds).
func WithCurveOptions(optFns ...func(o *curve.Options)) Option {
	return func(o *options) {
		o.curveOptions = append(o.curveOptions, optFns...)
	}
}

// WithProjectorOptions configures the multilateration solver.
func WithProjectorOptions(optFns ...func(o *projector.Options)) Option {
	return func(o *options) {
		o.projectorOptions = append(o.projectorOptions, optFns...)
	}
}

// WithRebaseOptions configures rebase jobs (workers, pacing, checkpointing).
func WithRebaseOptions(optFns ...func(o *maintenance.Options)) Option {
	return func(o *options) {
		o.rebaseOptions = append(o.rebaseOptions, optFns...)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:            codec.Default,
		notifier:         event.Noop{},
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		metric:           distance.MetricL2,
		basisSeed:        1,
		defaultRadius:    0.75,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
