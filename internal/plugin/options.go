package plugin

import (
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultPaneTimeout bounds the wait for pane readiness during install.
const DefaultPaneTimeout = 30 * time.Second

// DefaultWorkers is the default bundle scan concurrency.
const DefaultWorkers = 4

// options is shared by Manager and Discoverer; each reads the fields it needs.
type options struct {
	logger      *zap.Logger
	notifier    Notifier
	metrics     *Metrics
	tracer      trace.TracerProvider
	errorTitle  string
	paneTimeout time.Duration
	workers     int
	downloader  Downloader
	provider    Provider
	openers     []BundleOpener
}

// Option configures a Manager or Discoverer.
type Option func(*options)

func defaultOptions() options {
	return options{
		logger:      zap.NewNop(),
		errorTitle:  DefaultErrorTitle,
		paneTimeout: DefaultPaneTimeout,
		workers:     DefaultWorkers,
		downloader:  StubDownloader{},
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.notifier == nil {
		o.notifier = NewLogNotifier(o.logger)
	}
	return o
}

// WithLogger sets the logger. Nil is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithNotifier sets where user-visible notices go. Defaults to a LogNotifier.
func WithNotifier(n Notifier) Option {
	return func(o *options) {
		o.notifier = n
	}
}

// WithMetrics records transition and discovery metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithTracerProvider sets the provider for transition spans.
// Defaults to the global otel provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracer = tp
	}
}

// WithErrorTitle sets the title of error notices.
func WithErrorTitle(title string) Option {
	return func(o *options) {
		if title != "" {
			o.errorTitle = title
		}
	}
}

// WithPaneTimeout sets how long Install waits for the pane.
func WithPaneTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.paneTimeout = d
		}
	}
}

// WithWorkers sets the number of bundles scanned concurrently.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithDownloader sets the update downloader.
func WithDownloader(d Downloader) Option {
	return func(o *options) {
		if d != nil {
			o.downloader = d
		}
	}
}

// WithProvider sets the internal plugin provider used by discovery.
func WithProvider(p Provider) Option {
	return func(o *options) {
		o.provider = p
	}
}

// WithOpeners adds bundle openers used by external discovery.
func WithOpeners(openers ...BundleOpener) Option {
	return func(o *options) {
		o.openers = append(o.openers, openers...)
	}
}
