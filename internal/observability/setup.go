package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	promreg "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/castlebay/modeldesk/internal/config"
)

type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *metric.MeterProvider
	promExporter   *prometheus.Exporter
	promHandler    http.Handler
	shutdownFuncs  []func(context.Context) error

	httpRequestCounter *promreg.CounterVec
	httpRequestLatency *promreg.HistogramVec
	cacheMetrics       *CacheMetrics
}

// CacheMetrics tracks rollup cache behavior. All methods are nil-safe so
// components can run without metrics wired.
type CacheMetrics struct {
	lookups       *promreg.CounterVec
	buildDuration *promreg.HistogramVec
}

// Hit records a cache hit; final distinguishes closed-day entries from
// current-day TTL hits.
func (m *CacheMetrics) Hit(final bool) {
	if m == nil {
		return
	}
	kind := "current"
	if final {
		kind = "final"
	}
	m.lookups.WithLabelValues("hit", kind).Inc()
}

// Miss records a cache lookup that required a build.
func (m *CacheMetrics) Miss() {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues("miss", "").Inc()
}

// BuildFinished records a completed build attempt with its outcome
// ("ok", "error", "timeout").
func (m *CacheMetrics) BuildFinished(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.buildDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func Setup(ctx context.Context, cfg config.ObservabilityConfig) (*Provider, error) {
	if !cfg.EnableOTLP && !cfg.EnableMetrics {
		return nil, nil
	}

	provider := &Provider{}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("modeldesk"),
		),
	)
	if err != nil {
		return nil, err
	}

	if cfg.EnableOTLP {
		rawEndpoint := strings.TrimSpace(cfg.OTLPEndpoint)
		endpoint := rawEndpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		opts := []otlptracegrpc.Option{}
		switch {
		case strings.HasPrefix(endpoint, "http://"):
			endpoint = strings.TrimPrefix(endpoint, "http://")
			opts = append(opts, otlptracegrpc.WithInsecure())
		case strings.HasPrefix(endpoint, "https://"):
			endpoint = strings.TrimPrefix(endpoint, "https://")
		default:
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))

		client := otlptracegrpc.NewClient(opts...)
		exporter, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		provider.tracerProvider = tp
		provider.shutdownFuncs = append(provider.shutdownFuncs, tp.Shutdown)
	}

	if cfg.EnableMetrics {
		registry := promreg.NewRegistry()
		promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
		if err != nil {
			return nil, err
		}
		mp := metric.NewMeterProvider(
			metric.WithReader(promExporter),
			metric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		provider.meterProvider = mp
		provider.promExporter = promExporter
		provider.promHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
		provider.shutdownFuncs = append(provider.shutdownFuncs, mp.Shutdown)

		httpRequests := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: "modeldesk",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed.",
			},
			[]string{"method", "route", "status"},
		)
		latencyBuckets := []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10}
		httpLatency := promreg.NewHistogramVec(
			promreg.HistogramOpts{
				Namespace: "modeldesk",
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds.",
				Buckets:   latencyBuckets,
			},
			[]string{"method", "route", "status"},
		)
		cacheLookups := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: "modeldesk",
				Name:      "rollup_cache_lookups_total",
				Help:      "Rollup cache lookups by result.",
			},
			[]string{"result", "kind"},
		)
		buildDuration := promreg.NewHistogramVec(
			promreg.HistogramOpts{
				Namespace: "modeldesk",
				Name:      "rollup_build_duration_seconds",
				Help:      "Duration of per-day rollup builds.",
				Buckets:   latencyBuckets,
			},
			[]string{"outcome"},
		)
		if err := registry.Register(httpRequests); err != nil {
			return nil, err
		}
		if err := registry.Register(httpLatency); err != nil {
			return nil, err
		}
		if err := registry.Register(cacheLookups); err != nil {
			return nil, err
		}
		if err := registry.Register(buildDuration); err != nil {
			return nil, err
		}
		provider.httpRequestCounter = httpRequests
		provider.httpRequestLatency = httpLatency
		provider.cacheMetrics = &CacheMetrics{
			lookups:       cacheLookups,
			buildDuration: buildDuration,
		}
	}

	return provider, nil
}

func (p *Provider) PrometheusHandler() http.Handler {
	if p == nil || p.promHandler == nil {
		return nil
	}
	return p.promHandler
}

// Cache returns the rollup cache collectors, nil when metrics are disabled.
func (p *Provider) Cache() *CacheMetrics {
	if p == nil {
		return nil
	}
	return p.cacheMetrics
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) TracerProvider() *sdktrace.TracerProvider {
	if p == nil {
		return nil
	}
	return p.tracerProvider
}

func (p *Provider) RecordHTTPRequest(_ context.Context, method, route string, status int, duration time.Duration) {
	if p == nil {
		return
	}

	statusLabel := strconv.Itoa(status)

	if p.httpRequestCounter != nil {
		p.httpRequestCounter.WithLabelValues(method, route, statusLabel).Inc()
	}

	if p.httpRequestLatency != nil {
		p.httpRequestLatency.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
	}
}
