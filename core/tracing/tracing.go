package tracing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Exporters.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// ErrUnknownExporter is returned for an unsupported TRACING_EXPORTER.
var ErrUnknownExporter = errors.New("tracing: unknown exporter")

// Config selects the exporter and sampling.
type Config struct {
	Exporter    string  `env:"TRACING_EXPORTER" envDefault:"none"`
	SampleRatio float64 `env:"TRACING_SAMPLE_RATIO" envDefault:"1"`
}

// Provider owns the tracer provider and its exporter.
type Provider struct {
	tp   trace.TracerProvider
	sdk  *sdktrace.TracerProvider
	name string
}

// Option configures New.
type Option func(*options)

type options struct {
	service string
	output  io.Writer
}

// WithServiceName sets the service.name resource attribute.
func WithServiceName(name string) Option {
	return func(o *options) { o.service = name }
}

// WithOutput redirects the stdout exporter, mainly for tests.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.output = w }
}

// New builds the provider and installs it as the global one.
func New(ctx context.Context, cfg Config, opts ...Option) (*Provider, error) {
	o := &options{service: "acmefront", output: os.Stdout}
	for _, opt := range opts {
		opt(o)
	}

	p := &Provider{name: cfg.Exporter}
	switch cfg.Exporter {
	case "", ExporterNone:
		p.tp = noop.NewTracerProvider()
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(o.output))
		if err != nil {
			return nil, fmt.Errorf("tracing: stdout exporter: %w", err)
		}
		res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", o.service)))
		if err != nil {
			return nil, fmt.Errorf("tracing: resource: %w", err)
		}
		p.sdk = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		)
		p.tp = p.sdk
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, cfg.Exporter)
	}

	otel.SetTracerProvider(p.tp)
	return p, nil
}

// TracerProvider returns the installed provider.
func (p *Provider) TracerProvider() trace.TracerProvider { return p.tp }

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}
