// Package tracing wires OpenTelemetry into the supervisor and the worker.
// Both processes build a Provider from the same config and tag their
// spans with their role, so one trace file shows both sides of a request.
package tracing

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	DefaultServiceName  = "rinawarp-agent"
	DefaultOTLPEndpoint = "localhost:4317"
)

// Exporter names accepted by Config.Exporter.
const (
	ExporterNone   = "none"
	ExporterFile   = "file"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Process roles recorded on every span's resource.
const (
	RoleSupervisor = "supervisor"
	RoleWorker     = "worker"
)

// Resource attribute keys.
const (
	ResService = "service.name"
	ResRole    = "rinawarp.role"
	ResPID     = "process.pid"
)

// Config configures a Provider.
type Config struct {
	Enabled bool
	// Exporter is one of the Exporter* names; "" behaves like "none".
	Exporter string
	// FilePath is the JSONL file written by the file exporter.
	FilePath     string
	OTLPEndpoint string
	// SampleRate is the fraction of root traces kept, in (0, 1].
	SampleRate  float64
	ServiceName string
	// Role is RoleSupervisor or RoleWorker.
	Role string
}

// DefaultConfig returns tracing disabled with file export preselected.
func DefaultConfig() Config {
	return Config{
		Exporter:     ExporterFile,
		OTLPEndpoint: DefaultOTLPEndpoint,
		SampleRate:   1.0,
		ServiceName:  DefaultServiceName,
	}
}

func (c Config) withDefaults() Config {
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.OTLPEndpoint == "" {
		c.OTLPEndpoint = DefaultOTLPEndpoint
	}
	if c.SampleRate <= 0 || c.SampleRate > 1 {
		c.SampleRate = 1.0
	}
	return c
}

// Provider owns the SDK tracer provider, if any, and the tracer handed
// to the rest of the process.
type Provider struct {
	sdk    *sdktrace.TracerProvider
	tracer trace.Tracer
}

// NewProvider builds the provider cfg describes and installs it as the
// global otel provider. A disabled config yields a no-op tracer.
func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{tracer: noop.NewTracerProvider().Tracer("rinawarp")}, nil
	}
	cfg = cfg.withDefaults()

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(newResource(cfg)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	}

	exporter, err := newExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s exporter: %w", cfg.Exporter, err)
	}
	// Without an exporter spans are still created so trace ids can be
	// correlated in logs.
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	sdk := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(sdk)
	return &Provider{sdk: sdk, tracer: sdk.Tracer(cfg.ServiceName)}, nil
}

// newResource is schemaless so it never conflicts with resource.Default.
func newResource(cfg Config) *resource.Resource {
	attrs := []attribute.KeyValue{
		attribute.String(ResService, cfg.ServiceName),
		attribute.Int(ResPID, os.Getpid()),
	}
	if cfg.Role != "" {
		attrs = append(attrs, attribute.String(ResRole, cfg.Role))
	}
	return resource.NewSchemaless(attrs...)
}

func newExporter(cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterNone, "":
		return nil, nil
	case ExporterFile:
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file_path is required")
		}
		return NewFileExporter(cfg.FilePath)
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case ExporterOTLP:
		return otlptracegrpc.New(context.Background(),
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported exporter type %q", cfg.Exporter)
	}
}

// Tracer returns the process tracer. Never nil.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Enabled reports whether spans are recorded.
func (p *Provider) Enabled() bool {
	return p.sdk != nil
}

// Shutdown flushes pending spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}
