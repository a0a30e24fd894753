package main

import (
	"context"
	"crypto/tls"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/encoding/gzip"
)

// make sure it implements Tracer
var _ Tracer = (*TracerOTel)(nil)

type OTelSendable struct {
	trace.Span
}

func (s OTelSendable) AddField(key string, val interface{}) {
	if key == "error" {
		s.Span.SetStatus(codes.Error, fmt.Sprint(val))
	}
	s.Span.SetAttributes(toAttribute(key, val))
}

func (s OTelSendable) Send() {
	s.Span.End()
}

type TracerOTel struct {
	tracer   trace.Tracer
	shutdown func()
}

func NewTracerOTel(log Logger, opts *Options) *TracerOTel {
	var client otlptrace.Client
	switch opts.Telemetry.Protocol {
	case "grpc":
		client = setupOTELGRPCClient(opts)
	case "http":
		client = setupOTELHTTPClient(opts)
	default:
		log.Fatal("unknown protocol: %s", opts.Telemetry.Protocol)
	}

	exporter, err := otlptrace.New(context.Background(), client)
	if err != nil {
		log.Fatal("failure configuring otel trace exporter: %v", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(exporter)
	otel.SetTracerProvider(sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(bsp),
		sdktrace.WithResource(resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceNameKey.String(opts.Telemetry.Dataset))),
	))
	otelshutdown := func() {
		_ = bsp.Shutdown(context.Background())
		_ = exporter.Shutdown(context.Background())
	}

	return &TracerOTel{
		tracer:   otel.Tracer(ResourceLibrary, trace.WithInstrumentationVersion(ResourceVersion)),
		shutdown: otelshutdown,
	}
}

func (t *TracerOTel) Close() {
	t.shutdown()
}

func (t *TracerOTel) Start(ctx context.Context, name string, fields map[string]interface{}) (context.Context, Sendable) {
	ctx, span := t.tracer.Start(ctx, name)
	for k, v := range fields {
		span.SetAttributes(toAttribute(k, v))
	}
	return ctx, OTelSendable{Span: span}
}

func toAttribute(key string, val interface{}) attribute.KeyValue {
	switch v := val.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case float64:
		return attribute.Float64(key, v)
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}

func setupOTELHTTPClient(opts *Options) otlptrace.Client {
	options := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(opts.apihost.Host),
		otlptracehttp.WithHeaders(map[string]string{
			"x-honeycomb-team": opts.Telemetry.APIKey,
		}),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
	}
	if opts.Telemetry.Insecure {
		options = append(options, otlptracehttp.WithInsecure())
	} else {
		options = append(options, otlptracehttp.WithTLSClientConfig(&tls.Config{}))
	}
	return otlptracehttp.NewClient(options...)
}

func setupOTELGRPCClient(opts *Options) otlptrace.Client {
	options := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(opts.apihost.Host),
		otlptracegrpc.WithHeaders(map[string]string{
			"x-honeycomb-team": opts.Telemetry.APIKey,
		}),
		otlptracegrpc.WithCompressor(gzip.Name),
	}
	if opts.Telemetry.Insecure {
		options = append(options, otlptracegrpc.WithInsecure())
	} else {
		options = append(options, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	return otlptracegrpc.NewClient(options...)
}
