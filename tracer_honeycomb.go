package main

import (
	"context"

	"github.com/honeycombio/beeline-go"
)

type TracerHoneycomb struct{}

// make sure it implements Tracer
var _ Tracer = (*TracerHoneycomb)(nil)

func NewTracerHoneycomb(opts *Options) *TracerHoneycomb {
	beeline.Init(beeline.Config{
		WriteKey:    opts.Telemetry.APIKey,
		APIHost:     opts.apihost.String(),
		ServiceName: ResourceLibrary,
		Dataset:     opts.Telemetry.Dataset,
		Debug:       opts.Global.LogLevel == "debug",
	})
	return &TracerHoneycomb{}
}

func (t *TracerHoneycomb) Close() {
	beeline.Close()
}

func (t *TracerHoneycomb) Start(ctx context.Context, name string, fields map[string]interface{}) (context.Context, Sendable) {
	// a beeline span is already a Sendable
	ctx, span := beeline.StartSpan(ctx, name)
	for k, v := range fields {
		span.AddField(k, v)
	}
	return ctx, span
}
