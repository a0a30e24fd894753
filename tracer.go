package main

import "context"

// Sendable is a unit of self-telemetry: fields are added while the stage
// runs and Send finishes it.
type Sendable interface {
	AddField(key string, val interface{})
	Send()
}

// A Tracer records the stages of a run (batch, iterations, dispatch,
// verification, validation) so slow or failing runs can be inspected.
type Tracer interface {
	Start(ctx context.Context, name string, fields map[string]interface{}) (context.Context, Sendable)
	Close()
}

// NewTracer builds the Tracer selected in opts.
func NewTracer(log Logger, opts *Options) Tracer {
	switch opts.Telemetry.Tracer {
	case "otel":
		return NewTracerOTel(log, opts)
	case "honeycomb":
		return NewTracerHoneycomb(opts)
	default:
		return NewTracerDummy(log)
	}
}

// finish records err on s, if any, and sends it.
func finish(s Sendable, err error) {
	if err != nil {
		s.AddField("error", err.Error())
	}
	s.Send()
}
