package main

import (
	"context"
	"sync"
)

type DummySendable struct{}

func (s DummySendable) AddField(key string, val interface{}) {}

func (s DummySendable) Send() {}

// TracerDummy only counts stages.
type TracerDummy struct {
	mut    sync.Mutex
	counts map[string]int
	log    Logger
}

// make sure it implements Tracer
var _ Tracer = (*TracerDummy)(nil)

func NewTracerDummy(log Logger) *TracerDummy {
	return &TracerDummy{log: log, counts: make(map[string]int)}
}

func (t *TracerDummy) Close() {
	t.mut.Lock()
	defer t.mut.Unlock()
	t.log.Debug("tracer recorded stages %v", t.counts)
}

func (t *TracerDummy) Start(ctx context.Context, name string, fields map[string]interface{}) (context.Context, Sendable) {
	t.mut.Lock()
	t.counts[name]++
	t.mut.Unlock()
	return ctx, DummySendable{}
}

// Count returns how many stages named name were started.
func (t *TracerDummy) Count(name string) int {
	t.mut.Lock()
	defer t.mut.Unlock()
	return t.counts[name]
}
