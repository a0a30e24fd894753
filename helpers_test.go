package main

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

type nopLogger struct{}

func (nopLogger) Debug(format string, v ...interface{}) {}
func (nopLogger) Info(format string, v ...interface{})  {}
func (nopLogger) Warn(format string, v ...interface{})  {}
func (nopLogger) Error(format string, v ...interface{}) {}
func (nopLogger) Fatal(format string, v ...interface{}) { panic(fmt.Sprintf(format, v...)) }

// testOptions returns Options holding the command line defaults, with short
// waits so failing polls don't slow the tests down.
func testOptions() *Options {
	opts := newOptions()
	opts.Index.Pattern = "apm-*"
	opts.Load.Iters = 1
	opts.Load.EventsNo = DefaultEventsNo
	opts.Load.MaxClients = DefaultMaxClients
	opts.Load.ConnectTimeout = time.Second
	opts.Load.RequestTimeout = 2 * time.Second
	opts.Load.ExpectedStatus = 200
	opts.Verify.MaxWait = 2 * time.Second
	opts.Verify.Backoff = 10 * time.Millisecond
	opts.Verify.SampleSize = DefaultSampleSize
	opts.Global.Seed = "test"
	return opts
}

func mustEndpoint(app, url, transaction string, events int, spans ...string) *Endpoint {
	ep, err := NewEndpoint(EndpointConfig{
		URL:             url,
		AppName:         app,
		TransactionName: transaction,
		SpanNames:       spans,
		EventsNo:        &events,
	}, DefaultEventsNo)
	if err != nil {
		panic(err)
	}
	return ep
}

// memIndex is an in-memory Index that evaluates queries against documents
// decoded into generic maps.
type memIndex struct {
	mut       sync.Mutex
	docs      []map[string]interface{}
	refreshes int
	cleans    int
	counts    int
	searches  int
	failCount error
}

var _ Index = (*memIndex)(nil)

func (m *memIndex) Add(doc interface{}) {
	b, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(b, &generic); err != nil {
		panic(err)
	}
	m.mut.Lock()
	m.docs = append(m.docs, generic)
	m.mut.Unlock()
}

func (m *memIndex) Len() int {
	m.mut.Lock()
	defer m.mut.Unlock()
	return len(m.docs)
}

func (m *memIndex) Count(ctx context.Context, index string, q Query) (int, error) {
	m.mut.Lock()
	defer m.mut.Unlock()
	m.counts++
	if m.failCount != nil {
		return 0, m.failCount
	}
	n := 0
	for _, d := range m.docs {
		if matches(q, d) {
			n++
		}
	}
	return n, nil
}

func (m *memIndex) Search(ctx context.Context, index string, q Query, size int) ([]json.RawMessage, error) {
	m.mut.Lock()
	defer m.mut.Unlock()
	m.searches++
	var out []json.RawMessage
	for _, d := range m.docs {
		if len(out) >= size {
			break
		}
		if matches(q, d) {
			b, err := json.Marshal(d)
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memIndex) Refresh(ctx context.Context, index string) error {
	m.mut.Lock()
	m.refreshes++
	m.mut.Unlock()
	return nil
}

func (m *memIndex) Clean(ctx context.Context, index string) error {
	m.mut.Lock()
	m.cleans++
	m.docs = nil
	m.mut.Unlock()
	return nil
}

func lookup(doc map[string]interface{}, field string) (interface{}, bool) {
	field = strings.TrimSuffix(field, ".keyword")
	var cur interface{} = doc
	for _, key := range strings.Split(field, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func matches(q Query, doc map[string]interface{}) bool {
	switch q.kind {
	case queryTerm:
		v, ok := lookup(doc, q.field)
		return ok && fmt.Sprint(v) == q.value
	case queryRegexp:
		v, ok := lookup(doc, q.field)
		return ok && regexp.MustCompile("^(?:"+q.value+")$").MatchString(fmt.Sprint(v))
	default:
		for _, m := range q.must {
			if !matches(m, doc) {
				return false
			}
		}
		return true
	}
}

// The documents below are what a well behaved agent would produce for one
// request.

type testFrame struct {
	Function string `json:"function"`
	AbsPath  string `json:"abs_path"`
	Filename string `json:"filename"`
	Line     int    `json:"line"`
}

func testFrames(n int) []testFrame {
	frames := make([]testFrame, n)
	for i := range frames {
		frames[i] = testFrame{
			Function: fmt.Sprintf("fn%d", i),
			AbsPath:  fmt.Sprintf("/app/mod%d.py", i),
			Filename: fmt.Sprintf("mod%d.py", i),
			Line:     i + 1,
		}
	}
	return frames
}

func pythonTransaction(ep *Endpoint, id string, ts time.Time, durationUS int64) map[string]interface{} {
	return map[string]interface{}{
		"@timestamp": ts.UTC().Format(TimestampLayout),
		"processor":  map[string]interface{}{"name": "transaction", "event": "transaction"},
		"transaction": map[string]interface{}{
			"id":       id,
			"name":     ep.TransactionName(),
			"type":     "request",
			"result":   "200",
			"duration": map[string]interface{}{"us": durationUS},
		},
		"context": map[string]interface{}{
			"request": map[string]interface{}{
				"method": "GET",
				"url": map[string]interface{}{
					"hostname": "localhost",
					"pathname": ep.Pathname(),
					"search":   "",
				},
			},
			"tags": map[string]interface{}{},
			"service": map[string]interface{}{
				"name":      ep.AppName(),
				"agent":     map[string]interface{}{"name": string(AgentPython)},
				"language":  map[string]interface{}{"name": "python"},
				"framework": map[string]interface{}{"name": "flask"},
			},
		},
	}
}

func nodeTransaction(ep *Endpoint, id string, ts time.Time, durationUS int64) map[string]interface{} {
	doc := pythonTransaction(ep, id, ts, durationUS)
	ctx := doc["context"].(map[string]interface{})
	ctx["request"].(map[string]interface{})["url"].(map[string]interface{})["search"] = "?"
	ctx["response"] = map[string]interface{}{"status_code": 200}
	ctx["user"] = map[string]interface{}{}
	ctx["custom"] = map[string]interface{}{}
	ctx["service"] = map[string]interface{}{
		"name":      ep.AppName(),
		"agent":     map[string]interface{}{"name": string(AgentNode)},
		"runtime":   map[string]interface{}{"name": "node"},
		"framework": map[string]interface{}{"name": "express"},
	}
	return doc
}

func testSpan(ep *Endpoint, transactionID, name string, durationUS int64, frames int) map[string]interface{} {
	return map[string]interface{}{
		"processor": map[string]interface{}{"name": "span", "event": "span"},
		"transaction": map[string]interface{}{
			"id": transactionID,
		},
		"span": map[string]interface{}{
			"name":       name,
			"start":      map[string]interface{}{"us": 50},
			"duration":   map[string]interface{}{"us": durationUS},
			"stacktrace": testFrames(frames),
		},
		"context": map[string]interface{}{
			"service": map[string]interface{}{"name": ep.AppName()},
		},
	}
}
