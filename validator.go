package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	TimestampLayout = "2006-01-02T15:04:05.999999Z"

	DefaultSampleSize = 10

	minFrames = 15
	maxFrames = 30

	// a span may not run longer than this many times its transaction
	spanDurationFactor = 10
)

// anomalous is a sanity range for durations and offsets, in microseconds.
// Anything outside [1, 100000] (0.1s) points at an instrumentation bug.
func anomalous(us int64) bool {
	return us > 100000 || us < 1
}

// Validator fetches a sample of the transactions of every endpoint and
// checks their content and their spans.
type Validator struct {
	index          Index
	indexName      string
	endpoints      []*Endpoint
	expectedStatus int
	sampleSize     int
	clock          clock.Clock
	tracer         Tracer
	log            Logger
}

func NewValidator(log Logger, tracer Tracer, index Index, endpoints []*Endpoint, clk clock.Clock, opts *Options) *Validator {
	size := opts.Verify.SampleSize
	if size <= 0 {
		size = DefaultSampleSize
	}
	return &Validator{
		index:          index,
		indexName:      opts.Index.Pattern,
		endpoints:      endpoints,
		expectedStatus: opts.Load.ExpectedStatus,
		sampleSize:     size,
		clock:          clk,
		tracer:         tracer,
		log:            log,
	}
}

// Validate checks the content of the records written so far, after
// iteration iterations. It stops at the first failed check.
func (v *Validator) Validate(ctx context.Context, iteration int) (err error) {
	ctx, span := v.tracer.Start(ctx, "validate", map[string]interface{}{"iteration": iteration})
	defer func() { finish(span, err) }()

	checked := 0
	for _, ep := range v.endpoints {
		docs, err := v.index.Search(ctx, v.indexName, Regexp("transaction.name", ep.TransactionName()), v.sampleSize)
		if err != nil {
			return fmt.Errorf("unable to search transactions of %s: %w", ep, err)
		}
		for _, raw := range docs {
			var tx transactionDoc
			if err := json.Unmarshal(raw, &tx); err != nil {
				return fmt.Errorf("unable to decode transaction of %s: %w", ep, err)
			}
			c := v.checker(ep, iteration)
			if err := c.transaction(&tx, v.clock.Now().UTC()); err != nil {
				return err
			}
			if err := v.validateSpans(ctx, c, &tx); err != nil {
				return err
			}
			checked++
		}
	}
	span.AddField("transactions_checked", checked)
	v.log.Info("checked content of %d transactions", checked)
	return nil
}

func (v *Validator) validateSpans(ctx context.Context, c checker, tx *transactionDoc) error {
	q := Must(
		Term("processor.event", string(KindSpan)),
		Term("transaction.id", tx.Transaction.ID),
	)
	// one more than expected, so extra spans show up in the count
	docs, err := v.index.Search(ctx, v.indexName, q, c.ep.PerEvent(KindSpan)+1)
	if err != nil {
		return fmt.Errorf("unable to search spans of transaction %s: %w", tx.Transaction.ID, err)
	}
	if len(docs) != c.ep.PerEvent(KindSpan) {
		return c.mismatch("spans of transaction "+tx.Transaction.ID, c.ep.PerEvent(KindSpan), len(docs))
	}
	for _, raw := range docs {
		var sp spanDoc
		if err := json.Unmarshal(raw, &sp); err != nil {
			return fmt.Errorf("unable to decode span of transaction %s: %w", tx.Transaction.ID, err)
		}
		if err := c.span(&sp, tx.Transaction.Duration.US); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) checker(ep *Endpoint, iteration int) checker {
	return checker{ep: ep, iteration: iteration, expectedStatus: v.expectedStatus}
}

// checker holds the assertions for the records of one endpoint.
type checker struct {
	ep             *Endpoint
	iteration      int
	expectedStatus int
}

func (c checker) mismatch(field string, expected, actual interface{}) error {
	return &MismatchError{Field: field, Endpoint: c.ep.String(), Iteration: c.iteration, Expected: expected, Actual: actual}
}

func (c checker) transaction(tx *transactionDoc, now time.Time) error {
	want := processor{Name: string(KindTransaction), Event: string(KindTransaction)}
	if tx.Processor != want {
		return c.mismatch("processor", want, tx.Processor)
	}

	duration := tx.Transaction.Duration.US
	if anomalous(duration) {
		return c.mismatch("transaction.duration.us", "[1, 100000]", duration)
	}

	ts, err := time.Parse(TimestampLayout, tx.Timestamp)
	if err != nil {
		return c.mismatch("@timestamp", TimestampLayout, tx.Timestamp)
	}
	oldest := now.Add(-time.Duration(c.iteration) * time.Minute)
	if ts.Before(oldest) || ts.After(now) {
		return c.mismatch("@timestamp", fmt.Sprintf("between %s and %s", oldest.Format(TimestampLayout), now.Format(TimestampLayout)), tx.Timestamp)
	}

	if status := strconv.Itoa(c.expectedStatus); tx.Transaction.Result != status {
		return c.mismatch("transaction.result", status, tx.Transaction.Result)
	}
	if tx.Transaction.Type != "request" {
		return c.mismatch("transaction.type", "request", tx.Transaction.Type)
	}

	tc := tx.Context
	if tc.Request.Method != "GET" {
		return c.mismatch("context.request.method", "GET", tc.Request.Method)
	}
	if tc.Request.URL.Hostname != "localhost" {
		return c.mismatch("context.request.url.hostname", "localhost", tc.Request.URL.Hostname)
	}
	if tc.Request.URL.Pathname != c.ep.Pathname() {
		return c.mismatch("context.request.url.pathname", c.ep.Pathname(), tc.Request.URL.Pathname)
	}
	if len(tc.Tags) != 0 {
		return c.mismatch("context.tags", "{}", tc.Tags)
	}
	if tc.Service.Name != c.ep.AppName() {
		return c.mismatch("context.service.name", c.ep.AppName(), tc.Service.Name)
	}
	if Agent(tc.Service.Agent.Name) != c.ep.Agent() {
		return c.mismatch("context.service.agent.name", c.ep.Agent(), tc.Service.Agent.Name)
	}
	return c.agentFields(tc)
}

func (c checker) agentFields(tc transactionContext) error {
	agent := Agent(tc.Service.Agent.Name)
	profile, ok := agentProfiles[agent]
	if !ok {
		return &ConfigError{Reason: fmt.Sprintf("undefined agent %q", agent)}
	}

	search := ""
	if tc.Request.URL.Search != nil {
		search = *tc.Request.URL.Search
	}
	if search != profile.search {
		return c.mismatch("context.request.url.search", profile.search, search)
	}

	lang := tc.Service.Language.Name
	if profile.languageField == "runtime" {
		lang = tc.Service.Runtime.Name
	}
	if lang != profile.language {
		return c.mismatch("context.service."+profile.languageField+".name", profile.language, lang)
	}

	framework := tc.Service.Framework.Name
	if !contains(profile.frameworks, framework) {
		return c.mismatch("context.service.framework.name", profile.frameworks, framework)
	}

	if profile.checkResponse {
		if tc.Response == nil || tc.Response.StatusCode == nil {
			return c.mismatch("context.response.status_code", c.expectedStatus, nil)
		}
		if *tc.Response.StatusCode != c.expectedStatus {
			return c.mismatch("context.response.status_code", c.expectedStatus, *tc.Response.StatusCode)
		}
	}
	if profile.emptyUser {
		if len(tc.User) != 0 {
			return c.mismatch("context.user", "{}", tc.User)
		}
		if len(tc.Custom) != 0 {
			return c.mismatch("context.custom", "{}", tc.Custom)
		}
	}
	return nil
}

func (c checker) span(sp *spanDoc, transactionDuration int64) error {
	want := processor{Name: string(KindSpan), Event: string(KindSpan)}
	if sp.Processor != want {
		return c.mismatch("span processor", want, sp.Processor)
	}
	if !contains(c.ep.SpanNames(), sp.Span.Name) {
		return c.mismatch("span.name", c.ep.SpanNames(), sp.Span.Name)
	}
	if sp.Context.Service.Name != c.ep.AppName() {
		return c.mismatch("span context.service.name", c.ep.AppName(), sp.Context.Service.Name)
	}
	if anomalous(sp.Span.Start.US) {
		return c.mismatch("span.start.us", "[1, 100000]", sp.Span.Start.US)
	}
	duration := sp.Span.Duration.US
	if anomalous(duration) {
		return c.mismatch("span.duration.us", "[1, 100000]", duration)
	}
	if duration > transactionDuration*spanDurationFactor {
		return c.mismatch("span.duration.us", fmt.Sprintf("at most %dx transaction duration %d", spanDurationFactor, transactionDuration), duration)
	}

	frames := sp.Span.Stacktrace
	if len(frames) < minFrames || len(frames) > maxFrames {
		return c.mismatch("number of span.stacktrace frames", fmt.Sprintf("[%d, %d]", minFrames, maxFrames), len(frames))
	}
	for i, f := range frames {
		switch {
		case f.Function == "":
			return c.mismatch(fmt.Sprintf("span.stacktrace[%d].function", i), "non-empty", f.Function)
		case f.AbsPath == "":
			return c.mismatch(fmt.Sprintf("span.stacktrace[%d].abs_path", i), "non-empty", f.AbsPath)
		case !present(f.Line):
			return c.mismatch(fmt.Sprintf("span.stacktrace[%d].line", i), "non-empty", string(f.Line))
		case f.Filename == "":
			return c.mismatch(fmt.Sprintf("span.stacktrace[%d].filename", i), "non-empty", f.Filename)
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, l := range list {
		if l == s {
			return true
		}
	}
	return false
}
