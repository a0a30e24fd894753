package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxWait = 60 * time.Second
	DefaultBackoff = 500 * time.Millisecond
)

var errCountPending = errors.New("count not reached yet")

// Verifier waits for the index to catch up with the requests that were sent
// and checks that the counts add up.
type Verifier struct {
	index     Index
	indexName string
	endpoints []*Endpoint
	maxWait   time.Duration
	backoff   time.Duration
	tracer    Tracer
	log       Logger
}

func NewVerifier(log Logger, tracer Tracer, index Index, endpoints []*Endpoint, opts *Options) *Verifier {
	return &Verifier{
		index:     index,
		indexName: opts.Index.Pattern,
		endpoints: endpoints,
		maxWait:   opts.Verify.MaxWait,
		backoff:   opts.Verify.Backoff,
		tracer:    tracer,
		log:       log,
	}
}

// WaitForCount polls the number of documents matching q until it equals
// expected. It returns a *MismatchError as soon as the count goes past
// expected and a *TimeoutError once maxWait has elapsed without reaching it.
func (v *Verifier) WaitForCount(ctx context.Context, q Query, expected int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, v.maxWait)
	defer cancel()

	start := time.Now()
	observed := -1
	polls := 0
	op := func() error {
		n, err := v.index.Count(ctx, v.indexName, q)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return backoff.Permanent(err)
		}
		polls++
		observed = n
		switch {
		case n == expected:
			return nil
		case n > expected:
			return backoff.Permanent(&MismatchError{Field: q.String(), Expected: expected, Actual: n})
		default:
			return errCountPending
		}
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.NewConstantBackOff(v.backoff), ctx))
	if errors.Is(err, context.DeadlineExceeded) {
		return observed, &TimeoutError{Query: q.String(), Expected: expected, Observed: observed, Waited: time.Since(start)}
	}
	if err != nil {
		return observed, err
	}
	v.log.Debug("%s reached %d after %d polls", q, expected, polls)
	return observed, nil
}

// CheckCounts verifies the index holds exactly what iteration iterations
// of the batch should have produced: in aggregate, per span name and per
// endpoint, and that the per-endpoint sums match the aggregates.
func (v *Verifier) CheckCounts(ctx context.Context, iteration int) (err error) {
	ctx, span := v.tracer.Start(ctx, "verify", map[string]interface{}{"iteration": iteration})
	defer func() { finish(span, err) }()

	if err := v.index.Refresh(ctx, v.indexName); err != nil {
		return fmt.Errorf("unable to refresh %s: %w", v.indexName, err)
	}

	exp := NewExpectation(v.endpoints, iteration)
	transactions, err := v.waitFor(ctx, iteration, "", Regexp("processor.event", string(KindTransaction)), exp.Transactions)
	if err != nil {
		return err
	}
	spans, err := v.waitFor(ctx, iteration, "", Regexp("processor.event", string(KindSpan)), exp.Spans)
	if err != nil {
		return err
	}

	var transactionsSum, spansSum int
	for _, ee := range exp.PerEndpoint {
		ep := ee.Endpoint
		for _, sn := range ee.SpanNames {
			q := Must(
				Term("context.service.name", ep.AppName()),
				Regexp("span.name", sn.Name),
			)
			n, err := v.waitFor(ctx, iteration, ep.String(), q, sn.Count)
			if err != nil {
				return err
			}
			spansSum += n
		}
		q := Must(
			Term("context.service.name", ep.AppName()),
			Term("transaction.name.keyword", ep.TransactionName()),
		)
		n, err := v.waitFor(ctx, iteration, ep.String(), q, ee.Transactions)
		if err != nil {
			return err
		}
		transactionsSum += n
	}

	if transactions != transactionsSum {
		return &MismatchError{Field: "transactions all endpoints", Iteration: iteration, Expected: transactions, Actual: transactionsSum}
	}
	if spans != spansSum {
		return &MismatchError{Field: "spans all endpoints", Iteration: iteration, Expected: spans, Actual: spansSum}
	}
	span.AddField("transactions", transactions)
	span.AddField("spans", spans)
	v.log.Info("index holds %d transactions and %d spans", transactions, spans)
	return nil
}

// waitFor is WaitForCount with the endpoint and iteration filled in on
// mismatches.
func (v *Verifier) waitFor(ctx context.Context, iteration int, endpoint string, q Query, expected int) (int, error) {
	n, err := v.WaitForCount(ctx, q, expected)
	var mismatch *MismatchError
	if errors.As(err, &mismatch) {
		mismatch.Endpoint = endpoint
		mismatch.Iteration = iteration
	}
	return n, err
}
