package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxClients     = 4
	DefaultConnectTimeout = 90 * time.Second
	DefaultRequestTimeout = 120 * time.Second
)

// DispatchResult describes how far a Dispatch call got.
type DispatchResult struct {
	Requests    int
	Outstanding int
	Elapsed     time.Duration
}

type request struct {
	url string
	id  string
}

type completion struct {
	url     string
	status  int
	err     error
	elapsed time.Duration
}

// Dispatcher fires the requests of one iteration and waits for all of them,
// or for the first failure.
type Dispatcher struct {
	maxClients     int
	connectTimeout time.Duration
	requestTimeout time.Duration
	expectedStatus int
	rng            Rng
	tracer         Tracer
	log            Logger
}

func NewDispatcher(log Logger, tracer Tracer, opts *Options) *Dispatcher {
	maxClients := opts.Load.MaxClients
	if maxClients <= 0 {
		maxClients = DefaultMaxClients
	}
	return &Dispatcher{
		maxClients:     maxClients,
		connectTimeout: opts.Load.ConnectTimeout,
		requestTimeout: opts.Load.RequestTimeout,
		expectedStatus: opts.Load.ExpectedStatus,
		rng:            NewRng(opts.Global.Seed),
		tracer:         tracer,
		log:            log,
	}
}

// newClient returns a client with its own connection pool; each Dispatch
// call gets a fresh one.
func (d *Dispatcher) newClient() *http.Client {
	return &http.Client{
		Timeout: d.requestTimeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: d.connectTimeout}).DialContext,
			MaxConnsPerHost:     d.maxClients,
			MaxIdleConnsPerHost: d.maxClients,
		},
	}
}

// Dispatch sends EventsNo GET requests to every endpoint, at most
// maxClients at a time, and blocks until every request has succeeded or
// one of them has failed. The first failure is returned as a
// *DispatchError; by then the remaining requests have been cancelled and
// their completions are discarded.
//
// The driving loop below is the only reader of completions and the only
// writer of the outstanding count.
func (d *Dispatcher) Dispatch(ctx context.Context, endpoints []*Endpoint) (DispatchResult, error) {
	var res DispatchResult
	for _, ep := range endpoints {
		res.Requests += ep.EventsNo()
	}
	// set before anything is sent so no completion can be seen early
	res.Outstanding = res.Requests
	if res.Requests == 0 {
		return res, nil
	}

	ctx, span := d.tracer.Start(ctx, "dispatch", map[string]interface{}{
		"requests":    res.Requests,
		"max_clients": d.maxClients,
	})
	start := time.Now()

	client := d.newClient()
	defer client.CloseIdleConnections()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	requests := make(chan request)
	completions := make(chan completion)

	g := &errgroup.Group{}
	g.Go(func() error {
		if d.feed(ctx, endpoints, requests) {
			d.log.Debug("request feeder stopped early")
		}
		return nil
	})
	for i := 0; i < d.maxClients; i++ {
		g.Go(func() error {
			d.worker(ctx, client, requests, completions)
			return nil
		})
	}

	d.log.Info("starting dispatch loop for %d requests", res.Requests)
	err := d.loop(ctx, completions, &res)
	cancel()
	_ = g.Wait()

	res.Elapsed = time.Since(start)
	span.AddField("outstanding", res.Outstanding)
	span.AddField("elapsed_ms", res.Elapsed.Milliseconds())
	finish(span, err)
	if err != nil {
		d.log.Error("%s", err)
		return res, err
	}
	d.log.Info("stopping dispatch loop after %s", res.Elapsed)
	return res, nil
}

func (d *Dispatcher) loop(ctx context.Context, completions chan completion, res *DispatchResult) error {
	for res.Outstanding > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-completions:
			if c.err != nil || c.status != d.expectedStatus {
				return &DispatchError{URL: c.url, StatusCode: c.status, Err: c.err, Elapsed: c.elapsed}
			}
			res.Outstanding--
		}
	}
	return nil
}

// feed puts every request of the batch on out, stopping when ctx is done.
// It returns true if it stopped because ctx was done, false otherwise.
func (d *Dispatcher) feed(ctx context.Context, endpoints []*Endpoint, out chan request) bool {
	defer close(out)
	for _, ep := range endpoints {
		for i := 0; i < ep.EventsNo(); i++ {
			r := request{url: ep.URL(), id: d.rng.RequestID()}
			select {
			case <-ctx.Done():
				return true
			case out <- r:
			}
		}
	}
	return false
}

func (d *Dispatcher) worker(ctx context.Context, client *http.Client, in chan request, out chan completion) {
	for r := range in {
		if ctx.Err() != nil {
			return
		}
		c := d.fetch(ctx, client, r)
		select {
		case out <- c:
		case <-ctx.Done():
			// the loop has stopped; late completions are dropped
			return
		}
	}
}

func (d *Dispatcher) fetch(ctx context.Context, client *http.Client, r request) completion {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return completion{url: r.url, err: err}
	}
	req.Header.Set("X-Request-Id", r.id)
	resp, err := client.Do(req)
	if err != nil {
		return completion{url: r.url, err: err, elapsed: time.Since(start)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	c := completion{url: r.url, status: resp.StatusCode, elapsed: time.Since(start)}
	if c.status != d.expectedStatus {
		c.err = fmt.Errorf("expected status %d, got %s", d.expectedStatus, resp.Status)
	}
	return c
}
