package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingServer answers every request with the status returned by status
// and keeps track of requests and concurrency.
type countingServer struct {
	*httptest.Server
	requests atomic.Int64
	inflight atomic.Int64
	peak     atomic.Int64

	mut sync.Mutex
	ids map[string]int
}

func newCountingServer(t *testing.T, delay time.Duration, status func(n int64) int) *countingServer {
	s := &countingServer{ids: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := s.requests.Add(1)
		cur := s.inflight.Add(1)
		defer s.inflight.Add(-1)
		for {
			p := s.peak.Load()
			if cur <= p || s.peak.CompareAndSwap(p, cur) {
				break
			}
		}
		s.mut.Lock()
		s.ids[r.Header.Get("X-Request-Id")]++
		s.mut.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		w.WriteHeader(status(n))
	}))
	t.Cleanup(s.Close)
	return s
}

func always200(int64) int { return http.StatusOK }

func TestDispatchAllSucceed(t *testing.T) {
	srv := newCountingServer(t, 5*time.Millisecond, always200)
	endpoints := []*Endpoint{
		mustEndpoint("flask_app", srv.URL+"/foo", "GET /foo", 25),
		mustEndpoint("express_app", srv.URL+"/bar", "GET /bar", 15),
	}
	d := NewDispatcher(nopLogger{}, NewTracerDummy(nopLogger{}), testOptions())

	res, err := d.Dispatch(context.Background(), endpoints)
	require.NoError(t, err)
	assert.Equal(t, 40, res.Requests)
	assert.Equal(t, 0, res.Outstanding)
	assert.Equal(t, int64(40), srv.requests.Load())
	assert.LessOrEqual(t, srv.peak.Load(), int64(DefaultMaxClients))

	srv.mut.Lock()
	defer srv.mut.Unlock()
	assert.Len(t, srv.ids, 40, "every request should carry its own id")
}

func TestDispatchStopsAtFirstFailure(t *testing.T) {
	srv := newCountingServer(t, 20*time.Millisecond, func(n int64) int {
		if n == 3 {
			return http.StatusInternalServerError
		}
		return http.StatusOK
	})
	endpoints := []*Endpoint{mustEndpoint("flask_app", srv.URL+"/foo", "GET /foo", 200)}
	tracer := NewTracerDummy(nopLogger{})
	d := NewDispatcher(nopLogger{}, tracer, testOptions())

	res, err := d.Dispatch(context.Background(), endpoints)
	var derr *DispatchError
	require.True(t, errors.As(err, &derr), "got %v", err)
	assert.Equal(t, http.StatusInternalServerError, derr.StatusCode)
	assert.Equal(t, srv.URL+"/foo", derr.URL)
	assert.Greater(t, res.Outstanding, 0)
	assert.Less(t, srv.requests.Load(), int64(200), "dispatch should not wait for the remaining requests")
	assert.Equal(t, 1, tracer.Count("dispatch"))
}

func TestDispatchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d := NewDispatcher(nopLogger{}, NewTracerDummy(nopLogger{}), testOptions())
	res, err := d.Dispatch(context.Background(), []*Endpoint{mustEndpoint("flask_app", url+"/foo", "GET /foo", 3)})
	var derr *DispatchError
	require.True(t, errors.As(err, &derr), "got %v", err)
	assert.Equal(t, 0, derr.StatusCode)
	assert.Error(t, derr.Err)
	assert.Equal(t, 3, res.Outstanding)
}

func TestDispatchNothingToSend(t *testing.T) {
	d := NewDispatcher(nopLogger{}, NewTracerDummy(nopLogger{}), testOptions())
	res, err := d.Dispatch(context.Background(), []*Endpoint{mustEndpoint("flask_app", "http://localhost:1/foo", "GET /foo", 0)})
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{}, res)
}

func TestDispatchCancelled(t *testing.T) {
	srv := newCountingServer(t, 50*time.Millisecond, always200)
	d := NewDispatcher(nopLogger{}, NewTracerDummy(nopLogger{}), testOptions())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	res, err := d.Dispatch(ctx, []*Endpoint{mustEndpoint("flask_app", srv.URL+"/foo", "GET /foo", 100)})
	assert.Error(t, err)
	assert.Greater(t, res.Outstanding, 0)
}
