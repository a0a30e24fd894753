package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jessevdk/go-flags"
	cuckoo "github.com/panmari/cuckoofilter"
	"github.com/sirupsen/logrus"
)

// Options defines the command line arguments
type Options struct {
	Port           int           `long:"port" description:"Port number to listen on for HTTP" default:"8000"`
	FailEvery      int64         `long:"failevery" description:"answer every Nth request with a 500; 0 never fails" default:"0"`
	Delay          time.Duration `long:"delay" description:"time to wait before answering each request" default:"0s"`
	ReportInterval time.Duration `long:"report" description:"how often to log the request rate" default:"5s"`
}

// TargetServer stands in for an instrumented app: it answers GETs on any
// path and keeps track of what it was sent.
type TargetServer struct {
	opts     Options
	requests int64
	ids      *cuckoo.Filter
	rates    *RequestRateTracker
	log      logrus.FieldLogger

	mu    sync.Mutex
	paths map[string]int
}

func NewTargetServer(opts Options, clk clock.Clock, log logrus.FieldLogger) *TargetServer {
	return &TargetServer{
		opts:  opts,
		ids:   cuckoo.NewFilter(1000000),
		rates: NewRequestRateTracker(clk, opts.ReportInterval, log),
		log:   log,
		paths: make(map[string]int),
	}
}

func (t *TargetServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n := atomic.AddInt64(&t.requests, 1)
	t.rates.Track(1)

	t.mu.Lock()
	t.paths[r.URL.Path]++
	if id := []byte(r.Header.Get("X-Request-Id")); len(id) > 0 && !t.ids.Lookup(id) {
		t.ids.Insert(id)
	}
	t.mu.Unlock()

	if t.opts.Delay > 0 {
		select {
		case <-time.After(t.opts.Delay):
		case <-r.Context().Done():
			return
		}
	}

	if t.opts.FailEvery > 0 && n%t.opts.FailEvery == 0 {
		t.log.WithField("request", n).Warn("failing request on purpose")
		http.Error(w, "failing on purpose", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// Summary returns the request count, the approximate number of distinct
// request ids and the count per path.
func (t *TargetServer) Summary() (requests int64, ids uint, paths map[string]int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	paths = make(map[string]int, len(t.paths))
	for p, c := range t.paths {
		paths[p] = c
	}
	return atomic.LoadInt64(&t.requests), t.ids.Count(), paths
}

func serve(ctx context.Context, opts Options, ts *TargetServer, log logrus.FieldLogger) error {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: ts,
	}

	errs := make(chan error, 1)
	go func() {
		log.Infof("HTTP server listening on port %d", opts.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	log.Info("Stopping HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func main() {
	var opts Options

	parser := flags.NewParser(&opts, flags.Default)
	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		logrus.Fatalf("Error parsing flags: %v", err)
	}

	log := logrus.WithField("sink", "target")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ts := NewTargetServer(opts, clock.New(), log)
	if err := serve(ctx, opts, ts, log); err != nil {
		log.Fatalf("HTTP server error: %v", err)
	}

	requests, ids, paths := ts.Summary()
	keys := make([]string, 0, len(paths))
	for p := range paths {
		keys = append(keys, p)
	}
	sort.Strings(keys)
	for _, p := range keys {
		fmt.Printf("%8d %s\n", paths[p], p)
	}
	fmt.Printf("\n%d requests, %d distinct request ids received this session\n", requests, ids)
}
