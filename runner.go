package main

import (
	"context"
	"fmt"
	"sync"
)

type RunnerState int

const (
	Idle RunnerState = iota
	Cleaning
	Dispatching
	Verifying
	Validating
	Done
	Failed
)

func (s RunnerState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Cleaning:
		return "cleaning"
	case Dispatching:
		return "dispatching"
	case Verifying:
		return "verifying"
	case Validating:
		return "validating"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("RunnerState(%d)", int(s))
	}
}

// The stages of an iteration. Dispatcher, Verifier and Validator
// implement them.
type (
	dispatchStage interface {
		Dispatch(ctx context.Context, endpoints []*Endpoint) (DispatchResult, error)
	}
	verifyStage interface {
		CheckCounts(ctx context.Context, iteration int) error
	}
	validateStage interface {
		Validate(ctx context.Context, iteration int) error
	}
)

// BatchRunner cleans the index once and then runs iters iterations of
// dispatch, verify and validate, one after the other.
type BatchRunner struct {
	index      Index
	indexName  string
	endpoints  []*Endpoint
	iters      int
	dryRun     bool
	dispatcher dispatchStage
	verifier   verifyStage
	validator  validateStage
	tracer     Tracer
	log        Logger

	mut      sync.RWMutex
	state    RunnerState
	failedIn RunnerState
}

func NewBatchRunner(log Logger, tracer Tracer, index Index, endpoints []*Endpoint, dispatcher dispatchStage, verifier verifyStage, validator validateStage, opts *Options) *BatchRunner {
	return &BatchRunner{
		index:      index,
		indexName:  opts.Index.Pattern,
		endpoints:  endpoints,
		iters:      opts.Load.Iters,
		dryRun:     opts.Load.DryRun,
		dispatcher: dispatcher,
		verifier:   verifier,
		validator:  validator,
		tracer:     tracer,
		log:        log,
		state:      Idle,
	}
}

// State returns the stage the runner is in.
func (r *BatchRunner) State() RunnerState {
	r.mut.RLock()
	defer r.mut.RUnlock()
	return r.state
}

// FailedIn returns the stage that failed, once State is Failed.
func (r *BatchRunner) FailedIn() RunnerState {
	r.mut.RLock()
	defer r.mut.RUnlock()
	return r.failedIn
}

func (r *BatchRunner) setState(s RunnerState) {
	r.mut.Lock()
	r.state = s
	r.mut.Unlock()
}

// Run executes the batch. The first error from any stage stops the run and
// is returned; errors.As finds the underlying typed error.
func (r *BatchRunner) Run(ctx context.Context) (err error) {
	ctx, span := r.tracer.Start(ctx, "batch", map[string]interface{}{
		"iters":     r.iters,
		"endpoints": len(r.endpoints),
		"index":     r.indexName,
	})
	defer func() {
		if err != nil {
			r.mut.Lock()
			r.failedIn = r.state
			r.state = Failed
			r.mut.Unlock()
		}
		finish(span, err)
	}()

	r.log.Info("testing started")
	if !r.dryRun {
		r.setState(Cleaning)
		if err := r.index.Clean(ctx, r.indexName); err != nil {
			return fmt.Errorf("unable to clean %s: %w", r.indexName, err)
		}
	}

	for it := 1; it <= r.iters; it++ {
		r.log.Info("sending batch %d / %d", it, r.iters)
		if err := r.iteration(ctx, it); err != nil {
			return err
		}
		r.log.Info("so far so good...")
	}
	r.setState(Done)
	r.log.Info("all done")
	return nil
}

func (r *BatchRunner) iteration(ctx context.Context, it int) (err error) {
	ctx, span := r.tracer.Start(ctx, "iteration", map[string]interface{}{"iteration": it})
	defer func() { finish(span, err) }()

	r.setState(Dispatching)
	res, err := r.dispatcher.Dispatch(ctx, r.endpoints)
	if err != nil {
		return fmt.Errorf("iteration %d: %d of %d requests outstanding: %w", it, res.Outstanding, res.Requests, err)
	}
	r.log.Info("sent %d requests in %s", res.Requests, res.Elapsed)
	if r.dryRun {
		return nil
	}

	r.setState(Verifying)
	if err := r.verifier.CheckCounts(ctx, it); err != nil {
		return fmt.Errorf("iteration %d: %w", it, err)
	}

	r.setState(Validating)
	if err := r.validator.Validate(ctx, it); err != nil {
		return fmt.Errorf("iteration %d: %w", it, err)
	}
	return nil
}
