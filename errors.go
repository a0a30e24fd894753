package main

import (
	"fmt"
	"time"
)

// DispatchError is returned when a request of a batch gets anything other
// than the expected status. It aborts the whole run.
type DispatchError struct {
	URL        string
	StatusCode int
	Err        error
	Elapsed    time.Duration
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("bad response from %s, aborting: %d - %v (%s)", e.URL, e.StatusCode, e.Err, e.Elapsed)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// TimeoutError means a count poll ran for the whole wait budget without
// reaching the expected count.
type TimeoutError struct {
	Query    string
	Expected int
	Observed int
	Waited   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s: expected %d, got %d", e.Waited, e.Query, e.Expected, e.Observed)
}

// MismatchError reports a count or content assertion that failed.
type MismatchError struct {
	Field     string
	Endpoint  string
	Iteration int
	Expected  interface{}
	Actual    interface{}
}

func (e *MismatchError) Error() string {
	where := ""
	if e.Endpoint != "" {
		where = fmt.Sprintf(" for %s", e.Endpoint)
	}
	return fmt.Sprintf("queried for %s%s (iteration %d), expected %v, got %v", e.Field, where, e.Iteration, e.Expected, e.Actual)
}

// ConfigError is raised for app names or agents outside the supported set.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Reason
}
