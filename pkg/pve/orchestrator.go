// Copyright (C) 2026 Skagit Labs (dev@skagitlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/skagitlabs/pvectl/pkg/logging"
)

// =============================================================================
// Retry Policy
// =============================================================================

// RetryPolicy bounds automatic retries for one logical operation. Policies
// attach per operation, not globally.
//
// Only transport failures are retried unconditionally; a conflict is
// retried only when the operation is idempotent; destructive operations
// are never retried automatically, because a retried "stop" after an
// ambiguous failure could double-apply. A destructive retry needs a fresh
// confirmation and therefore a fresh Execute call.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Values below 1 behave as 1.
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// Multiplier grows the delay per retry: BaseDelay * Multiplier^n.
	// Values below 1 behave as 1.
	Multiplier float64
}

// DefaultRetryPolicy returns the policy used when an operation does not
// set its own: 3 attempts, 1s base delay, doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2}
}

// delay returns the pause before retry n (0-based).
func (p RetryPolicy) delay(n int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(n)))
}

// =============================================================================
// Named Operations
// =============================================================================

// Params carries the validated inputs of one Execute call. The outer
// command surface resolves and validates these before they reach the core.
type Params struct {
	// Node is the cluster node the operation targets.
	Node string

	// VMID is the numeric guest id, 0 when the operation has no guest.
	VMID int

	// Args holds operation-specific parameters passed through to the
	// request body, e.g. a clone's newid and name.
	Args map[string]any
}

// Resource returns the job-table key for the targeted resource, or ""
// when the operation targets no single resource.
func (p Params) Resource() string {
	if p.VMID == 0 {
		return ""
	}
	return fmt.Sprintf("%s/%d", p.Node, p.VMID)
}

// Operation is one named higher-level workflow: a request template plus
// its safety classification, retry policy, and polling bounds.
type Operation struct {
	// Classification is the operation's static safety profile.
	Classification Classification

	// Retry is the operation's retry policy. Zero value takes
	// DefaultRetryPolicy.
	Retry RetryPolicy

	// Build resolves params into the Request descriptor to dispatch.
	Build func(p Params) (Request, error)

	// State queries the current resource state. Required when the
	// classification is state-dependent, ignored otherwise.
	State func(ctx context.Context, p Params) (string, error)

	// Track bounds job polling for this operation. Zero values take the
	// tracker defaults.
	Track TrackOptions
}

// ErrUnknownOperation is returned by Execute for an unregistered name.
var ErrUnknownOperation = errors.New("unknown operation")

// Result is the structured success payload of one Execute call. Data is
// the platform's raw JSON passed through uninterpreted.
type Result struct {
	// Operation is the executed operation name.
	Operation string

	// NoOp is true when a state-dependent operation found the resource
	// already in its target state and skipped dispatch.
	NoOp bool

	// Data is the raw response data, nil for no-ops.
	Data json.RawMessage

	// Task is the tracked job outcome when the response carried a job
	// handle, nil otherwise. Task.OK false is a remote-level failure
	// reported as data, not as an error.
	Task *TerminalStatus
}

// =============================================================================
// Orchestrator
// =============================================================================

// Dispatcher sends one request descriptor through session and transport
// and returns the raw data member of the response.
type Dispatcher interface {
	Do(ctx context.Context, r Request) (json.RawMessage, error)
}

// Orchestrator composes the safety gate, the dispatcher, and the job
// tracker into named operations. Within one Execute call, authorization
// strictly precedes dispatch and dispatch strictly precedes tracking;
// across calls nothing is ordered, and a 409 caused by a concurrent
// mutation elsewhere is an expected, reportable outcome.
type Orchestrator struct {
	dispatch Dispatcher
	tracker  *Tracker
	jobs     *JobTable
	ops      map[string]Operation
	log      *logging.Logger
}

// NewOrchestrator creates an orchestrator with an empty operation registry.
// A nil logger discards output.
func NewOrchestrator(d Dispatcher, tracker *Tracker, log *logging.Logger) *Orchestrator {
	if log == nil {
		log = logging.Discard()
	}
	return &Orchestrator{
		dispatch: d,
		tracker:  tracker,
		jobs:     NewJobTable(),
		ops:      make(map[string]Operation),
		log:      log,
	}
}

// Register adds or replaces a named operation.
func (o *Orchestrator) Register(name string, op Operation) {
	op.Classification.Name = name
	o.ops[name] = op
}

// Jobs exposes the resource-to-active-job table, e.g. for re-attach.
func (o *Orchestrator) Jobs() *JobTable { return o.jobs }

// Execute runs the named operation end to end: resolve, authorize,
// state-check, dispatch with retries, and track any returned job handle.
//
// Gate and tracker failures propagate unchanged. Retries apply only to
// transport errors, plus conflicts for idempotent operations, and an
// exhausted retry budget surfaces the last underlying error.
func (o *Orchestrator) Execute(ctx context.Context, name string, p Params, conf *Confirmation) (*Result, error) {
	op, ok := o.ops[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, name)
	}

	auth, err := Authorize(op.Classification, conf)
	if err != nil {
		return nil, err
	}
	log := o.log.With("operation", name)
	if auth.ConfirmationID != "" {
		log = log.With("confirmation_id", auth.ConfirmationID)
	}

	if op.Classification.StateDependent {
		current, err := op.State(ctx, p)
		if err != nil {
			return nil, err
		}
		if current == op.Classification.TargetState {
			log.Info("resource already in target state, skipping dispatch",
				"state", current)
			return &Result{Operation: name, NoOp: true}, nil
		}
	}

	req, err := op.Build(p)
	if err != nil {
		return nil, err
	}

	data, err := o.dispatchWithRetry(ctx, log, op, req)
	if err != nil {
		return nil, err
	}

	handle, ok := jobHandle(data)
	if !ok {
		log.Info("operation completed synchronously")
		return &Result{Operation: name, Data: data}, nil
	}

	if res := p.Resource(); res != "" {
		o.jobs.Bind(res, handle)
	}
	log.Info("tracking task", "upid", handle)

	term, err := o.tracker.Track(ctx, handle, op.Track)
	if err != nil {
		// On timeout or detach the handle stays bound so the caller
		// can look it up and re-attach.
		return nil, err
	}
	if res := p.Resource(); res != "" {
		o.jobs.Clear(res)
	}
	return &Result{Operation: name, Data: data, Task: term}, nil
}

// dispatchWithRetry sends the request under the operation's retry policy.
func (o *Orchestrator) dispatchWithRetry(ctx context.Context, log *logging.Logger, op Operation, req Request) (json.RawMessage, error) {
	policy := op.Retry
	if policy.MaxAttempts == 0 && policy.BaseDelay == 0 {
		policy = DefaultRetryPolicy()
	}
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := policy.delay(attempt - 1)
			log.Warn("retrying dispatch",
				"attempt", attempt+1,
				"max_attempts", attempts,
				"delay", delay.String(),
				"error", lastErr.Error(),
			)
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, lastErr
			}
		}

		data, err := o.dispatch.Do(ctx, req)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retryable(op.Classification, err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// retryable decides whether an error kind may be retried for this
// classification. Destructive operations are never retried automatically.
func retryable(c Classification, err error) bool {
	if c.Destructive {
		return false
	}
	var tErr *TransportError
	if errors.As(err, &tErr) {
		return true
	}
	var rErr *RemoteError
	if errors.As(err, &rErr) {
		return rErr.Kind == KindConflict && c.Idempotent
	}
	return false
}

// jobHandle extracts a UPID from a response whose data member is a bare
// JSON string job handle.
func jobHandle(data json.RawMessage) (UPID, bool) {
	var s string
	if len(data) == 0 || json.Unmarshal(data, &s) != nil {
		return "", false
	}
	if !strings.HasPrefix(s, "UPID:") {
		return "", false
	}
	h := UPID(s)
	return h, h.Valid()
}

// sleepCtx pauses for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
