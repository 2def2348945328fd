// Copyright (C) 2026 Skagit Labs (dev@skagitlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pve

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/skagitlabs/pvectl/pkg/logging"
)

// =============================================================================
// Job Handle
// =============================================================================

// UPID is the opaque job handle returned by asynchronous mutating calls,
// e.g. "UPID:node1:00001D4C:00A3BB2E:68B1C2F0:qmstart:101:root@pam:".
// It is scoped to the node that issued it and is not globally unique
// across nodes; status queries must go to that node.
type UPID string

// Valid reports whether the handle has the expected shape.
func (u UPID) Valid() bool {
	return strings.HasPrefix(string(u), "UPID:") && u.Node() != ""
}

// Node returns the node the handle is scoped to, or "" if malformed.
func (u UPID) Node() string {
	parts := strings.SplitN(string(u), ":", 3)
	if len(parts) < 3 || parts[0] != "UPID" {
		return ""
	}
	return parts[1]
}

// String implements fmt.Stringer.
func (u UPID) String() string { return string(u) }

// =============================================================================
// Task Status
// =============================================================================

// taskStateStopped is the terminal task state. Once a task reports it, no
// further poll will observe a different state for that handle.
const taskStateStopped = "stopped"

// taskExitOK is the exit indicator for a successfully finished task.
const taskExitOK = "OK"

// TaskStatus is one observation of a remote task. The client never infers
// transitions locally; state changes only by re-querying the platform.
type TaskStatus struct {
	// Status is the task state: "running" or "stopped".
	Status string `json:"status"`

	// ExitStatus is set once the task stops: "OK" on success, an error
	// summary otherwise. Absent while running.
	ExitStatus string `json:"exitstatus,omitempty"`

	// Node is the node executing the task.
	Node string `json:"node,omitempty"`

	// Type is the task type, e.g. "qmstart".
	Type string `json:"type,omitempty"`

	// ID is the task's target resource id, e.g. a VMID.
	ID string `json:"id,omitempty"`

	// User is the principal the task runs as.
	User string `json:"user,omitempty"`
}

// Terminal reports whether this observation is a terminal state.
func (s *TaskStatus) Terminal() bool { return s.Status == taskStateStopped }

// TerminalStatus is the final outcome of tracking a task. OK false means
// the task itself failed remotely; the poll that observed it succeeded,
// which is a different thing from a tracking error.
type TerminalStatus struct {
	// OK is true when the task finished with exit indicator "OK".
	OK bool

	// Detail carries the exit indicator when OK is false.
	Detail string

	// Status is the terminal observation.
	Status TaskStatus
}

// =============================================================================
// Tracker
// =============================================================================

const (
	// DefaultPollInterval is the pause between status queries.
	DefaultPollInterval = 5 * time.Second

	// DefaultTrackTimeout bounds total tracking time, measured from the
	// first query. Task creation time is not always observable, so the
	// budget cannot start there.
	DefaultTrackTimeout = 300 * time.Second
)

// StatusFunc queries the current status of a task. The tracker depends on
// this narrow function rather than the whole client, which keeps tracking
// independently testable and keeps distinct handles from serializing on
// anything beyond what the transport enforces.
type StatusFunc func(ctx context.Context, handle UPID) (*TaskStatus, error)

// TrackOptions bounds one Track call. Zero values take the defaults.
type TrackOptions struct {
	// Interval is the pause between polls. Default: DefaultPollInterval.
	Interval time.Duration

	// Timeout bounds total elapsed time from the first query.
	// Default: DefaultTrackTimeout.
	Timeout time.Duration
}

// Tracker polls a job handle to its terminal state. Polling never mutates
// remote state; tracking the same terminal handle again returns the same
// TerminalStatus.
type Tracker struct {
	status StatusFunc
	log    *logging.Logger
}

// NewTracker creates a tracker over the given status query. A nil logger
// discards output.
func NewTracker(status StatusFunc, log *logging.Logger) *Tracker {
	if log == nil {
		log = logging.Discard()
	}
	return &Tracker{status: status, log: log}
}

// Track polls the handle until it reaches a terminal state.
//
// The first query is issued immediately; each non-terminal response is
// followed by an Interval sleep and a re-query. Total elapsed time is
// bounded by Timeout measured from the first query.
//
// Outcomes:
//   - terminal state observed: TerminalStatus (OK or not, per exit indicator)
//   - budget exceeded: *TaskTimeoutError carrying the last observed status;
//     the task may still be running, the caller may re-attach
//   - ctx cancelled between polls: *DetachedError, distinct from timeout;
//     the remote task is never cancelled, since not all tasks are revocable
//   - a poll itself fails: that error, propagated unchanged
func (t *Tracker) Track(ctx context.Context, handle UPID, opts TrackOptions) (*TerminalStatus, error) {
	if !handle.Valid() {
		return nil, fmt.Errorf("malformed job handle %q", handle)
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTrackTimeout
	}

	deadline := time.Now().Add(timeout)
	var last *TaskStatus

	for {
		status, err := t.status(ctx, handle)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &DetachedError{Handle: handle, LastStatus: last}
			}
			return nil, err
		}
		last = status

		if status.Terminal() {
			return terminalFrom(handle, status, t.log), nil
		}
		t.log.Debug("task still running", "upid", handle, "status", status.Status)

		if !time.Now().Add(interval).Before(deadline) {
			return nil, &TaskTimeoutError{Handle: handle, Timeout: timeout, LastStatus: last}
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			t.log.Info("detached from task", "upid", handle)
			return nil, &DetachedError{Handle: handle, LastStatus: last}
		case <-timer.C:
		}
	}
}

// terminalFrom interprets the exit indicator of a stopped task.
func terminalFrom(handle UPID, status *TaskStatus, log *logging.Logger) *TerminalStatus {
	exit := status.ExitStatus
	if exit == "" {
		// Some task types omit the indicator on success.
		exit = taskExitOK
	}
	if exit == taskExitOK {
		log.Info("task finished", "upid", handle)
		return &TerminalStatus{OK: true, Status: *status}
	}
	log.Warn("task finished with errors", "upid", handle, "exitstatus", exit)
	return &TerminalStatus{OK: false, Detail: exit, Status: *status}
}
