// Copyright (C) 2026 Skagit Labs (dev@skagitlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pve

import "sync"

// JobTable tracks which resource currently has an active job. The
// relationship lives in this explicit lookup table keyed by resource id
// rather than as a back-reference inside a resource object, so resource
// state and job tracking have independent lifecycles.
//
// Safe for concurrent use.
type JobTable struct {
	mu     sync.RWMutex
	active map[string]UPID
}

// NewJobTable creates an empty job table.
func NewJobTable() *JobTable {
	return &JobTable{active: make(map[string]UPID)}
}

// Bind records handle as the active job for the resource, replacing any
// previous binding. A handle is bound to at most one resource at a time.
func (j *JobTable) Bind(resource string, handle UPID) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.active[resource] = handle
}

// Active returns the active job handle for the resource, if any.
func (j *JobTable) Active(resource string) (UPID, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	h, ok := j.active[resource]
	return h, ok
}

// Clear removes the binding for the resource once its job is terminal.
func (j *JobTable) Clear(resource string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.active, resource)
}

// Snapshot returns a copy of all current bindings.
func (j *JobTable) Snapshot() map[string]UPID {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make(map[string]UPID, len(j.active))
	for k, v := range j.active {
		out[k] = v
	}
	return out
}
