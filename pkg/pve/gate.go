// Copyright (C) 2026 Skagit Labs (dev@skagitlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pve

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Operation Classification
// =============================================================================

// Classification is the static safety profile of a named operation. The
// mapping is data consulted before dispatch, not business logic; which
// operations count as destructive is fixed here, not per deployment.
type Classification struct {
	// Name is the operation name, e.g. "vm.stop".
	Name string

	// Destructive operations are irreversible or disruptive enough to
	// require explicit confirmation before dispatch, and are never
	// retried automatically.
	Destructive bool

	// Idempotent operations are safe to retry on conflict because
	// repeated application yields the same end state.
	Idempotent bool

	// StateDependent operations query current resource state before
	// dispatch and short-circuit when the resource is already in
	// TargetState.
	StateDependent bool

	// TargetState is the resource state the operation drives toward,
	// e.g. "running". Only meaningful when StateDependent is true.
	TargetState string
}

// =============================================================================
// Confirmation
// =============================================================================

// Confirmation is the artifact proving a destructive intent was explicitly
// surfaced to a human or an equivalent authorization boundary. The gate
// checks presence, not provenance; minting one is the caller's act of
// confirming.
type Confirmation struct {
	// ID is an opaque non-empty identifier for this confirmation.
	ID string

	// Reason optionally records why the action was confirmed.
	Reason string
}

// NewConfirmation mints a confirmation artifact with a fresh unique id.
func NewConfirmation(reason string) *Confirmation {
	return &Confirmation{ID: uuid.NewString(), Reason: reason}
}

// =============================================================================
// Safety Gate
// =============================================================================

// Authorization is the gate's positive decision for one dispatch.
type Authorization struct {
	// Operation is the authorized operation name.
	Operation string

	// ConfirmationID links back to the confirmation artifact, empty for
	// non-destructive operations.
	ConfirmationID string

	// GrantedAt is when the decision was made.
	GrantedAt time.Time
}

// Authorize decides whether the operation may reach the transport. It is a
// pure decision function with no side effects and no network access.
//
// Destructive operations require a confirmation with a non-empty ID;
// absence fails closed with *ConfirmationRequiredError. Non-destructive
// operations always authorize, and any supplied confirmation is ignored.
func Authorize(c Classification, conf *Confirmation) (*Authorization, error) {
	if !c.Destructive {
		return &Authorization{Operation: c.Name, GrantedAt: time.Now()}, nil
	}
	if conf == nil || conf.ID == "" {
		return nil, &ConfirmationRequiredError{Operation: c.Name}
	}
	return &Authorization{
		Operation:      c.Name,
		ConfirmationID: conf.ID,
		GrantedAt:      time.Now(),
	}, nil
}
