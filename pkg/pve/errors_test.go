// Copyright (C) 2026 Skagit Labs (dev@skagitlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pve

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRemoteErrorKindString(t *testing.T) {
	tests := []struct {
		kind RemoteErrorKind
		want string
	}{
		{KindOther, "OTHER"},
		{KindNotFound, "NOT_FOUND"},
		{KindConflict, "CONFLICT"},
		{KindValidation, "VALIDATION"},
		{RemoteErrorKind(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}

func TestErrorMessages(t *testing.T) {
	authErr := &AuthError{Op: "GET /version", Status: 401}
	assert.Equal(t, "GET /version: authentication rejected (HTTP 401)", authErr.Error())

	remoteErr := &RemoteError{Kind: KindConflict, Op: "POST /nodes/node1/qemu/101/status/start", Status: 409, Body: "VM locked"}
	assert.Contains(t, remoteErr.Error(), "CONFLICT")
	assert.Contains(t, remoteErr.Error(), "VM locked")

	timeoutErr := &TaskTimeoutError{Handle: testUPID, Timeout: 300 * time.Second}
	assert.Contains(t, timeoutErr.Error(), string(testUPID))
	assert.Contains(t, timeoutErr.Error(), "5m0s")

	confErr := &ConfirmationRequiredError{Operation: "vm.stop"}
	assert.Contains(t, confErr.Error(), `"vm.stop"`)
}

func TestErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")

	var transportErr error = &TransportError{Op: "GET /version", Wrapped: cause}
	assert.ErrorIs(t, transportErr, cause)

	var authErr error = &AuthError{Op: "ticket refresh", Wrapped: cause}
	assert.ErrorIs(t, authErr, cause)
}

func TestErrorTypesAreDistinct(t *testing.T) {
	// Callers branch on error type with errors.As; the taxonomy must not
	// alias.
	var timeoutErr error = &TaskTimeoutError{Handle: testUPID}
	var detached *DetachedError
	assert.False(t, errors.As(timeoutErr, &detached))
}
