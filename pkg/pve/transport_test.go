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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{
			name:   "200 passes through",
			status: 200,
			check: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name:   "401 is auth",
			status: 401,
			check: func(t *testing.T, err error) {
				var authErr *AuthError
				require.ErrorAs(t, err, &authErr)
				assert.Equal(t, 401, authErr.Status)
			},
		},
		{
			name:   "403 is auth",
			status: 403,
			check: func(t *testing.T, err error) {
				var authErr *AuthError
				require.ErrorAs(t, err, &authErr)
			},
		},
		{
			name:   "404 is not found",
			status: 404,
			check: func(t *testing.T, err error) {
				var remoteErr *RemoteError
				require.ErrorAs(t, err, &remoteErr)
				assert.Equal(t, KindNotFound, remoteErr.Kind)
			},
		},
		{
			name:   "409 is conflict",
			status: 409,
			check: func(t *testing.T, err error) {
				var remoteErr *RemoteError
				require.ErrorAs(t, err, &remoteErr)
				assert.Equal(t, KindConflict, remoteErr.Kind)
			},
		},
		{
			name:   "400 is validation",
			status: 400,
			check: func(t *testing.T, err error) {
				var remoteErr *RemoteError
				require.ErrorAs(t, err, &remoteErr)
				assert.Equal(t, KindValidation, remoteErr.Kind)
			},
		},
		{
			name:   "422 is validation",
			status: 422,
			check: func(t *testing.T, err error) {
				var remoteErr *RemoteError
				require.ErrorAs(t, err, &remoteErr)
				assert.Equal(t, KindValidation, remoteErr.Kind)
			},
		},
		{
			name:   "429 is other",
			status: 429,
			check: func(t *testing.T, err error) {
				var remoteErr *RemoteError
				require.ErrorAs(t, err, &remoteErr)
				assert.Equal(t, KindOther, remoteErr.Kind)
			},
		},
		{
			name:   "500 is transport",
			status: 500,
			check: func(t *testing.T, err error) {
				var transportErr *TransportError
				require.ErrorAs(t, err, &transportErr)
				assert.Equal(t, 500, transportErr.Status)
			},
		},
		{
			name:   "503 is transport",
			status: 503,
			check: func(t *testing.T, err error) {
				var transportErr *TransportError
				require.ErrorAs(t, err, &transportErr)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, mapStatus("GET /version", tt.status, []byte(`{"errors":{}}`)))
		})
	}
}

func TestTransportSendDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"version":"8.2.4","release":"8.2"}}`))
	}))
	defer srv.Close()

	tr := NewTransport(Endpoint{VerifyTLS: true})
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api2/json/version", nil)
	require.NoError(t, err)

	data, err := tr.Send(context.Background(), req)
	require.NoError(t, err)

	var got struct {
		Version string `json:"version"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "8.2.4", got.Version)
}

func TestTransportSendMapsErrorWithBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"errors":{"vmid":"VM is locked (backup)"}}`))
	}))
	defer srv.Close()

	tr := NewTransport(Endpoint{VerifyTLS: true})
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api2/json/nodes/node1/qemu/101/status/stop", nil)
	require.NoError(t, err)

	_, err = tr.Send(context.Background(), req)
	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, KindConflict, remoteErr.Kind)
	assert.Contains(t, remoteErr.Body, "VM is locked", "the platform's reason must be preserved")
	assert.Equal(t, "POST /api2/json/nodes/node1/qemu/101/status/stop", remoteErr.Op)
}

func TestTransportSendConnectionFailureIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse all connections

	tr := NewTransport(Endpoint{VerifyTLS: true})
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api2/json/version", nil)
	require.NoError(t, err)

	_, err = tr.Send(context.Background(), req)
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Zero(t, transportErr.Status)
	assert.NotNil(t, errors.Unwrap(transportErr))
}

func TestTransportSendMalformedEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>proxy error</html>"))
	}))
	defer srv.Close()

	tr := NewTransport(Endpoint{VerifyTLS: true})
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api2/json/version", nil)
	require.NoError(t, err)

	_, err = tr.Send(context.Background(), req)
	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, KindOther, remoteErr.Kind)
}

func TestTransportTLSVerificationDefault(t *testing.T) {
	verified := NewTransport(Endpoint{VerifyTLS: true})
	assert.Nil(t, verified.client.Transport, "verification enabled must use the default transport")

	unverified := NewTransport(Endpoint{VerifyTLS: false})
	ht, ok := unverified.client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.True(t, ht.TLSClientConfig.InsecureSkipVerify)
}
