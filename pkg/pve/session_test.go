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
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAPIToken(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    *APIToken
		wantErr bool
	}{
		{
			name:  "well formed",
			input: "automation@pve!ci=12345678-abcd-efef-0000-deadbeef0001",
			want: &APIToken{
				User: "automation", Realm: "pve", TokenID: "ci",
				Secret: "12345678-abcd-efef-0000-deadbeef0001",
			},
		},
		{
			name:  "surrounding whitespace trimmed",
			input: "  root@pam!ops=secret\n",
			want:  &APIToken{User: "root", Realm: "pam", TokenID: "ops", Secret: "secret"},
		},
		{name: "missing secret", input: "automation@pve!ci=", wantErr: true},
		{name: "missing token id", input: "automation@pve=secret", wantErr: true},
		{name: "missing realm", input: "automation!ci=secret", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAPIToken(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAPITokenSign(t *testing.T) {
	token := &APIToken{User: "automation", Realm: "pve", TokenID: "ci", Secret: "s3cret"}
	req, err := http.NewRequest(http.MethodGet, "https://pve.example.com:8006/api2/json/version", nil)
	require.NoError(t, err)

	token.Sign(req)
	assert.Equal(t, "PVEAPIToken=automation@pve!ci=s3cret", req.Header.Get("Authorization"))
	assert.False(t, token.NeedsRefresh())
}

func TestTicketAuthSign(t *testing.T) {
	auth := NewTicketAuth(Ticket{
		Value:     "PVE:root@pam:68B1C2F0::signature",
		CSRFToken: "68B1C2F0:csrf",
		Expires:   time.Now().Add(2 * time.Hour),
	}, nil)

	get, err := http.NewRequest(http.MethodGet, "https://pve.example.com:8006/api2/json/version", nil)
	require.NoError(t, err)
	auth.Sign(get)
	cookie, err := get.Cookie("PVEAuthCookie")
	require.NoError(t, err)
	assert.Equal(t, "PVE:root@pam:68B1C2F0::signature", cookie.Value)
	assert.Empty(t, get.Header.Get("CSRFPreventionToken"), "read requests must not carry the CSRF token")

	post, err := http.NewRequest(http.MethodPost, "https://pve.example.com:8006/api2/json/nodes/node1/qemu/101/status/start", nil)
	require.NoError(t, err)
	auth.Sign(post)
	assert.Equal(t, "68B1C2F0:csrf", post.Header.Get("CSRFPreventionToken"))
}

func TestTicketAuthNeedsRefresh(t *testing.T) {
	fresh := NewTicketAuth(Ticket{Expires: time.Now().Add(time.Hour)}, nil)
	assert.False(t, fresh.NeedsRefresh())

	stale := NewTicketAuth(Ticket{Expires: time.Now().Add(30 * time.Second)}, nil)
	assert.True(t, stale.NeedsRefresh())

	expired := NewTicketAuth(Ticket{Expires: time.Now().Add(-time.Minute)}, nil)
	assert.True(t, expired.NeedsRefresh())
}

func TestTicketAuthConcurrentRefreshIsSingleFlight(t *testing.T) {
	var renewals atomic.Int32
	auth := NewTicketAuth(Ticket{Expires: time.Now().Add(-time.Minute)}, func(ctx context.Context) (Ticket, error) {
		renewals.Add(1)
		// Hold all queued callers on the same in-flight renewal.
		time.Sleep(20 * time.Millisecond)
		return Ticket{Value: "renewed", Expires: time.Now().Add(2 * time.Hour)}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, auth.Refresh(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), renewals.Load(), "concurrent callers must collapse into one renewal")
	assert.False(t, auth.NeedsRefresh())
}

func TestTicketAuthRefreshSkipsWhenFresh(t *testing.T) {
	var renewals atomic.Int32
	auth := NewTicketAuth(Ticket{Value: "valid", Expires: time.Now().Add(time.Hour)}, func(ctx context.Context) (Ticket, error) {
		renewals.Add(1)
		return Ticket{}, nil
	})

	require.NoError(t, auth.Refresh(context.Background()))
	assert.Equal(t, int32(0), renewals.Load(), "a fresh ticket must not be renewed")
}

func TestTicketAuthRefreshFailureIsAuthError(t *testing.T) {
	auth := NewTicketAuth(Ticket{Expires: time.Now().Add(-time.Minute)}, func(ctx context.Context) (Ticket, error) {
		return Ticket{}, fmt.Errorf("login rejected")
	})

	err := auth.Refresh(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "ticket refresh", authErr.Op)
	assert.NotContains(t, err.Error(), "PVEAuthCookie")
}

func TestSessionBuildRequest(t *testing.T) {
	session := NewSession(
		Endpoint{Host: "pve.example.com", Port: 8006, VerifyTLS: true},
		&APIToken{User: "automation", Realm: "pve", TokenID: "ci", Secret: "s3cret"},
	)

	t.Run("get with query", func(t *testing.T) {
		r := Get("/cluster/resources")
		r.Query = url.Values{"type": []string{"vm"}}
		req, err := session.BuildRequest(context.Background(), r)
		require.NoError(t, err)
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "https://pve.example.com:8006/api2/json/cluster/resources?type=vm", req.URL.String())
		assert.Empty(t, req.Header.Get("Content-Type"))
		assert.NotEmpty(t, req.Header.Get("Authorization"))
	})

	t.Run("post with body", func(t *testing.T) {
		req, err := session.BuildRequest(context.Background(),
			Post("/nodes/node1/qemu/101/migrate", map[string]any{"target": "node2"}))
		require.NoError(t, err)
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	})
}

func TestSessionRefreshesStaleCredentialBeforeSigning(t *testing.T) {
	var renewals atomic.Int32
	auth := NewTicketAuth(Ticket{Value: "stale", Expires: time.Now().Add(-time.Minute)}, func(ctx context.Context) (Ticket, error) {
		renewals.Add(1)
		return Ticket{Value: "renewed", Expires: time.Now().Add(2 * time.Hour)}, nil
	})
	session := NewSession(Endpoint{Host: "pve.example.com", Port: 8006}, auth)

	req, err := session.BuildRequest(context.Background(), Get("/version"))
	require.NoError(t, err)

	assert.Equal(t, int32(1), renewals.Load())
	cookie, err := req.Cookie("PVEAuthCookie")
	require.NoError(t, err)
	assert.Equal(t, "renewed", cookie.Value, "the request must never carry a credential known stale")
}
