// Copyright (C) 2026 Skagit Labs (dev@skagitlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// =============================================================================
// Endpoint
// =============================================================================

// Endpoint identifies one API endpoint: host, port, and whether TLS
// certificates are verified. Immutable once the session is built.
type Endpoint struct {
	// Host is the endpoint hostname or IP, without scheme or port.
	Host string

	// Port is the API port. PVE listens on 8006, PBS on 8007.
	Port int

	// VerifyTLS controls certificate verification. Disabling it is an
	// explicit, non-default choice; see NewTransport.
	VerifyTLS bool
}

// BaseURL returns the API root, e.g. "https://pve.example.com:8006/api2/json".
func (e Endpoint) BaseURL() string {
	return fmt.Sprintf("https://%s:%d/api2/json", e.Host, e.Port)
}

// =============================================================================
// Authenticators
// =============================================================================

// Authenticator produces request credentials for a session. Two variants
// exist: API tokens (static, no refresh) and tickets (time-limited, must be
// renewed). They share no mutable state, so the variety is modeled as a
// small closed set behind one capability interface rather than inheritance.
//
// Implementations must be safe for concurrent use: Sign may be called by
// multiple in-flight requests while another goroutine calls Refresh.
type Authenticator interface {
	// Sign attaches credential material to the request.
	Sign(req *http.Request)

	// NeedsRefresh reports whether the credential is near expiry and
	// should be refreshed before the next call.
	NeedsRefresh() bool

	// Refresh renews the credential. Concurrent callers are collapsed
	// into a single renewal (single-flight); all of them observe either
	// the new credential or the renewal error.
	Refresh(ctx context.Context) error
}

// APIToken is the token-based authenticator. The secret is sent on every
// request as "PVEAPIToken=user@realm!tokenid=secret" and never expires,
// so no refresh is needed.
type APIToken struct {
	// User is the principal, e.g. "automation".
	User string

	// Realm is the authentication realm, e.g. "pve" or "pam".
	Realm string

	// TokenID names the token within the principal, e.g. "ci".
	TokenID string

	// Secret is the token secret. Never logged.
	Secret string
}

// ParseAPIToken parses the "user@realm!tokenid=secret" form found in token
// files into an APIToken.
func ParseAPIToken(s string) (*APIToken, error) {
	s = strings.TrimSpace(s)
	id, secret, ok := strings.Cut(s, "=")
	if !ok || secret == "" {
		return nil, fmt.Errorf("token must have form user@realm!tokenid=secret")
	}
	principal, tokenID, ok := strings.Cut(id, "!")
	if !ok || tokenID == "" {
		return nil, fmt.Errorf("token id must have form user@realm!tokenid")
	}
	user, realm, ok := strings.Cut(principal, "@")
	if !ok || user == "" || realm == "" {
		return nil, fmt.Errorf("token principal must have form user@realm")
	}
	return &APIToken{User: user, Realm: realm, TokenID: tokenID, Secret: secret}, nil
}

// Sign sets the Authorization header in PVEAPIToken format.
func (t *APIToken) Sign(req *http.Request) {
	req.Header.Set("Authorization",
		fmt.Sprintf("PVEAPIToken=%s@%s!%s=%s", t.User, t.Realm, t.TokenID, t.Secret))
}

// NeedsRefresh always returns false; API tokens do not expire.
func (t *APIToken) NeedsRefresh() bool { return false }

// Refresh is a no-op for API tokens.
func (t *APIToken) Refresh(ctx context.Context) error { return nil }

// Ticket is one issued authentication ticket with its CSRF token and
// expiry. Immutable once built; a refresh installs a whole new Ticket.
type Ticket struct {
	// Value is the PVEAuthCookie value. Never logged.
	Value string

	// CSRFToken is sent on mutating requests as CSRFPreventionToken.
	CSRFToken string

	// Expires is when the ticket stops being accepted.
	Expires time.Time
}

// RenewFunc obtains a fresh Ticket. Credential provisioning is owned by the
// caller (it typically replays a username/password login); the session only
// schedules when renewal happens.
type RenewFunc func(ctx context.Context) (Ticket, error)

// refreshMargin is how long before expiry a ticket is considered stale.
// PVE tickets last two hours; refreshing a couple of minutes early keeps
// long poll loops from crossing the expiry mid-sequence.
const refreshMargin = 2 * time.Minute

// TicketAuth is the ticket-based authenticator. Concurrent signing takes a
// read lock; renewal is single-flight so concurrent callers do not race on
// refreshing an already-valid credential.
type TicketAuth struct {
	renew RenewFunc

	mu     sync.RWMutex
	ticket Ticket

	group singleflight.Group
}

// NewTicketAuth creates a ticket authenticator seeded with an initial
// ticket. renew is called whenever the ticket nears expiry.
func NewTicketAuth(initial Ticket, renew RenewFunc) *TicketAuth {
	return &TicketAuth{renew: renew, ticket: initial}
}

func (a *TicketAuth) current() Ticket {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ticket
}

// Sign sets the auth cookie, plus the CSRF header for mutating methods.
func (a *TicketAuth) Sign(req *http.Request) {
	t := a.current()
	req.AddCookie(&http.Cookie{Name: "PVEAuthCookie", Value: t.Value})
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		req.Header.Set("CSRFPreventionToken", t.CSRFToken)
	}
}

// NeedsRefresh reports whether the ticket is within the refresh margin.
func (a *TicketAuth) NeedsRefresh() bool {
	return time.Until(a.current().Expires) < refreshMargin
}

// Refresh renews the ticket. Concurrent callers share one renewal via
// singleflight; a renewal failure is surfaced to all of them as AuthError.
func (a *TicketAuth) Refresh(ctx context.Context) error {
	_, err, _ := a.group.Do("refresh", func() (any, error) {
		// Another caller may have completed a refresh while this one
		// was queued; skip the renewal if the ticket is fresh again.
		if !a.NeedsRefresh() {
			return nil, nil
		}
		t, err := a.renew(ctx)
		if err != nil {
			return nil, &AuthError{Op: "ticket refresh", Wrapped: err}
		}
		a.mu.Lock()
		a.ticket = t
		a.mu.Unlock()
		return nil, nil
	})
	return err
}

// Compile-time interface satisfaction checks
var (
	_ Authenticator = (*APIToken)(nil)
	_ Authenticator = (*TicketAuth)(nil)
)

// =============================================================================
// Session
// =============================================================================

// Session holds the endpoint and authenticator and produces signed HTTP
// requests for the transport. It owns no business logic and no network
// access; refresh decisions happen here, per call, never mid-poll.
type Session struct {
	endpoint Endpoint
	auth     Authenticator
}

// NewSession creates a session for the given endpoint and authenticator.
func NewSession(endpoint Endpoint, auth Authenticator) *Session {
	return &Session{endpoint: endpoint, auth: auth}
}

// Endpoint returns the immutable endpoint this session talks to.
func (s *Session) Endpoint() Endpoint { return s.endpoint }

// BuildRequest turns a Request descriptor into a signed *http.Request.
// If the authenticator reports it needs a refresh, the refresh happens
// before signing, so the request never carries a credential known stale.
func (s *Session) BuildRequest(ctx context.Context, r Request) (*http.Request, error) {
	if s.auth.NeedsRefresh() {
		if err := s.auth.Refresh(ctx); err != nil {
			return nil, err
		}
	}

	u := s.endpoint.BaseURL() + r.Path
	if len(r.Query) > 0 {
		u += "?" + r.Query.Encode()
	}

	var body *bytes.Reader
	if r.Body != nil {
		data, err := json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if r.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	s.auth.Sign(req)
	return req, nil
}
