// Copyright (C) 2026 Skagit Labs (dev@skagitlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pve

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/skagitlabs/pvectl/pkg/logging"
)

// =============================================================================
// Transport
// =============================================================================

// Transport executes signed requests and maps HTTP outcomes onto the typed
// error taxonomy. The mapping is deterministic:
//
//	401, 403            -> AuthError (never retried automatically)
//	404                 -> RemoteError(KindNotFound)
//	409                 -> RemoteError(KindConflict)
//	400, 422            -> RemoteError(KindValidation)
//	other 4xx           -> RemoteError(KindOther)
//	5xx, network errors -> TransportError (retry candidate)
//
// Transport is safe for concurrent use; connection reuse is whatever the
// underlying http.Transport provides, and no further serialization is
// imposed on concurrent callers.
type Transport struct {
	client  *http.Client
	limiter *rate.Limiter
	log     *logging.Logger
}

// TransportOption customizes a Transport.
type TransportOption func(*Transport)

// WithRequestTimeout bounds each individual HTTP round-trip.
// Default: 30 seconds, matching the platform's proxy timeout.
func WithRequestTimeout(d time.Duration) TransportOption {
	return func(t *Transport) { t.client.Timeout = d }
}

// WithRateLimit caps outgoing requests at r per second with burst b.
// Useful when scheduled monitoring shares an endpoint with interactive
// callers. Default: unlimited.
func WithRateLimit(r rate.Limit, b int) TransportOption {
	return func(t *Transport) { t.limiter = rate.NewLimiter(r, b) }
}

// WithLogger sets the structured logger. Default: discard.
func WithLogger(log *logging.Logger) TransportOption {
	return func(t *Transport) { t.log = log }
}

// NewTransport creates a Transport for the endpoint. TLS verification
// defaults to enabled; it is disabled only when the endpoint explicitly
// says so, and the choice is logged so it is never silent.
func NewTransport(endpoint Endpoint, opts ...TransportOption) *Transport {
	t := &Transport{
		client: &http.Client{Timeout: 30 * time.Second},
		log:    logging.Discard(),
	}
	if !endpoint.VerifyTLS {
		t.client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	for _, opt := range opts {
		opt(t)
	}
	if !endpoint.VerifyTLS {
		t.log.Warn("TLS certificate verification disabled", "host", endpoint.Host)
	}
	return t
}

// Send executes a signed request and returns the decoded "data" member of
// the response envelope. Every non-2xx outcome is mapped per the table in
// the type documentation; response bodies are preserved on RemoteError so
// callers can inspect the platform's reason.
func (t *Transport) Send(ctx context.Context, req *http.Request) (json.RawMessage, error) {
	op := fmt.Sprintf("%s %s", req.Method, req.URL.Path)

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Op: op, Wrapped: err}
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Wrapped: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Wrapped: err}
	}

	if mapped := mapStatus(op, resp.StatusCode, body); mapped != nil {
		t.log.Debug("request rejected", "op", op, "status", resp.StatusCode)
		return nil, mapped
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &RemoteError{
			Kind:   KindOther,
			Op:     op,
			Status: resp.StatusCode,
			Body:   fmt.Sprintf("malformed response envelope: %v", err),
		}
	}
	return envelope.Data, nil
}

// mapStatus converts a non-2xx status into the matching typed error.
// Returns nil for 2xx.
func mapStatus(op string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Op: op, Status: status}
	case status == http.StatusNotFound:
		return &RemoteError{Kind: KindNotFound, Op: op, Status: status, Body: string(body)}
	case status == http.StatusConflict:
		return &RemoteError{Kind: KindConflict, Op: op, Status: status, Body: string(body)}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return &RemoteError{Kind: KindValidation, Op: op, Status: status, Body: string(body)}
	case status >= 500:
		return &TransportError{Op: op, Status: status}
	default:
		return &RemoteError{Kind: KindOther, Op: op, Status: status, Body: string(body)}
	}
}
