// Copyright (C) 2026 Skagit Labs (dev@skagitlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pve

import "net/url"

// Request describes one API call: method, path relative to the API root,
// and parameters. It is a value type constructed per call; nothing holds
// a reference to it after dispatch.
type Request struct {
	// Method is the HTTP method (http.MethodGet, http.MethodPost, ...).
	Method string

	// Path is the API path relative to /api2/json, starting with "/".
	Path string

	// Query holds URL query parameters (may be nil).
	Query url.Values

	// Body holds JSON body parameters for mutating calls (may be nil).
	Body map[string]any
}

// Get returns a GET request descriptor for the given path.
func Get(path string) Request {
	return Request{Method: "GET", Path: path}
}

// Post returns a POST request descriptor with the given body parameters.
func Post(path string, body map[string]any) Request {
	return Request{Method: "POST", Path: path, Body: body}
}
