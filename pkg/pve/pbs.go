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
	"fmt"

	"github.com/skagitlabs/pvectl/pkg/logging"
)

// DefaultPBSPort is the Proxmox Backup Server API port.
const DefaultPBSPort = 8007

// Datastore is one entry of the backup server's /config/datastore.
type Datastore struct {
	Name    string `json:"name"`
	Path    string `json:"path,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// PBSClient talks to a Proxmox Backup Server. Same wire conventions as the
// VE API (token auth, /api2/json prefix, UPID task handles) on port 8007;
// backup tasks are tracked with the same tracker.
type PBSClient struct {
	session   *Session
	transport *Transport
	tracker   *Tracker
	log       *logging.Logger
}

// NewPBSClient builds a backup server client and probes /version to fail
// fast on bad credentials.
func NewPBSClient(ctx context.Context, cfg ClientConfig) (*PBSClient, error) {
	if cfg.Endpoint.Host == "" {
		return nil, fmt.Errorf("endpoint host is required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if cfg.Endpoint.Port == 0 {
		cfg.Endpoint.Port = DefaultPBSPort
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Discard()
	}

	c := &PBSClient{
		session:   NewSession(cfg.Endpoint, cfg.Auth),
		transport: NewTransport(cfg.Endpoint, append([]TransportOption{WithLogger(log)}, cfg.TransportOptions...)...),
		log:       log,
	}
	c.tracker = NewTracker(c.TaskStatus, log)

	if !cfg.SkipProbe {
		if _, err := c.Do(ctx, Get("/version")); err != nil {
			return nil, err
		}
		log.Info("backup server authentication successful", "host", cfg.Endpoint.Host)
	}
	return c, nil
}

// Do sends one request descriptor through session and transport.
func (c *PBSClient) Do(ctx context.Context, r Request) (json.RawMessage, error) {
	req, err := c.session.BuildRequest(ctx, r)
	if err != nil {
		return nil, err
	}
	return c.transport.Send(ctx, req)
}

// ListDatastores returns the configured datastores.
func (c *PBSClient) ListDatastores(ctx context.Context) ([]Datastore, error) {
	data, err := c.Do(ctx, Get("/config/datastore"))
	if err != nil {
		return nil, err
	}
	var stores []Datastore
	if err := json.Unmarshal(data, &stores); err != nil {
		return nil, fmt.Errorf("decode datastores: %w", err)
	}
	return stores, nil
}

// BackupVM starts a backup of a guest into the datastore and returns the
// task handle. backupType is "vm" for QEMU guests or "ct" for containers.
// The caller tracks the handle with WaitTask.
func (c *PBSClient) BackupVM(ctx context.Context, datastore, node string, vmid int, backupType string, extra map[string]any) (UPID, error) {
	body := map[string]any{
		"id":   fmt.Sprintf("%s/%d", node, vmid),
		"type": backupType,
	}
	for k, v := range extra {
		body[k] = v
	}

	data, err := c.Do(ctx, Post(fmt.Sprintf("/datastore/%s/backup", datastore), body))
	if err != nil {
		return "", err
	}
	handle, ok := jobHandle(data)
	if !ok {
		return "", fmt.Errorf("backup response carried no job handle")
	}
	c.log.Info("backup started", "datastore", datastore, "guest", body["id"], "upid", handle)
	return handle, nil
}

// TaskStatus queries one task observation on the handle's node.
func (c *PBSClient) TaskStatus(ctx context.Context, handle UPID) (*TaskStatus, error) {
	node := handle.Node()
	if node == "" {
		return nil, fmt.Errorf("malformed job handle %q", handle)
	}
	data, err := c.Do(ctx, Get(fmt.Sprintf("/nodes/%s/tasks/%s/status", node, handle)))
	if err != nil {
		return nil, err
	}
	var status TaskStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("decode task status: %w", err)
	}
	return &status, nil
}

// WaitTask polls an existing handle to its terminal state.
func (c *PBSClient) WaitTask(ctx context.Context, handle UPID, opts TrackOptions) (*TerminalStatus, error) {
	return c.tracker.Track(ctx, handle, opts)
}
