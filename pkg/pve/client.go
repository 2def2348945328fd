// Copyright (C) 2026 Skagit Labs (dev@skagitlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pve is a control-plane client for Proxmox VE and Proxmox Backup
// Server clusters. It issues authenticated REST calls to manage nodes,
// virtual machines, and containers, and tracks the asynchronous tasks
// (UPIDs) the platform spawns for long-running operations.
//
// The package is organized around five pieces:
//
//   - Session: credentials and endpoint, produces signed requests
//   - Transport: executes requests, maps failures to typed errors
//   - Tracker: polls a task handle to its terminal state
//   - Safety gate: blocks destructive operations without confirmation
//   - Orchestrator: composes the above into named operations with
//     per-operation retry policy
//
// Client bundles them into the usual entry point:
//
//	token, _ := pve.ParseAPIToken("automation@pve!ci=...")
//	client, err := pve.NewClient(ctx, pve.ClientConfig{
//	    Endpoint: pve.Endpoint{Host: "pve.example.com", Port: 8006, VerifyTLS: true},
//	    Auth:     token,
//	})
//	result, err := client.StartVM(ctx, "node1", 101)
package pve

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/skagitlabs/pvectl/pkg/logging"
)

// DefaultPort is the PVE API port.
const DefaultPort = 8006

// =============================================================================
// Resource Types
// =============================================================================

// ClusterResource is one entry of /cluster/resources. Only the fields the
// client acts on are decoded; the platform's full schema stays opaque.
type ClusterResource struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	VMID    int    `json:"vmid,omitempty"`
	Name    string `json:"name,omitempty"`
	Node    string `json:"node,omitempty"`
	Status  string `json:"status,omitempty"`
	Storage string `json:"storage,omitempty"`
}

// ResourcePool is one entry of /pools.
type ResourcePool struct {
	PoolID  string `json:"poolid"`
	Comment string `json:"comment,omitempty"`
}

// =============================================================================
// Client
// =============================================================================

// ClientConfig configures a Client.
type ClientConfig struct {
	// Endpoint is the API endpoint. A zero Port takes DefaultPort.
	Endpoint Endpoint

	// Auth is the authenticator variant to sign requests with.
	Auth Authenticator

	// Logger receives structured logs. Default: discard.
	Logger *logging.Logger

	// TransportOptions customize the transport (timeouts, rate limit).
	TransportOptions []TransportOption

	// SkipProbe disables the connect-time /version probe. Mostly for
	// tests that fake narrow API surfaces.
	SkipProbe bool
}

// Client is the high-level PVE control-plane client. Safe for concurrent
// use; independent calls do not serialize on anything beyond connection
// reuse in the transport.
type Client struct {
	session   *Session
	transport *Transport
	tracker   *Tracker
	orch      *Orchestrator
	log       *logging.Logger
}

// NewClient builds a client and probes /version to fail fast on bad
// credentials, mirroring what an interactive login would surface.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Endpoint.Host == "" {
		return nil, fmt.Errorf("endpoint host is required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if cfg.Endpoint.Port == 0 {
		cfg.Endpoint.Port = DefaultPort
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Discard()
	}

	c := &Client{
		session:   NewSession(cfg.Endpoint, cfg.Auth),
		transport: NewTransport(cfg.Endpoint, append([]TransportOption{WithLogger(log)}, cfg.TransportOptions...)...),
		log:       log,
	}
	c.tracker = NewTracker(c.TaskStatus, log)
	c.orch = NewOrchestrator(c, c.tracker, log)
	c.registerOperations()

	if !cfg.SkipProbe {
		if _, err := c.Version(ctx); err != nil {
			return nil, err
		}
		log.Info("authentication successful", "host", cfg.Endpoint.Host)
	}
	return c, nil
}

// Do sends one request descriptor through session and transport. This is
// the Dispatcher implementation the orchestrator runs on.
func (c *Client) Do(ctx context.Context, r Request) (json.RawMessage, error) {
	req, err := c.session.BuildRequest(ctx, r)
	if err != nil {
		return nil, err
	}
	return c.transport.Send(ctx, req)
}

var _ Dispatcher = (*Client)(nil)

// =============================================================================
// Read Operations
// =============================================================================

// Version returns the platform version payload. Doubles as the
// connect-time credential probe.
func (c *Client) Version(ctx context.Context) (json.RawMessage, error) {
	return c.Do(ctx, Get("/version"))
}

// ListVMs returns all QEMU and LXC guests in the cluster.
func (c *Client) ListVMs(ctx context.Context) ([]ClusterResource, error) {
	return c.clusterResources(ctx, func(r ClusterResource) bool {
		return r.Type == "qemu" || r.Type == "lxc"
	})
}

// ListStoragePools returns all storage entries in the cluster.
func (c *Client) ListStoragePools(ctx context.Context) ([]ClusterResource, error) {
	return c.clusterResources(ctx, func(r ClusterResource) bool {
		return r.Type == "storage"
	})
}

func (c *Client) clusterResources(ctx context.Context, keep func(ClusterResource) bool) ([]ClusterResource, error) {
	data, err := c.Do(ctx, Get("/cluster/resources"))
	if err != nil {
		return nil, err
	}
	var all []ClusterResource
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("decode cluster resources: %w", err)
	}
	out := all[:0]
	for _, r := range all {
		if keep(r) {
			out = append(out, r)
		}
	}
	c.log.Debug("listed cluster resources", "count", len(out))
	return out, nil
}

// ListResourcePools returns all resource pools.
func (c *Client) ListResourcePools(ctx context.Context) ([]ResourcePool, error) {
	data, err := c.Do(ctx, Get("/pools"))
	if err != nil {
		return nil, err
	}
	var pools []ResourcePool
	if err := json.Unmarshal(data, &pools); err != nil {
		return nil, fmt.Errorf("decode resource pools: %w", err)
	}
	return pools, nil
}

// VMStatus returns the current status of a QEMU guest ("running",
// "stopped", ...). This is the state query behind state-dependent
// operations.
func (c *Client) VMStatus(ctx context.Context, node string, vmid int) (string, error) {
	data, err := c.Do(ctx, Get(fmt.Sprintf("/nodes/%s/qemu/%d/status/current", node, vmid)))
	if err != nil {
		return "", err
	}
	var current struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &current); err != nil {
		return "", fmt.Errorf("decode guest status: %w", err)
	}
	return current.Status, nil
}

// TaskStatus queries one task observation on the node the handle is
// scoped to. Polling never mutates remote state.
func (c *Client) TaskStatus(ctx context.Context, handle UPID) (*TaskStatus, error) {
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

// WaitTask polls an existing handle to its terminal state. This is the
// manual tracking primitive; Execute auto-tracks as a convenience on top
// of the same code path, and a caller holding a handle from a timed-out
// or detached call re-attaches with this.
func (c *Client) WaitTask(ctx context.Context, handle UPID, opts TrackOptions) (*TerminalStatus, error) {
	return c.tracker.Track(ctx, handle, opts)
}

// Jobs exposes the resource-to-active-task table.
func (c *Client) Jobs() *JobTable { return c.orch.Jobs() }

// =============================================================================
// Named Operations
// =============================================================================

// Execute runs a registered named operation. See Orchestrator.Execute.
func (c *Client) Execute(ctx context.Context, name string, p Params, conf *Confirmation) (*Result, error) {
	return c.orch.Execute(ctx, name, p, conf)
}

// registerOperations installs the operation table. The classification is
// static data: which actions are destructive does not vary per deployment.
func (c *Client) registerOperations() {
	guestState := func(ctx context.Context, p Params) (string, error) {
		return c.VMStatus(ctx, p.Node, p.VMID)
	}
	powerAction := func(action string) func(Params) (Request, error) {
		return func(p Params) (Request, error) {
			if p.Node == "" || p.VMID == 0 {
				return Request{}, fmt.Errorf("%s: node and vmid are required", action)
			}
			return Post(fmt.Sprintf("/nodes/%s/qemu/%d/status/%s", p.Node, p.VMID, action), p.Args), nil
		}
	}

	c.orch.Register("vm.start", Operation{
		Classification: Classification{
			Idempotent:     true,
			StateDependent: true,
			TargetState:    "running",
		},
		Retry: DefaultRetryPolicy(),
		Build: powerAction("start"),
		State: guestState,
	})

	// Hard stop always dispatches: forcing a stop on a wedged guest whose
	// reported state is stale is the whole point of the operation.
	c.orch.Register("vm.stop", Operation{
		Classification: Classification{Destructive: true},
		Retry:          RetryPolicy{MaxAttempts: 1},
		Build:          powerAction("stop"),
	})

	c.orch.Register("vm.shutdown", Operation{
		Classification: Classification{
			Destructive:    true,
			StateDependent: true,
			TargetState:    "stopped",
		},
		Retry: RetryPolicy{MaxAttempts: 1},
		Build: powerAction("shutdown"),
		State: guestState,
	})

	c.orch.Register("vm.reboot", Operation{
		Classification: Classification{Destructive: true},
		Retry:          RetryPolicy{MaxAttempts: 1},
		Build:          powerAction("reboot"),
	})

	c.orch.Register("vm.migrate", Operation{
		Classification: Classification{},
		Retry:          DefaultRetryPolicy(),
		Build: func(p Params) (Request, error) {
			if p.Node == "" || p.VMID == 0 {
				return Request{}, fmt.Errorf("migrate: node and vmid are required")
			}
			if _, ok := p.Args["target"]; !ok {
				return Request{}, fmt.Errorf("migrate: target node is required")
			}
			return Post(fmt.Sprintf("/nodes/%s/qemu/%d/migrate", p.Node, p.VMID), p.Args), nil
		},
	})

	c.orch.Register("vm.clone", Operation{
		Classification: Classification{},
		Retry:          DefaultRetryPolicy(),
		Build: func(p Params) (Request, error) {
			if p.Node == "" || p.VMID == 0 {
				return Request{}, fmt.Errorf("clone: node and vmid are required")
			}
			if _, ok := p.Args["newid"]; !ok {
				return Request{}, fmt.Errorf("clone: newid is required")
			}
			return Post(fmt.Sprintf("/nodes/%s/qemu/%d/clone", p.Node, p.VMID), p.Args), nil
		},
	})

	c.orch.Register("vm.snapshot", Operation{
		Classification: Classification{},
		Retry:          DefaultRetryPolicy(),
		Build: func(p Params) (Request, error) {
			if p.Node == "" || p.VMID == 0 {
				return Request{}, fmt.Errorf("snapshot: node and vmid are required")
			}
			if _, ok := p.Args["snapname"]; !ok {
				return Request{}, fmt.Errorf("snapshot: snapname is required")
			}
			return Post(fmt.Sprintf("/nodes/%s/qemu/%d/snapshot", p.Node, p.VMID), p.Args), nil
		},
	})

	c.orch.Register("pool.create", Operation{
		Classification: Classification{},
		Retry:          RetryPolicy{MaxAttempts: 1},
		Build: func(p Params) (Request, error) {
			if _, ok := p.Args["poolid"]; !ok {
				return Request{}, fmt.Errorf("pool.create: poolid is required")
			}
			return Post("/pools", p.Args), nil
		},
	})
}

// =============================================================================
// Convenience Wrappers
// =============================================================================

// StartVM starts a guest, skipping dispatch if it is already running.
func (c *Client) StartVM(ctx context.Context, node string, vmid int) (*Result, error) {
	return c.Execute(ctx, "vm.start", Params{Node: node, VMID: vmid}, nil)
}

// StopVM hard-stops a guest. Destructive; requires a confirmation.
func (c *Client) StopVM(ctx context.Context, node string, vmid int, conf *Confirmation) (*Result, error) {
	return c.Execute(ctx, "vm.stop", Params{Node: node, VMID: vmid}, conf)
}

// ShutdownVM gracefully shuts a guest down. Destructive; requires a
// confirmation. Skips dispatch if the guest is already stopped.
func (c *Client) ShutdownVM(ctx context.Context, node string, vmid int, conf *Confirmation) (*Result, error) {
	return c.Execute(ctx, "vm.shutdown", Params{Node: node, VMID: vmid}, conf)
}

// RebootVM reboots a guest. Destructive; requires a confirmation.
func (c *Client) RebootVM(ctx context.Context, node string, vmid int, conf *Confirmation) (*Result, error) {
	return c.Execute(ctx, "vm.reboot", Params{Node: node, VMID: vmid}, conf)
}

// MigrateVM migrates a guest to the target node.
func (c *Client) MigrateVM(ctx context.Context, node string, vmid int, target string, online bool) (*Result, error) {
	args := map[string]any{"target": target}
	if online {
		args["online"] = 1
	}
	return c.Execute(ctx, "vm.migrate", Params{Node: node, VMID: vmid, Args: args}, nil)
}

// CloneVM clones a guest into newID.
func (c *Client) CloneVM(ctx context.Context, node string, vmid, newID int, name string) (*Result, error) {
	args := map[string]any{"newid": newID}
	if name != "" {
		args["name"] = name
	}
	return c.Execute(ctx, "vm.clone", Params{Node: node, VMID: vmid, Args: args}, nil)
}

// SnapshotVM creates a named snapshot of a guest.
func (c *Client) SnapshotVM(ctx context.Context, node string, vmid int, snapname, description string) (*Result, error) {
	args := map[string]any{"snapname": snapname}
	if description != "" {
		args["description"] = description
	}
	return c.Execute(ctx, "vm.snapshot", Params{Node: node, VMID: vmid, Args: args}, nil)
}

// CreateResourcePool creates a resource pool.
func (c *Client) CreateResourcePool(ctx context.Context, poolID, comment string) (*Result, error) {
	args := map[string]any{"poolid": poolID}
	if comment != "" {
		args["comment"] = comment
	}
	return c.Execute(ctx, "pool.create", Params{Args: args}, nil)
}
