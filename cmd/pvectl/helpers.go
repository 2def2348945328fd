// Copyright (C) 2026 Skagit Labs (dev@skagitlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/skagitlabs/pvectl/pkg/logging"
	"github.com/skagitlabs/pvectl/pkg/pve"
	"github.com/skagitlabs/pvectl/pkg/pveconfig"
	"github.com/skagitlabs/pvectl/pkg/ux"
)

// newLogger builds the CLI logger from the global flags.
func newLogger() *logging.Logger {
	level := logging.LevelInfo
	if verbose {
		level = logging.LevelDebug
	}
	return logging.New(logging.Config{Level: level, Service: "pvectl", JSON: jsonLogs})
}

// loadConfig resolves --config or the default location.
func loadConfig() (*pveconfig.Config, error) {
	path := configPath
	if path == "" {
		var err error
		if path, err = pveconfig.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return pveconfig.Load(path)
}

// newClient builds the PVE client from the on-disk config.
func newClient(ctx context.Context) (*pve.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	raw, err := cfg.LoadToken()
	if err != nil {
		return nil, err
	}
	token, err := pve.ParseAPIToken(raw)
	if err != nil {
		return nil, err
	}
	return pve.NewClient(ctx, pve.ClientConfig{
		Endpoint: pve.Endpoint{
			Host:      cfg.Proxmox.Host,
			Port:      cfg.Proxmox.Port,
			VerifyTLS: cfg.Proxmox.Verify(),
		},
		Auth:   token,
		Logger: newLogger(),
	})
}

// newPBSClient builds the backup server client from the on-disk config.
func newPBSClient(ctx context.Context) (*pve.PBSClient, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Backup == nil {
		return nil, fmt.Errorf("no backup endpoint configured; add a 'backup:' section to the config")
	}
	raw, err := cfg.LoadToken()
	if err != nil {
		return nil, err
	}
	token, err := pve.ParseAPIToken(raw)
	if err != nil {
		return nil, err
	}
	return pve.NewPBSClient(ctx, pve.ClientConfig{
		Endpoint: pve.Endpoint{
			Host:      cfg.Backup.Host,
			Port:      cfg.Backup.Port,
			VerifyTLS: cfg.Backup.Verify(),
		},
		Auth:   token,
		Logger: newLogger(),
	})
}

// confirmationFromFlags mints a confirmation artifact when --confirm was
// given. Returning nil lets the safety gate fail closed; the flag is the
// human act of confirming, the artifact just makes it auditable.
func confirmationFromFlags() *pve.Confirmation {
	if !confirmFlag {
		return nil
	}
	return pve.NewConfirmation(confirmReason)
}

// parseVMID parses the <vmid> positional argument.
func parseVMID(arg string) (int, error) {
	vmid, err := strconv.Atoi(arg)
	if err != nil || vmid <= 0 {
		return 0, fmt.Errorf("invalid vmid %q", arg)
	}
	return vmid, nil
}

// printJSON writes v to stdout as indented JSON. Results go to stdout,
// logs to stderr, so output stays pipeable.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult renders an orchestrator result.
func printResult(res *pve.Result) error {
	if res.NoOp {
		ux.Info("already in target state, nothing to do")
		return nil
	}
	if res.Task != nil {
		if res.Task.OK {
			ux.Success("task finished")
		} else {
			ux.Warning(fmt.Sprintf("task finished with errors: %s", res.Task.Detail))
		}
		return nil
	}
	if len(res.Data) > 0 {
		return printJSON(json.RawMessage(res.Data))
	}
	ux.Success("done")
	return nil
}
