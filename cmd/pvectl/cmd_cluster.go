// Copyright (C) 2026 Skagit Labs (dev@skagitlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/skagitlabs/pvectl/pkg/pve"
	"github.com/skagitlabs/pvectl/pkg/ux"
)

// --- Pools / Storage ---

func runPoolList(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	pools, err := client.ListResourcePools(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(pools)
}

func runPoolCreate(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	res, err := client.CreateResourcePool(cmd.Context(), args[0], poolComment)
	if err != nil {
		return err
	}
	return printResult(res)
}

func runStorageList(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	storage, err := client.ListStoragePools(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(storage)
}

// --- Tasks ---

func runTaskStatus(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	status, err := client.TaskStatus(cmd.Context(), pve.UPID(args[0]))
	if err != nil {
		return err
	}
	return printJSON(status)
}

func runTaskWait(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	spin := ux.NewSpinner("waiting for task")
	spin.Start()
	term, err := client.WaitTask(cmd.Context(), pve.UPID(args[0]), pve.TrackOptions{
		Interval: time.Duration(waitInterval) * time.Second,
		Timeout:  time.Duration(waitTimeout) * time.Second,
	})
	spin.Stop()
	if err != nil {
		return err
	}
	return printJSON(term)
}

// --- Backup Server ---

func runBackupDatastores(cmd *cobra.Command, args []string) error {
	client, err := newPBSClient(cmd.Context())
	if err != nil {
		return err
	}
	stores, err := client.ListDatastores(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(stores)
}

func runBackupRun(cmd *cobra.Command, args []string) error {
	client, err := newPBSClient(cmd.Context())
	if err != nil {
		return err
	}
	vmid, err := parseVMID(args[1])
	if err != nil {
		return err
	}
	handle, err := client.BackupVM(cmd.Context(), backupStore, args[0], vmid, backupType, nil)
	if err != nil {
		return err
	}
	spin := ux.NewSpinner(fmt.Sprintf("backing up %s/%d to %s", args[0], vmid, backupStore))
	spin.Start()
	term, err := client.WaitTask(cmd.Context(), handle, pve.TrackOptions{})
	spin.Stop()
	if err != nil {
		return err
	}
	return printJSON(term)
}
