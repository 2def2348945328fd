// Copyright (C) 2026 Skagit Labs (dev@skagitlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"

	"github.com/skagitlabs/pvectl/pkg/ux"
)

// --- Global Command Variables ---
var (
	configPath  string
	verbose     bool
	jsonLogs    bool
	plainOutput bool

	// Destructive-action confirmation flags. The core fails closed
	// without them; see confirmationFromFlags.
	confirmFlag   bool
	confirmReason string

	// VM operation flags
	targetNode    string
	migrateOnline bool
	cloneNewID    int
	cloneName     string
	snapName      string
	snapDesc      string

	// Task flags
	waitTimeout  int
	waitInterval int

	// Pool / backup flags
	poolComment string
	backupStore string
	backupType  string

	rootCmd = &cobra.Command{
		Use:   "pvectl",
		Short: "A cli to manage Proxmox VE clusters and their backup server",
		Long: `pvectl issues authenticated REST calls against a Proxmox VE
cluster, tracks the asynchronous tasks the platform spawns, and refuses
to run destructive actions without explicit confirmation.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if plainOutput {
				ux.SetPlain(true)
			}
		},
	}

	// --- VM Management ---
	vmCmd = &cobra.Command{
		Use:   "vm",
		Short: "Manage virtual machines and containers",
	}
	vmListCmd = &cobra.Command{
		Use:   "list",
		Short: "List all QEMU and LXC guests in the cluster",
		RunE:  runVMList,
	}
	vmStartCmd = &cobra.Command{
		Use:   "start <node> <vmid>",
		Short: "Start a guest (no-op if already running)",
		Args:  cobra.ExactArgs(2),
		RunE:  runVMStart,
	}
	vmStopCmd = &cobra.Command{
		Use:   "stop <node> <vmid>",
		Short: "Hard-stop a guest (destructive, requires --confirm)",
		Args:  cobra.ExactArgs(2),
		RunE:  runVMStop,
	}
	vmShutdownCmd = &cobra.Command{
		Use:   "shutdown <node> <vmid>",
		Short: "Gracefully shut a guest down (destructive, requires --confirm)",
		Args:  cobra.ExactArgs(2),
		RunE:  runVMShutdown,
	}
	vmRebootCmd = &cobra.Command{
		Use:   "reboot <node> <vmid>",
		Short: "Reboot a guest (destructive, requires --confirm)",
		Args:  cobra.ExactArgs(2),
		RunE:  runVMReboot,
	}
	vmMigrateCmd = &cobra.Command{
		Use:   "migrate <node> <vmid>",
		Short: "Migrate a guest to another node",
		Args:  cobra.ExactArgs(2),
		RunE:  runVMMigrate,
	}
	vmCloneCmd = &cobra.Command{
		Use:   "clone <node> <vmid>",
		Short: "Clone a guest into a new VMID",
		Args:  cobra.ExactArgs(2),
		RunE:  runVMClone,
	}
	vmSnapshotCmd = &cobra.Command{
		Use:   "snapshot <node> <vmid>",
		Short: "Create a snapshot of a guest",
		Args:  cobra.ExactArgs(2),
		RunE:  runVMSnapshot,
	}

	// --- Pools / Storage ---
	poolCmd = &cobra.Command{
		Use:   "pool",
		Short: "Manage resource pools",
	}
	poolListCmd = &cobra.Command{
		Use:   "list",
		Short: "List resource pools",
		RunE:  runPoolList,
	}
	poolCreateCmd = &cobra.Command{
		Use:   "create <poolid>",
		Short: "Create a resource pool",
		Args:  cobra.ExactArgs(1),
		RunE:  runPoolCreate,
	}
	storageCmd = &cobra.Command{
		Use:   "storage",
		Short: "List storage pools in the cluster",
		RunE:  runStorageList,
	}

	// --- Tasks ---
	taskCmd = &cobra.Command{
		Use:   "task",
		Short: "Inspect and wait for asynchronous tasks",
	}
	taskStatusCmd = &cobra.Command{
		Use:   "status <upid>",
		Short: "Show the current status of a task",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskStatus,
	}
	taskWaitCmd = &cobra.Command{
		Use:   "wait <upid>",
		Short: "Poll a task until it reaches a terminal state",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskWait,
	}

	// --- Backup Server ---
	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Operate the backup server",
	}
	backupDatastoresCmd = &cobra.Command{
		Use:   "datastores",
		Short: "List backup server datastores",
		RunE:  runBackupDatastores,
	}
	backupRunCmd = &cobra.Command{
		Use:   "run <node> <vmid>",
		Short: "Back a guest up to a datastore and wait for the task",
		Args:  cobra.ExactArgs(2),
		RunE:  runBackupRun,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.pvectl/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit logs as JSON")
	rootCmd.PersistentFlags().BoolVar(&plainOutput, "plain", false, "disable styled terminal output")

	for _, cmd := range []*cobra.Command{vmStopCmd, vmShutdownCmd, vmRebootCmd} {
		cmd.Flags().BoolVar(&confirmFlag, "confirm", false, "confirm this destructive action")
		cmd.Flags().StringVar(&confirmReason, "reason", "", "why the action was confirmed")
	}

	vmMigrateCmd.Flags().StringVar(&targetNode, "target", "", "target node (required)")
	vmMigrateCmd.Flags().BoolVar(&migrateOnline, "online", false, "live-migrate a running guest")
	_ = vmMigrateCmd.MarkFlagRequired("target")

	vmCloneCmd.Flags().IntVar(&cloneNewID, "newid", 0, "VMID for the clone (required)")
	vmCloneCmd.Flags().StringVar(&cloneName, "name", "", "name for the clone")
	_ = vmCloneCmd.MarkFlagRequired("newid")

	vmSnapshotCmd.Flags().StringVar(&snapName, "snapname", "", "snapshot name (required)")
	vmSnapshotCmd.Flags().StringVar(&snapDesc, "description", "", "snapshot description")
	_ = vmSnapshotCmd.MarkFlagRequired("snapname")

	taskWaitCmd.Flags().IntVar(&waitTimeout, "timeout", 300, "polling budget in seconds")
	taskWaitCmd.Flags().IntVar(&waitInterval, "interval", 5, "poll interval in seconds")

	poolCreateCmd.Flags().StringVar(&poolComment, "comment", "", "pool comment")

	backupRunCmd.Flags().StringVar(&backupStore, "datastore", "", "target datastore (required)")
	backupRunCmd.Flags().StringVar(&backupType, "type", "vm", "backup type: vm or ct")
	_ = backupRunCmd.MarkFlagRequired("datastore")

	vmCmd.AddCommand(vmListCmd, vmStartCmd, vmStopCmd, vmShutdownCmd, vmRebootCmd,
		vmMigrateCmd, vmCloneCmd, vmSnapshotCmd)
	poolCmd.AddCommand(poolListCmd, poolCreateCmd)
	taskCmd.AddCommand(taskStatusCmd, taskWaitCmd)
	backupCmd.AddCommand(backupDatastoresCmd, backupRunCmd)

	rootCmd.AddCommand(vmCmd, poolCmd, storageCmd, taskCmd, backupCmd)
}
