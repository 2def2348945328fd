// Copyright (C) 2026 Skagit Labs (dev@skagitlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skagitlabs/pvectl/pkg/ux"
)

func runVMList(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	vms, err := client.ListVMs(cmd.Context())
	if err != nil {
		return err
	}
	ux.Title("Guests")
	for _, vm := range vms {
		ux.GuestStatus(vm.VMID, vm.Name, vm.Node, vm.Status)
	}
	return nil
}

func runVMStart(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	vmid, err := parseVMID(args[1])
	if err != nil {
		return err
	}
	res, err := client.StartVM(cmd.Context(), args[0], vmid)
	if err != nil {
		return err
	}
	return printResult(res)
}

func runVMStop(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	vmid, err := parseVMID(args[1])
	if err != nil {
		return err
	}
	res, err := client.StopVM(cmd.Context(), args[0], vmid, confirmationFromFlags())
	if err != nil {
		return err
	}
	return printResult(res)
}

func runVMShutdown(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	vmid, err := parseVMID(args[1])
	if err != nil {
		return err
	}
	res, err := client.ShutdownVM(cmd.Context(), args[0], vmid, confirmationFromFlags())
	if err != nil {
		return err
	}
	return printResult(res)
}

func runVMReboot(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	vmid, err := parseVMID(args[1])
	if err != nil {
		return err
	}
	res, err := client.RebootVM(cmd.Context(), args[0], vmid, confirmationFromFlags())
	if err != nil {
		return err
	}
	return printResult(res)
}

func runVMMigrate(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	vmid, err := parseVMID(args[1])
	if err != nil {
		return err
	}
	ux.Info(fmt.Sprintf("migrating VM %d from %s to %s", vmid, args[0], targetNode))
	res, err := client.MigrateVM(cmd.Context(), args[0], vmid, targetNode, migrateOnline)
	if err != nil {
		return err
	}
	return printResult(res)
}

func runVMClone(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	vmid, err := parseVMID(args[1])
	if err != nil {
		return err
	}
	ux.Info(fmt.Sprintf("cloning VM %d to %d on node %s", vmid, cloneNewID, args[0]))
	res, err := client.CloneVM(cmd.Context(), args[0], vmid, cloneNewID, cloneName)
	if err != nil {
		return err
	}
	return printResult(res)
}

func runVMSnapshot(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	vmid, err := parseVMID(args[1])
	if err != nil {
		return err
	}
	ux.Info(fmt.Sprintf("creating snapshot %q of VM %d", snapName, vmid))
	res, err := client.SnapshotVM(cmd.Context(), args[0], vmid, snapName, snapDesc)
	if err != nil {
		return err
	}
	return printResult(res)
}
