// Copyright (C) 2026 Skagit Labs (dev@skagitlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the pvectl CLI.
//
// Output falls back to plain, prefix-tagged lines when stdout is not a
// terminal or when plain mode is set explicitly, so scripted callers can
// parse it without stripping escape codes.
package ux

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Skagit palette - glacier blues and river greens
var (
	ColorGlacier = lipgloss.Color("#6FC3DF") // highlights, titles
	ColorRiver   = lipgloss.Color("#3E8E7E") // success
	ColorGold    = lipgloss.Color("#F4D03F") // warnings
	ColorEmber   = lipgloss.Color("#E74C3C") // errors
	ColorStone   = lipgloss.Color("#6B7A85") // muted text
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorGlacier),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorStone),
	Success:   lipgloss.NewStyle().Foreground(ColorRiver),
	Warning:   lipgloss.NewStyle().Foreground(ColorGold),
	Error:     lipgloss.NewStyle().Foreground(ColorEmber),
	Highlight: lipgloss.NewStyle().Foreground(ColorGlacier).Bold(true),
}

// Icon provides themed status icons.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
)

// Render returns the icon with its status styling.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// plain is 1 when styled output is disabled. Resolved once at startup and
// overridable with SetPlain.
var plain atomic.Int32

func init() {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		plain.Store(1)
	}
}

// SetPlain toggles plain output regardless of terminal detection.
func SetPlain(v bool) {
	if v {
		plain.Store(1)
	} else {
		plain.Store(0)
	}
}

// Plain reports whether plain output is active.
func Plain() bool { return plain.Load() == 1 }

// Title prints a styled title line. Silent in plain mode.
func Title(text string) {
	if Plain() {
		return
	}
	fmt.Println(Styles.Title.Render(text))
}

// Success prints a success message.
func Success(text string) {
	if Plain() {
		fmt.Printf("OK: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
}

// Warning prints a warning message.
func Warning(text string) {
	if Plain() {
		fmt.Fprintf(os.Stderr, "WARN: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}

// Error prints an error message.
func Error(text string) {
	if Plain() {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", IconError.Render(), Styles.Error.Render(text))
}

// Info prints an informational message.
func Info(text string) {
	if Plain() {
		fmt.Println(text)
		return
	}
	fmt.Printf("%s %s\n", Styles.Muted.Render("│"), text)
}

// Muted prints secondary text. Silent in plain mode.
func Muted(text string) {
	if Plain() {
		return
	}
	fmt.Println(Styles.Muted.Render(text))
}

// GuestStatus prints one guest with a state indicator, e.g. for vm list.
func GuestStatus(vmid int, name, node, status string) {
	icon := IconPending
	if status == "running" {
		icon = IconSuccess
	}
	if Plain() {
		fmt.Printf("%d\t%s\t%s\t%s\n", vmid, name, node, status)
		return
	}
	fmt.Printf("%s %-6d %-20s %-10s %s\n",
		icon.Render(), vmid, name, node, Styles.Muted.Render(status))
}
