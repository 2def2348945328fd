// Copyright (C) 2026 Skagit Labs (dev@skagitlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pveconfig loads the on-disk configuration for pvectl: a YAML
// file naming the endpoints and a separate token file holding the secret.
// The secret never lives in the YAML file and is never echoed back.
package pveconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EndpointConfig is one API endpoint entry.
type EndpointConfig struct {
	// Host is the endpoint hostname or IP.
	Host string `yaml:"host" validate:"required,hostname_rfc1123|ip"`

	// Port overrides the default API port (8006 for PVE, 8007 for PBS).
	Port int `yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`

	// VerifySSL controls TLS certificate verification. Defaults to true;
	// disabling it must be written out explicitly.
	VerifySSL *bool `yaml:"verify_ssl,omitempty"`
}

// Verify returns the effective TLS verification setting.
func (e EndpointConfig) Verify() bool {
	return e.VerifySSL == nil || *e.VerifySSL
}

// Config is the pvectl configuration file.
type Config struct {
	// Proxmox is the VE cluster endpoint.
	Proxmox EndpointConfig `yaml:"proxmox" validate:"required"`

	// Backup is the optional backup server endpoint.
	Backup *EndpointConfig `yaml:"backup,omitempty"`

	// TokenFile is the path of the file holding the API token in
	// "user@realm!tokenid=secret" form. Relative paths resolve against
	// the config file's directory.
	TokenFile string `yaml:"token_file" validate:"required"`
}

// DefaultPath returns the conventional config location,
// ~/.pvectl/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".pvectl", "config.yaml"), nil
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if !filepath.IsAbs(cfg.TokenFile) {
		cfg.TokenFile = filepath.Join(filepath.Dir(path), cfg.TokenFile)
	}
	return &cfg, nil
}

// LoadToken reads the token secret from the file named by the config.
// The value is trimmed but otherwise passed through opaque.
func (c *Config) LoadToken() (string, error) {
	data, err := os.ReadFile(c.TokenFile)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", c.TokenFile)
	}
	return token, nil
}
