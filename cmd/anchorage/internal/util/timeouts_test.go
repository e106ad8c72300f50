// Copyright (C) 2026 Anchorage Systems (dev@anchorage.sh)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package util

import (
	"testing"
	"time"
)

func TestDefaultTimeouts(t *testing.T) {
	cfg := DefaultTimeouts()

	if cfg.Probe != DefaultProbeTimeout {
		t.Errorf("Probe = %v, want %v", cfg.Probe, DefaultProbeTimeout)
	}
	if cfg.Docker != DefaultDockerTimeout {
		t.Errorf("Docker = %v, want %v", cfg.Docker, DefaultDockerTimeout)
	}
	if cfg.Compose != DefaultComposeTimeout {
		t.Errorf("Compose = %v, want %v", cfg.Compose, DefaultComposeTimeout)
	}
	if cfg.TCP != DefaultTCPTimeout {
		t.Errorf("TCP = %v, want %v", cfg.TCP, DefaultTCPTimeout)
	}
}

func TestTimeoutConfig_Validated_ZeroUsesDefaults(t *testing.T) {
	cfg := TimeoutConfig{}.Validated()

	if cfg.Probe != DefaultProbeTimeout {
		t.Errorf("zero Probe should default, got %v", cfg.Probe)
	}
	if cfg.Docker != DefaultDockerTimeout {
		t.Errorf("zero Docker should default, got %v", cfg.Docker)
	}
}

func TestTimeoutConfig_Validated_EnforcesMinimums(t *testing.T) {
	cfg := TimeoutConfig{
		Probe:   time.Millisecond,
		Docker:  time.Second,
		Compose: time.Second,
		TCP:     time.Millisecond,
	}.Validated()

	if cfg.Probe != MinProbeTimeout {
		t.Errorf("Probe = %v, want minimum %v", cfg.Probe, MinProbeTimeout)
	}
	if cfg.Docker != MinDockerTimeout {
		t.Errorf("Docker = %v, want minimum %v", cfg.Docker, MinDockerTimeout)
	}
	if cfg.Compose != MinDockerTimeout {
		t.Errorf("Compose = %v, want minimum %v", cfg.Compose, MinDockerTimeout)
	}
	if cfg.TCP != MinTCPTimeout {
		t.Errorf("TCP = %v, want minimum %v", cfg.TCP, MinTCPTimeout)
	}
}

func TestTimeoutConfig_Validated_KeepsValidValues(t *testing.T) {
	cfg := TimeoutConfig{
		Probe:   30 * time.Second,
		Docker:  time.Minute,
		Compose: 10 * time.Minute,
		TCP:     2 * time.Second,
	}
	got := cfg.Validated()

	if got != cfg {
		t.Errorf("valid config should pass through unchanged, got %+v", got)
	}
}
