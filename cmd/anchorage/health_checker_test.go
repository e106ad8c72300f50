// Copyright (C) 2026 Anchorage Systems (dev@anchorage.sh)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/anchorage-io/anchorage/cmd/anchorage/config"
	"github.com/anchorage-io/anchorage/cmd/anchorage/internal/util"
)

// healthFixture simulates a docker host where a chosen set of containers
// is up and a chosen set of ports answers.
type healthFixture struct {
	running   map[string]bool
	openPorts map[string]bool
}

func (f *healthFixture) checker(t *testing.T, cfg config.Config) *HealthChecker {
	t.Helper()
	proc := &MockProcessManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			if name != "docker" || len(args) == 0 || args[0] != "ps" {
				return nil, errors.New("unexpected command")
			}
			var lines []string
			for container, up := range f.running {
				status := "Exited (0) 1 minute ago"
				if up {
					status = "Up 1 minute"
				}
				lines = append(lines, container+"\t"+status)
			}
			return []byte(strings.Join(lines, "\n")), nil
		},
	}
	hc := NewHealthChecker(cfg, proc, util.DefaultTimeouts(), quietLogger())
	hc.attempts = 2
	hc.interval = time.Millisecond
	hc.dial = func(ctx context.Context, addr string) error {
		if f.openPorts[addr] {
			return nil
		}
		return errors.New("connection refused")
	}
	return hc
}

func allUpFixture(cfg config.Config) *healthFixture {
	f := &healthFixture{running: map[string]bool{}, openPorts: map[string]bool{}}
	for _, svc := range cfg.Stack.Services {
		f.running[svc.ContainerName] = true
		if svc.Port > 0 {
			f.openPorts["127.0.0.1:"+strconv.Itoa(svc.Port)] = true
		}
	}
	return f
}

func TestVerifyStack_AllHealthy(t *testing.T) {
	cfg := config.DefaultConfig()
	f := allUpFixture(cfg)

	results, err := f.checker(t, cfg).VerifyStack(context.Background())
	if err != nil {
		t.Fatalf("VerifyStack: %v", err)
	}
	if len(results) != len(cfg.Stack.Services) {
		t.Fatalf("%d results, want %d", len(results), len(cfg.Stack.Services))
	}
	for _, r := range results {
		if !r.Healthy() {
			t.Errorf("service %s unhealthy: %v", r.Service, r.Err)
		}
	}
}

func TestVerifyStack_CriticalContainerDownFails(t *testing.T) {
	cfg := config.DefaultConfig()
	f := allUpFixture(cfg)
	f.running["anchorage-postgres"] = false

	_, err := f.checker(t, cfg).VerifyStack(context.Background())
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("err = %v, want ErrVerificationFailed", err)
	}
}

func TestVerifyStack_NonCriticalFailureTolerated(t *testing.T) {
	cfg := config.DefaultConfig()
	f := allUpFixture(cfg)
	// The proxy is not marked critical by default.
	f.running["anchorage-proxy"] = false

	results, err := f.checker(t, cfg).VerifyStack(context.Background())
	if err != nil {
		t.Fatalf("non-critical failure escalated: %v", err)
	}
	for _, r := range results {
		if r.Service == "proxy" && r.Healthy() {
			t.Error("proxy reported healthy while down")
		}
	}
}

func TestVerifyStack_ClosedPortFails(t *testing.T) {
	cfg := config.DefaultConfig()
	f := allUpFixture(cfg)
	f.openPorts["127.0.0.1:5432"] = false

	_, err := f.checker(t, cfg).VerifyStack(context.Background())
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("err = %v, want ErrVerificationFailed", err)
	}
}
