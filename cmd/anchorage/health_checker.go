// Copyright (C) 2026 Anchorage Systems (dev@anchorage.sh)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/anchorage-io/anchorage/cmd/anchorage/config"
	"github.com/anchorage-io/anchorage/cmd/anchorage/internal/util"
	"github.com/anchorage-io/anchorage/pkg/logging"
)

// ServiceHealth is the verification outcome for one service.
type ServiceHealth struct {
	Service   string
	Container string
	Running   bool
	PortOpen  bool
	Err       error
}

// Healthy is true when everything checked for this service passed.
func (h ServiceHealth) Healthy() bool {
	return h.Err == nil
}

// dialFunc abstracts TCP probing for tests.
type dialFunc func(ctx context.Context, addr string) error

func tcpDial(timeout time.Duration) dialFunc {
	return func(ctx context.Context, addr string) error {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

// HealthChecker verifies that a freshly started stack is actually up.
//
// # Description
//
// Each service is checked two ways: its container must report running,
// and its published port (when it has one) must accept a TCP
// connection. Services need startup time, so both checks retry with a
// fixed interval until the per-service deadline. A critical service
// failing fails verification; a non-critical one only logs.
type HealthChecker struct {
	cfg      config.Config
	docker   *DockerClient
	dial     dialFunc
	log      *logging.Logger
	attempts int
	interval time.Duration
}

// NewHealthChecker wires a checker against real docker and TCP.
func NewHealthChecker(cfg config.Config, proc ProcessManager, timeouts util.TimeoutConfig, log *logging.Logger) *HealthChecker {
	if log == nil {
		log = logging.Default()
	}
	t := timeouts.Validated()
	return &HealthChecker{
		cfg:      cfg,
		docker:   NewDockerClient(proc, t),
		dial:     tcpDial(t.TCP),
		log:      log,
		attempts: 15,
		interval: 2 * time.Second,
	}
}

// VerifyStack checks every configured service.
//
// # Outputs
//
//   - []ServiceHealth: One entry per service, in config order
//   - error: Wraps ErrVerificationFailed when any critical service is
//     unhealthy; nil when only non-critical services failed
func (h *HealthChecker) VerifyStack(ctx context.Context) ([]ServiceHealth, error) {
	results := make([]ServiceHealth, 0, len(h.cfg.Stack.Services))
	var criticalFailures []string

	for _, svc := range h.cfg.Stack.Services {
		health := h.verifyService(ctx, svc)
		results = append(results, health)

		if health.Healthy() {
			h.log.Info("service healthy", "service", svc.Name, "container", svc.ContainerName)
			continue
		}
		if svc.Critical {
			h.log.Error("critical service unhealthy", "service", svc.Name, "error", health.Err)
			criticalFailures = append(criticalFailures, svc.Name)
		} else {
			h.log.Warn("non-critical service unhealthy", "service", svc.Name, "error", health.Err)
		}
	}

	if len(criticalFailures) > 0 {
		return results, fmt.Errorf("%w: unhealthy critical services: %v", ErrVerificationFailed, criticalFailures)
	}
	return results, nil
}

// verifyService retries both checks for one service until its deadline.
func (h *HealthChecker) verifyService(ctx context.Context, svc config.ServiceConfig) ServiceHealth {
	health := ServiceHealth{Service: svc.Name, Container: svc.ContainerName}

	var lastErr error
	for attempt := 0; attempt < h.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				health.Err = ctx.Err()
				return health
			case <-time.After(h.interval):
			}
		}

		if !health.Running {
			running, err := h.docker.IsContainerRunning(ctx, svc.ContainerName)
			if err != nil {
				lastErr = err
				continue
			}
			if !running {
				lastErr = fmt.Errorf("container %s not running", svc.ContainerName)
				continue
			}
			health.Running = true
		}

		if svc.Port == 0 {
			return health
		}
		addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(svc.Port))
		if err := h.dial(ctx, addr); err != nil {
			lastErr = fmt.Errorf("port %d not accepting connections: %w", svc.Port, err)
			continue
		}
		health.PortOpen = true
		return health
	}

	health.Err = lastErr
	if health.Err == nil {
		health.Err = fmt.Errorf("service %s never became healthy", svc.Name)
	}
	return health
}
