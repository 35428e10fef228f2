// ABOUTME: Shared connection helpers for capture and watch
// ABOUTME: Hub address resolution over mDNS and the CLI retry policy
package main

import (
	"context"
	"fmt"
	"time"

	"pkt.systems/pslog"

	"github.com/asciistream/asciistream-go/internal/discovery"
)

const discoveryTimeout = 5 * time.Second

// resolveServer returns addr, or the first hub found over mDNS when empty
func resolveServer(ctx context.Context, addr string, logger pslog.Logger) (string, error) {
	if addr != "" {
		return addr, nil
	}
	logger.Info("no hub address configured, browsing mdns")

	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()
	server, err := discovery.Lookup(ctx, logger)
	if err != nil {
		return "", err
	}
	logger.Info("found hub", "name", server.Name, "addr", server.Addr())
	return server.Addr(), nil
}

// retryPolicy retries a start attempt a fixed number of times
type retryPolicy struct {
	Retries int
	Backoff time.Duration
	Timeout time.Duration
}

// run calls attempt until it succeeds, retries run out or ctx ends. Each
// attempt gets its own timeout.
func (p retryPolicy) run(ctx context.Context, logger pslog.Logger, attempt func(context.Context) error) error {
	var err error
	for i := 0; i <= p.Retries; i++ {
		if i > 0 {
			logger.Warn("start failed, retrying", "attempt", i, "of", p.Retries, "backoff", p.Backoff.String(), "err", err)
			select {
			case <-time.After(p.Backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err = p.once(ctx, attempt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if p.Retries > 0 {
		return fmt.Errorf("giving up after %d retries: %w", p.Retries, err)
	}
	return err
}

func (p retryPolicy) once(ctx context.Context, attempt func(context.Context) error) error {
	if p.Timeout <= 0 {
		return attempt(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	return attempt(ctx)
}
