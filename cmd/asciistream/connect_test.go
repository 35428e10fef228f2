// ABOUTME: Tests for the CLI retry policy and hub address resolution
// ABOUTME: Uses counting attempt functions with short backoffs
package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/asciistream/asciistream-go/internal/logx"
)

func TestRetryPolicy(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name      string
		retries   int
		failFirst int
		wantCalls int
		wantErr   bool
	}{
		{"first try succeeds", 0, 0, 1, false},
		{"no retries fails once", 0, 1, 1, true},
		{"succeeds on retry", 2, 2, 3, false},
		{"gives up", 2, 5, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			p := retryPolicy{Retries: tt.retries, Backoff: time.Millisecond}
			err := p.run(context.Background(), logx.Discard(), func(context.Context) error {
				calls++
				if calls <= tt.failFirst {
					return errBoom
				}
				return nil
			})

			if calls != tt.wantCalls {
				t.Errorf("expected %d calls, got %d", tt.wantCalls, calls)
			}
			if tt.wantErr {
				if !errors.Is(err, errBoom) {
					t.Errorf("expected wrapped boom, got %v", err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestRetryPolicyGiveUpMessage(t *testing.T) {
	p := retryPolicy{Retries: 1, Backoff: time.Millisecond}
	err := p.run(context.Background(), logx.Discard(), func(context.Context) error {
		return errors.New("refused")
	})
	if err == nil || !strings.Contains(err.Error(), "giving up after 1 retries") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRetryPolicyAttemptTimeout(t *testing.T) {
	p := retryPolicy{Timeout: 10 * time.Millisecond}
	err := p.run(context.Background(), logx.Discard(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected attempt deadline")
		}
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestRetryPolicyCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := retryPolicy{Retries: 3, Backoff: time.Hour}

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := p.run(ctx, logx.Discard(), func(context.Context) error {
		calls++
		return errors.New("refused")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestResolveServerExplicit(t *testing.T) {
	addr, err := resolveServer(context.Background(), "hub:9000", logx.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "hub:9000" {
		t.Errorf("expected hub:9000, got %s", addr)
	}
}
