package gmail

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&googleapi.Error{Code: 429}, true},
		{&googleapi.Error{Code: 500}, true},
		{&googleapi.Error{Code: 503}, true},
		{&googleapi.Error{Code: 404}, false},
		{&googleapi.Error{Code: 403}, false},
		{context.DeadlineExceeded, true},
		{errors.New("plain"), false},
		{fmt.Errorf("wrapped: %w", &googleapi.Error{Code: 502}), true},
	}
	for _, tt := range tests {
		if got := isTransient(tt.err); got != tt.want {
			t.Errorf("isTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	for attempt := 0; attempt < 20; attempt++ {
		delay := backoffDelay(attempt)
		if delay < backoffBase {
			t.Errorf("attempt %d: delay %v below base", attempt, delay)
		}
		if delay > backoffCap {
			t.Errorf("attempt %d: delay %v above cap", attempt, delay)
		}
	}
}

func TestWithRetryStopsAtCap(t *testing.T) {
	c := &Client{timeout: time.Second, retryCap: 2, logger: zerolog.Nop()}
	calls := 0
	err := c.withRetry(context.Background(), "test", func(context.Context) error {
		calls++
		return &googleapi.Error{Code: 503}
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (initial + 2 retries)", calls)
	}
}

func TestWithRetryNoRetryOnPermanent(t *testing.T) {
	c := &Client{timeout: time.Second, retryCap: 5, logger: zerolog.Nop()}
	calls := 0
	err := c.withRetry(context.Background(), "test", func(context.Context) error {
		calls++
		return &googleapi.Error{Code: 404}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestAcquireNoSources(t *testing.T) {
	_, err := Acquire(context.Background(), "ops@banco.cl", "/nonexistent/key.json", "")
	if !errors.Is(err, ErrCredentialUnavailable) {
		t.Errorf("err = %v, want ErrCredentialUnavailable", err)
	}
}
