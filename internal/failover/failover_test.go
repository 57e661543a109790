package failover

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/opentalon/tutorflow/internal/provider"
)

type mockProvider struct {
	id string

	mu        sync.Mutex
	callCount int
	errs      []error
	models    []string
}

func (m *mockProvider) ID() string { return m.id }
func (m *mockProvider) Complete(_ context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.models = append(m.models, req.Model)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &provider.CompletionResponse{Content: "ok from " + m.id + "/" + req.Model}, nil
}
func (m *mockProvider) Models() []provider.ModelInfo { return nil }

func statusErr(code int) error {
	return &provider.StatusError{Provider: "mock", StatusCode: code, Body: "nope"}
}

func setupTest(providers ...*mockProvider) *provider.Registry {
	reg := provider.NewRegistry()
	for _, p := range providers {
		_ = reg.Register(p)
	}
	return reg
}

func TestCompleteSuccess(t *testing.T) {
	p := &mockProvider{id: "gemini"}
	ctrl := NewController(setupTest(p), nil, "gemini/gemini-pro-latest", nil, nil)

	req := &provider.CompletionRequest{Messages: []provider.Message{{Role: provider.RoleUser, Content: "hi"}}}
	resp, err := ctrl.Complete(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "ok from gemini/gemini-pro-latest" {
		t.Errorf("unexpected content: %s", resp.Content)
	}
	if req.Model != "" {
		t.Errorf("caller request mutated: model = %q", req.Model)
	}
}

func TestCompleteFallbackToNextModel(t *testing.T) {
	gemini := &mockProvider{id: "gemini", errs: []error{statusErr(503)}}
	anthropic := &mockProvider{id: "anthropic"}
	ctrl := NewController(setupTest(gemini, anthropic), nil,
		"gemini/gemini-pro-latest", []provider.ModelRef{"anthropic/claude-3-5-haiku-latest"}, nil)

	resp, err := ctrl.Complete(context.Background(), &provider.CompletionRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "ok from anthropic/claude-3-5-haiku-latest" {
		t.Errorf("expected fallback to anthropic, got %s", resp.Content)
	}
}

func TestCompleteFallbackOnTransportError(t *testing.T) {
	gemini := &mockProvider{id: "gemini", errs: []error{
		fmt.Errorf("http request: %w", &url.Error{Op: "Post", URL: "http://x", Err: errors.New("connection refused")}),
	}}
	local := &mockProvider{id: "local"}
	ctrl := NewController(setupTest(gemini, local), nil, "gemini/a", []provider.ModelRef{"local/b"}, nil)

	resp, err := ctrl.Complete(context.Background(), &provider.CompletionRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "ok from local/b" {
		t.Errorf("content = %s", resp.Content)
	}
}

func TestCompleteAllExhausted(t *testing.T) {
	gemini := &mockProvider{id: "gemini", errs: []error{statusErr(500)}}
	anthropic := &mockProvider{id: "anthropic", errs: []error{statusErr(429)}}
	ctrl := NewController(setupTest(gemini, anthropic), nil, "gemini/a", []provider.ModelRef{"anthropic/b"}, nil)

	_, err := ctrl.Complete(context.Background(), &provider.CompletionRequest{})
	var ae *AllExhaustedError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AllExhaustedError, got %T", err)
	}
	if len(ae.Attempted) != 2 {
		t.Errorf("attempted = %v", ae.Attempted)
	}
	if !IsRateLimitError(err) {
		t.Error("exhausted error should unwrap to the last provider error")
	}
}

func TestCompleteNonRetryableError(t *testing.T) {
	gemini := &mockProvider{id: "gemini", errs: []error{statusErr(400)}}
	anthropic := &mockProvider{id: "anthropic"}
	ctrl := NewController(setupTest(gemini, anthropic), nil, "gemini/a", []provider.ModelRef{"anthropic/b"}, nil)

	_, err := ctrl.Complete(context.Background(), &provider.CompletionRequest{})
	var se *provider.StatusError
	if !errors.As(err, &se) || se.StatusCode != 400 {
		t.Fatalf("expected 400 StatusError, got %v", err)
	}
	if anthropic.callCount != 0 {
		t.Error("fallback should not be tried after a non-retryable error")
	}
}

func TestCompleteRateLimitTripsCooldown(t *testing.T) {
	gemini := &mockProvider{id: "gemini", errs: []error{statusErr(429)}}
	local := &mockProvider{id: "local"}
	cooldowns := NewCooldowns(DefaultCooldownConfig())
	ctrl := NewController(setupTest(gemini, local), cooldowns, "gemini/a", []provider.ModelRef{"local/b"}, nil)

	for i := 0; i < 3; i++ {
		if _, err := ctrl.Complete(context.Background(), &provider.CompletionRequest{}); err != nil {
			t.Fatal(err)
		}
	}
	if gemini.callCount != 1 {
		t.Errorf("gemini calls = %d, want 1 (cooling down after rate limit)", gemini.callCount)
	}
	if local.callCount != 3 {
		t.Errorf("local calls = %d, want 3", local.callCount)
	}
}

func TestCompleteCooldownExpires(t *testing.T) {
	gemini := &mockProvider{id: "gemini", errs: []error{statusErr(429)}}
	local := &mockProvider{id: "local"}
	ctrl := NewController(setupTest(gemini, local), nil, "gemini/a", []provider.ModelRef{"local/b"}, nil)
	now := time.Now()
	ctrl.now = func() time.Time { return now }

	_, _ = ctrl.Complete(context.Background(), &provider.CompletionRequest{})
	now = now.Add(2 * time.Minute)
	resp, err := ctrl.Complete(context.Background(), &provider.CompletionRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "ok from gemini/a" {
		t.Errorf("expected primary after cooldown, got %s", resp.Content)
	}
}

func TestCompleteSkipsDuplicateModels(t *testing.T) {
	gemini := &mockProvider{id: "gemini", errs: []error{statusErr(503)}}
	ctrl := NewController(setupTest(gemini), nil, "gemini/a", []provider.ModelRef{"gemini/a", "gemini/a"}, nil)

	_, err := ctrl.Complete(context.Background(), &provider.CompletionRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if gemini.callCount != 1 {
		t.Errorf("calls = %d, duplicate refs should be tried once", gemini.callCount)
	}
}

func TestCompleteUnregisteredProvider(t *testing.T) {
	ctrl := NewController(setupTest(), nil, "missing/model", nil, nil)
	if _, err := ctrl.Complete(context.Background(), &provider.CompletionRequest{}); err == nil {
		t.Fatal("expected error for unregistered provider")
	}
}

func TestCompleteCanceledContext(t *testing.T) {
	gemini := &mockProvider{id: "gemini"}
	ctrl := NewController(setupTest(gemini), nil, "gemini/a", nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ctrl.Complete(ctx, &provider.CompletionRequest{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if gemini.callCount != 0 {
		t.Error("provider should not be called with a canceled context")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"429", statusErr(429), true},
		{"500", statusErr(500), true},
		{"503 wrapped", fmt.Errorf("call: %w", statusErr(503)), true},
		{"400", statusErr(400), false},
		{"401", statusErr(401), false},
		{"transport", &url.Error{Op: "Post", URL: "u", Err: errors.New("refused")}, true},
		{"canceled transport", &url.Error{Op: "Post", URL: "u", Err: context.Canceled}, false},
		{"deadline", context.DeadlineExceeded, false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("%s: IsRetryable = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIsAuthError(t *testing.T) {
	if !IsAuthError(statusErr(401)) || !IsAuthError(statusErr(403)) {
		t.Error("401/403 should be auth errors")
	}
	if IsAuthError(statusErr(429)) || IsAuthError(errors.New("x")) {
		t.Error("unexpected auth classification")
	}
}

func TestAllExhaustedErrorString(t *testing.T) {
	err := &AllExhaustedError{Attempted: []string{"gemini/a", "local/b"}}
	if err.Error() != "all models exhausted, attempted: [gemini/a local/b]" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestCooldownExponentialBackoff(t *testing.T) {
	c := NewCooldowns(CooldownConfig{Initial: time.Minute, Max: time.Hour, Multiplier: 5})
	now := time.Now()

	for i, want := range []time.Duration{time.Minute, 5 * time.Minute, 25 * time.Minute, time.Hour, time.Hour} {
		if got := c.Trip("gemini", now); got != want {
			t.Errorf("trip %d = %v, want %v", i+1, got, want)
		}
	}
	if !c.Active("gemini", now.Add(59*time.Minute)) {
		t.Error("should still be cooling down")
	}
	if c.Active("gemini", now.Add(61*time.Minute)) {
		t.Error("cooldown should have expired")
	}
}

func TestCooldownReset(t *testing.T) {
	c := NewCooldowns(DefaultCooldownConfig())
	now := time.Now()
	c.Trip("gemini", now)
	c.Trip("gemini", now)
	c.Reset("gemini")
	if c.Active("gemini", now) {
		t.Error("should be available after reset")
	}
	if got := c.Trip("gemini", now); got != time.Minute {
		t.Errorf("trip after reset = %v, want initial", got)
	}
}
