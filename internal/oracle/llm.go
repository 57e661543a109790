package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opentalon/tutorflow/internal/provider"
)

const DefaultTimeout = 30 * time.Second

// Completer sends one completion request; failover.Controller satisfies it.
type Completer interface {
	Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error)
}

type Options struct {
	Temperature float64
	// Timeout bounds every call; zero means DefaultTimeout.
	Timeout   time.Duration
	MaxTokens int
	Recorder  Recorder
	Logger    *slog.Logger
}

// LLMOracle implements Oracle on top of a chat completion backend.
type LLMOracle struct {
	completer   Completer
	temperature float64
	timeout     time.Duration
	maxTokens   int
	recorder    Recorder
	logger      *slog.Logger
}

func NewLLM(c Completer, opts Options) *LLMOracle {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &LLMOracle{
		completer:   c,
		temperature: opts.Temperature,
		timeout:     opts.Timeout,
		maxTokens:   opts.MaxTokens,
		recorder:    opts.Recorder,
		logger:      opts.Logger,
	}
}

func (o *LLMOracle) Complete(ctx context.Context, p TextPrompt) (string, error) {
	start := time.Now()
	text, err := o.call(ctx, p.System, p.User, false)
	o.observe(ShapeText, err, start)
	return text, err
}

func (o *LLMOracle) CompleteStructured(ctx context.Context, p StructuredPrompt) (json.RawMessage, error) {
	start := time.Now()
	system := p.System
	if len(p.Schema) > 0 {
		system += "\n\nRespond with a single JSON object that conforms to this JSON Schema:\n" + string(p.Schema)
	}
	text, err := o.call(ctx, system, p.User, true)
	var obj json.RawMessage
	if err == nil {
		obj, err = ExtractObject(text)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrOracle, err)
		}
	}
	o.observe(ShapeStructured, err, start)
	return obj, err
}

type callResult struct {
	resp *provider.CompletionResponse
	err  error
}

func (o *LLMOracle) call(ctx context.Context, system, user string, jsonMode bool) (string, error) {
	req := &provider.CompletionRequest{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: system},
			{Role: provider.RoleUser, Content: user},
		},
		MaxTokens:   o.maxTokens,
		Temperature: provider.Temperature(o.temperature),
		JSONMode:    jsonMode,
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		resp, err := o.completer.Complete(callCtx, req)
		done <- callResult{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return "", o.timeoutErr()
			}
			return "", fmt.Errorf("%w: %w", ErrOracle, r.err)
		}
		return r.resp.Content, nil
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %w", ErrOracle, err)
		}
		return "", o.timeoutErr()
	}
}

func (o *LLMOracle) timeoutErr() error {
	return fmt.Errorf("%w: %w after %s", ErrOracle, ErrTimeout, o.timeout)
}

func (o *LLMOracle) observe(shape string, err error, start time.Time) {
	d := time.Since(start)
	if err != nil {
		o.logger.Warn("oracle call failed", "shape", shape, "duration", d, "err", err)
	}
	if o.recorder != nil {
		o.recorder.ObserveOracle(shape, Outcome(err), d)
	}
}
