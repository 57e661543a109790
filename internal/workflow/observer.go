package workflow

import (
	"context"
	"time"

	"github.com/opentalon/tutorflow/internal/extractor"
)

// Observer watches a run without influencing it. Callbacks run on the
// workflow goroutine and must not block for long.
type Observer interface {
	OnRouted(ctx context.Context, tools []string)
	OnPayload(ctx context.Context, index int, tool string, p extractor.Payload)
	OnDone(ctx context.Context, res *Result)
	OnRoutingFailed(ctx context.Context, err error, elapsed time.Duration)
}

// Funcs adapts optional callbacks to an Observer.
type Funcs struct {
	Routed        func(ctx context.Context, tools []string)
	Payload       func(ctx context.Context, index int, tool string, p extractor.Payload)
	Done          func(ctx context.Context, res *Result)
	RoutingFailed func(ctx context.Context, err error, elapsed time.Duration)
}

func (f Funcs) OnRouted(ctx context.Context, tools []string) {
	if f.Routed != nil {
		f.Routed(ctx, tools)
	}
}

func (f Funcs) OnPayload(ctx context.Context, index int, tool string, p extractor.Payload) {
	if f.Payload != nil {
		f.Payload(ctx, index, tool, p)
	}
}

func (f Funcs) OnDone(ctx context.Context, res *Result) {
	if f.Done != nil {
		f.Done(ctx, res)
	}
}

func (f Funcs) OnRoutingFailed(ctx context.Context, err error, elapsed time.Duration) {
	if f.RoutingFailed != nil {
		f.RoutingFailed(ctx, err, elapsed)
	}
}

type fanout []Observer

func (m fanout) OnRouted(ctx context.Context, tools []string) {
	for _, o := range m {
		o.OnRouted(ctx, tools)
	}
}

func (m fanout) OnPayload(ctx context.Context, index int, tool string, p extractor.Payload) {
	for _, o := range m {
		o.OnPayload(ctx, index, tool, p)
	}
}

func (m fanout) OnDone(ctx context.Context, res *Result) {
	for _, o := range m {
		o.OnDone(ctx, res)
	}
}

func (m fanout) OnRoutingFailed(ctx context.Context, err error, elapsed time.Duration) {
	for _, o := range m {
		o.OnRoutingFailed(ctx, err, elapsed)
	}
}
