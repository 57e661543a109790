// Package workflow drives one invocation: route the request to an ordered
// queue of tools, then extract a payload for each queued tool in turn.
package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/opentalon/tutorflow/internal/extractor"
	"github.com/opentalon/tutorflow/internal/reqid"
)

// Stage names where an invocation is in its lifecycle.
type Stage string

const (
	StageStart      Stage = "start"
	StageRouting    Stage = "routing"
	StageExtracting Stage = "extracting"
	StageDone       Stage = "done"
)

// Router turns a request into an ordered list of tool ids.
type Router interface {
	Route(ctx context.Context, userMessage string) ([]string, error)
}

// Extractor builds the payload for one queued tool. It never fails; problems
// come back as marker payloads.
type Extractor interface {
	Extract(ctx context.Context, userMessage, toolID string) extractor.Payload
}

// State is the per-invocation record. UserMessage never changes, Queue only
// shrinks from the head and Payloads only grows.
type State struct {
	Stage       Stage
	UserMessage string
	Queue       []string
	Payloads    []extractor.Payload
}

// Result is the outcome of a completed invocation. Payloads[i] belongs to
// Tools[i].
type Result struct {
	InvocationID string
	InputMessage string
	// Tools is the queue as routed, after any max_tools cap.
	Tools    []string
	Payloads []extractor.Payload
	Duration time.Duration
}

// Options configures a Workflow.
type Options struct {
	// MaxTools caps the routed queue; zero means no cap.
	MaxTools  int
	Observers []Observer
	Logger    *slog.Logger
}

// Workflow runs invocations against a Router and an Extractor. It holds no
// per-invocation state and is safe for concurrent use.
type Workflow struct {
	router    Router
	extractor Extractor
	maxTools  int
	observers []Observer
	logger    *slog.Logger
	now       func() time.Time
}

// New returns a Workflow. A nil Logger falls back to slog.Default.
func New(r Router, e Extractor, opts Options) *Workflow {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Workflow{
		router:    r,
		extractor: e,
		maxTools:  opts.MaxTools,
		observers: opts.Observers,
		logger:    opts.Logger,
		now:       time.Now,
	}
}

// Run executes the workflow with the configured observers.
func (w *Workflow) Run(ctx context.Context, userMessage string) (*Result, error) {
	return w.RunWith(ctx, userMessage)
}

// RunWith executes the workflow, notifying extra observers after the
// configured ones. Only a routing failure returns an error; extraction
// problems become marker payloads.
func (w *Workflow) RunWith(ctx context.Context, userMessage string, extra ...Observer) (*Result, error) {
	ctx, id := reqid.Ensure(ctx)
	obs := fanout(append(append([]Observer(nil), w.observers...), extra...))
	log := w.logger.With("invocation_id", id)
	start := w.now()

	st := &State{Stage: StageStart, UserMessage: userMessage}
	var routed []string

	for st.Stage != StageDone {
		switch st.Stage {
		case StageStart:
			st.Stage = StageRouting

		case StageRouting:
			tools, err := w.router.Route(ctx, st.UserMessage)
			if err != nil {
				log.Error("routing failed", "stage", StageRouting, "err", err)
				obs.OnRoutingFailed(ctx, err, w.now().Sub(start))
				return nil, err
			}
			if w.maxTools > 0 && len(tools) > w.maxTools {
				log.Warn("truncating routed tools", "routed", len(tools), "max_tools", w.maxTools)
				tools = tools[:w.maxTools]
			}
			routed = append([]string(nil), tools...)
			st.Queue = tools
			st.Payloads = make([]extractor.Payload, 0, len(tools))
			log.Info("routed", "tools", routed)
			obs.OnRouted(ctx, routed)
			st.Stage = StageExtracting

		case StageExtracting:
			if len(st.Queue) == 0 {
				st.Stage = StageDone
				continue
			}
			head := st.Queue[0]
			p := w.extractor.Extract(ctx, st.UserMessage, head)
			st.Payloads = append(st.Payloads, p)
			st.Queue = st.Queue[1:]
			obs.OnPayload(ctx, len(st.Payloads)-1, head, p)
		}
	}

	res := &Result{
		InvocationID: id,
		InputMessage: st.UserMessage,
		Tools:        routed,
		Payloads:     st.Payloads,
		Duration:     w.now().Sub(start),
	}
	log.Info("invocation complete", "payloads", len(res.Payloads), "duration", res.Duration)
	obs.OnDone(ctx, res)
	return res, nil
}
