package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/opentalon/tutorflow/internal/extractor"
	"github.com/opentalon/tutorflow/internal/reqid"
	"github.com/opentalon/tutorflow/internal/workflow"
)

const (
	OutcomeOK           = "ok"
	OutcomeRoutingError = "routing_error"
)

// Recorder is a workflow observer that writes one Record per invocation.
// Write failures are logged; they never affect the response.
type Recorder struct {
	store  *Store
	logger *slog.Logger
	now    func() time.Time
}

func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger, now: time.Now}
}

func (r *Recorder) OnRouted(context.Context, []string) {}

func (r *Recorder) OnPayload(context.Context, int, string, extractor.Payload) {}

func (r *Recorder) OnDone(ctx context.Context, res *workflow.Result) {
	statuses := make([]string, len(res.Payloads))
	for i, p := range res.Payloads {
		statuses[i] = p.Status()
	}
	r.write(ctx, Record{
		ID:        res.InvocationID,
		RequestID: reqid.RequestID(ctx),
		StartedAt: r.now().Add(-res.Duration),
		Duration:  res.Duration,
		Outcome:   OutcomeOK,
		Tools:     res.Tools,
		Statuses:  statuses,
	})
}

func (r *Recorder) OnRoutingFailed(ctx context.Context, err error, elapsed time.Duration) {
	r.write(ctx, Record{
		ID:        reqid.ID(ctx),
		RequestID: reqid.RequestID(ctx),
		StartedAt: r.now().Add(-elapsed),
		Duration:  elapsed,
		Outcome:   OutcomeRoutingError,
		Error:     err.Error(),
	})
}

func (r *Recorder) write(ctx context.Context, rec Record) {
	// The request context may already be done; the audit row still lands.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.store.Insert(ctx, rec); err != nil {
		r.logger.Error("audit write failed", "invocation_id", rec.ID, "request_id", rec.RequestID, "err", err)
	}
}

var _ workflow.Observer = (*Recorder)(nil)
