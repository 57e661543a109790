package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Retention prunes records older than a fixed age on a cron schedule.
type Retention struct {
	store  *Store
	maxAge time.Duration
	cron   *cron.Cron
	logger *slog.Logger
	now    func() time.Time
}

// NewRetention parses schedule (standard five-field expression or a descriptor
// such as @daily) and returns a stopped Retention.
func NewRetention(store *Store, maxAge time.Duration, schedule string, logger *slog.Logger) (*Retention, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("audit: retention must be positive, got %s", maxAge)
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Retention{
		store:  store,
		maxAge: maxAge,
		cron:   cron.New(),
		logger: logger,
		now:    time.Now,
	}
	if _, err := r.cron.AddFunc(schedule, func() { _, _ = r.PruneOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("audit: prune schedule %q: %w", schedule, err)
	}
	return r, nil
}

// PruneOnce deletes everything older than the retention window now.
func (r *Retention) PruneOnce(ctx context.Context) (int64, error) {
	n, err := r.store.Prune(ctx, r.now().Add(-r.maxAge))
	if err != nil {
		r.logger.Error("audit prune failed", "err", err)
		return 0, err
	}
	if n > 0 {
		r.logger.Info("audit pruned", "deleted", n)
	}
	return n, nil
}

func (r *Retention) Start() { r.cron.Start() }

// Stop halts the scheduler and waits for a running prune to finish.
func (r *Retention) Stop() {
	<-r.cron.Stop().Done()
}
