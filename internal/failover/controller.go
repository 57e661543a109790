// Package failover runs a completion request against a primary model and
// falls back through an ordered list of alternatives when a backend is
// rate limited, overloaded or unreachable.
package failover

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/opentalon/tutorflow/internal/provider"
)

type Controller struct {
	registry  *provider.Registry
	cooldowns *Cooldowns
	primary   provider.ModelRef
	fallbacks []provider.ModelRef
	logger    *slog.Logger
	now       func() time.Time
}

func NewController(
	registry *provider.Registry,
	cooldowns *Cooldowns,
	primary provider.ModelRef,
	fallbacks []provider.ModelRef,
	logger *slog.Logger,
) *Controller {
	if cooldowns == nil {
		cooldowns = NewCooldowns(DefaultCooldownConfig())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		registry:  registry,
		cooldowns: cooldowns,
		primary:   primary,
		fallbacks: fallbacks,
		logger:    logger,
		now:       time.Now,
	}
}

// Models returns the chain in the order it is tried.
func (c *Controller) Models() []provider.ModelRef {
	out := make([]provider.ModelRef, 0, len(c.fallbacks)+1)
	for _, m := range append([]provider.ModelRef{c.primary}, c.fallbacks...) {
		if !slices.Contains(out, m) {
			out = append(out, m)
		}
	}
	return out
}

// Complete sends req to each model of the chain until one answers. req is
// not modified. A non-retryable error stops the chain immediately.
func (c *Controller) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	attempted := make([]string, 0)
	var lastErr error

	for _, m := range c.Models() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempted = append(attempted, m.String())

		if c.cooldowns.Active(m.Provider(), c.now()) {
			c.logger.Debug("skipping model in cooldown", "model", m.String())
			continue
		}

		p, err := c.registry.Resolve(m)
		if err != nil {
			return nil, err
		}

		r := req.Clone()
		r.Model = m.Model()
		resp, err := p.Complete(ctx, r)
		if err == nil {
			c.cooldowns.Reset(m.Provider())
			return resp, nil
		}
		if ctx.Err() != nil || !IsRetryable(err) {
			return nil, err
		}

		lastErr = err
		if IsRateLimitError(err) {
			d := c.cooldowns.Trip(m.Provider(), c.now())
			c.logger.Warn("provider rate limited", "model", m.String(), "cooldown", d)
		} else {
			c.logger.Warn("model failed, trying next", "model", m.String(), "err", err)
		}
	}

	return nil, &AllExhaustedError{Attempted: attempted, Last: lastErr}
}
