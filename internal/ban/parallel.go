package ban

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/flowguard/flowguard/internal/flowtype"
)

// errHit is an internal sentinel an errgroup goroutine returns to trigger
// cancellation of its siblings the instant a ban is found; it is never
// surfaced to callers.
var errHit = errors.New("ban: hit found")

// ParallelChecker implements spec §4.E: given candidate BanTargets, return
// the first active BanDetail encountered, checking IP synchronously first
// (highest priority, short-circuits) and fanning the rest out concurrently.
// Grounded on original_source/src/ban_manager.rs's check_ban_priority,
// translated from futures::future::select_all into
// golang.org/x/sync/errgroup: each sub-lookup reports errHit to cancel the
// shared context as soon as one hits, while a genuine lookup failure is
// logged and swallowed (returns nil) rather than propagated, since spec
// §4.E requires a failed sub-lookup to contribute "not found" rather than
// poison the overall result.
type ParallelChecker struct {
	manager *Manager
	logger  *zap.Logger
}

// NewParallelChecker creates a checker backed by manager.
func NewParallelChecker(manager *Manager, logger *zap.Logger) *ParallelChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ParallelChecker{manager: manager, logger: logger}
}

// Check implements spec §4.E's algorithm.
func (c *ParallelChecker) Check(ctx context.Context, targets []flowtype.BanTarget) (*flowtype.BanDetail, error) {
	if len(targets) == 0 {
		return nil, nil
	}

	var ipTarget *flowtype.BanTarget
	rest := make([]flowtype.BanTarget, 0, len(targets))
	for i := range targets {
		if targets[i].Kind == flowtype.BanTargetIP && ipTarget == nil {
			t := targets[i]
			ipTarget = &t
			continue
		}
		rest = append(rest, targets[i])
	}

	if ipTarget != nil {
		detail, err := c.lookup(ctx, *ipTarget)
		if err != nil {
			c.logger.Warn("ip ban lookup failed, treating as not-found", zap.Error(err))
		} else if detail != nil {
			return detail, nil
		}
	}

	if len(rest) == 0 {
		return nil, nil
	}
	return c.fanOut(ctx, rest), nil
}

// fanOut issues all remaining lookups concurrently and returns as soon as
// one hits, cancelling the others. Errors from individual lookups are
// logged and contribute "not found" rather than poisoning the result
// (spec §4.E step 3).
func (c *ParallelChecker) fanOut(ctx context.Context, targets []flowtype.BanTarget) *flowtype.BanDetail {
	g, gctx := errgroup.WithContext(ctx)

	var (
		once   sync.Once
		result *flowtype.BanDetail
	)

	for _, target := range targets {
		t := target
		g.Go(func() error {
			detail, err := c.lookup(gctx, t)
			if err != nil {
				c.logger.Warn("ban lookup failed, treating as not-found", zap.Error(err))
				return nil
			}
			if detail == nil {
				return nil
			}
			once.Do(func() { result = detail })
			return errHit
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, errHit) {
		c.logger.Warn("unexpected parallel ban checker error", zap.Error(err))
	}
	return result
}

func (c *ParallelChecker) lookup(ctx context.Context, target flowtype.BanTarget) (*flowtype.BanDetail, error) {
	return c.manager.ReadBan(ctx, target)
}
