package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const budgetReserve = 1500 * time.Millisecond

// sleepCtx waits for d unless ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// stepBudget clamps base so the step leaves reserve headroom before the
// hard deadline, never dropping below one second.
func stepBudget(base time.Duration, deadline time.Time) time.Duration {
	remain := time.Until(deadline) - budgetReserve
	if remain < 0 {
		remain = 0
	}
	if base > remain {
		base = remain
	}
	if base < time.Second {
		base = time.Second
	}
	return base
}

// navBudget is stepBudget with the higher floor page navigation needs.
func navBudget(base time.Duration, deadline time.Time) time.Duration {
	remain := time.Until(deadline) - budgetReserve
	if remain < 0 {
		remain = 0
	}
	if base > remain {
		base = remain
	}
	if base < 1200*time.Millisecond {
		base = 1200 * time.Millisecond
	}
	return base
}

// runStep executes fn under its own budget and records the shared
// timeout and exception textures on failure. The step result itself
// travels through variables captured by fn; runStep only reports
// whether the step completed.
func runStep(ctx context.Context, errs *[]string, label string, budget time.Duration, fn func(context.Context) error) bool {
	if budget < time.Second {
		budget = time.Second
	}
	sctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	err := fn(sctx)
	if err == nil {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(sctx.Err(), context.DeadlineExceeded) {
		*errs = append(*errs, fmt.Sprintf("step_timeout:%s:%dms", label, budget.Milliseconds()))
	} else {
		*errs = append(*errs, fmt.Sprintf("step_exception:%s:%s", label, truncRunes(err.Error(), 140)))
	}
	return false
}
