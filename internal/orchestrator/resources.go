package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/moti-malka/gl2gh/internal/failures"
)

const (
	// UnlimitedBudget is reported by Remaining when no budget is configured.
	UnlimitedBudget = -1

	budgetExceededTemplateConstant = "%w: requested %d, remaining %d"
	pacingErrorTemplateConstant    = "wait for API call slot: %w"
)

// ErrBudgetExceeded reports that a consume request exceeds the remaining budget.
var ErrBudgetExceeded = failures.ErrBudgetExceeded

// SharedResources is the API-call budget shared by every pipeline of a batch. A zero
// budget is unlimited. Every decrement is a single compare-and-swap, so concurrent
// pipelines never overspend.
type SharedResources struct {
	budget    int64
	remaining atomic.Int64
	used      atomic.Int64
	limiter   *rate.Limiter
}

// NewSharedResources constructs the budget. A positive callsPerSecond paces consumption.
func NewSharedResources(budget int, callsPerSecond float64) *SharedResources {
	resources := &SharedResources{budget: int64(max(budget, 0))}
	resources.remaining.Store(resources.budget)
	if callsPerSecond > 0 {
		resources.limiter = rate.NewLimiter(rate.Limit(callsPerSecond), 1)
	}
	return resources
}

// Consume reserves calls from the budget, waiting for the rate limiter first. A request
// larger than the remaining budget reserves nothing and returns ErrBudgetExceeded.
func (resources *SharedResources) Consume(executionContext context.Context, calls int) error {
	if calls <= 0 {
		return nil
	}
	if resources.limiter != nil {
		for callIndex := 0; callIndex < calls; callIndex++ {
			if waitError := resources.limiter.Wait(executionContext); waitError != nil {
				return fmt.Errorf(pacingErrorTemplateConstant, waitError)
			}
		}
	}
	if resources.budget > 0 {
		requested := int64(calls)
		for {
			current := resources.remaining.Load()
			if current < requested {
				return fmt.Errorf(budgetExceededTemplateConstant, ErrBudgetExceeded, calls, current)
			}
			if resources.remaining.CompareAndSwap(current, current-requested) {
				break
			}
		}
	}
	resources.used.Add(int64(calls))
	return nil
}

// Remaining returns the unreserved budget, or UnlimitedBudget.
func (resources *SharedResources) Remaining() int {
	if resources.budget == 0 {
		return UnlimitedBudget
	}
	return int(resources.remaining.Load())
}

// Used returns the number of calls reserved so far.
func (resources *SharedResources) Used() int {
	return int(resources.used.Load())
}

// Budget returns the configured budget; zero means unlimited.
func (resources *SharedResources) Budget() int {
	return int(resources.budget)
}
