package resilience

import (
	"fmt"

	"github.com/cachetier/cachetier/backend"
)

// ErrPoolExhausted is returned when the concurrency limit is reached
// and no slot frees up within the acquire timeout. It wraps
// backend.ErrUnavailable so it is classified as transient and feeds the
// retry and circuit breaker machinery.
var ErrPoolExhausted = fmt.Errorf("%w: concurrency limit reached", backend.ErrUnavailable)
