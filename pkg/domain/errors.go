package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy of the agent.
//
// - ErrAuth: fatal. The operator has to fix credentials; never retried.
//
// - ErrNetwork: transient. Absorbed and retried with backoff inside loops.
//
// - ErrPlacement, ErrQuota: the fleet cannot take the workload.
// Reported upstream as a failed request; not retried automatically,
// so a misconfigured request cannot cause a resource storm.
var (
	ErrAuth      = errors.New("control plane rejected agent credentials")
	ErrNetwork   = errors.New("control plane unreachable")
	ErrPlacement = errors.New("no placement satisfies the request")
	ErrQuota     = errors.New("fleet quota exceeded")
)

func NewErrPlacement(cause error) error {
	return fmt.Errorf("%w: %s", ErrPlacement, cause)
}

func NewErrQuota(cause error) error {
	return fmt.Errorf("%w: %s", ErrQuota, cause)
}
