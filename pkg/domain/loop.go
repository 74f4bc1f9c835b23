package domain

import (
	"errors"
	"fmt"
)

type LoopType string

const (
	// poll the control plane and hand new work to the launcher.
	Dispatch LoopType = "dispatch"

	// compare desired vs. observed fleet state and correct divergence.
	Reconcile LoopType = "reconcile"

	// sweep terminal resources past their TTL.
	Housekeeping LoopType = "housekeeping"
)

func (lt LoopType) String() string {
	return string(lt)
}

func (lt LoopType) IsKnown() bool {
	switch lt {
	case Dispatch, Reconcile, Housekeeping:
		return true
	default:
		return false
	}
}

func KnownLoopTypes() []LoopType {
	return []LoopType{Dispatch, Reconcile, Housekeeping}
}

func AsLoopType(s string) (LoopType, error) {
	l := LoopType(s)
	if l.IsKnown() {
		return l, nil
	}
	return l, fmt.Errorf(`%w: "%s"`, ErrUnknownLoopType, s)
}

var ErrUnknownLoopType = errors.New("unknown loop type")
