package recurring

import (
	"fmt"
	"strings"
	"time"

	"github.com/fleetward/fleetward/pkg/loop"
)

func ParsePolicy(s string) (Policy, error) {
	typ, param, ok := strings.Cut(s, ":")
	switch typ {
	case "forever":
		if !ok || param == "" {
			return Forever(0), nil
		}

		period, err := time.ParseDuration(param)
		if err != nil {
			return nil, fmt.Errorf(`failed to parse: %s as "forever:COOLDOWN": %w`, s, err)
		}
		return Forever(period), nil
	case "backlog":
		if ok {
			return nil, fmt.Errorf("backlog policy does not take parameters: %s", s)
		}
		return Backlog(), nil
	}
	return nil, fmt.Errorf("unknown policy name: %s (should be one of -- forever|backlog)", typ)
}

// Policy for loop task behavior.
// How the policy behaves depends on the implementation of Next() method.
type Policy interface {
	Next(updated bool, err error) loop.Next
	String() string
}

// Restart immediately while there are things to do.
// Otherwise, restart after interval.
func Forever(intervalWaitingBacklog time.Duration) Policy {
	return forever(intervalWaitingBacklog)
}

type forever time.Duration

func (f forever) String() string {
	return fmt.Sprintf("forever:%s", time.Duration(f).String())
}

func (f forever) Next(updated bool, err error) loop.Next {
	if updated {
		return loop.Continue(0)
	}
	return loop.Continue(time.Duration(f))
}

// Restart immediately while there are things to do.
// Otherwise, Break(nil).
func Backlog() Policy {
	return backlog
}

type backlogPolicy struct {
	name string
}

func (b backlogPolicy) String() string {
	return b.name
}

func (b backlogPolicy) Next(updated bool, err error) loop.Next {
	if updated {
		return loop.Continue(0)
	}
	return loop.Break(nil)
}

var backlog = backlogPolicy{name: "backlog"} // singleton

// add a provisory clause: In case of error, Break with that error.
func UntilError(p Policy) Policy {
	return untilError{base: p}
}

type untilError struct {
	base Policy
}

func (u untilError) String() string {
	return fmt.Sprintf("%s (until error)", u.base.String())
}

func (u untilError) Next(updated bool, err error) loop.Next {
	if err != nil {
		return loop.Break(err)
	}
	return u.base.Next(updated, err)
}

// Retrying absorbs errors matched by transient: instead of breaking,
// the loop continues after a growing interval.
//
// The interval starts at initial, doubles per consecutive transient error,
// and never exceeds max. A cycle without error resets it to initial.
// Errors not matched by transient break the loop.
func Retrying(base Policy, initial time.Duration, max time.Duration, transient func(error) bool) Policy {
	return &retrying{
		base: base, initial: initial, max: max,
		next: initial, transient: transient,
	}
}

type retrying struct {
	base      Policy
	initial   time.Duration
	max       time.Duration
	next      time.Duration
	transient func(error) bool
}

func (r *retrying) String() string {
	return fmt.Sprintf(
		"%s (retrying transient errors: %s..%s)",
		r.base.String(), r.initial.String(), r.max.String(),
	)
}

func (r *retrying) Next(updated bool, err error) loop.Next {
	if err != nil {
		if !r.transient(err) {
			return loop.Break(err)
		}
		interval := r.next
		if doubled := 2 * interval; doubled <= r.max {
			r.next = doubled
		} else {
			r.next = r.max
		}
		return loop.Continue(interval)
	}

	r.next = r.initial
	return r.base.Next(updated, err)
}
