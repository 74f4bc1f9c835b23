package recurring

import (
	"context"

	"github.com/fleetward/fleetward/pkg/loop"
)

// Task is a loop body which reports whether it did something in this cycle.
//
// # Return
//
// - T: same as return value T of pkg/loop.Task[T]
//
// - bool: true when this task did something in this cycle, and more backlog can be.
// otherwise false.
//
// - error: same as err of pkg/loop.Break(err)
type Task[T any] func(context.Context, T) (T, bool, error)

// Applied makes a loop.Task which executes rt and p.Next() with the result.
func (rt Task[T]) Applied(p Policy) loop.Task[T] {
	return func(ctx context.Context, t T) (T, loop.Next) {
		new, ok, err := rt(ctx, t)
		return new, p.Next(ok, err)
	}
}
