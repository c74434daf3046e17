package engine

import (
	"context"
	"fmt"
)

// Runner is the work a task performs on each occurrence.
//
// The returned value is handed to the ResultSaver hook when the task was
// registered with Save enabled. Runners should observe ctx: it is cancelled
// when the execution is killed or its timeout expires.
type Runner interface {
	Run(ctx context.Context) (any, error)
}

// Stateful is a Runner variant that receives the value saved by the previous
// execution of the same task (nil and false when there is none).
type Stateful interface {
	RunWithPrevious(ctx context.Context, previous any, ok bool) (any, error)
}

// Func adapts a plain function into a Runner.
type Func func(ctx context.Context) (any, error)

func (f Func) Run(ctx context.Context) (any, error) { return f(ctx) }

// StatefulFunc adapts a function into a Stateful action.
type StatefulFunc func(ctx context.Context, previous any, ok bool) (any, error)

func (f StatefulFunc) RunWithPrevious(ctx context.Context, previous any, ok bool) (any, error) {
	return f(ctx, previous, ok)
}

// Action is either a Runner or a Stateful.
type Action any

func validAction(a Action) bool {
	switch v := a.(type) {
	case Func:
		return v != nil
	case StatefulFunc:
		return v != nil
	case Runner, Stateful:
		return v != nil
	default:
		return false
	}
}

func fmtAny(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(v)
}

// ValidateAction reports ErrNilAction unless a is a usable Runner or Stateful.
func ValidateAction(a Action) error {
	if !validAction(a) {
		return ErrNilAction
	}
	return nil
}
