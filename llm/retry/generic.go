package retry

import "context"

// Do is a type-safe generic wrapper around Executor.Do.
//
// Usage:
//
//	val, err := retry.Do(ctx, exec, func(ctx context.Context) (int, error) {
//	    return 42, nil
//	})
func Do[T any](ctx context.Context, e *Executor, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
