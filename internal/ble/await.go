package ble

import "context"

// await runs a blocking call that has no context support and returns as
// soon as either the call finishes or ctx is done. When ctx wins, the call
// keeps running in the background and abandon receives its eventual
// result so it can release whatever the call produced.
func await[T any](ctx context.Context, call func() (T, error), abandon func(T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := call()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		if abandon != nil {
			go func() {
				r := <-ch
				abandon(r.value, r.err)
			}()
		}
		var zero T
		return zero, ctx.Err()
	}
}
