// Package pipeline overlaps a cheap preparation stage with an expensive
// processing stage. The processing stage for racing batches is a vision
// model call measured in seconds; preparing the next image while the model
// works hides almost all of the preparation cost.
//
// The pipeline is depth-1: at most one background preparation runs
// concurrently with one foreground processing call. Items complete in
// strict input order and each result is handed to the caller before the
// next item starts, so durable progress writes happen at item granularity.
package pipeline

import (
	"context"
)

// PrepareFunc is the cheap stage, run ahead of processing.
type PrepareFunc[T, P any] func(ctx context.Context, item T) (P, error)

// ProcessFunc is the expensive stage, consuming the prepared payload.
type ProcessFunc[T, P, R any] func(ctx context.Context, item T, payload P) (R, error)

// Result is the terminal state of one item. Exactly one of Value or Err is
// meaningful.
type Result[T, R any] struct {
	Item  T
	Value R
	Err   error
}

type prepared[P any] struct {
	payload P
	err     error
}

// Run processes items in order, preparing each item's successor in the
// background while the current item is processed. A failed background
// preparation degrades that item to inline preparation; the pipeline keeps
// going either way. onResult is invoked for every item, in input order,
// before the next item is processed; it may be nil.
//
// Per-item failures are captured in the returned results and never stop
// the batch. Context cancellation stops the batch between items; items
// not reached have no result.
func Run[T, P, R any](
	ctx context.Context,
	items []T,
	prepare PrepareFunc[T, P],
	process ProcessFunc[T, P, R],
	onResult func(Result[T, R]),
) []Result[T, R] {
	if len(items) == 0 {
		return nil
	}

	results := make([]Result[T, R], 0, len(items))

	// The first item has nothing to overlap with.
	current := runPrepare(ctx, items[0], prepare)

	for i := range items {
		if ctx.Err() != nil {
			break
		}

		// Kick off the successor's preparation before touching the model.
		var next chan prepared[P]
		if i+1 < len(items) {
			next = make(chan prepared[P], 1)
			go func(item T) {
				next <- runPrepare(ctx, item, prepare)
			}(items[i+1])
		}

		result := Result[T, R]{Item: items[i]}
		payload := current
		if payload.err != nil {
			// Unprepared path: prepare inline and continue if it works.
			payload = runPrepare(ctx, items[i], prepare)
		}
		if payload.err != nil {
			result.Err = payload.err
		} else {
			result.Value, result.Err = process(ctx, items[i], payload.payload)
		}

		results = append(results, result)
		if onResult != nil {
			onResult(result)
		}

		if next != nil {
			current = <-next
		}
	}

	return results
}

func runPrepare[T, P any](ctx context.Context, item T, prepare PrepareFunc[T, P]) prepared[P] {
	payload, err := prepare(ctx, item)
	return prepared[P]{payload: payload, err: err}
}
