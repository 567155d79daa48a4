package pipeline

import (
	"fmt"
	"runtime"

	"affordability-pipeline/internal/model"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is used when a stage is configured with zero workers.
var DefaultWorkers = runtime.NumCPU()

// mapOrdered applies fn to every element with at most workers goroutines
// and reassembles results by input index, so output order never depends on
// scheduling. A panic in fn is returned as an InvariantError.
func mapOrdered[T, R any](op string, workers int, in []T, fn func(int, T) (R, error)) ([]R, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	out := make([]R, len(in))

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range in {
		i := i
		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = &model.InvariantError{Op: op, Detail: fmt.Sprintf("panic on item %d: %v", i, p)}
				}
			}()
			r, err := fn(i, in[i])
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
