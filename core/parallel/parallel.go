// Package parallel runs independent units of work on a bounded number of goroutines.
package parallel

import (
	"runtime"
	"sync"

	scierrors "github.com/YuminosukeSato/imbalanced/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Workers resolves an sklearn-style n_jobs value into a goroutine count.
// Values <= 0 mean "all CPUs" (n_jobs=-1); the result never exceeds items.
func Workers(nJobs, items int) int {
	workers := nJobs
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if items > 0 && workers > items {
		workers = items
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

// ForEach calls fn(i) for every i in [0, n) using at most workers goroutines.
// The first error returned by fn is returned after all started calls finish.
// A panic inside fn is recovered and reported as a *errors.PanicError.
func ForEach(n, workers int, fn func(i int) error) error {
	if n == 0 {
		return nil
	}

	var g errgroup.Group
	g.SetLimit(Workers(workers, n))
	for i := 0; i < n; i++ {
		g.Go(func() (err error) {
			defer scierrors.Recover(&err, "parallel.ForEach")
			return fn(i)
		})
	}
	return g.Wait()
}

// Parallelize divides the specified total number (items) according to the number of CPU cores,
// and executes the specified function (fn) in parallel for each range (start, end)
func Parallelize(items int, fn func(start, end int)) {
	if items == 0 {
		return
	}

	numWorkers := Workers(-1, items)

	// Calculate the number of items each worker handles (ceiling division)
	chunkSize := (items + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > items {
			end = items
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}

	wg.Wait()
}

// ParallelizeWithThreshold performs parallelization only when the number of items exceeds the threshold
// If below threshold, normal sequential processing is performed
func ParallelizeWithThreshold(items int, threshold int, fn func(start, end int)) {
	if items <= threshold {
		fn(0, items)
		return
	}
	Parallelize(items, fn)
}
