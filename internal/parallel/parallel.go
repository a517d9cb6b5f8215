// Package parallel partitions an index range over worker goroutines, fork-join style.
//
// Chunks are disjoint and contiguous, so workers writing only to the positions of their own
// chunk need no synchronization.
package parallel

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// MinChunkSize is the smallest chunk handed to a worker when the number of workers is chosen
// automatically.
const MinChunkSize = 1024

// Workers returns the number of workers For would use for n positions if asked for `requested`
// workers. requested <= 0 selects the number automatically.
func Workers(n, requested int) int {
	if n <= 0 {
		return 0
	}
	workers := requested
	if workers <= 0 {
		workers = max(runtime.GOMAXPROCS(0), 1)
		workers = min(workers, (n+MinChunkSize-1)/MinChunkSize)
	}
	return min(max(workers, 1), n)
}

// Chunks returns the [start, end) ranges For would use for n positions and the given workers.
func Chunks(n, workers int) [][2]int {
	workers = Workers(n, workers)
	if workers == 0 {
		return nil
	}
	chunk := (n + workers - 1) / workers
	ranges := make([][2]int, 0, workers)
	for start := 0; start < n; start += chunk {
		ranges = append(ranges, [2]int{start, min(start+chunk, n)})
	}
	return ranges
}

// For calls fn over a partition of [0, n) into contiguous chunks, each on its own goroutine,
// and returns when all have finished. workers <= 0 selects the number of workers automatically.
// With a single chunk fn is called on the current goroutine.
func For(n, workers int, fn func(start, end int)) {
	_ = ForErr(n, workers, func(start, end int) error {
		fn(start, end)
		return nil
	})
}

// ForErr is like For, but fn may fail. It returns the first error returned by any chunk; all
// chunks are always run to completion.
func ForErr(n, workers int, fn func(start, end int) error) error {
	ranges := Chunks(n, workers)
	switch len(ranges) {
	case 0:
		return nil
	case 1:
		return fn(ranges[0][0], ranges[0][1])
	}
	var g errgroup.Group
	for _, r := range ranges {
		g.Go(func() error {
			return fn(r[0], r[1])
		})
	}
	return g.Wait()
}
