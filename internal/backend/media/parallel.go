package media

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// parallelRows calls fn for every row in [0, rows), striding rows over up to
// GOMAXPROCS goroutines.
func parallelRows(rows int, fn func(y int)) {
	if rows <= 0 {
		return
	}
	workers := min(runtime.GOMAXPROCS(0), rows)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for y := w; y < rows; y += workers {
				fn(y)
			}
			return nil
		})
	}
	_ = g.Wait()
}
