package verifier

import (
	"context"
	"runtime/debug"
	"sync/atomic"

	"github.com/mongodb-labs/digest-verifier/internal/logger"
	"github.com/mongodb-labs/digest-verifier/internal/util"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// RunPool runs work once for every unit on a fixed number of workers.
// Each worker takes one unit at a time from a shared queue and runs it to
// completion before taking another, so no unit runs twice and none is
// skipped. RunPool returns once every worker has exited.
//
// work has no way to fail: it must handle its own errors. A unit whose
// work panics is logged and abandoned while the worker moves on; RunPool
// then returns an error naming how many units panicked. Otherwise the
// only error RunPool returns is the context's, in which case some units
// never ran.
func RunPool[T any](
	ctx context.Context,
	log *logger.Logger,
	workers int,
	units []T,
	work func(ctx context.Context, workerNum int, unit T),
) error {
	if workers <= 0 {
		return errors.Errorf("worker count must be positive (got %d)", workers)
	}

	queue := make(chan T, len(units))
	for _, unit := range units {
		queue <- unit
	}
	close(queue)

	var panicked atomic.Int64

	eg, egCtx := errgroup.WithContext(ctx)

	for workerNum := range workers {
		eg.Go(func() error {
			log.Debug().
				Int("workerNum", workerNum).
				Msg("Worker started.")

			defer log.Debug().
				Int("workerNum", workerNum).
				Msg("Worker finished.")

			for {
				if egCtx.Err() != nil {
					return util.WrapCtxErrWithCause(egCtx)
				}

				unit, ok := <-queue
				if !ok {
					return nil
				}

				if !runUnit(egCtx, log, workerNum, unit, work) {
					panicked.Add(1)
				}
			}
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}

	if n := panicked.Load(); n > 0 {
		return errors.Errorf("%d unit(s) panicked", n)
	}

	return nil
}

// runUnit runs work on one unit and reports whether it returned normally.
func runUnit[T any](
	ctx context.Context,
	log *logger.Logger,
	workerNum int,
	unit T,
	work func(ctx context.Context, workerNum int, unit T),
) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Int("workerNum", workerNum).
				Interface("unit", unit).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Unit panicked; moving on to the next one.")
		}
	}()

	work(ctx, workerNum, unit)

	return true
}
