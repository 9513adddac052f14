package verifier

import (
	"context"
	"fmt"
	"time"

	"github.com/mongodb-labs/digest-verifier/internal/config"
	"github.com/mongodb-labs/digest-verifier/internal/digest"
	"github.com/mongodb-labs/digest-verifier/internal/fetcher"
	"github.com/mongodb-labs/digest-verifier/internal/partitions"
	"github.com/mongodb-labs/digest-verifier/internal/reportutils"
	"github.com/mongodb-labs/digest-verifier/internal/snapshot"
	"github.com/mongodb-labs/digest-verifier/internal/types"
	"github.com/mongodb-labs/digest-verifier/internal/util"
	"github.com/mongodb-labs/digest-verifier/mmongo"
	"github.com/mongodb-labs/digest-verifier/msync"
	"github.com/pkg/errors"
)

// collectionRun is the state that one collection's workers share.
type collectionRun struct {
	verifier  *Verifier
	namespace string
	src, dst  fetcher.Collection
	stats     *CollectionStats

	// Load-compare reads this; nothing writes it once workers start.
	snapshot digest.Map

	// Snapshot write merges every unit's source digests here.
	accumulated *msync.DataGuard[digest.Map]
}

func (verifier *Verifier) verifyCollection(ctx context.Context, namespace string) CollectionResult {
	start := time.Now()
	db, coll := mmongo.SplitNamespace(namespace)
	mode := verifier.cfg.Mode

	run := &collectionRun{
		verifier:    verifier,
		namespace:   namespace,
		accumulated: msync.NewDataGuard(digest.Map{}),
	}

	if verifier.src != nil {
		run.src = verifier.src.Collection(db, coll)
	}
	if mode.NeedsDestination() {
		run.dst = verifier.dst.Collection(db, coll)
	}

	// Load-compare samples what the destination has; the other modes
	// sample the source.
	primary := run.src
	if mode == config.SnapshotLoadCompare {
		primary = run.dst
	}

	ids, err := verifier.universe(ctx, primary)
	if err != nil {
		return verifier.collectionFailed(namespace, start, err)
	}

	units := partitions.Split(ids, verifier.cfg.QueryBatch)
	run.stats = newCollectionStats(namespace, len(ids), len(units), verifier.cfg.FailureDisplaySize)
	verifier.current.Store(run.stats)

	if len(ids) == 0 {
		verifier.logger.Info().
			Str("namespace", namespace).
			Msg("No documents to verify.")

		return verifier.collectionDone(run, start, nil)
	}

	verifier.logger.Info().Str("namespace", namespace).Msgf("Process Count: %d", len(ids))

	if mode == config.SnapshotLoadCompare {
		run.snapshot, err = verifier.store.Load(ctx, verifier.snapshotKey(namespace))
		if err != nil {
			if errors.Is(err, snapshot.ErrNotFound) {
				err = fmt.Errorf("%w: %w", config.ErrInvalid, err)
			}
			return verifier.collectionFailed(namespace, start, err)
		}

		verifier.logger.Info().
			Str("namespace", namespace).
			Int("docs", len(run.snapshot)).
			Msg("Loaded snapshot.")
	}

	verifier.logger.Info().Str("namespace", namespace).Msgf("create tasks count: %d", len(units))

	err = RunPool(
		ctx,
		verifier.logger,
		verifier.cfg.TaskCount,
		units,
		func(ctx context.Context, workerNum int, unit partitions.Partition) {
			verifier.workerTracker.Set(workerNum, namespace, unit)
			defer verifier.workerTracker.Unset(workerNum)

			run.processUnit(ctx, workerNum, unit)
		},
	)
	if err != nil {
		return verifier.collectionDone(run, start, errors.Wrapf(err, "verifying %#q", namespace))
	}

	util.Invariant(
		verifier.logger,
		run.stats.Processed() == types.DocumentCount(len(ids)),
		"%s: workers processed %d of %d documents",
		namespace, run.stats.Processed(), len(ids),
	)

	if mode == config.SnapshotWrite {
		err = run.writeSnapshot(ctx)
	}

	return verifier.collectionDone(run, start, err)
}

// universe returns the _ids to verify in the collection.
func (verifier *Verifier) universe(ctx context.Context, coll fetcher.Collection) ([]any, error) {
	estimate, err := verifier.fetcher.EstimatedCount(ctx, coll)
	if err != nil {
		return nil, err
	}

	cfg := verifier.cfg

	if cfg.ComparisonMode == config.SampleMode {
		count := min(int64(len(verifier.sampleIDs)), estimate)
		return verifier.sampleIDs[:count], nil
	}

	limit := estimate - int64(cfg.SampleStartIdx)
	if cfg.SampleCount > 0 {
		limit = min(limit, int64(cfg.SampleCount))
	}

	return verifier.fetcher.ScanIDs(ctx, coll, int64(cfg.SampleStartIdx), limit)
}

func (run *collectionRun) writeSnapshot(ctx context.Context) error {
	var digests digest.Map
	run.accumulated.Load(func(m digest.Map) {
		digests = m
	})

	start := time.Now()

	location, err := run.verifier.store.Write(ctx, run.verifier.snapshotKey(run.namespace), digests)
	if err != nil {
		return err
	}

	run.verifier.logger.Info().
		Str("namespace", run.namespace).
		Str("location", location).
		Int("docs", len(digests)).
		Msgf("write file time: %s", reportutils.DurationToHMS(time.Since(start)))

	return nil
}

func (verifier *Verifier) collectionFailed(namespace string, start time.Time, err error) CollectionResult {
	stats := newCollectionStats(namespace, 0, 0, 0)
	return verifier.collectionDone(&collectionRun{namespace: namespace, stats: stats}, start, err)
}

func (verifier *Verifier) collectionDone(run *collectionRun, start time.Time, err error) CollectionResult {
	res := run.stats.result(time.Since(start), err)

	if err != nil {
		verifier.logger.Error().
			Err(err).
			Str("namespace", run.namespace).
			Msg("Collection could not be verified.")
	}

	switch {
	case verifier.cfg.Mode == config.SnapshotWrite && res.Passed:
		verifier.logger.Info().Msgf("PASS => collection [%s] snapshot written", run.namespace)
	case verifier.cfg.Mode == config.SnapshotWrite:
		verifier.logger.Error().Msgf("DIFF => collection [%s] snapshot incomplete", run.namespace)
	case res.Passed:
		verifier.logger.Info().Msgf("PASS => collection [%s] data comparison exactly equals", run.namespace)
	default:
		verifier.logger.Error().Msgf("DIFF => collection [%s] data comparison not equals", run.namespace)
	}

	verifier.logger.Info().
		Str("namespace", run.namespace).
		Str("rate", reportutils.FmtRate(res.Processed, res.Elapsed)).
		Str("read", reportutils.FmtBytes(res.Bytes)).
		Msgf(
			"collection %s runtime: %s, avg time: %s",
			verifier.cfg.Mode,
			reportutils.DurationToHMS(res.Elapsed),
			reportutils.DurationToHMS(res.AvgUnitTime()),
		)

	return res
}
