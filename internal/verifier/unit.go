package verifier

import (
	"context"
	"maps"
	"time"

	"github.com/mongodb-labs/digest-verifier/internal/config"
	"github.com/mongodb-labs/digest-verifier/internal/digest"
	"github.com/mongodb-labs/digest-verifier/internal/fetcher"
	"github.com/mongodb-labs/digest-verifier/internal/logger"
	"github.com/mongodb-labs/digest-verifier/internal/partitions"
	"github.com/mongodb-labs/digest-verifier/internal/reportutils"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

func (run *collectionRun) processUnit(ctx context.Context, workerNum int, unit partitions.Partition) {
	log := run.verifier.logger.WithUnit(unit.Offset, workerNum)

	switch run.verifier.cfg.Mode {
	case config.LiveCompare:
		run.compareUnit(ctx, log, unit)
	case config.SnapshotWrite:
		run.writeUnit(ctx, log, unit)
	case config.SnapshotLoadCompare:
		run.loadCompareUnit(ctx, log, unit)
	default:
		panic("unknown mode: " + run.verifier.cfg.Mode.String())
	}
}

// compareUnit fetches the unit from both clusters at once and compares.
func (run *collectionRun) compareUnit(ctx context.Context, log *logger.Logger, unit partitions.Partition) {
	start := time.Now()

	var srcBatch, dstBatch fetcher.Batch

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		srcBatch = run.verifier.fetcher.Fetch(egCtx, log, run.src, unit.IDs)
		return nil
	})
	eg.Go(func() error {
		dstBatch = run.verifier.fetcher.Fetch(egCtx, log, run.dst, unit.IDs)
		return nil
	})
	_ = eg.Wait()

	fetchTime := time.Since(start)
	run.stats.addBytes(srcBatch.Bytes + dstBatch.Bytes)

	if len(srcBatch.Digests) == 0 || len(dstBatch.Digests) == 0 {
		run.unitFetchFailed(log, unit, len(srcBatch.Digests), len(dstBatch.Digests))
	} else {
		run.reportDifferences(log, unit, reconcile(srcBatch.Digests, dstBatch.Digests), len(srcBatch.Digests), len(dstBatch.Digests))
	}

	run.finishUnit(log, unit, start, fetchTime, "get src and dst data time")
}

// writeUnit fetches the unit's source digests into the snapshot.
func (run *collectionRun) writeUnit(ctx context.Context, log *logger.Logger, unit partitions.Partition) {
	start := time.Now()

	batch := run.verifier.fetcher.Fetch(ctx, log, run.src, unit.IDs)

	fetchTime := time.Since(start)
	run.stats.addBytes(batch.Bytes)

	if len(batch.Digests) == 0 {
		run.unitFetchFailed(log, unit, 0, -1)
	}

	run.accumulated.Store(func(m digest.Map) digest.Map {
		for id, sum := range batch.Digests {
			m[id] = sum
		}
		return m
	})

	run.finishUnit(log, unit, start, fetchTime, "get src data time")
}

// loadCompareUnit compares the destination against the loaded snapshot,
// asking the source directly about anything the snapshot lacks.
func (run *collectionRun) loadCompareUnit(ctx context.Context, log *logger.Logger, unit partitions.Partition) {
	start := time.Now()

	batch := run.verifier.fetcher.Fetch(ctx, log, run.dst, unit.IDs)

	fetchTime := time.Since(start)
	run.stats.addBytes(batch.Bytes)

	if len(batch.Digests) == 0 {
		run.unitFetchFailed(log, unit, -1, 0)
		run.finishUnit(log, unit, start, fetchTime, "get dst data time")
		return
	}

	idsByKey := map[string]any{}
	for _, id := range unit.IDs {
		key, err := digest.KeyOf(id)
		if err != nil {
			log.Error().Err(err).Msg("Failed to key a sampled _id.")
			continue
		}
		idsByKey[key] = id
	}

	// The snapshot's view of this unit: what the source had when the
	// snapshot was written, plus anything filled in from the source now.
	expected := digest.Map{}
	for key := range idsByKey {
		if sum, ok := run.snapshot[key]; ok {
			expected[key] = sum
		}
	}

	// Documents already reported as unverifiable leave the comparison.
	actual := maps.Clone(batch.Digests)

	for _, key := range sorted(lo.Keys(batch.Digests)) {
		if _, ok := expected[key]; ok {
			continue
		}

		log.Warn().Msgf("[%d] %s not in snapshot", unit.Offset, key)

		sum, kind, ok := run.refetchSource(ctx, log, refetchID(batch, idsByKey, key), key)
		if !ok {
			run.mismatch(log, unit, key, kind)
			delete(actual, key)
			continue
		}

		expected[key] = sum
	}

	run.reportDifferences(log, unit, reconcile(expected, actual), len(expected), len(actual))
	run.finishUnit(log, unit, start, fetchTime, "get dst data time")
}

// refetchSource digests one document straight from the source. When that
// is impossible it returns false and the kind of mismatch to report.
func (run *collectionRun) refetchSource(
	ctx context.Context,
	log *logger.Logger,
	id any,
	key string,
) (string, MismatchKind, bool) {
	if run.src == nil {
		return "", MissingOnSource, false
	}

	sum, found, err := run.verifier.fetcher.FetchOne(ctx, run.src, id)
	switch {
	case err != nil:
		log.Error().Err(err).Str("_id", key).Msg("Failed to refetch document from source.")
		return "", SourceRefetchFailed, false
	case !found:
		return "", MissingOnSource, false
	}

	return sum, "", true
}

// refetchID picks the _id to ask the source for: the destination's own
// _id when it was read, else the sampled one.
func refetchID(batch fetcher.Batch, idsByKey map[string]any, key string) any {
	if id, ok := batch.IDs[key]; ok {
		return id
	}

	if id, ok := idsByKey[key]; ok {
		return id
	}

	return key
}

// reportDifferences logs and records every disagreement between the
// expected (source) and actual (destination) digests of a unit.
func (run *collectionRun) reportDifferences(
	log *logger.Logger,
	unit partitions.Partition,
	rec Reconciliation,
	srcCount, dstCount int,
) {
	if srcCount != dstCount {
		log.Error().Msgf(
			"DIFF => src docs count: %d != dst docs count: %d, missing ids: %v",
			srcCount, dstCount, rec.Missing,
		)
		run.stats.fail()
	}

	if len(rec.Extra) > 0 {
		log.Error().Msgf("DIFF => dst has ids absent from src: %v", rec.Extra)
		for _, id := range rec.Extra {
			run.stats.addMismatch(Mismatch{Namespace: run.namespace, ID: id, Kind: OnlyOnDestination, Unit: unit.Offset})
		}
	}

	for _, id := range rec.Missing {
		run.mismatch(log, unit, id, MissingOnDestination)
	}

	for _, id := range rec.Differing {
		run.mismatch(log, unit, id, ContentDiffers)
	}
}

func (run *collectionRun) mismatch(log *logger.Logger, unit partitions.Partition, id string, kind MismatchKind) {
	log.Error().Str("kind", string(kind)).Msgf("DIFF => _id: %s", id)

	run.stats.addMismatch(Mismatch{
		Namespace: run.namespace,
		ID:        id,
		Kind:      kind,
		Unit:      unit.Offset,
	})
}

// unitFetchFailed reports a unit whose fetch came back empty. A negative
// count means that side was not read.
func (run *collectionRun) unitFetchFailed(log *logger.Logger, unit partitions.Partition, srcDocs, dstDocs int) {
	event := log.Error().Int("requested", unit.Len())
	if srcDocs >= 0 {
		event = event.Int("srcDocs", srcDocs)
	}
	if dstDocs >= 0 {
		event = event.Int("dstDocs", dstDocs)
	}
	event.Msgf("[%d] fetch returned no documents; the whole unit fails", unit.Offset)

	run.stats.addMismatch(Mismatch{
		Namespace: run.namespace,
		ID:        "*",
		Kind:      UnitFetchFailed,
		Unit:      unit.Offset,
	})
}

func (run *collectionRun) finishUnit(
	log *logger.Logger,
	unit partitions.Partition,
	start time.Time,
	fetchTime time.Duration,
	fetchLabel string,
) {
	elapsed := time.Since(start)
	processed := run.stats.recordUnit(unit.Len(), elapsed)

	log.Info().Msgf(
		"[%d] process %d docs total time: %s, %s: %s",
		unit.Offset, unit.Len(),
		reportutils.DurationToHMS(elapsed),
		fetchLabel,
		reportutils.DurationToHMS(fetchTime),
	)

	log.Info().Msgf("Process Progress: %d/%d", processed, run.stats.Total)
}
