package verifier

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/mongodb-labs/digest-verifier/internal/config"
	"github.com/mongodb-labs/digest-verifier/internal/digest"
	"github.com/mongodb-labs/digest-verifier/internal/fetcher"
	"github.com/mongodb-labs/digest-verifier/internal/logger"
	"github.com/mongodb-labs/digest-verifier/internal/reportutils"
	"github.com/mongodb-labs/digest-verifier/internal/snapshot"
	"github.com/mongodb-labs/digest-verifier/mmongo"
	"github.com/mongodb-labs/digest-verifier/msync"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Verifier runs one verification: it walks the configured collections,
// splits each one's sample into units, and has a pool of workers compare
// (or snapshot) the units.
type Verifier struct {
	cfg    *config.Config
	runID  string
	logger *logger.Logger

	fetcher   *fetcher.Fetcher
	sampleIDs []any

	src, dst Cluster
	store    *snapshot.Store

	workerTracker *WorkerTracker
	current       atomic.Pointer[CollectionStats]
	results       *msync.DataGuard[[]CollectionResult]

	closers []func(context.Context) error
}

// NewVerifier prepares a run. The configuration must already be valid
// and, in sample mode, have its sample loaded.
func NewVerifier(cfg *config.Config, log *logger.Logger, runID string) (*Verifier, error) {
	verifier := &Verifier{
		cfg:    cfg,
		runID:  runID,
		logger: log,
		fetcher: fetcher.New(fetcher.Options{
			Hasher:  digest.Hasher{IgnoreFieldOrder: cfg.IgnoreFieldOrder},
			Timeout: time.Duration(cfg.FetchTimeoutMS) * time.Millisecond,
			Rate:    cfg.FetchRate,
		}),
		workerTracker: NewWorkerTracker(cfg.TaskCount),
		results:       msync.NewDataGuard([]CollectionResult{}),
	}

	if cfg.ComparisonMode == config.SampleMode {
		ids, err := cfg.SampleIDs()
		if err != nil {
			return nil, err
		}
		verifier.sampleIDs = ids
	}

	return verifier, nil
}

func (verifier *Verifier) SetSource(c Cluster) {
	verifier.src = c
}

func (verifier *Verifier) SetDestination(c Cluster) {
	verifier.dst = c
}

func (verifier *Verifier) SetSnapshotStore(s *snapshot.Store) {
	verifier.store = s
}

// RunLogPaths gives the log files for a run, e.g.
// cmp_export/cmp_log_0_100.txt and cmp_export/cmp_diff_log_0_100.txt.
func RunLogPaths(cfg *config.Config) logger.RunLogPaths {
	prefix := cfg.Mode.LogPrefix()
	dir := filepath.Join(cfg.ExportDir, prefix+"_export")
	rangeSuffix := fmt.Sprintf("_%d_%d.txt", cfg.SampleStartIdx, cfg.SampleEnd())

	return logger.RunLogPaths{
		Info:  filepath.Join(dir, prefix+"_log"+rangeSuffix),
		Error: filepath.Join(dir, prefix+"_"+cfg.Mode.ErrorLogLabel()+"_log"+rangeSuffix),
	}
}

// SnapshotDir is where the file backend keeps snapshots.
func SnapshotDir(cfg *config.Config) string {
	return filepath.Join(cfg.ExportDir, "write_export")
}

func (verifier *Verifier) snapshotKey(namespace string) snapshot.Key {
	return snapshot.Key{
		Namespace: namespace,
		Start:     verifier.cfg.SampleStartIdx,
		Count:     verifier.cfg.SampleCount,
	}
}

// Connect opens whatever the mode needs and has not been set already:
// cluster connections and the snapshot store.
func (verifier *Verifier) Connect(ctx context.Context) error {
	cfg := verifier.cfg

	if verifier.src == nil && cfg.SrcURL != "" {
		client, err := verifier.connectCluster(ctx, "source", cfg.SrcURL)
		if err != nil {
			return err
		}
		verifier.src = MongoCluster{client}
	}

	if verifier.dst == nil && cfg.Mode.NeedsDestination() {
		client, err := verifier.connectCluster(ctx, "destination", cfg.DstURL)
		if err != nil {
			return err
		}
		verifier.dst = MongoCluster{client}
	}

	if verifier.store == nil && cfg.Mode.UsesSnapshot() {
		store, err := verifier.openSnapshotStore()
		if err != nil {
			return err
		}
		verifier.store = store
	}

	return nil
}

func (verifier *Verifier) openSnapshotStore() (*snapshot.Store, error) {
	cfg := verifier.cfg

	var catalog *snapshot.Catalog
	if cfg.CatalogDir != "" {
		var err error
		catalog, err = snapshot.OpenCatalog(verifier.logger, cfg.CatalogDir)
		if err != nil {
			return nil, err
		}

		verifier.closers = append(verifier.closers, func(context.Context) error {
			return errors.Wrap(catalog.Close(), "closing snapshot catalog")
		})
	}

	var backend snapshot.Backend
	switch cfg.SnapshotStore {
	case config.S3Backend:
		client, err := snapshot.NewObjectClient(cfg.SnapshotS3)
		if err != nil {
			return nil, err
		}
		backend = snapshot.NewObjectBackend(client, cfg.SnapshotS3.Bucket, cfg.SnapshotS3.Prefix, verifier.runID)
	default:
		backend = snapshot.NewFileBackend(SnapshotDir(cfg))
	}

	return snapshot.NewStore(verifier.logger, backend, catalog, verifier.runID), nil
}

// Close releases everything Connect opened.
func (verifier *Verifier) Close(ctx context.Context) {
	for _, closer := range lo.Reverse(verifier.closers) {
		if err := closer(ctx); err != nil {
			verifier.logger.Warn().Err(err).Msg("Cleanup failed.")
		}
	}
	verifier.closers = nil
}

// Execute connects, runs, and cleans up, whatever happens along the way.
func (verifier *Verifier) Execute(ctx context.Context) Result {
	defer verifier.Close(context.WithoutCancel(ctx))

	if err := verifier.Connect(ctx); err != nil {
		verifier.logger.Error().Err(err).Msg("Failed to connect.")
		verifier.logger.Error().Msg(Fail.String())
		return Fail
	}

	return verifier.Run(ctx)
}

// Run verifies every configured collection and reports the verdict.
// Every collection is verified even after one fails.
func (verifier *Verifier) Run(ctx context.Context) (result Result) {
	start := time.Now()

	verifier.logger.Info().Msg("==============================================")
	verifier.logger.Info().
		Str("runID", verifier.runID).
		Stringer("mode", verifier.cfg.Mode).
		Msgf("Configuration %s", verifier.cfg.Redacted())

	defer func() {
		if r := recover(); r != nil {
			verifier.logger.Error().Any("panic", r).Msg("Verification failed unexpectedly.")
			result = Fail
		}

		verifier.logger.Info().Msg(verifier.summary())
		verifier.logger.Info().Msgf("runtime %s", reportutils.DurationToHMS(time.Since(start)))

		if result == Success {
			verifier.logger.Info().Msg(result.String())
		} else {
			verifier.logger.Error().Msg(result.String())
		}
	}()

	result = Success

	for _, namespace := range verifier.namespaces() {
		if ctx.Err() != nil {
			verifier.logger.Error().Err(context.Cause(ctx)).Msg("Verification interrupted.")
			return Fail
		}

		res := verifier.verifyCollection(ctx, namespace)

		verifier.results.Store(func(rs []CollectionResult) []CollectionResult {
			return append(rs, res)
		})

		if !res.Passed {
			result = Fail
		}
	}

	return result
}

// namespaces lists every configured db/collection pair, database-major.
func (verifier *Verifier) namespaces() []string {
	var out []string
	for _, db := range verifier.cfg.CompareDBs {
		for _, coll := range verifier.cfg.CompareColls {
			out = append(out, mmongo.JoinNamespace(db, coll))
		}
	}

	return out
}

// Results returns the per-collection results so far.
func (verifier *Verifier) Results() []CollectionResult {
	var out []CollectionResult
	verifier.results.Load(func(rs []CollectionResult) {
		out = append(out, rs...)
	})

	return out
}
