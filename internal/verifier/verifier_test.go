package verifier

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mongodb-labs/digest-verifier/internal/config"
	"github.com/mongodb-labs/digest-verifier/internal/digest"
	"github.com/mongodb-labs/digest-verifier/internal/fetcher"
	"github.com/mongodb-labs/digest-verifier/internal/logger"
	"github.com/mongodb-labs/digest-verifier/internal/snapshot"
	"github.com/mongodb-labs/digest-verifier/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

type UnitTestSuite struct {
	suite.Suite
}

func TestUnitTestSuite(t *testing.T) {
	suite.Run(t, new(UnitTestSuite))
}

// fakeCluster maps "db.coll" to in-memory collections.
type fakeCluster map[string]*testutil.FakeCollection

func (fc fakeCluster) Collection(db, coll string) fetcher.Collection {
	ns := db + "." + coll
	if c, ok := fc[ns]; ok {
		return c
	}

	c := testutil.NewFakeCollection(coll)
	fc[ns] = c
	return c
}

func doc(id any, fields ...bson.E) bson.D {
	return append(bson.D{{"_id", id}}, fields...)
}

func (s *UnitTestSuite) testConfig(mode config.Mode, samples ...string) *config.Config {
	return &config.Config{
		SrcURL:             "mongodb://src",
		DstURL:             "mongodb://dst",
		CompareDBs:         []string{"shop"},
		CompareColls:       []string{"orders"},
		ComparisonMode:     config.SampleMode,
		SampleList:         samples,
		SampleCount:        len(samples),
		SampleIDType:       config.StringID,
		QueryBatch:         2,
		TaskCount:          3,
		ExportDir:          s.T().TempDir(),
		SnapshotStore:      config.FileBackend,
		FailureDisplaySize: config.DefaultFailureDisplaySize,
		Mode:               mode,
	}
}

func (s *UnitTestSuite) newVerifier(cfg *config.Config) *Verifier {
	verifier, err := NewVerifier(cfg, logger.NewDebugLogger(), "test-run")
	s.Require().NoError(err)
	return verifier
}

func (s *UnitTestSuite) fileStore(dir string) *snapshot.Store {
	return snapshot.NewStore(logger.NewDebugLogger(), snapshot.NewFileBackend(dir), nil, "test-run")
}

func (s *UnitTestSuite) TestRunPoolRunsEachUnitOnce() {
	units := lo.Range(53)

	for _, workers := range []int{1, 3, 16, 100} {
		var mu sync.Mutex
		seen := map[int]int{}

		err := RunPool(
			context.Background(),
			logger.NewDebugLogger(),
			workers,
			units,
			func(_ context.Context, workerNum int, unit int) {
				s.Assert().Less(workerNum, workers)

				mu.Lock()
				defer mu.Unlock()
				seen[unit]++
			},
		)
		s.Require().NoError(err, "workers: %d", workers)

		s.Assert().Len(seen, len(units), "workers: %d", workers)
		for unit, times := range seen {
			s.Assert().Equal(1, times, "workers: %d, unit: %d", workers, unit)
		}
	}
}

func (s *UnitTestSuite) TestRunPoolSurvivesPanickingUnit() {
	var mu sync.Mutex
	seen := map[int]int{}

	err := RunPool(
		context.Background(),
		logger.NewDebugLogger(),
		2,
		lo.Range(10),
		func(_ context.Context, _ int, unit int) {
			mu.Lock()
			seen[unit]++
			mu.Unlock()

			if unit == 4 {
				panic("bad unit")
			}
		},
	)
	s.Require().Error(err)
	s.Assert().Contains(err.Error(), "1 unit(s) panicked")

	s.Assert().Len(seen, 10, "the other units still run")
	for unit, times := range seen {
		s.Assert().Equal(1, times, "unit: %d", unit)
	}
}

func (s *UnitTestSuite) TestRunPoolRejectsNoWorkers() {
	err := RunPool(context.Background(), logger.NewDebugLogger(), 0, []int{1}, func(context.Context, int, int) {
		s.Fail("work should not run")
	})
	s.Assert().Error(err)
}

func (s *UnitTestSuite) TestRunPoolStopsOnCancel() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := 0
	err := RunPool(ctx, logger.NewDebugLogger(), 1, []int{1, 2, 3}, func(context.Context, int, int) {
		ran++
	})
	s.Assert().ErrorIs(err, context.Canceled)
	s.Assert().Zero(ran)
}

func (s *UnitTestSuite) TestReconcile() {
	rec := reconcile(
		digest.Map{"a": "1", "b": "2", "c": "3"},
		digest.Map{"b": "2", "c": "x", "d": "4"},
	)

	s.Assert().Equal([]string{"a"}, rec.Missing)
	s.Assert().Equal([]string{"d"}, rec.Extra)
	s.Assert().Equal([]string{"c"}, rec.Differing)
	s.Assert().False(rec.Equal())

	s.Assert().True(reconcile(digest.Map{"a": "1"}, digest.Map{"a": "1"}).Equal())
}

func (s *UnitTestSuite) TestLiveComparePasses() {
	src := fakeCluster{}
	dst := fakeCluster{}
	for _, c := range []fakeCluster{src, dst} {
		c.Collection("shop", "orders").(*testutil.FakeCollection).Put(doc("a", bson.E{"n", 1}))
		c.Collection("shop", "orders").(*testutil.FakeCollection).Put(doc("b", bson.E{"n", 2}))
	}

	verifier := s.newVerifier(s.testConfig(config.LiveCompare, "a", "b"))
	verifier.SetSource(src)
	verifier.SetDestination(dst)

	s.Require().Equal(Success, verifier.Run(context.Background()))

	results := verifier.Results()
	s.Require().Len(results, 1)
	s.Assert().True(results[0].Passed)
	s.Assert().EqualValues(2, results[0].Processed)
	s.Assert().EqualValues(2, results[0].Total)
	s.Assert().EqualValues(1, results[0].Units)
	s.Assert().Zero(results[0].Mismatches)
}

func (s *UnitTestSuite) TestLiveCompareReportsMissingAndDiffering() {
	src := fakeCluster{}
	dst := fakeCluster{}

	srcColl := src.Collection("shop", "orders").(*testutil.FakeCollection)
	dstColl := dst.Collection("shop", "orders").(*testutil.FakeCollection)

	srcColl.Put(doc("a", bson.E{"n", 1}))
	srcColl.Put(doc("b", bson.E{"n", 2}))
	srcColl.Put(doc("c", bson.E{"n", 3}))
	srcColl.Put(doc("d", bson.E{"n", 4}))

	// Unit [a b]: a is missing. Unit [c d]: d differs.
	dstColl.Put(doc("b", bson.E{"n", 2}))
	dstColl.Put(doc("c", bson.E{"n", 3}))
	dstColl.Put(doc("d", bson.E{"n", 40}))

	verifier := s.newVerifier(s.testConfig(config.LiveCompare, "a", "b", "c", "d"))
	verifier.SetSource(src)
	verifier.SetDestination(dst)

	s.Require().Equal(Fail, verifier.Run(context.Background()))

	res := verifier.Results()[0]
	s.Assert().False(res.Passed)
	s.Assert().EqualValues(4, res.Processed)
	s.Assert().EqualValues(2, res.Mismatches)
	s.Assert().ElementsMatch(
		[]Mismatch{
			{Namespace: "shop.orders", ID: "a", Kind: MissingOnDestination, Unit: 0},
			{Namespace: "shop.orders", ID: "d", Kind: ContentDiffers, Unit: 2},
		},
		res.Samples,
	)
}

func (s *UnitTestSuite) TestLiveCompareLogsCardinalityMismatch() {
	src := fakeCluster{}
	dst := fakeCluster{}

	srcColl := src.Collection("shop", "orders").(*testutil.FakeCollection)
	srcColl.Put(doc("a", bson.E{"n", 1}))
	srcColl.Put(doc("b", bson.E{"n", 2}))

	// "b" is identical on both sides, so only the count and "a" differ.
	dst.Collection("shop", "orders").(*testutil.FakeCollection).Put(doc("b", bson.E{"n", 2}))

	buf := &bytes.Buffer{}
	zl := zerolog.New(zerolog.SyncWriter(buf))

	verifier, err := NewVerifier(s.testConfig(config.LiveCompare, "a", "b"), logger.NewLogger(&zl, buf), "test-run")
	s.Require().NoError(err)
	verifier.SetSource(src)
	verifier.SetDestination(dst)

	s.Require().Equal(Fail, verifier.Run(context.Background()))

	out := buf.String()
	s.Assert().Contains(out, "DIFF => src docs count: 2 != dst docs count: 1, missing ids: [a]")
	s.Assert().Contains(out, "DIFF => _id: a")
	s.Assert().NotContains(out, "DIFF => _id: b")

	res := verifier.Results()[0]
	s.Assert().EqualValues(1, res.Units)
	s.Assert().Equal(
		[]Mismatch{{Namespace: "shop.orders", ID: "a", Kind: MissingOnDestination, Unit: 0}},
		res.Samples,
	)
}

func (s *UnitTestSuite) TestLiveCompareFailsUnitOnEmptyFetch() {
	src := fakeCluster{}
	dst := fakeCluster{}

	srcColl := src.Collection("shop", "orders").(*testutil.FakeCollection)
	srcColl.Put(doc("a"))
	srcColl.Put(doc("b"))
	srcColl.FindErr = errors.New("connection reset")

	dst.Collection("shop", "orders").(*testutil.FakeCollection).Put(doc("a"))
	dst.Collection("shop", "orders").(*testutil.FakeCollection).Put(doc("b"))

	verifier := s.newVerifier(s.testConfig(config.LiveCompare, "a", "b"))
	verifier.SetSource(src)
	verifier.SetDestination(dst)

	s.Require().Equal(Fail, verifier.Run(context.Background()))

	res := verifier.Results()[0]
	s.Assert().EqualValues(2, res.Processed, "failed units still count as processed")
	s.Require().Len(res.Samples, 1)
	s.Assert().Equal(UnitFetchFailed, res.Samples[0].Kind)
}

func (s *UnitTestSuite) TestEmptyCollectionPassesWithoutFetching() {
	src := fakeCluster{}
	dst := fakeCluster{}
	srcColl := src.Collection("shop", "orders").(*testutil.FakeCollection)
	dstColl := dst.Collection("shop", "orders").(*testutil.FakeCollection)

	verifier := s.newVerifier(s.testConfig(config.LiveCompare, "a", "b"))
	verifier.SetSource(src)
	verifier.SetDestination(dst)

	s.Require().Equal(Success, verifier.Run(context.Background()))
	s.Assert().Zero(srcColl.Finds())
	s.Assert().Zero(dstColl.Finds())
	s.Assert().EqualValues(0, verifier.Results()[0].Total)
}

func (s *UnitTestSuite) TestSampleIsCappedByCollectionSize() {
	src := fakeCluster{}
	dst := fakeCluster{}
	for _, c := range []fakeCluster{src, dst} {
		c.Collection("shop", "orders").(*testutil.FakeCollection).Put(doc("a"))
	}

	verifier := s.newVerifier(s.testConfig(config.LiveCompare, "a", "b", "c"))
	verifier.SetSource(src)
	verifier.SetDestination(dst)

	s.Require().Equal(Success, verifier.Run(context.Background()))
	s.Assert().EqualValues(1, verifier.Results()[0].Total)
}

func (s *UnitTestSuite) TestEveryCollectionIsVerified() {
	src := fakeCluster{}
	dst := fakeCluster{}

	src.Collection("shop", "orders").(*testutil.FakeCollection).Put(doc("a", bson.E{"v", 1}))
	dst.Collection("shop", "orders").(*testutil.FakeCollection).Put(doc("a", bson.E{"v", 2}))
	for _, c := range []fakeCluster{src, dst} {
		c.Collection("shop", "users").(*testutil.FakeCollection).Put(doc("a"))
	}

	cfg := s.testConfig(config.LiveCompare, "a")
	cfg.CompareColls = []string{"orders", "users"}

	verifier := s.newVerifier(cfg)
	verifier.SetSource(src)
	verifier.SetDestination(dst)

	s.Require().Equal(Fail, verifier.Run(context.Background()))

	results := verifier.Results()
	s.Require().Len(results, 2)
	s.Assert().False(results[0].Passed)
	s.Assert().True(results[1].Passed)
}

func (s *UnitTestSuite) TestSnapshotWriteThenLoadCompare() {
	src := fakeCluster{}
	dst := fakeCluster{}
	for _, c := range []fakeCluster{src, dst} {
		coll := c.Collection("shop", "orders").(*testutil.FakeCollection)
		for _, id := range []string{"a", "b", "c"} {
			coll.Put(doc(id, bson.E{"name", "item " + id}))
		}
	}

	dir := s.T().TempDir()

	writeCfg := s.testConfig(config.SnapshotWrite, "a", "b", "c")
	writer := s.newVerifier(writeCfg)
	writer.SetSource(src)
	writer.SetSnapshotStore(s.fileStore(dir))

	s.Require().Equal(Success, writer.Run(context.Background()))
	s.Assert().FileExists(filepath.Join(dir, "shop.orders_0_3.txt"))

	loadCfg := s.testConfig(config.SnapshotLoadCompare, "a", "b", "c")
	loader := s.newVerifier(loadCfg)
	loader.SetDestination(dst)
	loader.SetSnapshotStore(s.fileStore(dir))

	s.Require().Equal(Success, loader.Run(context.Background()))
	s.Assert().EqualValues(3, loader.Results()[0].Processed)

	// A change on the destination is caught against the snapshot.
	dst.Collection("shop", "orders").(*testutil.FakeCollection).Put(doc("b", bson.E{"name", "changed"}))

	loader = s.newVerifier(loadCfg)
	loader.SetDestination(dst)
	loader.SetSnapshotStore(s.fileStore(dir))

	s.Require().Equal(Fail, loader.Run(context.Background()))
	s.Require().Len(loader.Results()[0].Samples, 1)
	s.Assert().Equal("b", loader.Results()[0].Samples[0].ID)
	s.Assert().Equal(ContentDiffers, loader.Results()[0].Samples[0].Kind)
}

func (s *UnitTestSuite) TestSnapshotWriteSkipsEmptyCollection() {
	dir := s.T().TempDir()

	writer := s.newVerifier(s.testConfig(config.SnapshotWrite, "a"))
	writer.SetSource(fakeCluster{})
	writer.SetSnapshotStore(s.fileStore(dir))

	s.Require().Equal(Success, writer.Run(context.Background()))
	s.Assert().NoFileExists(filepath.Join(dir, "shop.orders_0_1.txt"))
}

func (s *UnitTestSuite) TestLoadCompareWithoutSnapshotFails() {
	dst := fakeCluster{}
	dst.Collection("shop", "orders").(*testutil.FakeCollection).Put(doc("a"))

	loader := s.newVerifier(s.testConfig(config.SnapshotLoadCompare, "a"))
	loader.SetDestination(dst)
	loader.SetSnapshotStore(s.fileStore(s.T().TempDir()))

	s.Require().Equal(Fail, loader.Run(context.Background()))

	res := loader.Results()[0]
	s.Assert().False(res.Passed)
	s.Assert().ErrorIs(res.Err, config.ErrInvalid)
	s.Assert().ErrorIs(res.Err, snapshot.ErrNotFound)
}

func (s *UnitTestSuite) TestLoadCompareRefetchesSnapshotGaps() {
	src := fakeCluster{}
	dst := fakeCluster{}
	srcColl := src.Collection("shop", "orders").(*testutil.FakeCollection)
	dstColl := dst.Collection("shop", "orders").(*testutil.FakeCollection)

	// Only "a" exists on the source when the snapshot is written.
	srcColl.Put(doc("a", bson.E{"v", 1}))

	dir := s.T().TempDir()

	writer := s.newVerifier(s.testConfig(config.SnapshotWrite, "a", "b"))
	writer.SetSource(src)
	writer.SetSnapshotStore(s.fileStore(dir))
	s.Require().Equal(Success, writer.Run(context.Background()))

	srcColl.Put(doc("b", bson.E{"v", 2}))
	dstColl.Put(doc("a", bson.E{"v", 1}))
	dstColl.Put(doc("b", bson.E{"v", 2}))

	loader := s.newVerifier(s.testConfig(config.SnapshotLoadCompare, "a", "b"))
	loader.SetSource(src)
	loader.SetDestination(dst)
	loader.SetSnapshotStore(s.fileStore(dir))

	s.Require().Equal(Success, loader.Run(context.Background()))

	// Without a source the gap cannot be filled.
	loader = s.newVerifier(s.testConfig(config.SnapshotLoadCompare, "a", "b"))
	loader.SetDestination(dst)
	loader.SetSnapshotStore(s.fileStore(dir))

	s.Require().Equal(Fail, loader.Run(context.Background()))

	res := loader.Results()[0]
	s.Require().Len(res.Samples, 1)
	s.Assert().Equal(Mismatch{Namespace: "shop.orders", ID: "b", Kind: MissingOnSource, Unit: 0}, res.Samples[0])
}

func (s *UnitTestSuite) TestLoadCompareRefetchesWithDestinationID() {
	src := fakeCluster{}
	dst := fakeCluster{}
	srcColl := src.Collection("shop", "orders").(*testutil.FakeCollection)
	dstColl := dst.Collection("shop", "orders").(*testutil.FakeCollection)

	writeCfg := s.testConfig(config.SnapshotWrite, "1", "2")
	writeCfg.SampleIDType = config.AutoID

	srcColl.Put(doc(int64(1), bson.E{"v", 1}))

	dir := s.T().TempDir()
	writer := s.newVerifier(writeCfg)
	writer.SetSource(src)
	writer.SetSnapshotStore(s.fileStore(dir))
	s.Require().Equal(Success, writer.Run(context.Background()))

	// _id 2 arrives after the snapshot, stored as a double on both sides.
	srcColl.Put(doc(2.0, bson.E{"v", 2}))
	dstColl.Put(doc(int64(1), bson.E{"v", 1}))
	dstColl.Put(doc(2.0, bson.E{"v", 2}))

	loadCfg := s.testConfig(config.SnapshotLoadCompare, "1", "2")
	loadCfg.SampleIDType = config.AutoID

	loader := s.newVerifier(loadCfg)
	loader.SetSource(src)
	loader.SetDestination(dst)
	loader.SetSnapshotStore(s.fileStore(dir))

	before := len(srcColl.Filters())
	s.Require().Equal(Success, loader.Run(context.Background()))

	filters := srcColl.Filters()[before:]
	s.Require().Len(filters, 1, "only the snapshot gap goes back to the source")
	s.Require().Equal("_id", filters[0][0].Key)

	id, ok := filters[0][0].Value.(bson.RawValue)
	s.Require().True(ok, "refetch uses the _id as read from the destination, got %T", filters[0][0].Value)
	s.Assert().Equal(bsontype.Double, id.Type)
	s.Assert().Equal(2.0, id.Double())
}

func (s *UnitTestSuite) TestFullModeScansRange() {
	src := fakeCluster{}
	dst := fakeCluster{}

	for i := range int64(6) {
		src.Collection("shop", "orders").(*testutil.FakeCollection).Put(doc(i, bson.E{"i", i}))
	}

	// Only _ids 1 through 3 fall in the range, so 0, 4 and 5 are never
	// compared.
	for i := range int64(4) {
		if i > 0 {
			dst.Collection("shop", "orders").(*testutil.FakeCollection).Put(doc(i, bson.E{"i", i}))
		}
	}

	cfg := s.testConfig(config.LiveCompare)
	cfg.ComparisonMode = config.FullMode
	cfg.SampleStartIdx = 1
	cfg.SampleCount = 3

	verifier := s.newVerifier(cfg)
	verifier.SetSource(src)
	verifier.SetDestination(dst)

	s.Require().Equal(Success, verifier.Run(context.Background()))
	s.Assert().EqualValues(3, verifier.Results()[0].Processed)
}

func (s *UnitTestSuite) TestRunLogPaths() {
	cfg := s.testConfig(config.LiveCompare)
	cfg.ExportDir = "out"
	cfg.SampleStartIdx = 100
	cfg.SampleCount = 50

	s.Assert().Equal(
		logger.RunLogPaths{
			Info:  filepath.Join("out", "cmp_export", "cmp_log_100_150.txt"),
			Error: filepath.Join("out", "cmp_export", "cmp_diff_log_100_150.txt"),
		},
		RunLogPaths(cfg),
	)

	cfg.Mode = config.SnapshotLoadCompare
	s.Assert().Equal(
		filepath.Join("out", "load_export", "load_error_log_100_150.txt"),
		RunLogPaths(cfg).Error,
	)

	s.Assert().Equal(filepath.Join("out", "write_export"), SnapshotDir(cfg))
}

func (s *UnitTestSuite) TestResultExitCodes() {
	s.Assert().Equal(0, Success.ExitCode())
	s.Assert().Equal(1, Fail.ExitCode())
	s.Assert().Equal(2, Aborted.ExitCode())
	s.Assert().Equal("SUCCESS", Success.String())
	s.Assert().Equal("ABORTED", Aborted.String())
}

func (s *UnitTestSuite) TestSummaryListsCollectionsAndMismatches() {
	src := fakeCluster{}
	dst := fakeCluster{}
	src.Collection("shop", "orders").(*testutil.FakeCollection).Put(doc("a", bson.E{"v", 1}))
	dst.Collection("shop", "orders").(*testutil.FakeCollection).Put(doc("a", bson.E{"v", 2}))

	verifier := s.newVerifier(s.testConfig(config.LiveCompare, "a"))
	verifier.SetSource(src)
	verifier.SetDestination(dst)
	verifier.Run(context.Background())

	summary := verifier.summary()
	s.Assert().Contains(summary, "shop.orders")
	s.Assert().Contains(summary, "DIFF")
	s.Assert().Contains(summary, string(ContentDiffers))
	s.Assert().Contains(summary, "Collections passed: 0 of 1")
}
