package snapshot

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/mongodb-labs/digest-verifier/internal/digest"
	"github.com/mongodb-labs/digest-verifier/internal/logger"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type UnitTestSuite struct {
	suite.Suite
	logger *logger.Logger
}

func TestUnitTestSuite(t *testing.T) {
	ts := new(UnitTestSuite)
	ts.logger = logger.NewDebugLogger()
	suite.Run(t, ts)
}

var ordersKey = Key{Namespace: "shop.orders", Start: 0, Count: 100}

func (s *UnitTestSuite) TestKeyName() {
	s.Assert().Equal("shop.orders_0_100", ordersKey.Name())
	s.Assert().Equal("db.c_50_70", Key{Namespace: "db.c", Start: 50, Count: 20}.Name())
}

func (s *UnitTestSuite) TestDecodeConcatenated() {
	cases := []struct {
		in  string
		out []digest.Map
	}{
		{``, nil},
		{`{}`, []digest.Map{{}}},
		{`{"a":"1"}`, []digest.Map{{"a": "1"}}},
		{`{"a":"1"}{"b":"2"}`, []digest.Map{{"a": "1"}, {"b": "2"}}},
		{"{\"a\":\"1\"}\n {\"b\":\"2\"}\n", []digest.Map{{"a": "1"}, {"b": "2"}}},
		{`{"a}{":"x\"}{"}{}`, []digest.Map{{"a}{": `x"}{`}, {}}},
		{`{"a":"1"}{"a":"2"}`, []digest.Map{{"a": "1"}, {"a": "2"}}},
	}

	for _, c := range cases {
		out, err := DecodeConcatenated([]byte(c.in))
		s.Require().NoError(err, c.in)
		s.Assert().Equal(c.out, out, c.in)
	}

	for _, bad := range []string{`{"a":"1"`, `}`, `{"a":"1"}x`, `"a"`, `{"a":1}`} {
		_, err := DecodeConcatenated([]byte(bad))
		s.Assert().Error(err, bad)
	}
}

func (s *UnitTestSuite) TestFileRoundTrip() {
	ctx := context.Background()
	backend := NewFileBackend(filepath.Join(s.T().TempDir(), "write_export"))
	store := NewStore(s.logger, backend, nil, "run-1")

	_, err := store.Load(ctx, ordersKey)
	s.Require().ErrorIs(err, ErrNotFound)

	first := digest.Map{"1": "aaa", "2": "bbb"}
	second := digest.Map{"2": "ccc", "3": "ddd"}

	location, err := store.Write(ctx, ordersKey, first)
	s.Require().NoError(err)
	s.Assert().Equal(backend.Path(ordersKey), location)
	s.Assert().Equal("shop.orders_0_100.txt", filepath.Base(location))

	_, err = store.Write(ctx, ordersKey, second)
	s.Require().NoError(err)

	raw, err := os.ReadFile(location)
	s.Require().NoError(err)
	s.Assert().Contains(string(raw), "}{", "blobs are appended back to back")

	loaded, err := store.Load(ctx, ordersKey)
	s.Require().NoError(err)
	s.Assert().Equal(digest.Map{"1": "aaa", "2": "ccc", "3": "ddd"}, loaded, "later blobs win")

	_, err = store.Write(ctx, Key{Namespace: "shop.empty", Count: 5}, digest.Map{})
	s.Require().NoError(err)
	loaded, err = store.Load(ctx, Key{Namespace: "shop.empty", Count: 5})
	s.Require().NoError(err)
	s.Assert().Empty(loaded)
}

func (s *UnitTestSuite) TestLoadRejectsCorruptFile() {
	ctx := context.Background()
	backend := NewFileBackend(s.T().TempDir())
	s.Require().NoError(os.WriteFile(backend.Path(ordersKey), []byte(`{"1":"a"}{"2":`), 0644))

	_, err := NewStore(s.logger, backend, nil, "run-1").Load(ctx, ordersKey)
	s.Assert().Error(err)
	s.Assert().NotErrorIs(err, ErrNotFound)
}

func (s *UnitTestSuite) TestCatalog() {
	ctx := context.Background()

	catalog, err := OpenCatalog(s.logger, "")
	s.Require().NoError(err)
	defer catalog.Close()

	store := NewStore(s.logger, NewFileBackend(s.T().TempDir()), catalog, "run-7")

	_, err = store.Write(ctx, ordersKey, digest.Map{"1": "a", "2": "b"})
	s.Require().NoError(err)
	_, err = store.Write(ctx, ordersKey, digest.Map{"3": "c"})
	s.Require().NoError(err)
	_, err = store.Write(ctx, Key{Namespace: "shop.other", Count: 100}, digest.Map{"9": "z"})
	s.Require().NoError(err)

	var frags []Fragment
	for res := range catalog.Fragments(ctx, ordersKey) {
		frags = append(frags, res.MustGet())
	}

	s.Require().Len(frags, 2, "only this snapshot's fragments")
	s.Assert().Equal([]int{2, 1}, lo.Map(frags, func(f Fragment, _ int) int { return f.Docs }), "oldest first")
	s.Assert().Equal("run-7", frags[0].RunID)

	loaded, err := store.Load(ctx, ordersKey)
	s.Require().NoError(err)
	s.Assert().Len(loaded, 3)
}

type mockObjectClient struct {
	mock.Mock
}

func (m *mockObjectClient) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	args := m.Called(ctx, bucketName, objectName, reader, objectSize, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func (m *mockObjectClient) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	args := m.Called(ctx, bucketName, objectName, opts)
	if obj, ok := args.Get(0).(io.ReadCloser); ok {
		return obj, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockObjectClient) ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	args := m.Called(ctx, bucketName, opts)
	return args.Get(0).(<-chan minio.ObjectInfo)
}

func listing(infos ...minio.ObjectInfo) <-chan minio.ObjectInfo {
	ch := make(chan minio.ObjectInfo, len(infos))
	for _, info := range infos {
		ch <- info
	}
	close(ch)
	return ch
}

func (s *UnitTestSuite) TestObjectBackend() {
	ctx := context.Background()
	client := &mockObjectClient{}
	backend := NewObjectBackend(client, "snapshots", "verifier", "run-3")
	backend.now = func() time.Time { return time.Unix(0, 42) }

	wantName := "verifier/shop.orders_0_100/00000000000000000042-run-3.json"
	client.On("PutObject", ctx, "snapshots", wantName, mock.Anything, int64(9), mock.Anything).
		Return(minio.UploadInfo{}, nil).Once()

	location, err := backend.Append(ctx, ordersKey, []byte(`{"1":"a"}`))
	s.Require().NoError(err)
	s.Assert().Equal("snapshots/"+wantName, location)

	listOpts := minio.ListObjectsOptions{Prefix: "verifier/shop.orders_0_100/", Recursive: true}
	client.On("ListObjects", ctx, "snapshots", listOpts).
		Return(listing(minio.ObjectInfo{Key: "p/2.json"}, minio.ObjectInfo{Key: "p/1.json"})).Once()
	client.On("GetObject", ctx, "snapshots", "p/1.json", mock.Anything).
		Return(io.NopCloser(bytes.NewBufferString(`{"1":"a"}`)), nil).Once()
	client.On("GetObject", ctx, "snapshots", "p/2.json", mock.Anything).
		Return(io.NopCloser(bytes.NewBufferString(`{"1":"b"}`)), nil).Once()

	loaded, err := NewStore(s.logger, backend, nil, "run-3").Load(ctx, ordersKey)
	s.Require().NoError(err)
	s.Assert().Equal(digest.Map{"1": "b"}, loaded, "objects are merged in name order")

	client.On("ListObjects", ctx, "snapshots", listOpts).Return(listing()).Once()
	_, err = backend.Read(ctx, ordersKey)
	s.Assert().ErrorIs(err, ErrNotFound)

	client.On("ListObjects", ctx, "snapshots", listOpts).
		Return(listing(minio.ObjectInfo{Err: errors.New("access denied")})).Once()
	_, err = backend.Read(ctx, ordersKey)
	s.Assert().ErrorContains(err, "access denied")

	client.AssertExpectations(s.T())
}
