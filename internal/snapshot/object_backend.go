package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/mongodb-labs/digest-verifier/internal/config"
	"github.com/pkg/errors"
)

// ObjectClient is the part of the minio client that ObjectBackend uses.
type ObjectClient interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

type minioClient struct {
	*minio.Client
}

func (c *minioClient) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	return c.Client.GetObject(ctx, bucketName, objectName, opts)
}

// NewObjectClient connects to an S3-compatible store. The connection is
// lazy; the first request surfaces any problem.
func NewObjectClient(cfg config.S3Config) (ObjectClient, error) {
	endpoint := strings.TrimPrefix(cfg.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "creating object store client for %#q", cfg.Endpoint)
	}

	return &minioClient{Client: client}, nil
}

// ObjectBackend keeps each blob as its own object,
// <prefix>/<key name>/<time>-<run id>.json, so appends never rewrite data.
type ObjectBackend struct {
	client ObjectClient
	bucket string
	prefix string
	runID  string
	now    func() time.Time
}

var _ Backend = &ObjectBackend{}

func NewObjectBackend(client ObjectClient, bucket, prefix, runID string) *ObjectBackend {
	return &ObjectBackend{
		client: client,
		bucket: bucket,
		prefix: prefix,
		runID:  runID,
		now:    time.Now,
	}
}

func (b *ObjectBackend) keyPrefix(key Key) string {
	return path.Join(b.prefix, key.Name()) + "/"
}

func (b *ObjectBackend) Append(ctx context.Context, key Key, blob []byte) (string, error) {
	name := b.keyPrefix(key) + fmt.Sprintf("%020d-%s.json", b.now().UnixNano(), b.runID)

	_, err := b.client.PutObject(
		ctx,
		b.bucket,
		name,
		bytes.NewReader(blob),
		int64(len(blob)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)
	if err != nil {
		return "", errors.Wrapf(err, "uploading %#q to bucket %#q", name, b.bucket)
	}

	return b.bucket + "/" + name, nil
}

func (b *ObjectBackend) Read(ctx context.Context, key Key) ([]byte, error) {
	var names []string

	listing := b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:    b.keyPrefix(key),
		Recursive: true,
	})
	for obj := range listing {
		if obj.Err != nil {
			return nil, errors.Wrapf(obj.Err, "listing %#q in bucket %#q", b.keyPrefix(key), b.bucket)
		}
		names = append(names, obj.Key)
	}

	if len(names) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "no objects under %#q in bucket %#q", b.keyPrefix(key), b.bucket)
	}

	slices.Sort(names)

	var buf bytes.Buffer
	for _, name := range names {
		if err := b.readObject(ctx, name, &buf); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func (b *ObjectBackend) readObject(ctx context.Context, name string, w io.Writer) error {
	obj, err := b.client.GetObject(ctx, b.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return errors.Wrapf(err, "fetching %#q from bucket %#q", name, b.bucket)
	}
	defer obj.Close()

	if _, err := io.Copy(w, obj); err != nil {
		return errors.Wrapf(err, "reading %#q from bucket %#q", name, b.bucket)
	}

	return nil
}
