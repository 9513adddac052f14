// Package config holds the verifier's configuration: the JSON file, the
// command-line overrides folded into it, and the sample of _ids it selects.
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/mongodb-labs/digest-verifier/mmongo"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// ErrInvalid marks configuration errors. These abort the run (or the
// affected collection) and are never retried.
var ErrInvalid = errors.New("invalid configuration")

// ErrBadEndpoint marks an empty or non-MongoDB connection string. It is an
// ErrInvalid, but the run still opens its logs and reports FAIL for it.
var ErrBadEndpoint = fmt.Errorf("%w: bad endpoint", ErrInvalid)

// ComparisonMode selects where a run's _ids come from.
type ComparisonMode string

const (
	// SampleMode takes _ids from the sample file.
	SampleMode ComparisonMode = "sample"

	// FullMode scans _ids, in order, from the collection itself.
	FullMode ComparisonMode = "full"
)

// IDType tells how to parse lines of the sample file into _ids.
type IDType string

const (
	IntID      IDType = "int"
	StringID   IDType = "string"
	ObjectIDID IDType = "objectid"

	// AutoID tries int, then ObjectID, then falls back to string.
	AutoID IDType = "auto"
)

// SnapshotBackend selects where snapshot mode persists digests.
type SnapshotBackend string

const (
	FileBackend SnapshotBackend = "file"
	S3Backend   SnapshotBackend = "s3"
)

const (
	DefaultQueryBatch         = 20
	DefaultFailureDisplaySize = 20
	DefaultConfigFile         = "compare_conf.json"
)

// S3Config describes an S3-compatible object store for snapshots.
type S3Config struct {
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	UseSSL    bool   `json:"use_ssl"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Prefix    string `json:"prefix"`
}

// Config is the full run configuration. It is read once, has overrides
// applied to a copy, and is not changed after the run starts.
type Config struct {
	SrcURL string `json:"src_url"`
	DstURL string `json:"dst_url"`

	CompareDBs   []string `json:"compare_dbs"`
	CompareColls []string `json:"compare_colls"`

	ComparisonMode ComparisonMode `json:"comparison_mode"`

	SampleFileName string   `json:"sample_file_name"`
	SampleList     []string `json:"sample_list"`
	SampleStartIdx int      `json:"sample_start_idx"`
	SampleCount    int      `json:"sample_count"`
	SampleIDType   IDType   `json:"sample_id_type"`

	QueryBatch int `json:"query_batch"`
	TaskCount  int `json:"task_count"`

	IgnoreFieldOrder bool    `json:"ignore_field_order"`
	FetchTimeoutMS   int     `json:"fetch_timeout_ms"`
	FetchRate        float64 `json:"fetch_rate"`

	ExportDir     string          `json:"export_dir"`
	SnapshotStore SnapshotBackend `json:"snapshot_store"`
	SnapshotS3    S3Config        `json:"snapshot_s3"`
	CatalogDir    string          `json:"catalog_dir"`

	StatusPort         int  `json:"status_port"`
	FailureDisplaySize int  `json:"failure_display_size"`
	Debug              bool `json:"debug"`

	// Mode is chosen on the command line, never in the file.
	Mode Mode `json:"-"`
}

// Load reads and decodes the JSON configuration file at path, then fills
// in defaults. It does not validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalid, "reading config file %#q: %v", path, err)
	}

	return Parse(data)
}

// Parse decodes JSON configuration and fills in defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(ErrInvalid, "decoding config: %v", err)
	}

	cfg.setDefaults()

	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.QueryBatch == 0 {
		c.QueryBatch = DefaultQueryBatch
	}
	if c.ComparisonMode == "" {
		c.ComparisonMode = SampleMode
	}
	if c.SampleIDType == "" {
		c.SampleIDType = IntID
	}
	if c.SnapshotStore == "" {
		c.SnapshotStore = FileBackend
	}
	if c.FailureDisplaySize == 0 {
		c.FailureDisplaySize = DefaultFailureDisplaySize
	}
	if c.ExportDir == "" {
		c.ExportDir = "."
	}
}

// Validate reports the first configuration problem it finds, wrapped in
// ErrInvalid.
func (c *Config) Validate() error {
	if err := c.Mode.Validate(); err != nil {
		return err
	}

	if c.Mode.NeedsSource() || c.SrcURL != "" {
		if err := mmongo.CheckScheme(c.SrcURL); err != nil {
			return errors.Wrapf(ErrBadEndpoint, "src_url: %v", err)
		}
	}

	if c.Mode.NeedsDestination() {
		if err := mmongo.CheckScheme(c.DstURL); err != nil {
			return errors.Wrapf(ErrBadEndpoint, "dst_url: %v", err)
		}
	}

	switch {
	case len(c.CompareDBs) == 0:
		return errors.Wrap(ErrInvalid, "compare_dbs is empty")
	case len(c.CompareColls) == 0:
		return errors.Wrap(ErrInvalid, "compare_colls is empty")
	case c.TaskCount <= 0:
		return errors.Wrapf(ErrInvalid, "task_count must be positive (got %d)", c.TaskCount)
	case c.QueryBatch <= 0:
		return errors.Wrapf(ErrInvalid, "query_batch must be positive (got %d)", c.QueryBatch)
	case c.SampleStartIdx < 0:
		return errors.Wrapf(ErrInvalid, "sample_start_idx must not be negative (got %d)", c.SampleStartIdx)
	case c.FetchTimeoutMS < 0 || c.FetchRate < 0:
		return errors.Wrap(ErrInvalid, "fetch_timeout_ms and fetch_rate must not be negative")
	}

	if !lo.Contains([]ComparisonMode{SampleMode, FullMode}, c.ComparisonMode) {
		return errors.Wrapf(ErrInvalid, "comparison_mode %#q is neither %#q nor %#q", c.ComparisonMode, SampleMode, FullMode)
	}

	if !lo.Contains([]IDType{IntID, StringID, ObjectIDID, AutoID}, c.SampleIDType) {
		return errors.Wrapf(ErrInvalid, "unknown sample_id_type %#q", c.SampleIDType)
	}

	if c.ComparisonMode == SampleMode && c.SampleCount <= 0 {
		return errors.Wrapf(ErrInvalid, "sample_count must be positive in %#q mode (got %d)", SampleMode, c.SampleCount)
	}

	switch c.SnapshotStore {
	case FileBackend:
	case S3Backend:
		if c.Mode.UsesSnapshot() && (c.SnapshotS3.Endpoint == "" || c.SnapshotS3.Bucket == "") {
			return errors.Wrap(ErrInvalid, "snapshot_s3 needs an endpoint and a bucket")
		}
	default:
		return errors.Wrapf(ErrInvalid, "unknown snapshot_store %#q", c.SnapshotStore)
	}

	return nil
}

// SampleEnd is the exclusive end of the configured sample range.
func (c *Config) SampleEnd() int {
	return c.SampleStartIdx + c.SampleCount
}
