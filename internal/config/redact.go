package config

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/huandu/go-clone/generic"
)

const redacted = "***"

// Redacted renders the configuration as JSON for logging, with
// credentials masked and the sample list left out.
func (c *Config) Redacted() string {
	out := clone.Clone(c)

	out.SrcURL = redactURI(out.SrcURL)
	out.DstURL = redactURI(out.DstURL)
	out.SampleList = nil

	if out.SnapshotS3.AccessKey != "" {
		out.SnapshotS3.AccessKey = redacted
	}
	if out.SnapshotS3.SecretKey != "" {
		out.SnapshotS3.SecretKey = redacted
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "<unprintable config: " + err.Error() + ">"
	}

	return string(data)
}

// redactURI masks the user info of a connection string.
func redactURI(uri string) string {
	scheme, rest, found := strings.Cut(uri, "://")
	if !found {
		return uri
	}

	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return uri
	}

	return scheme + "://" + redacted + rest[at:]
}
