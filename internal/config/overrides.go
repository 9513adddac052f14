package config

import (
	"github.com/huandu/go-clone/generic"
)

// Overrides are the command-line settings that take precedence over the
// configuration file. Nil fields, and values outside their valid range,
// leave the file's setting in place.
type Overrides struct {
	Mode      Mode
	StartIdx  *int
	Count     *int
	Batch     *int
	TaskCount *int
	Debug     bool
}

// WithOverrides returns a copy of the configuration with the overrides
// folded in. The receiver is left as it was.
func (c *Config) WithOverrides(o Overrides) *Config {
	out := clone.Clone(c)

	out.Mode = o.Mode

	if o.StartIdx != nil && *o.StartIdx >= 0 {
		out.SampleStartIdx = *o.StartIdx
	}
	if o.Count != nil && *o.Count > 0 {
		out.SampleCount = *o.Count
	}
	if o.Batch != nil && *o.Batch > 0 {
		out.QueryBatch = *o.Batch
	}
	if o.TaskCount != nil && *o.TaskCount > 0 {
		out.TaskCount = *o.TaskCount
	}
	if o.Debug {
		out.Debug = true
	}

	return out
}
