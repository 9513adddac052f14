package config

import (
	"fmt"

	"github.com/pkg/errors"
)

// Mode is the kind of run: live compare, snapshot write, or snapshot
// load-compare.
type Mode int

const (
	ModeUnset Mode = iota
	LiveCompare
	SnapshotWrite
	SnapshotLoadCompare
)

// ResolveMode maps the --mode/--period flag pair onto a Mode.
// --mode 1 is live compare; --mode 2 needs --period 1 (write) or 2 (load).
func ResolveMode(mode, period int) (Mode, error) {
	switch {
	case mode == 1:
		return LiveCompare, nil
	case mode == 2 && period == 1:
		return SnapshotWrite, nil
	case mode == 2 && period == 2:
		return SnapshotLoadCompare, nil
	case mode == 2:
		return ModeUnset, errors.Wrapf(ErrInvalid, "--mode 2 needs --period 1 or 2 (got %d)", period)
	default:
		return ModeUnset, errors.Wrapf(ErrInvalid, "--mode must be 1 or 2 (got %d)", mode)
	}
}

func (m Mode) Validate() error {
	if m < LiveCompare || m > SnapshotLoadCompare {
		return errors.Wrap(ErrInvalid, "no run mode selected")
	}

	return nil
}

func (m Mode) String() string {
	switch m {
	case LiveCompare:
		return "compare"
	case SnapshotWrite:
		return "write"
	case SnapshotLoadCompare:
		return "load"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// NeedsSource reports whether the mode cannot run without a source cluster.
// Load-compare can: it then skips refetching _ids the snapshot lacks.
func (m Mode) NeedsSource() bool {
	return m == LiveCompare || m == SnapshotWrite
}

// NeedsDestination reports whether the mode reads the destination cluster.
func (m Mode) NeedsDestination() bool {
	return m == LiveCompare || m == SnapshotLoadCompare
}

// UsesSnapshot reports whether the mode reads or writes snapshots.
func (m Mode) UsesSnapshot() bool {
	return m == SnapshotWrite || m == SnapshotLoadCompare
}

// LogPrefix is the file-name prefix of the mode's log files.
func (m Mode) LogPrefix() string {
	if m == LiveCompare {
		return "cmp"
	}

	return m.String()
}

// ErrorLogLabel names the mode's error log: cmp_diff_log, write_error_log, ...
func (m Mode) ErrorLogLabel() string {
	if m == LiveCompare {
		return "diff"
	}

	return "error"
}
