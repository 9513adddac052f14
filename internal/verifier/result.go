package verifier

// Result is the verdict of a whole run.
type Result int

const (
	// Success means every sampled document matched.
	Success Result = iota

	// Fail means a mismatch, a fetch failure, or an unexpected error.
	Fail

	// Aborted means the run never started because of its configuration.
	Aborted
)

func (r Result) String() string {
	switch r {
	case Success:
		return "SUCCESS"
	case Fail:
		return "FAIL"
	default:
		return "ABORTED"
	}
}

// ExitCode maps the result onto a process exit status.
func (r Result) ExitCode() int {
	return int(r)
}
