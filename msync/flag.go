package msync

import "sync/atomic"

// Flag is a sticky boolean: once raised it stays raised. Any number of
// goroutines may raise or read it concurrently.
type Flag struct {
	raised atomic.Bool
}

// Raise sets the flag and reports whether this call was the one that
// changed it.
func (f *Flag) Raise() bool {
	return f.raised.CompareAndSwap(false, true)
}

// IsRaised reports whether Raise has been called.
func (f *Flag) IsRaised() bool {
	return f.raised.Load()
}
