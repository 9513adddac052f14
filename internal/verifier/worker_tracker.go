package verifier

import (
	"time"

	"github.com/mongodb-labs/digest-verifier/internal/partitions"
	"github.com/mongodb-labs/digest-verifier/msync"
)

// WorkerTracker records what each worker is doing, for progress reports.
type WorkerTracker struct {
	guard *msync.DataGuard[WorkerStatusMap]
}

type WorkerStatusMap = map[int]WorkerStatus

type WorkerStatus struct {
	Namespace  string    `json:"namespace,omitempty"`
	UnitOffset int       `json:"unitOffset"`
	UnitSize   int       `json:"unitSize"`
	StartTime  time.Time `json:"startTime,omitzero"`
}

func NewWorkerTracker(workersCount int) *WorkerTracker {
	wsmap := WorkerStatusMap{}
	for i := 0; i < workersCount; i++ {
		wsmap[i] = WorkerStatus{}
	}
	return &WorkerTracker{
		guard: msync.NewDataGuard(wsmap),
	}
}

func (wt *WorkerTracker) Set(workerNum int, namespace string, unit partitions.Partition) {
	wt.guard.Store(func(m WorkerStatusMap) WorkerStatusMap {
		m[workerNum] = WorkerStatus{
			Namespace:  namespace,
			UnitOffset: unit.Offset,
			UnitSize:   unit.Len(),
			StartTime:  time.Now(),
		}

		return m
	})
}

func (wt *WorkerTracker) Unset(workerNum int) {
	wt.guard.Store(func(m WorkerStatusMap) WorkerStatusMap {
		m[workerNum] = WorkerStatus{}

		return m
	})
}

// Load returns a copy of the current statuses.
func (wt *WorkerTracker) Load() WorkerStatusMap {
	wtmap := WorkerStatusMap{}
	wt.guard.Load(func(m WorkerStatusMap) {
		for k, v := range m {
			wtmap[k] = v
		}
	})

	return wtmap
}
