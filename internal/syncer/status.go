package syncer

import "sort"

// DeriveOverallStatus computes a file's overall status from its sub-states.
//
// Priority order:
//  1. conflict when conflictDetected is set
//  2. completed when every sub-state is completed
//  3. failed when any sub-state failed and none is pending or in progress
//  4. in_progress when any sub-state is in progress or some have failed
//  5. pending otherwise (nothing has been attempted yet)
func DeriveOverallStatus(states []*BackendState, conflictDetected bool) OverallStatus {
	if conflictDetected {
		return OverallConflict
	}
	if len(states) == 0 {
		return OverallPending
	}

	var completed, failed, pending, inProgress int
	for _, st := range states {
		switch st.Status {
		case BackendCompleted:
			completed++
		case BackendFailed:
			failed++
		case BackendInProgress:
			inProgress++
		default:
			pending++
		}
	}

	switch {
	case completed == len(states):
		return OverallCompleted
	case failed > 0 && pending == 0 && inProgress == 0:
		return OverallFailed
	case inProgress > 0 || failed > 0:
		return OverallInProgress
	default:
		return OverallPending
	}
}

// RecomputeStatus refreshes f.OverallStatus from its current sub-states.
func (f *FileRecord) RecomputeStatus() {
	f.OverallStatus = DeriveOverallStatus(f.SortedBackends(), f.ConflictDetected)
}

// JobStatus is the lifecycle state of a SyncJob.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// ParseJobStatus validates a job status value.
func ParseJobStatus(s string) (JobStatus, error) {
	switch st := JobStatus(s); st {
	case JobPending, JobInProgress, JobCompleted, JobFailed:
		return st, nil
	}
	return "", &ValidationError{Field: "status", Msg: "unknown job status " + s}
}

// Terminal reports whether no further transitions are permitted.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransitionTo reports whether the job state graph allows s -> next.
// A pending job may fail without starting when it is abandoned.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobInProgress || next == JobFailed
	case JobInProgress:
		return next == JobCompleted || next == JobFailed
	}
	return false
}

func sortStates(states []*BackendState) {
	sort.Slice(states, func(i, j int) bool {
		return states[i].Backend.Less(states[j].Backend)
	})
}

func sortKinds(kinds []BackendKind) {
	sort.Slice(kinds, func(i, j int) bool {
		return kinds[i].Less(kinds[j])
	})
}
