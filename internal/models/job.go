package models

import (
	"fmt"
	"time"
)

// JobState is the lifecycle state of a remote conversion job.
type JobState string

const (
	JobCreated    JobState = "CREATED"
	JobUploading  JobState = "UPLOADING"
	JobConverting JobState = "CONVERTING"
	JobExporting  JobState = "EXPORTING"
	JobDone       JobState = "DONE"
	JobFailed     JobState = "FAILED"
	JobTimedOut   JobState = "TIMED_OUT"
)

// jobTransitions is the complete transition table. States absent from the
// table are terminal.
var jobTransitions = map[JobState][]JobState{
	JobCreated:    {JobUploading, JobFailed, JobTimedOut},
	JobUploading:  {JobConverting, JobFailed, JobTimedOut},
	JobConverting: {JobExporting, JobFailed, JobTimedOut},
	JobExporting:  {JobDone, JobFailed, JobTimedOut},
}

// Terminal reports whether no transition leaves s.
func (s JobState) Terminal() bool {
	_, ok := jobTransitions[s]
	return !ok
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to JobState) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ConversionJob represents one remote-conversion request. It lives for one
// request/response cycle; the firestore tags are only used by the optional
// audit ledger.
type ConversionJob struct {
	ID           string    `firestore:"id" json:"id"`
	SourceFormat string    `firestore:"sourceFormat" json:"sourceFormat"`
	TargetFormat string    `firestore:"targetFormat" json:"targetFormat"`
	State        JobState  `firestore:"state" json:"state"`
	RemoteID     string    `firestore:"remoteId,omitempty" json:"remoteId,omitempty"`
	ResultURL    string    `firestore:"resultUrl,omitempty" json:"resultUrl,omitempty"`
	ErrorKind    ErrorKind `firestore:"errorKind,omitempty" json:"errorKind,omitempty"`
	ErrorDetails string    `firestore:"errorDetails,omitempty" json:"error,omitempty"`
	CreatedAt    time.Time `firestore:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt" json:"updatedAt"`
}

// NewConversionJob returns a job in the CREATED state.
func NewConversionJob(id, source, target string, now time.Time) *ConversionJob {
	return &ConversionJob{
		ID:           id,
		SourceFormat: source,
		TargetFormat: target,
		State:        JobCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Transition moves the job to state to. Illegal transitions leave the job
// untouched and return an error.
func (j *ConversionJob) Transition(to JobState, now time.Time) error {
	if !CanTransition(j.State, to) {
		return fmt.Errorf("illegal job transition %s -> %s", j.State, to)
	}
	j.State = to
	j.UpdatedAt = now
	return nil
}

// Fail moves the job to FAILED or TIMED_OUT according to err's kind and
// records the error. It is a no-op on a terminal job.
func (j *ConversionJob) Fail(err error, now time.Time) {
	if j.State.Terminal() {
		return
	}
	kind := KindOf(err)
	to := JobFailed
	if kind == KindTimeout {
		to = JobTimedOut
	}
	_ = j.Transition(to, now)
	j.ErrorKind = kind
	if err != nil {
		j.ErrorDetails = err.Error()
	}
}
