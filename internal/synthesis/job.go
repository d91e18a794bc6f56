// Package synthesis submits long-running speech synthesis jobs under a
// shared quota and waits for them to finish.
package synthesis

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// RawExtension is the extension of the artifact the remote service stages.
const RawExtension = ".wav"

// State is the position of one pipeline run in its state machine.
type State string

// Pipeline states.
const (
	StateSubmitting  State = "submitting"
	StateSubmitted   State = "submitted"
	StateAwaiting    State = "awaiting"
	StateCompleted   State = "completed"
	StateRetrieving  State = "retrieving"
	StateRetrieved   State = "retrieved"
	StateTranscoding State = "transcoding"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// Job is one in-flight remote synthesis. It lives only as long as the
// pipeline call that created it.
type Job struct {
	ID string
	// OutputKey is the staging object the remote service writes.
	OutputKey   string
	Operation   string
	SubmittedAt time.Time
	Deadline    time.Time
	Attempts    int
	State       State
}

// NewJob returns a job in the submitting state with a fresh identifier.
func NewJob() *Job {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")

	return &Job{
		ID:          id,
		OutputKey:   id + RawExtension,
		Operation:   "",
		SubmittedAt: time.Time{},
		Deadline:    time.Time{},
		Attempts:    0,
		State:       StateSubmitting,
	}
}
