package domain

// Event is an operation that moves a job between statuses
type Event string

const (
	EventClaim  Event = "claim"
	EventFinish Event = "finish"
	EventFail   Event = "fail"
	EventRetry  Event = "retry"
	EventCancel Event = "cancel"
	// EventRelease hands a job back to the queue without counting an attempt
	EventRelease Event = "release"
)

// transitions lists every legal (from, event) pair and its target status.
// A finish or fail reported for a job cancelled mid-run keeps it CANCELLED.
var transitions = map[Event]map[Status]Status{
	EventClaim: {
		JobStatusPending: JobStatusProcessing,
	},
	EventFinish: {
		JobStatusProcessing: JobStatusFinished,
		JobStatusCancelled:  JobStatusCancelled,
	},
	EventFail: {
		JobStatusProcessing: JobStatusFailed,
		JobStatusCancelled:  JobStatusCancelled,
	},
	EventRetry: {
		JobStatusFailed: JobStatusPending,
	},
	EventCancel: {
		JobStatusPending:    JobStatusCancelled,
		JobStatusProcessing: JobStatusCancelled,
	},
	EventRelease: {
		JobStatusProcessing: JobStatusPending,
	},
}

// Transition returns the status a job in from moves to on event,
// or a *StateError when the event is not legal from that status.
func Transition(jobID int64, from Status, event Event) (Status, error) {
	to, ok := transitions[event][from]
	if !ok {
		return "", NewStateError(jobID, from, event)
	}
	return to, nil
}
