package model

// Status is the lifecycle state of a dependency instance.
type Status int32

const (
	StatusNone Status = iota
	StatusStarting
	StatusStarted
	StatusWaitingForNotification
	StatusStopped
	StatusStoppedDueToError
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "None"
	case StatusStarting:
		return "Starting"
	case StatusStarted:
		return "Started"
	case StatusWaitingForNotification:
		return "WaitingForNotification"
	case StatusStopped:
		return "Stopped"
	case StatusStoppedDueToError:
		return "StoppedDueToError"
	default:
		return "Unknown"
	}
}

// Running reports whether a listen loop may be active in this status.
func (s Status) Running() bool {
	return s == StatusStarting || s == StatusStarted || s == StatusWaitingForNotification
}
