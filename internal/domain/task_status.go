package domain

// TaskStatus represents the current state of a task.
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusProcessing TaskStatus = "PROCESSING"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusFailed     TaskStatus = "FAILED"
)

// rank orders statuses so that transitions can be checked for monotonicity.
func (s TaskStatus) rank() int {
	switch s {
	case TaskStatusPending:
		return 0
	case TaskStatusProcessing:
		return 1
	case TaskStatusCompleted, TaskStatusFailed:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	return s.rank() >= 0
}

// IsTerminal reports whether no further transitions can leave s.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle step.
// The only legal steps are PENDING to PROCESSING and PROCESSING to a terminal status.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if !s.Valid() || !next.Valid() || s.IsTerminal() {
		return false
	}
	return next.rank() == s.rank()+1
}

func (s TaskStatus) String() string {
	return string(s)
}
