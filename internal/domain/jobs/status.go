package jobs

// Status represents where a job is in its lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Allowed state transitions; cancellation is administrative only.
var allowed = map[Status]map[Status]bool{
	StatusPending:    {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:  {StatusInProgress: true, StatusCancelled: true},
	StatusInProgress: {StatusCompleted: true},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

// CanTransition checks if from->to is allowed.
func CanTransition(from, to Status) bool {
	nexts := allowed[from]
	return nexts != nil && nexts[to]
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := allowed[s]
	return ok
}
