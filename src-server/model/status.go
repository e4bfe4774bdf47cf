package model

type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusPostponed Status = "POSTPONED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
)

var statusTransitions = map[Status][]Status{
	StatusScheduled: {StatusCancelled, StatusCompleted, StatusPostponed},
	StatusPostponed: {StatusScheduled, StatusCancelled},
}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusPostponed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// IsTerminal reports whether no transition can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
