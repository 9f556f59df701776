package booking

// transitions is the full lifecycle graph. Anything not listed here is
// rejected with InvalidTransitionError.
//
//	pending    -> confirmed, cancelled
//	confirmed  -> in-progress, cancelled
//	in-progress -> completed
var transitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

// AllStatuses in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusInProgress,
	StatusCompleted,
	StatusCancelled,
}

func ParseStatus(s string) (Status, bool) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns an InvalidTransitionError naming both states when
// the transition is not permitted.
func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// Terminal reports whether no further transitions leave the status.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}
