package core

import "fmt"

// TransitionError reports a status change the resource's state machine does not allow. The API maps it to 409.
type TransitionError struct {
	From, To string
}

func NewTransitionError(from, to string) error {
	return &TransitionError{From: from, To: to}
}

func (err TransitionError) Error() string {
	return fmt.Sprintf("تغییر وضعیت از «%s» به «%s» مجاز نیست", err.From, err.To)
}

// CanTransition reports whether transitions allows going from `from` to `to`.
func CanTransition(transitions map[string][]string, from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
