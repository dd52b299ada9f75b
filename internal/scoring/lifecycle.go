package scoring

// Action is a lifecycle trigger.
type Action string

const (
	ActionStart  Action = "start"
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionFinish Action = "finish"
)

func (a Action) String() string {
	return string(a)
}

var transitionTable = map[Action]struct {
	from []MatchStatus
	to   MatchStatus
}{
	ActionStart:  {from: []MatchStatus{StatusPending}, to: StatusInProgress},
	ActionPause:  {from: []MatchStatus{StatusInProgress}, to: StatusPaused},
	ActionResume: {from: []MatchStatus{StatusPaused}, to: StatusInProgress},
	ActionFinish: {from: []MatchStatus{StatusInProgress, StatusPaused}, to: StatusFinished},
}

// nextStatus returns the state reached by applying action to current.
func nextStatus(action Action, current MatchStatus) (MatchStatus, error) {
	transition, ok := transitionTable[action]
	if !ok {
		return "", &TransitionError{Action: action, Current: current}
	}
	for _, allowed := range transition.from {
		if allowed == current {
			return transition.to, nil
		}
	}
	return "", &TransitionError{
		Action:   action,
		Required: append([]MatchStatus(nil), transition.from...),
		Current:  current,
	}
}

// acceptsPoints reports whether new points may be appended.
func acceptsPoints(status MatchStatus) bool {
	return status == StatusInProgress
}

// acceptsUndo reports whether existing points may be undone. Finished matches are frozen.
func acceptsUndo(status MatchStatus) bool {
	return status == StatusInProgress || status == StatusPaused
}

// acceptsSlotEdits reports whether the draw slots of a match may change.
func acceptsSlotEdits(status MatchStatus) bool {
	return status == StatusPending
}
