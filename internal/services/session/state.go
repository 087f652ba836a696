package session

// State is a step of the session state machine.
type State int

const (
	StateStart State = iota
	StateNavigated
	StateCaptchaRetry
	StateFormsDiscovered
	StateAIFallback
	StateFilled
	StateSubmitted
	StateConfirmed
	StateDone
	StateErrored
)

var stateNames = [...]string{
	StateStart:           "start",
	StateNavigated:       "navigated",
	StateCaptchaRetry:    "captcha_retry",
	StateFormsDiscovered: "forms_discovered",
	StateAIFallback:      "ai_fallback",
	StateFilled:          "filled",
	StateSubmitted:       "submitted",
	StateConfirmed:       "confirmed",
	StateDone:            "done",
	StateErrored:         "errored",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateErrored
}
