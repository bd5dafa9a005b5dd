package poller

// State is the poller's position within a cycle
type State int32

const (
	StateIdle State = iota
	StateAuthenticating
	StateRequesting
	StateParsingResponse
	StateEmittingItems
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthenticating:
		return "authenticating"
	case StateRequesting:
		return "requesting"
	case StateParsingResponse:
		return "parsing_response"
	case StateEmittingItems:
		return "emitting_items"
	default:
		return "unknown"
	}
}
