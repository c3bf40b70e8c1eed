package agent

// State represents the worker instance lifecycle.
//
// State transitions:
//
//	Installing -> Waiting:  install finished, a previous instance may still
//	                        be serving
//	Waiting    -> Active:   skip-waiting requested, or take-over on install
//
// There is no reverse transition; a stopped instance is simply replaced.
type State int

const (
	StateInstalling State = iota // loading persisted state, not yet serving
	StateWaiting                 // installed, waiting to take over
	StateActive                  // sole serving instance, check loop running
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}
