package session

// State is the lifecycle state of an authenticated browser session.
type State int

const (
	// Unauthenticated is the initial state and the state after a failed
	// acquisition.
	Unauthenticated State = iota
	// Authenticating covers browser launch, cookie restore and credential
	// submission.
	Authenticating
	// AwaitingSecondFactor means credentials were submitted and the user
	// must approve the login out of band.
	AwaitingSecondFactor
	// Authenticated sessions may issue API requests.
	Authenticated
	// Expired sessions were authenticated but the platform rejected a
	// request with its login page.
	Expired
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case AwaitingSecondFactor:
		return "awaiting_second_factor"
	case Authenticated:
		return "authenticated"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}
