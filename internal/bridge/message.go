package bridge

// Message is the tagged union over everything that crosses the bridge.
// Handlers switch exhaustively on the concrete type; the wire-style name is
// kept for logging.
type Message interface {
	messageType() string
}

// UserAuthenticated pushes the page's credential and API base URL into the
// worker. Always acknowledged so the page can confirm delivery.
type UserAuthenticated struct {
	Token  string
	UserID string
	APIURL string
	Reply  chan<- Ack
}

func (UserAuthenticated) messageType() string { return "USER_AUTHENTICATED" }

// Ack confirms a UserAuthenticated message reached the worker.
type Ack struct {
	APIURL        string `json:"apiUrl"`
	TokenReceived bool   `json:"tokenReceived"`
}

// UserLoggedOut tells the worker to drop its in-memory credential. The
// worker must never retain a token after the page signals logout.
type UserLoggedOut struct{}

func (UserLoggedOut) messageType() string { return "USER_LOGGED_OUT" }

// CheckNotificationsNow forces an out-of-cycle periodic check.
type CheckNotificationsNow struct{}

func (CheckNotificationsNow) messageType() string { return "CHECK_NOTIFICATIONS_NOW" }

// SkipWaiting forces a pending worker instance to activate immediately.
type SkipWaiting struct{}

func (SkipWaiting) messageType() string { return "SKIP_WAITING" }

// SaveSeenIDs pushes the page's persisted seen-notification-id set into the
// worker so it survives worker restarts.
type SaveSeenIDs struct {
	IDs []string
}

func (SaveSeenIDs) messageType() string { return "SAVE_SEEN_IDS" }

// GetToken asks the page for its current credential fallback.
type GetToken struct {
	Reply chan<- TokenResponse
}

func (GetToken) messageType() string { return "GET_TOKEN" }

// TokenResponse answers a GetToken request.
type TokenResponse struct {
	Token string
}

// GetSeenIDs asks the page for its persisted seen-notification-id set.
type GetSeenIDs struct {
	Reply chan<- SeenIDsResponse
}

func (GetSeenIDs) messageType() string { return "GET_SEEN_IDS" }

// SeenIDsResponse answers a GetSeenIDs request.
type SeenIDsResponse struct {
	IDs []string
}
