package model

// SessionState is the bearer credential and API base URL bridged from the
// page into the worker. It lives only in the worker's memory for the life of
// the worker instance; the worker never persists it. Cleared on logout.
type SessionState struct {
	Token  string
	UserID string
	APIURL string
}

// Authenticated reports whether a usable credential has been bridged.
func (s SessionState) Authenticated() bool {
	return s.Token != "" && s.APIURL != ""
}
