package models

import "fmt"

// SessionState is the CWMP session state. The values are bit flags so that
// they can be matched against masks.
type SessionState int

const (
	SessionNop          SessionState = 1
	SessionListen       SessionState = 2
	SessionWaitAuth     SessionState = 4
	SessionServe        SessionState = 8
	SessionWaitResponse SessionState = 16
	SessionPending      SessionState = 32
	SessionSendFile     SessionState = 64
)

func (s SessionState) String() string {
	switch s {
	case SessionNop:
		return "NOP"
	case SessionListen:
		return "LISTEN"
	case SessionWaitAuth:
		return "WAIT_AUTH"
	case SessionServe:
		return "SERVE"
	case SessionWaitResponse:
		return "WAIT_RESPONSE"
	case SessionPending:
		return "PENDING"
	case SessionSendFile:
		return "SEND_FILE"
	}
	return fmt.Sprintf("STATE(%d)", int(s))
}

// SessionID identifies one accepted connection for the life of the process.
type SessionID uint64

// SessionHandle is the weak reference Acs and Cpe keep on a live session.
// The session clears it when it is destroyed.
type SessionHandle interface {
	ID() SessionID
	State() SessionState
}
