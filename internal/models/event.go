package models

import (
	"time"

	"github.com/google/uuid"
)

// EventLog represents an event log entry
type EventLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	Acs string `json:"acs,omitempty" db:"acs"`
	Cpe string `json:"cpe,omitempty" db:"cpe"`

	Type        EventType  `json:"type" db:"type"`
	Level       EventLevel `json:"level" db:"level"`
	Code        string     `json:"code" db:"code"`
	Description string     `json:"description" db:"description"`

	Details Variables `json:"details,omitempty" db:"details"`
}

// NewEvent fills in the id and the timestamp.
func NewEvent(acs, cpe string, typ EventType, level EventLevel, description string) *EventLog {
	return &EventLog{
		ID:          uuid.New(),
		CreatedAt:   time.Now().UTC(),
		Acs:         acs,
		Cpe:         cpe,
		Type:        typ,
		Level:       level,
		Description: description,
	}
}

// EventType represents event types
type EventType string

const (
	// Session events
	EventTypeSessionOpen  EventType = "SESSION_OPEN"
	EventTypeSessionClose EventType = "SESSION_CLOSE"
	EventTypeAuthFail     EventType = "AUTH_FAIL"
	EventTypeInform       EventType = "INFORM"
	EventTypeRPCSent      EventType = "RPC_SENT"
	EventTypeRPCResponse  EventType = "RPC_RESPONSE"
	EventTypeRPCFault     EventType = "RPC_FAULT"
	EventTypeRPCReceived  EventType = "RPC_RECEIVED"
	EventTypeFileServed   EventType = "FILE_SERVED"
	EventTypeTraffic      EventType = "TRAFFIC"
	EventTypeError        EventType = "ERROR"

	// Control events
	EventTypeEPC               EventType = "EPC"
	EventTypeAcsEnabled        EventType = "ACS_ENABLED"
	EventTypeAcsDisabled       EventType = "ACS_DISABLED"
	EventTypeConnectionRequest EventType = "CONNECTION_REQUEST"
)

// EventLevel represents event severity levels
type EventLevel string

const (
	EventLevelDebug   EventLevel = "DEBUG"
	EventLevelInfo    EventLevel = "INFO"
	EventLevelWarning EventLevel = "WARNING"
	EventLevelError   EventLevel = "ERROR"
	EventLevelFatal   EventLevel = "FATAL"
)
