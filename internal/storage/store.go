package storage

import (
	"context"
	"errors"
	"time"

	"github.com/oktetlabs/test-environment-sub007/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// Store is the event journal. It is written by the event forwarder and read
// by the REST API; the ACS core never reads from it.
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// Schema
	Migrate(ctx context.Context) error

	// Event log methods
	CreateEventLog(ctx context.Context, event *models.EventLog) error
	ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error)

	// Close the store
	Close() error
}

// EventLogFilters represents filters for event logs
type EventLogFilters struct {
	Acs       *string
	Cpe       *string
	Type      *models.EventType
	Level     *models.EventLevel
	StartTime *time.Time
	EndTime   *time.Time
}

func (f EventLogFilters) match(e *models.EventLog) bool {
	switch {
	case f.Acs != nil && e.Acs != *f.Acs:
		return false
	case f.Cpe != nil && e.Cpe != *f.Cpe:
		return false
	case f.Type != nil && e.Type != *f.Type:
		return false
	case f.Level != nil && e.Level != *f.Level:
		return false
	case f.StartTime != nil && e.CreatedAt.Before(*f.StartTime):
		return false
	case f.EndTime != nil && e.CreatedAt.After(*f.EndTime):
		return false
	}
	return true
}
