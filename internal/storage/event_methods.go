package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oktetlabs/test-environment-sub007/internal/models"
)

const eventColumns = "id, created_at, acs, cpe, type, level, code, description, details"

// CreateEventLog creates an event log entry
func (s *PostgresStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
        INSERT INTO event_logs (` + eventColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.getDB().ExecContext(ctx, query,
		event.ID, event.CreatedAt, event.Acs, event.Cpe,
		event.Type, event.Level, event.Code, event.Description, event.Details,
	)
	return err
}

// buildEventFilter returns the WHERE clause for filters and its arguments.
func buildEventFilter(filters EventLogFilters) (string, []interface{}) {
	where := " WHERE 1=1"
	args := []interface{}{}

	add := func(cond string, v interface{}) {
		args = append(args, v)
		where += fmt.Sprintf(" AND %s $%d", cond, len(args))
	}

	if filters.Acs != nil {
		add("acs =", *filters.Acs)
	}
	if filters.Cpe != nil {
		add("cpe =", *filters.Cpe)
	}
	if filters.Type != nil {
		add("type =", string(*filters.Type))
	}
	if filters.Level != nil {
		add("level =", string(*filters.Level))
	}
	if filters.StartTime != nil {
		add("created_at >=", *filters.StartTime)
	}
	if filters.EndTime != nil {
		add("created_at <=", *filters.EndTime)
	}
	return where, args
}

// ListEventLogs lists event logs with filters
func (s *PostgresStore) ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error) {
	where, args := buildEventFilter(filters)

	var count int64
	err := s.getDB().QueryRowContext(ctx, "SELECT COUNT(*) FROM event_logs"+where, args...).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	n := len(args)
	selectQuery := "SELECT " + eventColumns + " FROM event_logs" + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", n+1, n+2)
	args = append(args, limit, offset)

	rows, err := s.getDB().QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*models.EventLog
	for rows.Next() {
		event := &models.EventLog{}
		err := rows.Scan(
			&event.ID, &event.CreatedAt, &event.Acs, &event.Cpe,
			&event.Type, &event.Level, &event.Code, &event.Description, &event.Details,
		)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return events, count, nil
}
