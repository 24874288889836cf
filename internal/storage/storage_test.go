package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oktetlabs/test-environment-sub007/internal/models"
)

func TestRepository(t *testing.T) {
	assert := require.New(t)
	r := NewRepository()

	a, err := r.AddAcs("a1")
	assert.NoError(err)
	_, err = r.AddAcs("a1")
	assert.ErrorIs(err, models.ErrConfigConflict)

	_, err = a.AddCpe("c1")
	assert.NoError(err)
	c, err := r.Cpe("a1", "c1")
	assert.NoError(err)
	assert.Same(a, c.Acs)

	_, err = r.Cpe("a2", "c1")
	assert.ErrorIs(err, models.ErrNoSuchAcs)
	_, err = r.Cpe("a1", "c2")
	assert.ErrorIs(err, models.ErrNoSuchCpe)

	a.Port = 7547
	a.Listening = true
	assert.True(r.PortInUse(7547, nil))
	assert.False(r.PortInUse(7547, a))
	assert.ErrorIs(r.DelAcs("a1"), models.ErrConfigConflict)

	a.Listening = false
	assert.NoError(r.DelAcs("a1"))
	assert.ErrorIs(r.DelAcs("a1"), models.ErrNoSuchAcs)
	assert.Empty(r.List())
}

func TestEventFilter(t *testing.T) {
	assert := require.New(t)

	acs := "a1"
	typ := models.EventTypeInform
	start := time.Unix(0, 0)
	where, args := buildEventFilter(EventLogFilters{Acs: &acs, Type: &typ, StartTime: &start})
	assert.Equal(" WHERE 1=1 AND acs = $1 AND type = $2 AND created_at >= $3", where)
	assert.Equal([]interface{}{"a1", "INFORM", start}, args)

	where, args = buildEventFilter(EventLogFilters{})
	assert.Equal(" WHERE 1=1", where)
	assert.Empty(args)
}

func TestMemoryStore(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()
	s := NewMemoryStore(3)

	for i, cpe := range []string{"c1", "c2", "c1", "c1"} {
		e := models.NewEvent("a1", cpe, models.EventTypeInform, models.EventLevelInfo, "inform")
		e.Code = string(rune('0' + i))
		assert.NoError(s.CreateEventLog(ctx, e))
	}

	all, total, err := s.ListEventLogs(ctx, EventLogFilters{}, 10, 0)
	assert.NoError(err)
	assert.Equal(int64(3), total)
	assert.Equal("3", all[0].Code)

	cpe := "c1"
	got, total, err := s.ListEventLogs(ctx, EventLogFilters{Cpe: &cpe}, 1, 1)
	assert.NoError(err)
	assert.Equal(int64(2), total)
	assert.Len(got, 1)
	assert.Equal("2", got[0].Code)

	got, _, err = s.ListEventLogs(ctx, EventLogFilters{Cpe: &cpe}, 10, 5)
	assert.NoError(err)
	assert.Empty(got)
}
