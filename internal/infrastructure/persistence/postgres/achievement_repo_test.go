package postgres

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildforge/achievement-engine/internal/domain/shared"
	"github.com/guildforge/achievement-engine/pkg/logger"
)

// fakeRow is one achievements row as the scanner sees it.
type fakeRow struct {
	id       int64
	name     string
	typ      string
	criteria []byte
	scanErr  error
}

// fakeRows feeds canned rows through the pgx.Rows interface.
type fakeRows struct {
	rows []fakeRow
	pos  int
}

func (f *fakeRows) Close()                                       {}
func (f *fakeRows) Err() error                                   { return nil }
func (f *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (f *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (f *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (f *fakeRows) RawValues() [][]byte                          { return nil }
func (f *fakeRows) Conn() *pgx.Conn                              { return nil }

func (f *fakeRows) Next() bool {
	return f.pos < len(f.rows)
}

func (f *fakeRows) Scan(dest ...any) error {
	row := f.rows[f.pos]
	f.pos++
	if row.scanErr != nil {
		return row.scanErr
	}
	*(dest[0].(*int64)) = row.id
	*(dest[1].(*string)) = row.name
	*(dest[2].(*string)) = "test achievement"
	*(dest[3].(*string)) = row.typ
	*(dest[4].(*[]byte)) = row.criteria
	*(dest[5].(*int)) = 10
	*(dest[6].(*bool)) = true
	*(dest[8].(*time.Time)) = time.Now().UTC()
	*(dest[9].(*time.Time)) = time.Now().UTC()
	return nil
}

func newTestRepo() *AchievementRepository {
	log := logger.New(logger.Options{Output: io.Discard})
	return NewAchievementRepository(nil, log)
}

func TestCollectAchievementsSkipsMalformedCriteria(t *testing.T) {
	rows := &fakeRows{rows: []fakeRow{
		{id: 1, name: "chatterbox", typ: "counter",
			criteria: []byte(`{"counter_field":"message_count","target_value":100}`)},
		// Truncated JSON payload.
		{id: 2, name: "broken", typ: "counter", criteria: []byte(`{"counter_field":`)},
		// Fails criteria validation.
		{id: 3, name: "empty-field", typ: "counter",
			criteria: []byte(`{"counter_field":"","target_value":1}`)},
		// Unknown achievement type.
		{id: 4, name: "mystery", typ: "badge", criteria: []byte(`{}`)},
		{id: 5, name: "night-owl", typ: "time_based",
			criteria: []byte(`{"target_value":7}`)},
	}}

	out, err := newTestRepo().collectAchievements(rows)
	require.NoError(t, err)

	require.Len(t, out, 2)
	assert.Equal(t, int64(1), out[0].ID)
	assert.Equal(t, int64(5), out[1].ID)
}

func TestCollectAchievementsAbortsOnReadFailure(t *testing.T) {
	rows := &fakeRows{rows: []fakeRow{
		{id: 1, name: "chatterbox", typ: "counter",
			criteria: []byte(`{"counter_field":"message_count","target_value":100}`)},
		{id: 2, scanErr: errors.New("connection reset")},
	}}

	out, err := newTestRepo().collectAchievements(rows)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrExternalService))
	assert.Nil(t, out)
}
