package events

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"grantmaster/internal/db"
)

func TestAppendRebindsAndStampsUTC(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	loc := time.FixedZone("EST", -5*3600)
	w := Writer{Dialect: db.Postgres, Now: func() time.Time { return time.Date(2026, 3, 1, 5, 0, 0, 0, loc) }}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO events\(ts,type,application_id,entity_kind,entity_id,actor_id,payload_json\) VALUES \(\$1,\$2,\$3,\$4,\$5,\$6,\$7\)`).
		WithArgs("2026-03-01T10:00:00Z", SectionSaved, "app-1", "section", "s1", "u1", `{"pageCount":2}`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := conn.Begin()
	require.NoError(t, err)
	require.NoError(t, w.Append(context.Background(), tx, SectionSaved, "app-1", "section", "s1", "u1", EventPayload{"pageCount": 2}))
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendNilPayload(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO events`).
		WithArgs(sqlmock.AnyArg(), ApplicationCreated, nil, "application", nil, "u1", "{}").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	tx, err := conn.Begin()
	require.NoError(t, err)
	require.NoError(t, Writer{}.Append(context.Background(), tx, ApplicationCreated, "", "application", "", "u1", nil))
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}
