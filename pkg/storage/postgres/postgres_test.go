package postgres

import (
	"context"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shellquest/telemetry/pkg/analytics"
)

func mockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store, err := NewStore(db)
	require.NoError(t, err)
	return store, mock
}

func TestInsertEventsSingleTransaction(t *testing.T) {
	store, mock := mockStore(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO events")
	prep.ExpectExec().
		WithArgs("game_start", "aaaa", 100.0, "s1", []byte(`{"game":"pipes"}`), nil, true).
		WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().
		WithArgs("session_end", "aaaa", 200.0, "s1", nil, nil, true).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := store.InsertEvents(context.Background(), []*analytics.Event{
		{Type: analytics.EventGameStart, UserID: "aaaa", Timestamp: 100, SessionID: "s1",
			Data: map[string]interface{}{"game": "pipes"}, Anonymized: true},
		{Type: analytics.EventSessionEnd, UserID: "aaaa", Timestamp: 200, SessionID: "s1", Anonymized: true},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertEventsRollsBackOnFailure(t *testing.T) {
	store, mock := mockStore(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO events")
	prep.ExpectExec().WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectRollback()

	err := store.InsertEvents(context.Background(), []*analytics.Event{
		{Type: analytics.EventGameStart, UserID: "aaaa", Timestamp: 100, Anonymized: true},
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertEventsEmptyBatchSkipsTransaction(t *testing.T) {
	store, mock := mockStore(t)

	require.NoError(t, store.InsertEvents(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertProfile(t *testing.T) {
	store, mock := mockStore(t)

	mock.ExpectExec("INSERT INTO user_profiles").
		WithArgs("aaaa", 3, 1800.0, 2, 1, 0, 4, []byte(`["pipes"]`),
			"guided_learner", 62.5, 1000.0, 500.0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpsertProfile(context.Background(), &analytics.UserProfile{
		UserID:            "aaaa",
		TotalSessions:     3,
		TotalPlaytime:     1800,
		MissionsCompleted: 2,
		GamesCompleted:    1,
		CurrentLevel:      4,
		PreferredGames:    []string{"pipes"},
		LearningStyle:     analytics.StyleGuidedLearner,
		EngagementScore:   62.5,
		LastActive:        1000,
		CreatedAt:         500,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountEventsOfKind(t *testing.T) {
	store, mock := mockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM events WHERE event_type`).
		WithArgs("mission_complete").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	count, err := store.CountEventsOfKind(context.Background(), analytics.EventMissionComplete)
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
}

func TestDeleteBefore(t *testing.T) {
	store, mock := mockStore(t)

	mock.ExpectExec("DELETE FROM events WHERE timestamp").
		WithArgs(1000.0).
		WillReturnResult(sqlmock.NewResult(0, 7))
	mock.ExpectExec("DELETE FROM sessions WHERE start_time").
		WithArgs(1000.0).
		WillReturnResult(sqlmock.NewResult(0, 3))

	events, sessions, err := store.DeleteBefore(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(7), events)
	assert.Equal(t, int64(3), sessions)
	assert.NoError(t, mock.ExpectationsWereMet())
}
