package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shellquest/telemetry/pkg/analytics"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedEvents(t *testing.T, store *Store, events []*analytics.Event) {
	t.Helper()
	require.NoError(t, store.InsertEvents(context.Background(), events))
}

func TestInsertAndQueryEvents(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	seedEvents(t, store, []*analytics.Event{
		{Type: analytics.EventGameStart, UserID: "aaaa", Timestamp: 100, SessionID: "s1",
			Data: map[string]interface{}{"game": "pipes"}, Anonymized: true},
		{Type: analytics.EventCommandExecuted, UserID: "aaaa", Timestamp: 200, SessionID: "s1", Anonymized: true},
		{Type: analytics.EventGameStart, UserID: "bbbb", Timestamp: 300, SessionID: "s2", Anonymized: true},
	})

	all, err := store.QueryEvents(ctx, analytics.EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 100.0, all[0].Timestamp, "ascending timestamp order")
	assert.Equal(t, "pipes", all[0].Data["game"])
	assert.True(t, all[0].Anonymized)

	byUser, err := store.QueryEvents(ctx, analytics.EventFilter{UserID: "aaaa"})
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	before, err := store.QueryEvents(ctx, analytics.EventFilter{Before: 250})
	require.NoError(t, err)
	assert.Len(t, before, 2)

	limited, err := store.QueryEvents(ctx, analytics.EventFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestUpsertSessionIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	end := 160.0
	dur := 60.0
	session := &analytics.SessionAggregate{
		SessionID:    "s1",
		UserID:       "aaaa",
		StartTime:    100,
		EventsCount:  5,
		CommandsUsed: []string{"ls", "cd"},
	}
	require.NoError(t, store.UpsertSession(ctx, session))

	session.EndTime = &end
	session.Duration = &dur
	session.EventsCount = 9
	require.NoError(t, store.UpsertSession(ctx, session))

	count, err := store.CountSessionsSince(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestUpsertAndLoadProfiles(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	profile := &analytics.UserProfile{
		UserID:            "aaaa",
		TotalSessions:     3,
		TotalPlaytime:     1800,
		MissionsCompleted: 2,
		CurrentLevel:      4,
		PreferredGames:    []string{"pipes", "grepquest"},
		LearningStyle:     analytics.StyleGuidedLearner,
		EngagementScore:   62.5,
		LastActive:        1000,
		CreatedAt:         500,
	}
	require.NoError(t, store.UpsertProfile(ctx, profile))

	profile.TotalSessions = 4
	require.NoError(t, store.UpsertProfile(ctx, profile))

	profiles, err := store.LoadProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 1)

	got := profiles[0]
	assert.Equal(t, 4, got.TotalSessions)
	assert.Equal(t, []string{"pipes", "grepquest"}, got.PreferredGames)
	assert.Equal(t, analytics.StyleGuidedLearner, got.LearningStyle)
	assert.Equal(t, 62.5, got.EngagementScore)
}

func TestAggregateQueries(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	seedEvents(t, store, []*analytics.Event{
		{Type: analytics.EventCommandExecuted, UserID: "aaaa", Timestamp: 1, Anonymized: true},
		{Type: analytics.EventCommandExecuted, UserID: "aaaa", Timestamp: 2, Anonymized: true},
		{Type: analytics.EventGameStart, UserID: "aaaa", Timestamp: 3, Anonymized: true},
		{Type: analytics.EventGameStart, UserID: "bbbb", Timestamp: 4, Anonymized: true},
	})

	counts, err := store.EventTypeCountsForUser(ctx, "aaaa")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[analytics.EventCommandExecuted])
	assert.Equal(t, int64(1), counts[analytics.EventGameStart])

	total, err := store.CountEventsOfKind(ctx, analytics.EventGameStart)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	top, err := store.TopEventTypes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, analytics.EventCommandExecuted, top[0].Type)
	assert.Equal(t, int64(2), top[0].Count)
}

func TestProfileCounts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertProfile(ctx, &analytics.UserProfile{
		UserID: "aaaa", TotalSessions: 2, TotalPlaytime: 100, LastActive: 1000,
	}))
	require.NoError(t, store.UpsertProfile(ctx, &analytics.UserProfile{
		UserID: "bbbb", TotalSessions: 3, TotalPlaytime: 250, LastActive: 5000,
	}))

	users, err := store.CountDistinctUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), users)

	sessions, playtime, err := store.SumSessionTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), sessions)
	assert.Equal(t, 350.0, playtime)

	active, err := store.CountUsersActiveSince(ctx, 2000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)
}

func TestDeleteBeforeKeepsProfiles(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	seedEvents(t, store, []*analytics.Event{
		{Type: analytics.EventInteraction, UserID: "aaaa", Timestamp: 10, Anonymized: true},
		{Type: analytics.EventInteraction, UserID: "aaaa", Timestamp: 20, Anonymized: true},
		{Type: analytics.EventInteraction, UserID: "aaaa", Timestamp: 5000, Anonymized: true},
	})
	require.NoError(t, store.UpsertSession(ctx, &analytics.SessionAggregate{
		SessionID: "old", UserID: "aaaa", StartTime: 10,
	}))
	require.NoError(t, store.UpsertSession(ctx, &analytics.SessionAggregate{
		SessionID: "new", UserID: "aaaa", StartTime: 5000,
	}))
	require.NoError(t, store.UpsertProfile(ctx, &analytics.UserProfile{UserID: "aaaa"}))

	events, sessions, err := store.DeleteBefore(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(2), events)
	assert.Equal(t, int64(1), sessions)

	remaining, err := store.QueryEvents(ctx, analytics.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, remaining, 1)

	users, err := store.CountDistinctUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), users, "profiles are never purged")
}

func TestSchemaIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.ensureSchema())
}

// TestEngineWithSQLiteStore runs the full pipeline against a real
// store: ingest, flush, session end, insights, and global analytics.
func TestEngineWithSQLiteStore(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	engine, err := analytics.NewEngine(ctx, store, analytics.Config{
		BufferSize:    4,
		FlushInterval: time.Hour,
		Salt:          "e2e-salt",
	}, nil, nil)
	require.NoError(t, err)
	defer engine.Close(ctx)

	sid := engine.StartSession("alice", "s1", nil)
	engine.Track(analytics.EventTutorialStart, "alice", sid, nil, nil)
	engine.Track(analytics.EventTutorialStart, "alice", sid, nil, nil)
	engine.Track(analytics.EventGameStart, "alice", sid, nil, nil)
	engine.Track(analytics.EventCommandExecuted, "alice", sid,
		map[string]interface{}{"command": "ls"}, nil)
	engine.EndSession(ctx, "alice", sid)
	require.NoError(t, engine.Flush(ctx))

	insights, err := engine.UserInsights(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, insights)
	assert.Equal(t, 1, insights.TotalSessions)
	assert.Equal(t, analytics.StyleGuidedLearner, insights.LearningStyle)

	stats := engine.GlobalAnalytics(ctx)
	assert.Equal(t, int64(1), stats.TotalUsers)
	assert.Equal(t, int64(1), stats.SessionsLast7d)
	assert.NotEmpty(t, stats.TopEventTypes)

	data, err := engine.ExportData(ctx, "alice", analytics.ExportFormatNDJSON)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
