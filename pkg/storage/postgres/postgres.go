// Package postgres is the alternate durable store for multi-instance
// deployments. Column names mirror the sqlite schema so dashboards can
// point at either backend.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/shellquest/telemetry/pkg/analytics"
)

// Store implements analytics.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects with the given DSN and ensures the schema.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure telemetry schema: %w", err)
	}
	return s, nil
}

// NewStore wraps an existing connection and ensures the schema.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, fmt.Errorf("failed to ensure telemetry schema: %w", err)
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS events (
		id BIGSERIAL PRIMARY KEY,
		event_type TEXT NOT NULL,
		user_id TEXT NOT NULL,
		timestamp DOUBLE PRECISION NOT NULL,
		session_id TEXT,
		data JSONB,
		context JSONB,
		anonymized BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_events_user_timestamp ON events(user_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_event_type ON events(event_type);

	CREATE TABLE IF NOT EXISTS user_profiles (
		user_id TEXT PRIMARY KEY,
		total_sessions INTEGER NOT NULL DEFAULT 0,
		total_playtime DOUBLE PRECISION NOT NULL DEFAULT 0,
		missions_completed INTEGER NOT NULL DEFAULT 0,
		games_completed INTEGER NOT NULL DEFAULT 0,
		badges_earned INTEGER NOT NULL DEFAULT 0,
		current_level INTEGER NOT NULL DEFAULT 1,
		preferred_games JSONB,
		learning_style TEXT,
		engagement_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		last_active DOUBLE PRECISION,
		created_at DOUBLE PRECISION,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		start_time DOUBLE PRECISION NOT NULL,
		end_time DOUBLE PRECISION,
		duration DOUBLE PRECISION,
		events_count INTEGER NOT NULL DEFAULT 0,
		missions_attempted INTEGER NOT NULL DEFAULT 0,
		games_played INTEGER NOT NULL DEFAULT 0,
		commands_used JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
	`

	_, err := s.db.Exec(query)
	return err
}

// InsertEvents writes the batch inside one transaction.
func (s *Store) InsertEvents(ctx context.Context, events []*analytics.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (event_type, user_id, timestamp, session_id, data, context, anonymized)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare event insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		data, err := marshalJSON(ev.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
		evCtx, err := marshalJSON(ev.Context)
		if err != nil {
			return fmt.Errorf("failed to marshal event context: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			string(ev.Type), ev.UserID, ev.Timestamp, ev.SessionID, data, evCtx, ev.Anonymized,
		); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}

	return tx.Commit()
}

// UpsertSession inserts or replaces the session row.
func (s *Store) UpsertSession(ctx context.Context, session *analytics.SessionAggregate) error {
	commands, err := json.Marshal(session.CommandsUsed)
	if err != nil {
		return fmt.Errorf("failed to marshal commands: %w", err)
	}

	query := `
		INSERT INTO sessions (session_id, user_id, start_time, end_time, duration,
			events_count, missions_attempted, games_played, commands_used)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			duration = EXCLUDED.duration,
			events_count = EXCLUDED.events_count,
			missions_attempted = EXCLUDED.missions_attempted,
			games_played = EXCLUDED.games_played,
			commands_used = EXCLUDED.commands_used
	`
	_, err = s.db.ExecContext(ctx, query,
		session.SessionID, session.UserID, session.StartTime,
		session.EndTime, session.Duration,
		session.EventsCount, session.MissionsAttempted, session.GamesPlayed,
		commands,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

// UpsertProfile inserts or replaces the profile row.
func (s *Store) UpsertProfile(ctx context.Context, profile *analytics.UserProfile) error {
	games, err := json.Marshal(profile.PreferredGames)
	if err != nil {
		return fmt.Errorf("failed to marshal preferred games: %w", err)
	}

	query := `
		INSERT INTO user_profiles (user_id, total_sessions, total_playtime,
			missions_completed, games_completed, badges_earned, current_level,
			preferred_games, learning_style, engagement_score, last_active, created_at,
			updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			total_sessions = EXCLUDED.total_sessions,
			total_playtime = EXCLUDED.total_playtime,
			missions_completed = EXCLUDED.missions_completed,
			games_completed = EXCLUDED.games_completed,
			badges_earned = EXCLUDED.badges_earned,
			current_level = EXCLUDED.current_level,
			preferred_games = EXCLUDED.preferred_games,
			learning_style = EXCLUDED.learning_style,
			engagement_score = EXCLUDED.engagement_score,
			last_active = EXCLUDED.last_active,
			updated_at = NOW()
	`
	_, err = s.db.ExecContext(ctx, query,
		profile.UserID, profile.TotalSessions, profile.TotalPlaytime,
		profile.MissionsCompleted, profile.GamesCompleted, profile.BadgesEarned,
		profile.CurrentLevel, games, profile.LearningStyle,
		profile.EngagementScore, profile.LastActive, profile.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// LoadProfiles returns every stored profile.
func (s *Store) LoadProfiles(ctx context.Context) ([]*analytics.UserProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, total_sessions, total_playtime, missions_completed,
			games_completed, badges_earned, current_level, preferred_games,
			learning_style, engagement_score, last_active, created_at
		FROM user_profiles
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*analytics.UserProfile
	for rows.Next() {
		p := &analytics.UserProfile{}
		var games []byte
		var style sql.NullString
		var lastActive, createdAt sql.NullFloat64
		if err := rows.Scan(
			&p.UserID, &p.TotalSessions, &p.TotalPlaytime, &p.MissionsCompleted,
			&p.GamesCompleted, &p.BadgesEarned, &p.CurrentLevel, &games,
			&style, &p.EngagementScore, &lastActive, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		p.LearningStyle = style.String
		p.LastActive = lastActive.Float64
		p.CreatedAt = createdAt.Float64
		if len(games) > 0 {
			if err := json.Unmarshal(games, &p.PreferredGames); err != nil {
				return nil, fmt.Errorf("failed to decode preferred games for %s: %w", p.UserID, err)
			}
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// QueryEvents returns events matching the filter ordered by timestamp.
func (s *Store) QueryEvents(ctx context.Context, filter analytics.EventFilter) ([]*analytics.Event, error) {
	query := `
		SELECT id, event_type, user_id, timestamp, session_id, data, context, anonymized, created_at
		FROM events
		WHERE 1=1
	`
	var args []interface{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	if filter.Before > 0 {
		query += fmt.Sprintf(" AND timestamp < $%d", argIdx)
		args = append(args, filter.Before)
		argIdx++
	}
	query += " ORDER BY timestamp ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*analytics.Event
	for rows.Next() {
		ev := &analytics.Event{}
		var kind string
		var sessionID sql.NullString
		var data, evCtx []byte
		if err := rows.Scan(
			&ev.ID, &kind, &ev.UserID, &ev.Timestamp, &sessionID,
			&data, &evCtx, &ev.Anonymized, &ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Type = analytics.EventKind(kind)
		ev.SessionID = sessionID.String
		if len(data) > 0 {
			if err := json.Unmarshal(data, &ev.Data); err != nil {
				return nil, fmt.Errorf("failed to decode data for event %d: %w", ev.ID, err)
			}
		}
		if len(evCtx) > 0 {
			if err := json.Unmarshal(evCtx, &ev.Context); err != nil {
				return nil, fmt.Errorf("failed to decode context for event %d: %w", ev.ID, err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// EventTypeCountsForUser returns per-kind counts for one player.
func (s *Store) EventTypeCountsForUser(ctx context.Context, userID string) (map[analytics.EventKind]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_type, COUNT(*) FROM events WHERE user_id = $1 GROUP BY event_type
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[analytics.EventKind]int64)
	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[analytics.EventKind(kind)] = count
	}
	return counts, rows.Err()
}

// CountEventsOfKind returns the global count for one event kind.
func (s *Store) CountEventsOfKind(ctx context.Context, kind analytics.EventKind) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE event_type = $1`, string(kind),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// TopEventTypes returns the n most frequent event kinds.
func (s *Store) TopEventTypes(ctx context.Context, n int) ([]analytics.EventTypeCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_type, COUNT(*) AS c FROM events
		GROUP BY event_type ORDER BY c DESC LIMIT $1
	`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query event histogram: %w", err)
	}
	defer rows.Close()

	var top []analytics.EventTypeCount
	for rows.Next() {
		var entry analytics.EventTypeCount
		var kind string
		if err := rows.Scan(&kind, &entry.Count); err != nil {
			return nil, fmt.Errorf("failed to scan histogram entry: %w", err)
		}
		entry.Type = analytics.EventKind(kind)
		top = append(top, entry)
	}
	return top, rows.Err()
}

// CountDistinctUsers returns the number of profile rows.
func (s *Store) CountDistinctUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_profiles`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// SumSessionTotals sums total_sessions and total_playtime.
func (s *Store) SumSessionTotals(ctx context.Context) (int64, float64, error) {
	var sessions sql.NullInt64
	var playtime sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(total_sessions), SUM(total_playtime) FROM user_profiles`,
	).Scan(&sessions, &playtime)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sum session totals: %w", err)
	}
	return sessions.Int64, playtime.Float64, nil
}

// CountSessionsSince counts session rows starting at or after since.
func (s *Store) CountSessionsSince(ctx context.Context, since float64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE start_time >= $1`, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent sessions: %w", err)
	}
	return count, nil
}

// CountUsersActiveSince counts profiles active at or after since.
func (s *Store) CountUsersActiveSince(ctx context.Context, since float64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_profiles WHERE last_active >= $1`, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active users: %w", err)
	}
	return count, nil
}

// DeleteBefore removes events and sessions older than cutoff.
func (s *Store) DeleteBefore(ctx context.Context, cutoff float64) (int64, int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	events, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `DELETE FROM sessions WHERE start_time < $1`, cutoff)
	if err != nil {
		return events, 0, fmt.Errorf("failed to delete old sessions: %w", err)
	}
	sessions, _ := res.RowsAffected()

	return events, sessions, nil
}

// DB exposes the underlying connection for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func marshalJSON(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
