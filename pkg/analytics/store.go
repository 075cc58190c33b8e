package analytics

import (
	"context"
)

// EventFilter narrows QueryEvents. Zero values mean "no constraint".
type EventFilter struct {
	// UserID restricts to one anonymized player.
	UserID string

	// Before restricts to events with timestamp strictly less than this
	// unix-seconds value. Used by export and by archive-before-purge.
	Before float64

	// Limit caps the number of returned rows; 0 means no cap.
	Limit int
}

// Store is the durable-store boundary. pkg/storage/sqlite is the
// primary implementation; pkg/storage/postgres is an alternate backend
// and pkg/storage/rediscache wraps either with a TTL read cache.
//
// Implementations must be safe for concurrent use: the flush worker,
// request-path flushes, and the maintenance daemon all share one Store.
type Store interface {
	// InsertEvents writes the batch in a single transaction. Either the
	// whole batch commits or none of it does.
	InsertEvents(ctx context.Context, events []*Event) error

	// UpsertSession inserts or replaces the session row keyed by
	// session id.
	UpsertSession(ctx context.Context, session *SessionAggregate) error

	// UpsertProfile inserts or replaces the profile row keyed by the
	// anonymized user id.
	UpsertProfile(ctx context.Context, profile *UserProfile) error

	// LoadProfiles returns every stored profile. Called once at engine
	// construction to seed the in-memory cache.
	LoadProfiles(ctx context.Context) ([]*UserProfile, error)

	// QueryEvents returns events matching the filter, ordered by
	// timestamp ascending.
	QueryEvents(ctx context.Context, filter EventFilter) ([]*Event, error)

	// EventTypeCountsForUser returns per-kind event counts for one
	// anonymized player.
	EventTypeCountsForUser(ctx context.Context, userID string) (map[EventKind]int64, error)

	// CountEventsOfKind returns the global count of one event kind.
	CountEventsOfKind(ctx context.Context, kind EventKind) (int64, error)

	// TopEventTypes returns the n most frequent event kinds.
	TopEventTypes(ctx context.Context, n int) ([]EventTypeCount, error)

	// CountDistinctUsers returns the number of profile rows.
	CountDistinctUsers(ctx context.Context) (int64, error)

	// SumSessionTotals returns the sum of total_sessions and
	// total_playtime over all profiles.
	SumSessionTotals(ctx context.Context) (sessions int64, playtime float64, err error)

	// CountSessionsSince counts session rows whose start_time is at or
	// after the given unix-seconds cutoff.
	CountSessionsSince(ctx context.Context, since float64) (int64, error)

	// CountUsersActiveSince counts profiles whose last_active is at or
	// after the given unix-seconds cutoff.
	CountUsersActiveSince(ctx context.Context, since float64) (int64, error)

	// DeleteBefore removes events and sessions whose time field is
	// strictly less than the cutoff. Profiles are untouched.
	DeleteBefore(ctx context.Context, cutoff float64) (events int64, sessions int64, err error)

	// Close releases the underlying connection pool.
	Close() error
}

// Archiver receives events about to be purged by retention cleanup.
// pkg/storage/s3archive implements it against object storage.
type Archiver interface {
	// ArchiveEvents persists the batch somewhere outside the store.
	// A non-nil error aborts the purge for this run.
	ArchiveEvents(ctx context.Context, cutoff float64, events []*Event) error
}
