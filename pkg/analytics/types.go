package analytics

import (
	"time"
)

// EventKind is the category of a gameplay telemetry event. The set is
// closed: the game emits nothing outside it.
type EventKind string

const (
	EventSessionStart     EventKind = "session_start"
	EventSessionEnd       EventKind = "session_end"
	EventCommandExecuted  EventKind = "command_executed"
	EventMissionStart     EventKind = "mission_start"
	EventMissionComplete  EventKind = "mission_complete"
	EventMissionFail      EventKind = "mission_fail"
	EventTutorialStart    EventKind = "tutorial_start"
	EventTutorialComplete EventKind = "tutorial_complete"
	EventGameStart        EventKind = "game_start"
	EventGameComplete     EventKind = "game_complete"
	EventGameFail         EventKind = "game_fail"
	EventBadgeEarned      EventKind = "badge_earned"
	EventLevelUp          EventKind = "level_up"
	EventErrorOccurred    EventKind = "error_occurred"
	EventHelpRequested    EventKind = "help_requested"
	EventHintUsed         EventKind = "hint_used"
	EventTimeSpent        EventKind = "time_spent"
	EventInteraction      EventKind = "interaction"
	EventEmotionTriggered EventKind = "emotion_triggered"
)

// Event is a single immutable telemetry record. UserID is always the
// anonymized token, never a raw identifier; Timestamp is unix seconds.
type Event struct {
	ID         int64                  `json:"id,omitempty"`
	Type       EventKind              `json:"event_type"`
	UserID     string                 `json:"user_id"`
	Timestamp  float64                `json:"timestamp"`
	SessionID  string                 `json:"session_id"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Anonymized bool                   `json:"anonymized"`
	CreatedAt  time.Time              `json:"created_at,omitempty"`
}

// Time returns the event timestamp as a time.Time.
func (e *Event) Time() time.Time {
	sec := int64(e.Timestamp)
	nsec := int64((e.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// SessionAggregate holds the running counters for one active game
// session. It lives in memory from the first event that references its
// session id until EndSession persists and evicts it.
type SessionAggregate struct {
	SessionID         string   `json:"session_id"`
	UserID            string   `json:"user_id"`
	StartTime         float64  `json:"start_time"`
	EndTime           *float64 `json:"end_time,omitempty"`
	Duration          *float64 `json:"duration,omitempty"`
	EventsCount       int      `json:"events_count"`
	MissionsAttempted int      `json:"missions_attempted"`
	GamesPlayed       int      `json:"games_played"`
	CommandsUsed      []string `json:"commands_used"`
}

// recordCommand appends cmd to CommandsUsed preserving insertion order,
// skipping empty strings and duplicates.
func (s *SessionAggregate) recordCommand(cmd string) {
	if cmd == "" {
		return
	}
	for _, c := range s.CommandsUsed {
		if c == cmd {
			return
		}
	}
	s.CommandsUsed = append(s.CommandsUsed, cmd)
}

// UserProfile is the durable, cumulative per-player analytics record.
// The engine keeps an authoritative in-memory copy; the store is
// written through, never read back for profile lookups.
//
// EngagementScore is stored and read but never computed by this
// subsystem; it exists for store compatibility with dashboards that
// may write it out of band. Likewise PreferredGames is surfaced in
// insights but not populated here.
type UserProfile struct {
	UserID            string    `json:"user_id"`
	TotalSessions     int       `json:"total_sessions"`
	TotalPlaytime     float64   `json:"total_playtime"`
	MissionsCompleted int       `json:"missions_completed"`
	GamesCompleted    int       `json:"games_completed"`
	BadgesEarned      int       `json:"badges_earned"`
	CurrentLevel      int       `json:"current_level"`
	PreferredGames    []string  `json:"preferred_games"`
	LearningStyle     string    `json:"learning_style"`
	EngagementScore   float64   `json:"engagement_score"`
	LastActive        float64   `json:"last_active"`
	CreatedAt         float64   `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at,omitempty"`
}

// clone returns a deep copy so persisted snapshots are not racy with
// later in-memory mutation.
func (p *UserProfile) clone() *UserProfile {
	cp := *p
	cp.PreferredGames = append([]string(nil), p.PreferredGames...)
	return &cp
}

// Learning styles produced by the insight classifier.
const (
	StyleGuidedLearner   = "guided_learner"
	StyleSupportSeeker   = "support_seeker"
	StyleHandsOnLearner  = "hands_on_learner"
	StyleBalancedLearner = "balanced_learner"
)

// UserInsights is the derived per-player report returned by
// Engine.UserInsights.
type UserInsights struct {
	UserID             string   `json:"user_id"`
	TotalSessions      int      `json:"total_sessions"`
	TotalPlaytime      float64  `json:"total_playtime"`
	AvgSessionDuration float64  `json:"avg_session_duration"`
	EngagementRate     float64  `json:"engagement_rate"`
	CurrentLevel       int      `json:"current_level"`
	MissionsCompleted  int      `json:"missions_completed"`
	GamesCompleted     int      `json:"games_completed"`
	BadgesEarned       int      `json:"badges_earned"`
	PreferredGames     []string `json:"preferred_games"`
	LearningStyle      string   `json:"learning_style"`
	Recommendations    []string `json:"recommendations"`
	LastActive         float64  `json:"last_active"`
}

// EventTypeCount is one entry of the global event-type histogram.
type EventTypeCount struct {
	Type  EventKind `json:"event_type"`
	Count int64     `json:"count"`
}

// GlobalStats are the cross-player aggregates computed straight from
// the durable store.
type GlobalStats struct {
	TotalUsers     int64            `json:"total_users"`
	TotalSessions  int64            `json:"total_sessions"`
	TotalPlaytime  float64          `json:"total_playtime"`
	TopEventTypes  []EventTypeCount `json:"top_event_types"`
	SessionsLast7d int64            `json:"sessions_last_7d"`
	GeneratedAt    time.Time        `json:"generated_at"`
}

// EngagementMetrics are the derived funnel/retention ratios.
//
// MissionCompletionRate uses (starts+completes)/2 as its denominator.
// That is a documented approximation of the true per-mission funnel,
// kept for continuity with the dashboards that already read it.
type EngagementMetrics struct {
	TotalUsers            int64   `json:"total_users"`
	ActiveUsers7d         int64   `json:"active_users_7d"`
	RetentionRate7d       float64 `json:"retention_rate_7d"`
	MissionCompletionRate float64 `json:"mission_completion_rate"`
}

// ExportFormat selects the serialization used by ExportData.
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson"
)

// RetentionPolicy controls CleanupOldData. Profiles are never purged.
type RetentionPolicy struct {
	// RetentionDays is how long raw events and session rows are kept.
	RetentionDays int

	// ArchiveEnabled exports out-of-window events to the archive sink
	// before deleting them. When the archive write fails the purge is
	// aborted for that run.
	ArchiveEnabled bool
}

// DefaultRetentionPolicy keeps 90 days of raw data with no archiving.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		RetentionDays: 90,
	}
}
