package analytics

import (
	"context"
	"fmt"
	"time"
)

const sevenDays = 7 * 24 * 60 * 60

// GlobalAnalytics computes the cross-player aggregates. Each metric is
// queried independently; a failing query zeroes that metric and logs,
// so one bad query never blanks the whole dashboard.
func (e *Engine) GlobalAnalytics(ctx context.Context) *GlobalStats {
	stats := &GlobalStats{GeneratedAt: time.Now().UTC()}

	var err error
	if stats.TotalUsers, err = e.store.CountDistinctUsers(ctx); err != nil {
		e.logger.WithError(err).Warn("global analytics: user count failed")
	}
	if stats.TotalSessions, stats.TotalPlaytime, err = e.store.SumSessionTotals(ctx); err != nil {
		e.logger.WithError(err).Warn("global analytics: session totals failed")
	}
	if stats.TopEventTypes, err = e.store.TopEventTypes(ctx, 10); err != nil {
		e.logger.WithError(err).Warn("global analytics: event histogram failed")
	}
	since := unixNow() - sevenDays
	if stats.SessionsLast7d, err = e.store.CountSessionsSince(ctx, since); err != nil {
		e.logger.WithError(err).Warn("global analytics: recent session count failed")
	}

	return stats
}

// EngagementMetrics computes the retention and completion ratios.
// Ratios are percentages; an empty install yields all zeros.
func (e *Engine) EngagementMetrics(ctx context.Context) *EngagementMetrics {
	m := &EngagementMetrics{}

	var err error
	if m.TotalUsers, err = e.store.CountDistinctUsers(ctx); err != nil {
		e.logger.WithError(err).Warn("engagement metrics: user count failed")
	}
	since := unixNow() - sevenDays
	if m.ActiveUsers7d, err = e.store.CountUsersActiveSince(ctx, since); err != nil {
		e.logger.WithError(err).Warn("engagement metrics: active user count failed")
	}
	if m.TotalUsers > 0 {
		m.RetentionRate7d = float64(m.ActiveUsers7d) / float64(m.TotalUsers) * 100
	}

	starts, err := e.store.CountEventsOfKind(ctx, EventMissionStart)
	if err != nil {
		e.logger.WithError(err).Warn("engagement metrics: mission start count failed")
	}
	completes, err := e.store.CountEventsOfKind(ctx, EventMissionComplete)
	if err != nil {
		e.logger.WithError(err).Warn("engagement metrics: mission complete count failed")
	}
	// Averaging starts and completes dampens the skew from sessions that
	// end mid-mission; see EngagementMetrics for the caveat.
	if denom := (float64(starts) + float64(completes)) / 2; denom > 0 {
		m.MissionCompletionRate = float64(completes) / denom * 100
	}

	return m
}

// CleanupOldData purges events and sessions older than the retention
// window. Profiles are never purged. With archiving enabled the
// out-of-window events are written to the archive sink first, and an
// archive failure aborts the purge so nothing is lost.
func (e *Engine) CleanupOldData(ctx context.Context) (eventsDeleted, sessionsDeleted int64, err error) {
	cutoff := unixNow() - float64(e.cfg.Retention.RetentionDays)*24*60*60

	if e.cfg.Retention.ArchiveEnabled && e.archiver != nil {
		var old []*Event
		old, err = e.store.QueryEvents(ctx, EventFilter{Before: cutoff})
		if err != nil {
			return 0, 0, fmt.Errorf("failed to read events for archiving: %w", err)
		}
		if len(old) > 0 {
			if err = e.archiver.ArchiveEvents(ctx, cutoff, old); err != nil {
				return 0, 0, fmt.Errorf("archive failed, purge aborted: %w", err)
			}
			e.logger.Infof("archived %d events before purge", len(old))
		}
	}

	err = e.observeStore("delete_before", func() error {
		var derr error
		eventsDeleted, sessionsDeleted, derr = e.store.DeleteBefore(ctx, cutoff)
		return derr
	})
	if err != nil {
		return 0, 0, fmt.Errorf("retention purge failed: %w", err)
	}

	e.metrics.PurgedRowsTotal.WithLabelValues("events").Add(float64(eventsDeleted))
	e.metrics.PurgedRowsTotal.WithLabelValues("sessions").Add(float64(sessionsDeleted))
	e.logger.Infof("retention cleanup removed %d events and %d sessions older than %d days",
		eventsDeleted, sessionsDeleted, e.cfg.Retention.RetentionDays)

	return eventsDeleted, sessionsDeleted, nil
}
