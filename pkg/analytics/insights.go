package analytics

import (
	"context"
	"math"
)

// UserInsights derives the per-player report from the in-memory profile
// and the stored event history. Unknown players yield (nil, nil) so
// callers can distinguish "no data" from a failed store.
//
// Results are cached for a short TTL; EndSession invalidates the
// player's entry so the next read reflects the finished session.
func (e *Engine) UserInsights(ctx context.Context, rawUserID string) (*UserInsights, error) {
	userID := e.anonymizer.Anonymize(rawUserID)

	if cached, ok := e.insightsCache.Get(userID); ok {
		e.metrics.CacheHitsTotal.WithLabelValues("insights").Inc()
		return cached, nil
	}
	e.metrics.CacheMissesTotal.WithLabelValues("insights").Inc()

	e.profMu.RLock()
	p := e.profiles[userID]
	var snapshot *UserProfile
	if p != nil {
		snapshot = p.clone()
	}
	e.profMu.RUnlock()

	if snapshot == nil {
		return nil, nil
	}

	style := e.learningStyle(ctx, userID)

	avg := 0.0
	if snapshot.TotalSessions > 0 {
		avg = snapshot.TotalPlaytime / float64(snapshot.TotalSessions)
	}

	preferred := snapshot.PreferredGames
	if len(preferred) > 5 {
		preferred = preferred[:5]
	}

	insights := &UserInsights{
		UserID:             userID,
		TotalSessions:      snapshot.TotalSessions,
		TotalPlaytime:      snapshot.TotalPlaytime,
		AvgSessionDuration: avg,
		EngagementRate:     clamp01(snapshot.EngagementScore / 100),
		CurrentLevel:       snapshot.CurrentLevel,
		MissionsCompleted:  snapshot.MissionsCompleted,
		GamesCompleted:     snapshot.GamesCompleted,
		BadgesEarned:       snapshot.BadgesEarned,
		PreferredGames:     preferred,
		LearningStyle:      style,
		Recommendations:    recommendations(snapshot, style),
		LastActive:         snapshot.LastActive,
	}

	e.insightsCache.Add(userID, insights)
	return insights, nil
}

// learningStyle classifies a player from their event-kind counts. The
// store query is deduplicated with singleflight so a burst of insight
// reads for the same player costs one query. A failed query degrades
// to the balanced default rather than failing the whole report.
func (e *Engine) learningStyle(ctx context.Context, userID string) string {
	v, err, _ := e.styleGroup.Do(userID, func() (interface{}, error) {
		counts, err := e.store.EventTypeCountsForUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		return classifyLearningStyle(counts), nil
	})
	if err != nil {
		e.logger.WithError(err).WithField("user_id", userID).Warn("learning style query failed")
		return StyleBalancedLearner
	}
	return v.(string)
}

// classifyLearningStyle maps event-kind counts to a style label. The
// branch order is load-bearing: tutorial preference wins over help
// seeking, which wins over game preference.
func classifyLearningStyle(counts map[EventKind]int64) string {
	tutorials := counts[EventTutorialStart]
	games := counts[EventGameStart]
	help := counts[EventHelpRequested] + counts[EventHintUsed]

	switch {
	case tutorials > games:
		return StyleGuidedLearner
	case help > 0:
		return StyleSupportSeeker
	case games > tutorials:
		return StyleHandsOnLearner
	default:
		return StyleBalancedLearner
	}
}

// recommendations builds the ordered suggestion list: level-based
// onboarding first, then style-specific content, then re-engagement
// nudges, capped at five entries.
func recommendations(p *UserProfile, style string) []string {
	recs := make([]string, 0, 5)

	if p.CurrentLevel <= 3 {
		recs = append(recs,
			"Complete the tutorial missions to unlock new commands",
			"Try the file navigation mini-game to practice cd and ls",
		)
	}

	switch style {
	case StyleGuidedLearner:
		recs = append(recs,
			"New guided walkthroughs are available in the mission log",
		)
	case StyleSupportSeeker:
		recs = append(recs,
			"Review the command reference before your next mission",
			"Practice missions replay earlier challenges at an easier pace",
		)
	case StyleHandsOnLearner:
		recs = append(recs,
			"Challenge mode offers tougher puzzles with fewer hints",
		)
	default:
		recs = append(recs,
			"Mix tutorials and free-play games to keep progressing",
		)
	}

	if p.EngagementScore < 50 {
		recs = append(recs,
			"Short daily sessions build skills faster than long gaps",
		)
	}

	if len(recs) > 5 {
		recs = recs[:5]
	}
	return recs
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
