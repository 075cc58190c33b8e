package analytics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyLearningStyle(t *testing.T) {
	tests := []struct {
		name      string
		tutorials int64
		games     int64
		help      int64
		hints     int64
		want      string
	}{
		{"more tutorials than games", 3, 1, 0, 0, StyleGuidedLearner},
		{"tutorial preference beats help seeking", 4, 1, 7, 0, StyleGuidedLearner},
		{"help requests", 2, 2, 1, 0, StyleSupportSeeker},
		{"hints count as help", 2, 2, 0, 3, StyleSupportSeeker},
		{"more games than tutorials", 1, 3, 0, 0, StyleHandsOnLearner},
		{"no signals", 0, 0, 0, 0, StyleBalancedLearner},
		{"tie with no help", 5, 5, 0, 0, StyleBalancedLearner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counts := map[EventKind]int64{
				EventTutorialStart: tt.tutorials,
				EventGameStart:     tt.games,
				EventHelpRequested: tt.help,
				EventHintUsed:      tt.hints,
			}
			assert.Equal(t, tt.want, classifyLearningStyle(counts))
		})
	}
}

func TestRecommendationsOrderAndCap(t *testing.T) {
	// Low level, support seeker, low engagement hits every branch and
	// must still cap at five.
	p := &UserProfile{CurrentLevel: 2, EngagementScore: 10}
	recs := recommendations(p, StyleSupportSeeker)

	require.Len(t, recs, 5)
	assert.Contains(t, recs[0], "tutorial")
}

func TestRecommendationsHighLevelHandsOn(t *testing.T) {
	p := &UserProfile{CurrentLevel: 8, EngagementScore: 80}
	recs := recommendations(p, StyleHandsOnLearner)

	require.Len(t, recs, 1)
	assert.Contains(t, recs[0], "Challenge")
}

func TestUserInsightsUnknownUser(t *testing.T) {
	engine := newTestEngine(t, newFakeStore(), Config{BufferSize: 100})

	insights, err := engine.UserInsights(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, insights)
}

func TestUserInsightsFromProfile(t *testing.T) {
	store := newFakeStore()
	store.typeCounts = map[EventKind]int64{
		EventTutorialStart: 6,
		EventGameStart:     2,
	}

	engine := newTestEngine(t, store, Config{BufferSize: 100})
	ctx := context.Background()

	// Two short sessions build the profile.
	engine.StartSession("dana", "s1", nil)
	engine.EndSession(ctx, "dana", "s1")
	engine.StartSession("dana", "s2", nil)
	engine.EndSession(ctx, "dana", "s2")

	insights, err := engine.UserInsights(ctx, "dana")
	require.NoError(t, err)
	require.NotNil(t, insights)

	assert.Equal(t, engine.Anonymize("dana"), insights.UserID)
	assert.Equal(t, 2, insights.TotalSessions)
	assert.Equal(t, StyleGuidedLearner, insights.LearningStyle)
	assert.InDelta(t, insights.TotalPlaytime/2, insights.AvgSessionDuration, 1e-9)
	assert.GreaterOrEqual(t, insights.EngagementRate, 0.0)
	assert.LessOrEqual(t, insights.EngagementRate, 1.0)
	assert.NotEmpty(t, insights.Recommendations)
}

func TestUserInsightsCached(t *testing.T) {
	store := newFakeStore()
	store.typeCounts = map[EventKind]int64{EventGameStart: 3}

	engine := newTestEngine(t, store, Config{BufferSize: 100})
	ctx := context.Background()

	engine.StartSession("erin", "s1", nil)
	engine.EndSession(ctx, "erin", "s1")

	first, err := engine.UserInsights(ctx, "erin")
	require.NoError(t, err)
	second, err := engine.UserInsights(ctx, "erin")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, store.countQueryCalls, "classification should be queried once")
}

func TestEndSessionInvalidatesInsights(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(t, store, Config{BufferSize: 100})
	ctx := context.Background()

	engine.StartSession("finn", "s1", nil)
	engine.EndSession(ctx, "finn", "s1")

	before, err := engine.UserInsights(ctx, "finn")
	require.NoError(t, err)
	assert.Equal(t, 1, before.TotalSessions)

	engine.StartSession("finn", "s2", nil)
	engine.EndSession(ctx, "finn", "s2")

	after, err := engine.UserInsights(ctx, "finn")
	require.NoError(t, err)
	assert.Equal(t, 2, after.TotalSessions)
}
