package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedbackhub/gamification/internal/domain/shared"
)

func TestObserveEvent(t *testing.T) {
	m := New()

	m.ObserveEvent(shared.NewPointsReconciledEvent("u", 10, 45))
	m.ObserveEvent(shared.NewPointsReconciledEvent("u", 45, 40))
	m.ObserveEvent(shared.NewLevelChangedEvent("u", 1, 2, 250))
	m.ObserveEvent(shared.NewLevelChangedEvent("u", 3, 2, 250))
	m.ObserveEvent(shared.NewAchievementEarnedEvent("u", "first", "First", 10))
	m.ObserveEvent(shared.NewActivityRecordedEvent("u", "a1", "feedback_given", 10))
	m.ObserveEvent(shared.NewLoginRecordedEvent("u", 2, 2, true))
	m.ObserveEvent(shared.NewLoginRecordedEvent("u", 2, 2, false))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PointsReconciled))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.PointsDelta))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LevelChanges.WithLabelValues("up")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LevelChanges.WithLabelValues("down")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AchievementsEarned.WithLabelValues("first")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActivitiesRecorded.WithLabelValues("feedback_given")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoginsRecorded))
}

func TestObserveHandlerAndJob(t *testing.T) {
	m := New()
	m.ObserveHandler(shared.EventLevelChanged, time.Millisecond, nil)
	m.ObserveHandler(shared.EventLevelChanged, time.Millisecond, errors.New("x"))
	m.ObserveJob("rebuild_leaderboard", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventHandlerRuns.WithLabelValues("level.changed", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventHandlerRuns.WithLabelValues("level.changed", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("rebuild_leaderboard", "ok")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.ObserveHTTP("GET", "/health", 200, 5*time.Millisecond)
	m.RegisterGauge("db_pool_acquired", "Acquired connections.", func() float64 { return 3 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `gamification_http_requests_total{method="GET",route="/health",status="200"} 1`)
	assert.Contains(t, body, "gamification_db_pool_acquired 3")
}
