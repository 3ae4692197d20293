package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedbackhub/gamification/internal/domain/ledger"
	"github.com/feedbackhub/gamification/internal/domain/profile"
	"github.com/feedbackhub/gamification/internal/domain/shared"
	"github.com/feedbackhub/gamification/internal/infrastructure/persistence/memory"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type seqIDs struct{ n atomic.Int64 }

func (g *seqIDs) GenerateID() string { return fmt.Sprintf("id-%d", g.n.Add(1)) }

type profiles struct {
	*memory.Store
	updates   int
	getErr    error
	updateErr error

	// failAfter makes every write after the first failAfter ones fail.
	failAfter int
}

func (p *profiles) GetProfile(ctx context.Context, userID string) (*profile.UserProfile, error) {
	if p.getErr != nil {
		return nil, p.getErr
	}
	return p.Store.GetProfile(ctx, userID)
}

func (p *profiles) UpdateProfile(ctx context.Context, userID string, u profile.Update) error {
	if p.updateErr != nil {
		return p.updateErr
	}
	if p.failAfter > 0 && p.updates >= p.failAfter {
		return errors.New("connection reset")
	}
	p.updates++
	return p.Store.UpdateProfile(ctx, userID, u)
}

type activities struct {
	*memory.Store
	appends   int
	listErr   error
	appendErr error
}

func (a *activities) ListActivity(ctx context.Context, userID string) ([]*ledger.ActivityRecord, error) {
	if a.listErr != nil {
		return nil, a.listErr
	}
	return a.Store.ListActivity(ctx, userID)
}

func (a *activities) AppendActivity(ctx context.Context, r *ledger.ActivityRecord) (*ledger.ActivityRecord, error) {
	if a.appendErr != nil {
		return nil, a.appendErr
	}
	a.appends++
	return a.Store.AppendActivity(ctx, r)
}

type recordingBus struct {
	mu     sync.Mutex
	events []shared.Event
}

func (b *recordingBus) Publish(e shared.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return nil
}

func (b *recordingBus) types() []shared.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]shared.EventType, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.EventType())
	}
	return out
}

type fixture struct {
	store    *memory.Store
	profiles *profiles
	ledger   *activities
	bus      *recordingBus
	ids      *seqIDs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	_, err := store.CreateProfile(context.Background(), "u-1", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return &fixture{
		store:    store,
		profiles: &profiles{Store: store},
		ledger:   &activities{Store: store},
		bus:      &recordingBus{},
		ids:      &seqIDs{},
	}
}

func (f *fixture) seed(t *testing.T, points ...int) {
	t.Helper()
	for _, p := range points {
		r, err := ledger.NewActivityRecord(f.ids.GenerateID(), "u-1", ledger.ActivityFeedbackGiven, p, "", nil, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		_, err = f.store.AppendActivity(context.Background(), r)
		require.NoError(t, err)
	}
}

func (f *fixture) syncHandler() *SyncPointsHandler {
	return NewSyncPointsHandler(f.ledger, f.profiles, f.bus, f.ids, nil, DefaultSyncPointsHandlerConfig())
}

// ══════════════════════════════════════════════════════════════════════════════
// SYNC POINTS
// ══════════════════════════════════════════════════════════════════════════════

func TestSyncPoints_ReconcilesDrift(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 5, 10, 20)

	res, err := f.syncHandler().Handle(context.Background(), SyncPointsCommand{UserID: "u-1"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 0, res.PreviousPoints)
	assert.Equal(t, 35, res.NewPoints)
	assert.True(t, res.PointsChanged)
	assert.False(t, res.LevelChanged)
	assert.Equal(t, 1, res.NewLevel)
	assert.Equal(t, "Points synced: 0 → 35", res.Message)

	p, _ := f.store.GetProfile(context.Background(), "u-1")
	assert.Equal(t, 35, p.Points)
	assert.True(t, p.IsLevelConsistent())
	assert.Equal(t, []shared.EventType{shared.EventPointsReconciled}, f.bus.types())
}

func TestSyncPoints_IdempotentSecondCall(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 60, 60)
	h := f.syncHandler()

	first, err := h.Handle(context.Background(), SyncPointsCommand{UserID: "u-1"})
	require.NoError(t, err)
	assert.True(t, first.LevelChanged)
	assert.Equal(t, 2, first.NewLevel)

	updates, appends := f.profiles.updates, f.ledger.appends
	second, err := h.Handle(context.Background(), SyncPointsCommand{UserID: "u-1"})
	require.NoError(t, err)

	assert.True(t, second.Success)
	assert.False(t, second.PointsChanged)
	assert.False(t, second.LevelChanged)
	assert.Equal(t, "Points already in sync", second.Message)
	assert.Equal(t, updates, f.profiles.updates, "no profile write on second call")
	assert.Equal(t, appends, f.ledger.appends, "no ledger write on second call")
}

func TestSyncPoints_LevelUpWritesPairAndAuditRow(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 100, 150)

	res, err := f.syncHandler().Handle(context.Background(), SyncPointsCommand{UserID: "u-1"})
	require.NoError(t, err)

	assert.Equal(t, 3, res.NewLevel)
	assert.Equal(t, 500, res.PointsToNextLevel)
	assert.Contains(t, res.Message, "level up to 3")

	p, _ := f.store.GetProfile(context.Background(), "u-1")
	assert.Equal(t, profile.Level(3), p.Level)
	assert.Equal(t, 500, p.PointsToNextLevel)

	rows, _ := f.store.ListActivity(context.Background(), "u-1")
	last := rows[len(rows)-1]
	assert.Equal(t, ledger.ActivityLevelUp, last.ActivityType)
	assert.Equal(t, 0, last.Points)
	assert.Equal(t, 1, last.Metadata["from"])
	assert.Equal(t, 3, last.Metadata["to"])
	assert.Contains(t, f.bus.types(), shared.EventLevelChanged)
}

func TestSyncPoints_LevelCorrectedWithoutPointDrift(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 300)
	f.store.PutProfile(&profile.UserProfile{ID: "u-1", Points: 300, Level: 1, PointsToNextLevel: 100})

	res, err := f.syncHandler().Handle(context.Background(), SyncPointsCommand{UserID: "u-1"})
	require.NoError(t, err)
	assert.False(t, res.PointsChanged)
	assert.True(t, res.LevelChanged)
	assert.Equal(t, 1, f.profiles.updates)
}

func TestSyncPoints_PointsAndLevelWrittenOnce(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 100, 150)
	f.profiles.failAfter = 1

	res, err := f.syncHandler().Handle(context.Background(), SyncPointsCommand{UserID: "u-1"})
	require.NoError(t, err)
	assert.True(t, res.PointsChanged)
	assert.True(t, res.LevelChanged)
	assert.Equal(t, 1, f.profiles.updates)

	p, _ := f.store.GetProfile(context.Background(), "u-1")
	assert.Equal(t, 250, p.Points)
	assert.True(t, p.IsLevelConsistent())
}

func TestSyncPoints_FailedWriteLeavesProfileConsistent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 100, 150)
	f.profiles.updateErr = errors.New("connection reset")

	res, err := f.syncHandler().Handle(context.Background(), SyncPointsCommand{UserID: "u-1"})
	require.Error(t, err)
	assert.True(t, shared.IsDependencyFailure(err))
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.NewPoints)
	assert.Equal(t, 1, res.NewLevel)
	assert.Empty(t, f.bus.types())

	p, _ := f.store.GetProfile(context.Background(), "u-1")
	assert.Equal(t, 0, p.Points)
	assert.True(t, p.IsLevelConsistent())

	rows, _ := f.store.ListActivity(context.Background(), "u-1")
	assert.Len(t, rows, 2, "no level_up row without a level write")
}

func TestSyncPoints_Failures(t *testing.T) {
	boom := errors.New("connection refused")

	t.Run("missing user id", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.syncHandler().Handle(context.Background(), SyncPointsCommand{})
		assert.True(t, shared.IsValidation(err))
		assert.False(t, res.Success)
		assert.Equal(t, 0, f.profiles.updates)
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.syncHandler().Handle(context.Background(), SyncPointsCommand{UserID: "ghost"})
		assert.True(t, shared.IsNotFound(err))
		assert.Equal(t, "Profile not found", res.Message)
	})

	t.Run("profile read fails", func(t *testing.T) {
		f := newFixture(t)
		f.profiles.getErr = boom
		res, err := f.syncHandler().Handle(context.Background(), SyncPointsCommand{UserID: "u-1"})
		assert.True(t, shared.IsDependencyFailure(err))
		assert.ErrorIs(t, err, boom)
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "connection refused")
	})

	t.Run("ledger read fails without writing", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, 50)
		f.ledger.listErr = boom
		res, err := f.syncHandler().Handle(context.Background(), SyncPointsCommand{UserID: "u-1"})
		assert.True(t, shared.IsDependencyFailure(err))
		assert.False(t, res.Success)
		assert.Equal(t, 0, f.profiles.updates)

		p, _ := f.store.GetProfile(context.Background(), "u-1")
		assert.Equal(t, 0, p.Points)
	})

	t.Run("points write fails", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, 50)
		f.profiles.updateErr = boom
		res, err := f.syncHandler().Handle(context.Background(), SyncPointsCommand{UserID: "u-1"})
		assert.True(t, shared.IsRetryable(err))
		assert.False(t, res.Success)
		assert.Empty(t, f.bus.types())
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD ACTIVITY
// ══════════════════════════════════════════════════════════════════════════════

func TestRecordActivity(t *testing.T) {
	f := newFixture(t)
	h := NewRecordActivityHandler(f.ledger, f.profiles, f.bus, f.ids, nil, nil)

	res, err := h.Handle(context.Background(), RecordActivityCommand{
		UserID:       "u-1",
		ActivityType: "project_created",
		Description:  "New project",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 25, res.Activity.Points)
	assert.Equal(t, []shared.EventType{shared.EventActivityRecorded}, f.bus.types())

	points := 3
	res, err = h.Handle(context.Background(), RecordActivityCommand{UserID: "u-1", ActivityType: "feedback_given", Points: &points})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Activity.Points)

	rows, _ := f.store.ListActivity(context.Background(), "u-1")
	assert.Equal(t, 28, ledger.Sum(rows))
}

func TestRecordActivity_Rejects(t *testing.T) {
	f := newFixture(t)
	h := NewRecordActivityHandler(f.ledger, f.profiles, f.bus, f.ids, nil, nil)
	neg := -5

	tests := []struct {
		name string
		cmd  RecordActivityCommand
	}{
		{"missing user", RecordActivityCommand{ActivityType: "feedback_given"}},
		{"unknown type", RecordActivityCommand{UserID: "u-1", ActivityType: "dance"}},
		{"synthetic achievement_earned", RecordActivityCommand{UserID: "u-1", ActivityType: "achievement_earned"}},
		{"synthetic level_up", RecordActivityCommand{UserID: "u-1", ActivityType: "level_up"}},
		{"negative points", RecordActivityCommand{UserID: "u-1", ActivityType: "feedback_given", Points: &neg}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := h.Handle(context.Background(), tt.cmd)
			assert.True(t, shared.IsValidation(err))
			assert.False(t, res.Success)
			assert.NotEmpty(t, res.Message)
		})
	}
	assert.Equal(t, 0, f.ledger.appends)

	_, err := h.Handle(context.Background(), RecordActivityCommand{UserID: "ghost", ActivityType: "feedback_given"})
	assert.True(t, shared.IsNotFound(err))
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD LOGIN
// ══════════════════════════════════════════════════════════════════════════════

func TestRecordLogin_Streak(t *testing.T) {
	f := newFixture(t)
	h := NewRecordLoginHandler(f.ledger, f.profiles, f.bus, f.ids, nil, DefaultRecordLoginHandlerConfig())
	day := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()

	res, err := h.Handle(ctx, RecordLoginCommand{UserID: "u-1", At: day})
	require.NoError(t, err)
	assert.True(t, res.FirstToday)
	assert.Equal(t, 1, res.LoginStreak)
	assert.Equal(t, 5, res.PointsAwarded)

	res, err = h.Handle(ctx, RecordLoginCommand{UserID: "u-1", At: day.Add(3 * time.Hour)})
	require.NoError(t, err)
	assert.False(t, res.FirstToday)
	assert.Equal(t, 0, res.PointsAwarded)

	res, err = h.Handle(ctx, RecordLoginCommand{UserID: "u-1", At: day.Add(24 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 2, res.LoginStreak)

	res, err = h.Handle(ctx, RecordLoginCommand{UserID: "u-1", At: day.Add(5 * 24 * time.Hour)})
	require.NoError(t, err)
	assert.True(t, res.StreakBroken)
	assert.Equal(t, 1, res.LoginStreak)
	assert.Equal(t, 2, res.MaxLoginStreak)

	rows, _ := f.store.ListActivity(ctx, "u-1")
	assert.Len(t, rows, 3)
	assert.Equal(t, 3, ledger.CountByType(rows)[ledger.ActivityDailyLogin])

	p, _ := f.store.GetProfile(ctx, "u-1")
	assert.Equal(t, 1, p.LoginStreak)
	assert.Equal(t, 2, p.MaxLoginStreak)
}

func TestRecordLogin_AppendFailureLeavesStreak(t *testing.T) {
	f := newFixture(t)
	f.ledger.appendErr = errors.New("disk full")
	h := NewRecordLoginHandler(f.ledger, f.profiles, f.bus, f.ids, nil, DefaultRecordLoginHandlerConfig())

	res, err := h.Handle(context.Background(), RecordLoginCommand{UserID: "u-1"})
	assert.True(t, shared.IsDependencyFailure(err))
	assert.False(t, res.Success)
	assert.Equal(t, 0, f.profiles.updates)
}

// ══════════════════════════════════════════════════════════════════════════════
// CREATE PROFILE
// ══════════════════════════════════════════════════════════════════════════════

type failingProvisioner struct{ err error }

func (p failingProvisioner) CreateProfile(context.Context, string, time.Time) (*profile.UserProfile, error) {
	return nil, p.err
}

func TestCreateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := NewCreateProfileHandler(f.profiles, f.store, nil)
	signup := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	res, err := h.Handle(ctx, CreateProfileCommand{UserID: "bob", AccountCreatedAt: signup})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Created)
	assert.Equal(t, 0, res.Points)
	assert.Equal(t, 1, res.Level)
	assert.Equal(t, signup, res.AccountCreatedAt)

	p, err := f.store.GetProfile(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, p.IsLevelConsistent())

	// Provisioning again keeps the stored profile.
	res, err = h.Handle(ctx, CreateProfileCommand{UserID: "bob", AccountCreatedAt: signup.AddDate(1, 0, 0)})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.Created)
	assert.Equal(t, signup, res.AccountCreatedAt)
	assert.Equal(t, "Profile already exists", res.Message)
}

func TestCreateProfile_DefaultsSignupToNow(t *testing.T) {
	f := newFixture(t)
	h := NewCreateProfileHandler(f.profiles, f.store, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	res, err := h.Handle(context.Background(), CreateProfileCommand{UserID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, now, res.AccountCreatedAt)
}

func TestCreateProfile_Failures(t *testing.T) {
	t.Run("missing user", func(t *testing.T) {
		f := newFixture(t)
		res, err := NewCreateProfileHandler(f.profiles, f.store, nil).Handle(context.Background(), CreateProfileCommand{})
		assert.ErrorIs(t, err, shared.ErrMissingUserID)
		assert.False(t, res.Success)
	})

	t.Run("read failure", func(t *testing.T) {
		f := newFixture(t)
		f.profiles.getErr = errors.New("connection refused")
		res, err := NewCreateProfileHandler(f.profiles, f.store, nil).Handle(context.Background(), CreateProfileCommand{UserID: "bob"})
		assert.True(t, shared.IsDependencyFailure(err))
		assert.False(t, res.Created)
	})

	t.Run("write failure", func(t *testing.T) {
		f := newFixture(t)
		h := NewCreateProfileHandler(f.profiles, failingProvisioner{err: errors.New("disk full")}, nil)
		res, err := h.Handle(context.Background(), CreateProfileCommand{UserID: "bob"})
		assert.True(t, shared.IsDependencyFailure(err))
		assert.False(t, res.Success)

		_, err = f.store.GetProfile(context.Background(), "bob")
		assert.True(t, shared.IsNotFound(err))
	})
}
