package saga

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

	"github.com/feedbackhub/gamification/internal/application/command"
	"github.com/feedbackhub/gamification/internal/domain/achievement"
	"github.com/feedbackhub/gamification/internal/domain/ledger"
	"github.com/feedbackhub/gamification/internal/domain/profile"
	"github.com/feedbackhub/gamification/internal/domain/shared"
	"github.com/feedbackhub/gamification/internal/infrastructure/persistence/memory"
)

type seqIDs struct{ n atomic.Int64 }

func (g *seqIDs) GenerateID() string { return fmt.Sprintf("id-%d", g.n.Add(1)) }

type failingCatalog struct {
	*memory.Store
	err error
}

func (c *failingCatalog) ListActiveAchievements(ctx context.Context) ([]*achievement.Achievement, error) {
	return nil, c.err
}

type flakyRecorder struct {
	*memory.Store
	failFor string
}

func (r *flakyRecorder) RecordAward(ctx context.Context, a *achievement.UserAchievement, reward *ledger.ActivityRecord) error {
	if a.AchievementID == r.failFor {
		return errors.New("deadlock detected")
	}
	return r.Store.RecordAward(ctx, a, reward)
}

type failingSyncer struct{}

func (failingSyncer) Handle(ctx context.Context, cmd command.SyncPointsCommand) (*command.SyncPointsResult, error) {
	err := shared.NewDependencyFailure("points", "SyncPoints", "failed to update points", errors.New("timeout"))
	return &command.SyncPointsResult{UserID: cmd.UserID, Message: "Failed to update points: timeout"}, err
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

func (b *recordingBus) count(t shared.EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.EventType() == t {
			n++
		}
	}
	return n
}

func intp(n int) *int { return &n }

type sagaFixture struct {
	store *memory.Store
	ids   *seqIDs
	bus   *recordingBus
}

func newSagaFixture(t *testing.T, createdAt time.Time) *sagaFixture {
	t.Helper()
	store := memory.NewStore()
	_, err := store.CreateProfile(context.Background(), "u-1", createdAt)
	require.NoError(t, err)

	for _, a := range []*achievement.Achievement{
		{ID: "feedback-5", Name: "Feedback Five", PointsReward: 50, IsActive: true,
			Criteria: achievement.Criteria{Count: intp(5), Action: "feedback_given"}},
		{ID: "early-adopter", Name: "Early Adopter", PointsReward: 0, IsActive: true,
			Criteria: achievement.Criteria{Action: achievement.SpecialEarlyAdopter}},
		{ID: "streak-3", Name: "Three Days", PointsReward: 20, IsActive: true,
			Criteria: achievement.Criteria{Days: intp(3)}},
		{ID: "retired", Name: "Retired", PointsReward: 10, IsActive: false,
			Criteria: achievement.Criteria{Count: intp(1)}},
	} {
		require.NoError(t, store.UpsertAchievement(context.Background(), a))
	}
	return &sagaFixture{store: store, ids: &seqIDs{}, bus: &recordingBus{}}
}

func (f *sagaFixture) feedback(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		r, err := ledger.NewActivityRecord(f.ids.GenerateID(), "u-1", ledger.ActivityFeedbackGiven, 10, "", nil, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		_, err = f.store.AppendActivity(context.Background(), r)
		require.NoError(t, err)
	}
}

func (f *sagaFixture) syncer() *command.SyncPointsHandler {
	return command.NewSyncPointsHandler(f.store, f.store, f.bus, f.ids, nil, command.DefaultSyncPointsHandlerConfig())
}

func (f *sagaFixture) saga(mod func(*AchievementFlowDeps)) *AchievementFlowSaga {
	deps := AchievementFlowDeps{
		Profiles:    f.store,
		Ledger:      f.store,
		Catalog:     f.store,
		Earned:      f.store,
		Recorder:    f.store,
		Syncer:      f.syncer(),
		EventBus:    f.bus,
		IDGenerator: f.ids,
	}
	if mod != nil {
		mod(&deps)
	}
	return NewAchievementFlowSaga(deps, DefaultAchievementFlowConfig())
}

func awardedIDs(r *EvaluateAchievementsResult) []string {
	out := make([]string, 0, len(r.Awarded))
	for _, a := range r.Awarded {
		out = append(out, a.ID)
	}
	return out
}

func TestEvaluate_CountThreshold(t *testing.T) {
	late := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	f := newSagaFixture(t, late)
	s := f.saga(nil)
	ctx := context.Background()

	f.feedback(t, 4)
	res, err := s.Execute(ctx, EvaluateAchievementsInput{UserID: "u-1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Awarded)
	assert.Equal(t, "No new achievements", res.Message)

	f.feedback(t, 1)
	res, err = s.Execute(ctx, EvaluateAchievementsInput{UserID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"feedback-5"}, awardedIDs(res))
	assert.Equal(t, 50, res.TotalReward)
	assert.Equal(t, "Achievement unlocked: Feedback Five", res.Message)

	// Reward row folded into the profile by the reconcile step.
	require.NotNil(t, res.Sync)
	assert.True(t, res.Sync.Success)
	p, _ := f.store.GetProfile(ctx, "u-1")
	assert.Equal(t, 100, p.Points)
	assert.Equal(t, profile.Level(2), p.Level)

	rows, _ := f.store.ListActivity(ctx, "u-1")
	assert.Equal(t, 1, ledger.CountByType(rows)[ledger.ActivityAchievementEarned])
	assert.Equal(t, 1, f.bus.count(shared.EventAchievementEarned))
}

func TestEvaluate_RewardsDoNotUnlockFurtherAwards(t *testing.T) {
	f := newSagaFixture(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	for _, a := range []*achievement.Achievement{
		{ID: "points-100", Name: "Hundred", PointsReward: 10, IsActive: true,
			Criteria: achievement.Criteria{Points: intp(100)}},
		{ID: "rows-6", Name: "Six Actions", PointsReward: 10, IsActive: true,
			Criteria: achievement.Criteria{Count: intp(6)}},
		{ID: "level-2", Name: "Level Two", PointsReward: 10, IsActive: true,
			Criteria: achievement.Criteria{Level: intp(2)}},
	} {
		require.NoError(t, f.store.UpsertAchievement(context.Background(), a))
	}
	s := f.saga(nil)
	ctx := context.Background()

	f.feedback(t, 5)
	first, err := s.Execute(ctx, EvaluateAchievementsInput{UserID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"feedback-5"}, awardedIDs(first))

	// The reward lifted the profile to 100 points and level 2, and the ledger
	// now holds seven rows, but none of that is user activity.
	p, _ := f.store.GetProfile(ctx, "u-1")
	assert.Equal(t, 100, p.Points)
	rows, _ := f.store.ListActivity(ctx, "u-1")
	assert.Len(t, rows, 7)

	second, err := s.Execute(ctx, EvaluateAchievementsInput{UserID: "u-1"})
	require.NoError(t, err)
	assert.Empty(t, second.Awarded)

	f.feedback(t, 1)
	third, err := s.Execute(ctx, EvaluateAchievementsInput{UserID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"rows-6"}, awardedIDs(third))
}

func TestEvaluate_EarlyAdopter(t *testing.T) {
	early := newSagaFixture(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	res, err := early.saga(nil).Execute(context.Background(), EvaluateAchievementsInput{UserID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"early-adopter"}, awardedIDs(res))

	// Zero-reward achievement: no ledger row.
	rows, _ := early.store.ListActivity(context.Background(), "u-1")
	assert.Empty(t, rows)

	late := newSagaFixture(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	late.feedback(t, 3)
	res, err = late.saga(nil).Execute(context.Background(), EvaluateAchievementsInput{UserID: "u-1"})
	require.NoError(t, err)
	assert.NotContains(t, awardedIDs(res), "early-adopter")
}

func TestEvaluate_IdempotentSecondPass(t *testing.T) {
	f := newSagaFixture(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	f.feedback(t, 5)
	s := f.saga(nil)

	first, err := s.Execute(context.Background(), EvaluateAchievementsInput{UserID: "u-1"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"feedback-5", "early-adopter"}, awardedIDs(first))
	assert.Equal(t, "2 achievements unlocked: Feedback Five, Early Adopter", first.Message)

	second, err := s.Execute(context.Background(), EvaluateAchievementsInput{UserID: "u-1"})
	require.NoError(t, err)
	assert.Empty(t, second.Awarded)
	assert.Nil(t, second.Sync)
	assert.Equal(t, 2, f.store.EarnedCount("u-1"))
}

func TestEvaluate_InactiveNeverAwarded(t *testing.T) {
	f := newSagaFixture(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	f.feedback(t, 10)
	res, err := f.saga(nil).Execute(context.Background(), EvaluateAchievementsInput{UserID: "u-1"})
	require.NoError(t, err)
	assert.NotContains(t, awardedIDs(res), "retired")
}

func TestEvaluate_ConcurrentPassesAwardOnce(t *testing.T) {
	f := newSagaFixture(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	f.feedback(t, 5)

	const workers = 8
	results := make([]*EvaluateAchievementsResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.saga(nil).Execute(context.Background(), EvaluateAchievementsInput{UserID: "u-1"})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	total := 0
	for _, r := range results {
		require.NotNil(t, r)
		assert.True(t, r.Success)
		total += len(r.Awarded)
	}
	assert.Equal(t, 2, total, "each achievement awarded exactly once across all passes")
	assert.Equal(t, 2, f.store.EarnedCount("u-1"))

	rows, _ := f.store.ListActivity(context.Background(), "u-1")
	assert.Equal(t, 1, ledger.CountByType(rows)[ledger.ActivityAchievementEarned])
}

func TestEvaluate_ReadFailureAbortsWithoutAwards(t *testing.T) {
	f := newSagaFixture(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	f.feedback(t, 5)
	boom := errors.New("catalog offline")

	s := f.saga(func(d *AchievementFlowDeps) {
		d.Catalog = &failingCatalog{Store: f.store, err: boom}
	})
	res, err := s.Execute(context.Background(), EvaluateAchievementsInput{UserID: "u-1"})

	require.Error(t, err)
	assert.True(t, shared.IsDependencyFailure(err))
	assert.ErrorIs(t, err, boom)
	var flowErr *AchievementFlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, StepLoadCatalog, flowErr.Step)

	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "catalog offline")
	assert.Equal(t, 0, f.store.EarnedCount("u-1"))
}

func TestEvaluate_PartialAwardFailureIsReported(t *testing.T) {
	f := newSagaFixture(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	f.feedback(t, 5)

	s := f.saga(func(d *AchievementFlowDeps) {
		d.Recorder = &flakyRecorder{Store: f.store, failFor: "feedback-5"}
	})
	res, err := s.Execute(context.Background(), EvaluateAchievementsInput{UserID: "u-1"})

	require.Error(t, err)
	assert.True(t, shared.IsDependencyFailure(err))
	assert.False(t, res.Success)
	assert.Equal(t, []string{"early-adopter"}, awardedIDs(res))
	assert.Equal(t, []string{"feedback-5"}, res.Failed)
	assert.Contains(t, res.Message, "failed to award feedback-5")

	// The failed one is retried on the next pass.
	res, err = f.saga(nil).Execute(context.Background(), EvaluateAchievementsInput{UserID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"feedback-5"}, awardedIDs(res))
}

func TestEvaluate_MergeEarlierKeepsAwardsOfFailedAttempt(t *testing.T) {
	f := newSagaFixture(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	f.feedback(t, 5)
	ctx := context.Background()

	first, err := f.saga(func(d *AchievementFlowDeps) {
		d.Recorder = &flakyRecorder{Store: f.store, failFor: "feedback-5"}
	}).Execute(ctx, EvaluateAchievementsInput{UserID: "u-1"})
	require.Error(t, err)
	require.Equal(t, []string{"early-adopter"}, awardedIDs(first))

	second, err := f.saga(nil).Execute(ctx, EvaluateAchievementsInput{UserID: "u-1"})
	require.NoError(t, err)
	require.Equal(t, []string{"feedback-5"}, awardedIDs(second))

	second.MergeEarlier(first)
	assert.ElementsMatch(t, []string{"early-adopter", "feedback-5"}, awardedIDs(second))
	assert.Empty(t, second.Failed)
	assert.Equal(t, 50, second.TotalReward)
	assert.Equal(t, "2 achievements unlocked: Early Adopter, Feedback Five", second.Message)

	// Merging twice does not double count.
	second.MergeEarlier(first)
	assert.Len(t, second.Awarded, 2)
	assert.Equal(t, 50, second.TotalReward)
}

func TestEvaluate_MergeEarlierOnFailedAttempt(t *testing.T) {
	earlier := &EvaluateAchievementsResult{
		Success: true,
		Awarded: []*achievement.Achievement{{ID: "a", Name: "Alpha", PointsReward: 5}},
	}
	last := &EvaluateAchievementsResult{
		Awarded: []*achievement.Achievement{},
		Message: "Evaluation failed: connection reset",
	}
	last.MergeEarlier(earlier)

	assert.Equal(t, []string{"a"}, awardedIDs(last))
	assert.Equal(t, 5, last.TotalReward)
	assert.Equal(t, "Unlocked before the failure: Alpha; Evaluation failed: connection reset", last.Message)
	assert.False(t, last.Success)
}

func TestEvaluate_ReconcileFailureKeepsAwards(t *testing.T) {
	f := newSagaFixture(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	f.feedback(t, 5)

	s := f.saga(func(d *AchievementFlowDeps) { d.Syncer = failingSyncer{} })
	res, err := s.Execute(context.Background(), EvaluateAchievementsInput{UserID: "u-1"})

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"feedback-5"}, awardedIDs(res))
	assert.Contains(t, res.Message, "points not yet updated")
	assert.Equal(t, 1, f.store.EarnedCount("u-1"))
}

func TestEvaluate_Validation(t *testing.T) {
	f := newSagaFixture(t, time.Now())
	res, err := f.saga(nil).Execute(context.Background(), EvaluateAchievementsInput{})
	assert.True(t, shared.IsValidation(err))
	assert.False(t, res.Success)

	res, err = f.saga(nil).Execute(context.Background(), EvaluateAchievementsInput{UserID: "ghost"})
	assert.True(t, shared.IsNotFound(err))
	assert.Equal(t, "Profile not found", res.Message)
}
