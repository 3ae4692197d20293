// Package saga contains business processes that orchestrate several domain
// operations and report partial failures instead of hiding them.
package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/feedbackhub/gamification/internal/application/command"
	"github.com/feedbackhub/gamification/internal/domain/achievement"
	"github.com/feedbackhub/gamification/internal/domain/ledger"
	"github.com/feedbackhub/gamification/internal/domain/profile"
	"github.com/feedbackhub/gamification/internal/domain/shared"
	"github.com/feedbackhub/gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT FLOW SAGA
// Flow: Load Profile → Load Catalog → Load Earned Set → Load Ledger →
//
//	Evaluate Criteria → Record Awards → Reconcile Points → Publish Events
//
// Every read happens before the first write, so a failed read leaves no
// partial awards. Each award is written together with its reward ledger row;
// the cached points are reconciled afterwards and a failure there does not
// undo awards already made.
// ══════════════════════════════════════════════════════════════════════════════

const achievementDomain = "achievement"

// EvaluateAchievementsInput contains the user to evaluate.
type EvaluateAchievementsInput struct {
	UserID string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate checks if the input is valid.
func (i EvaluateAchievementsInput) Validate() error {
	if i.UserID == "" {
		return shared.ErrMissingUserID
	}
	return nil
}

// EvaluateAchievementsResult is the outcome of one evaluation pass.
type EvaluateAchievementsResult struct {
	Success bool   `json:"success"`
	UserID  string `json:"user_id"`

	// Awarded lists the achievements newly earned in this pass, in catalog order.
	Awarded []*achievement.Achievement `json:"awarded"`

	// AlreadyAwarded lists achievements another evaluation awarded concurrently.
	AlreadyAwarded []string `json:"already_awarded,omitempty"`

	// Failed lists achievements whose award could not be written.
	Failed []string `json:"failed,omitempty"`

	TotalReward int                       `json:"total_reward"`
	Sync        *command.SyncPointsResult `json:"sync,omitempty"`
	Message     string                    `json:"message"`
	EvaluatedAt time.Time                 `json:"evaluated_at"`
}

// HasNewAchievements returns true if any achievements were awarded.
func (r *EvaluateAchievementsResult) HasNewAchievements() bool {
	return len(r.Awarded) > 0
}

// MergeEarlier folds in the awards of an earlier attempt, so a retried
// evaluation still reports everything the run unlocked.
func (r *EvaluateAchievementsResult) MergeEarlier(earlier *EvaluateAchievementsResult) {
	if earlier == nil || len(earlier.Awarded) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(r.Awarded))
	for _, a := range r.Awarded {
		seen[a.ID] = struct{}{}
	}
	merged := make([]*achievement.Achievement, 0, len(earlier.Awarded)+len(r.Awarded))
	for _, a := range earlier.Awarded {
		if _, dup := seen[a.ID]; dup {
			continue
		}
		seen[a.ID] = struct{}{}
		merged = append(merged, a)
		r.TotalReward += a.PointsReward
	}
	r.Awarded = append(merged, r.Awarded...)

	failed := r.Failed[:0:0]
	for _, id := range r.Failed {
		if _, ok := seen[id]; !ok {
			failed = append(failed, id)
		}
	}
	r.Failed = failed

	if r.Success {
		r.Message = evaluationMessage(r)
		return
	}
	names := make([]string, 0, len(merged))
	for _, a := range merged {
		names = append(names, a.Name)
	}
	if len(names) > 0 {
		r.Message = fmt.Sprintf("Unlocked before the failure: %s; %s", strings.Join(names, ", "), r.Message)
	}
}

// AchievementFlowStep represents a step in the achievement flow.
type AchievementFlowStep string

const (
	StepLoadProfile         AchievementFlowStep = "load_profile"
	StepLoadCatalog         AchievementFlowStep = "load_catalog"
	StepLoadEarned          AchievementFlowStep = "load_earned"
	StepLoadLedger          AchievementFlowStep = "load_ledger"
	StepEvaluate            AchievementFlowStep = "evaluate"
	StepRecordAwards        AchievementFlowStep = "record_awards"
	StepReconcilePoints     AchievementFlowStep = "reconcile_points"
	StepPublishEvents       AchievementFlowStep = "publish_events"
	StepAchievementComplete AchievementFlowStep = "complete"
)

// AchievementFlowState tracks the current state of the achievement flow saga.
type AchievementFlowState struct {
	CurrentStep AchievementFlowStep
	Input       EvaluateAchievementsInput
	Profile     *profile.UserProfile
	CreatedAt   time.Time
	Catalog     []*achievement.Achievement
	Earned      achievement.EarnedSet
	Facts       achievement.Facts
	Qualified   []*achievement.Achievement
	Awarded     []*achievement.Achievement
	Duplicates  []string
	Failed      []string
	AwardErr    error
	StartedAt   time.Time
	FailedStep  AchievementFlowStep
}

// PointsSyncer reconciles the cached points after awards.
type PointsSyncer interface {
	Handle(ctx context.Context, cmd command.SyncPointsCommand) (*command.SyncPointsResult, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT FLOW SAGA IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AchievementFlowSaga evaluates achievement criteria and awards what qualifies.
type AchievementFlowSaga struct {
	// Dependencies
	profileRepo profile.Repository
	ledgerRepo  ledger.Repository
	catalog     achievement.Catalog
	earnedRepo  achievement.EarnedRepository
	recorder    achievement.AwardRecorder
	syncer      PointsSyncer
	eventBus    shared.EventPublisher
	idGenerator command.IDGenerator
	log         *logger.Logger

	// Configuration
	earlyAdopterCutoff time.Time
	now                func() time.Time
}

// AchievementFlowConfig contains configuration for the achievement flow saga.
type AchievementFlowConfig struct {
	// EarlyAdopterCutoff is the last day (inclusive) an account counts as an early adopter.
	EarlyAdopterCutoff time.Time
}

// DefaultAchievementFlowConfig returns default configuration.
func DefaultAchievementFlowConfig() AchievementFlowConfig {
	return AchievementFlowConfig{
		EarlyAdopterCutoff: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	}
}

// AchievementFlowDeps groups the collaborators of the saga.
type AchievementFlowDeps struct {
	Profiles    profile.Repository
	Ledger      ledger.Repository
	Catalog     achievement.Catalog
	Earned      achievement.EarnedRepository
	Recorder    achievement.AwardRecorder
	Syncer      PointsSyncer
	EventBus    shared.EventPublisher
	IDGenerator command.IDGenerator
	Logger      *logger.Logger
}

// NewAchievementFlowSaga creates a new achievement flow saga.
// Syncer and EventBus may be nil.
func NewAchievementFlowSaga(deps AchievementFlowDeps, config AchievementFlowConfig) *AchievementFlowSaga {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	if config.EarlyAdopterCutoff.IsZero() {
		config.EarlyAdopterCutoff = DefaultAchievementFlowConfig().EarlyAdopterCutoff
	}
	return &AchievementFlowSaga{
		profileRepo:        deps.Profiles,
		ledgerRepo:         deps.Ledger,
		catalog:            deps.Catalog,
		earnedRepo:         deps.Earned,
		recorder:           deps.Recorder,
		syncer:             deps.Syncer,
		eventBus:           deps.EventBus,
		idGenerator:        deps.IDGenerator,
		log:                log.With(logger.Component("achievement_flow")),
		earlyAdopterCutoff: config.EarlyAdopterCutoff,
		now:                func() time.Time { return time.Now().UTC() },
	}
}

// Execute runs one evaluation pass for the user.
//
// The returned result is never nil. On a read failure it carries Success=false
// and the error is an *AchievementFlowError wrapping a dependency failure.
func (s *AchievementFlowSaga) Execute(ctx context.Context, input EvaluateAchievementsInput) (*EvaluateAchievementsResult, error) {
	state := &AchievementFlowState{
		CurrentStep: StepLoadProfile,
		Input:       input,
		StartedAt:   time.Now(),
	}
	result := &EvaluateAchievementsResult{
		UserID:  input.UserID,
		Awarded: []*achievement.Achievement{},
	}

	if err := input.Validate(); err != nil {
		result.Message = "User ID is required"
		return result, err
	}
	log := s.log.With(logger.UserID(input.UserID))

	// Steps 1-4: read everything before writing anything
	for _, step := range []struct {
		name AchievementFlowStep
		run  func(context.Context, *AchievementFlowState) error
	}{
		{StepLoadProfile, s.stepLoadProfile},
		{StepLoadCatalog, s.stepLoadCatalog},
		{StepLoadEarned, s.stepLoadEarned},
		{StepLoadLedger, s.stepLoadLedger},
	} {
		state.CurrentStep = step.name
		if err := step.run(ctx, state); err != nil {
			state.FailedStep = step.name
			return s.fail(log, state, result, err)
		}
	}

	// Step 5: evaluate against the fixed snapshot
	state.CurrentStep = StepEvaluate
	s.stepEvaluate(state)

	// Step 6: write awards
	state.CurrentStep = StepRecordAwards
	s.stepRecordAwards(ctx, log, state)

	result.Awarded = append(result.Awarded, state.Awarded...)
	result.AlreadyAwarded = state.Duplicates
	result.Failed = state.Failed
	for _, a := range state.Awarded {
		result.TotalReward += a.PointsReward
	}

	// Step 7: reconcile points and level
	state.CurrentStep = StepReconcilePoints
	if len(state.Awarded) > 0 {
		result.Sync = s.stepReconcile(ctx, log, state)
	}

	// Step 8: publish events
	state.CurrentStep = StepPublishEvents
	s.stepPublishEvents(log, state)

	state.CurrentStep = StepAchievementComplete
	result.EvaluatedAt = s.now()
	result.Message = evaluationMessage(result)

	if state.AwardErr != nil {
		state.FailedStep = StepRecordAwards
		log.Warn("some awards failed", logger.Int("failed", len(state.Failed)), logger.Err(state.AwardErr))
		return result, s.wrapError(state, state.AwardErr)
	}

	result.Success = true
	log.Debug("achievements evaluated",
		logger.Int("candidates", len(state.Qualified)),
		logger.Int("awarded", len(state.Awarded)),
		logger.Latency(time.Since(state.StartedAt)),
	)
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SAGA STEPS
// ══════════════════════════════════════════════════════════════════════════════

func (s *AchievementFlowSaga) stepLoadProfile(ctx context.Context, state *AchievementFlowState) error {
	prof, err := s.profileRepo.GetProfile(ctx, state.Input.UserID)
	if err != nil {
		if shared.IsNotFound(err) {
			return shared.WrapError(achievementDomain, "Evaluate", shared.ErrNotFound, "profile not found", err)
		}
		return shared.NewDependencyFailure(achievementDomain, "Evaluate", "failed to load profile", err)
	}
	state.Profile = prof

	createdAt, err := s.profileRepo.GetAccountCreatedAt(ctx, state.Input.UserID)
	if err != nil {
		return shared.NewDependencyFailure(achievementDomain, "Evaluate", "failed to load account metadata", err)
	}
	state.CreatedAt = createdAt
	return nil
}

func (s *AchievementFlowSaga) stepLoadCatalog(ctx context.Context, state *AchievementFlowState) error {
	catalog, err := s.catalog.ListActiveAchievements(ctx)
	if err != nil {
		return shared.NewDependencyFailure(achievementDomain, "Evaluate", "failed to load achievements", err)
	}
	state.Catalog = catalog
	return nil
}

func (s *AchievementFlowSaga) stepLoadEarned(ctx context.Context, state *AchievementFlowState) error {
	earned, err := s.earnedRepo.ListEarned(ctx, state.Input.UserID)
	if err != nil {
		return shared.NewDependencyFailure(achievementDomain, "Evaluate", "failed to load earned achievements", err)
	}
	if earned == nil {
		earned = achievement.EarnedSet{}
	}
	state.Earned = earned
	return nil
}

func (s *AchievementFlowSaga) stepLoadLedger(ctx context.Context, state *AchievementFlowState) error {
	records, err := s.ledgerRepo.ListActivity(ctx, state.Input.UserID)
	if err != nil {
		return shared.NewDependencyFailure(achievementDomain, "Evaluate", "failed to load activity", err)
	}
	state.Facts = achievement.NewFacts(records, state.Profile.LoginStreak, state.CreatedAt, s.earlyAdopterCutoff)
	return nil
}

// stepEvaluate checks every candidate against the same facts.
func (s *AchievementFlowSaga) stepEvaluate(state *AchievementFlowState) {
	for _, a := range achievement.Candidates(state.Catalog, state.Earned) {
		if a.Criteria.Qualifies(state.Facts) {
			state.Qualified = append(state.Qualified, a)
		}
	}
}

// stepRecordAwards writes each qualified achievement independently.
// A duplicate means a concurrent pass won the race and is not an error.
func (s *AchievementFlowSaga) stepRecordAwards(ctx context.Context, log *logger.Logger, state *AchievementFlowState) {
	for _, a := range state.Qualified {
		earnedAt := s.now()
		award := achievement.NewUserAchievement(state.Input.UserID, a.ID, earnedAt, map[string]any{
			"points_reward": a.PointsReward,
		})

		var reward *ledger.ActivityRecord
		if a.PointsReward > 0 {
			rec, err := ledger.NewActivityRecord(
				s.idGenerator.GenerateID(),
				state.Input.UserID,
				ledger.ActivityAchievementEarned,
				a.PointsReward,
				fmt.Sprintf("Achievement unlocked: %s", a.Name),
				map[string]any{"achievement_id": a.ID},
				earnedAt,
			)
			if err != nil {
				state.Failed = append(state.Failed, a.ID)
				state.AwardErr = errors.Join(state.AwardErr, err)
				continue
			}
			reward = rec
		}

		err := s.recorder.RecordAward(ctx, award, reward)
		switch {
		case err == nil:
			state.Awarded = append(state.Awarded, a)
			log.Info("achievement awarded", logger.AchievementID(a.ID), logger.Points(a.PointsReward))
		case errors.Is(err, achievement.ErrDuplicateAward):
			state.Duplicates = append(state.Duplicates, a.ID)
			log.Debug("achievement already awarded", logger.AchievementID(a.ID))
		default:
			state.Failed = append(state.Failed, a.ID)
			state.AwardErr = errors.Join(state.AwardErr,
				shared.NewDependencyFailure(achievementDomain, "RecordAward", fmt.Sprintf("failed to award %s", a.ID), err))
		}
	}
}

func (s *AchievementFlowSaga) stepReconcile(ctx context.Context, log *logger.Logger, state *AchievementFlowState) *command.SyncPointsResult {
	if s.syncer == nil {
		return nil
	}
	res, err := s.syncer.Handle(ctx, command.SyncPointsCommand{
		UserID:        state.Input.UserID,
		CorrelationID: state.Input.CorrelationID,
	})
	if err != nil {
		log.Warn("points reconcile after awards failed", logger.Err(err))
	}
	return res
}

func (s *AchievementFlowSaga) stepPublishEvents(log *logger.Logger, state *AchievementFlowState) {
	if s.eventBus == nil {
		return
	}
	for _, a := range state.Awarded {
		event := shared.NewAchievementEarnedEvent(state.Input.UserID, a.ID, a.Name, a.PointsReward)
		if state.Input.CorrelationID != "" {
			event.BaseEvent = event.BaseEvent.WithCorrelationID(state.Input.CorrelationID)
		}
		if err := s.eventBus.Publish(event); err != nil {
			log.Warn("failed to publish event", logger.AchievementID(a.ID), logger.Err(err))
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER METHODS
// ══════════════════════════════════════════════════════════════════════════════

func (s *AchievementFlowSaga) fail(log *logger.Logger, state *AchievementFlowState, result *EvaluateAchievementsResult, err error) (*EvaluateAchievementsResult, error) {
	result.Success = false
	var derr *shared.DomainError
	switch {
	case errors.As(err, &derr) && errors.Is(err, shared.ErrNotFound):
		result.Message = "Profile not found"
	case errors.As(err, &derr) && derr.Err != nil:
		result.Message = fmt.Sprintf("Evaluation failed: %s: %v", derr.Message, derr.Err)
	default:
		result.Message = fmt.Sprintf("Evaluation failed: %v", err)
	}
	log.Warn("achievement evaluation aborted", logger.String("step", string(state.FailedStep)), logger.Err(err))
	return result, s.wrapError(state, err)
}

func evaluationMessage(r *EvaluateAchievementsResult) string {
	var parts []string
	switch n := len(r.Awarded); n {
	case 0:
		parts = append(parts, "No new achievements")
	case 1:
		parts = append(parts, fmt.Sprintf("Achievement unlocked: %s", r.Awarded[0].Name))
	default:
		names := make([]string, 0, n)
		for _, a := range r.Awarded {
			names = append(names, a.Name)
		}
		parts = append(parts, fmt.Sprintf("%d achievements unlocked: %s", n, strings.Join(names, ", ")))
	}
	if len(r.Failed) > 0 {
		parts = append(parts, fmt.Sprintf("failed to award %s", strings.Join(r.Failed, ", ")))
	}
	if r.Sync != nil && !r.Sync.Success {
		parts = append(parts, fmt.Sprintf("points not yet updated (%s)", r.Sync.Message))
	}
	return strings.Join(parts, "; ")
}

// wrapError wraps an error with saga context.
func (s *AchievementFlowSaga) wrapError(state *AchievementFlowState, err error) error {
	return &AchievementFlowError{
		Step:    state.FailedStep,
		UserID:  state.Input.UserID,
		Cause:   err,
		Message: fmt.Sprintf("achievement flow failed at step '%s': %v", state.FailedStep, err),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// AchievementFlowError represents an error during the achievement flow.
type AchievementFlowError struct {
	Step    AchievementFlowStep
	UserID  string
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *AchievementFlowError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *AchievementFlowError) Unwrap() error {
	return e.Cause
}
