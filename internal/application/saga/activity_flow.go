package saga

import (
	"context"

	"github.com/feedbackhub/gamification/internal/application/command"
	"github.com/feedbackhub/gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY FLOW
// Flow: Record Activity (or Login) → Sync Points → Evaluate Achievements
//
// The follow-up steps only run when auto-evaluation is on. Their failures are
// reported in the result; the recorded row stays.
// ══════════════════════════════════════════════════════════════════════════════

// ActivityFlowResult bundles the outcome of every step that ran.
type ActivityFlowResult struct {
	Activity     *command.RecordActivityResult `json:"activity,omitempty"`
	Login        *command.RecordLoginResult    `json:"login,omitempty"`
	Sync         *command.SyncPointsResult     `json:"sync,omitempty"`
	Achievements *EvaluateAchievementsResult   `json:"achievements,omitempty"`
}

// ActivityFlow records user activity and optionally folds it in right away.
type ActivityFlow struct {
	recordActivity *command.RecordActivityHandler
	recordLogin    *command.RecordLoginHandler
	syncer         PointsSyncer
	evaluator      *AchievementFlowSaga
	autoEvaluate   bool
	gate           func(userID string) bool
	log            *logger.Logger
}

// NewActivityFlow creates a new ActivityFlow.
func NewActivityFlow(
	recordActivity *command.RecordActivityHandler,
	recordLogin *command.RecordLoginHandler,
	syncer PointsSyncer,
	evaluator *AchievementFlowSaga,
	autoEvaluate bool,
	log *logger.Logger,
) *ActivityFlow {
	if log == nil {
		log = logger.Nop()
	}
	return &ActivityFlow{
		recordActivity: recordActivity,
		recordLogin:    recordLogin,
		syncer:         syncer,
		evaluator:      evaluator,
		autoEvaluate:   autoEvaluate,
		log:            log.With(logger.Component("activity_flow")),
	}
}

// WithAutoEvaluateGate limits follow-up steps to users the gate admits.
func (f *ActivityFlow) WithAutoEvaluateGate(gate func(userID string) bool) *ActivityFlow {
	f.gate = gate
	return f
}

// AutoEvaluate reports whether follow-up steps run after recording.
func (f *ActivityFlow) AutoEvaluate() bool {
	return f.autoEvaluate
}

// RecordActivity appends an activity and runs the follow-up steps.
func (f *ActivityFlow) RecordActivity(ctx context.Context, cmd command.RecordActivityCommand) (*ActivityFlowResult, error) {
	res, err := f.recordActivity.Handle(ctx, cmd)
	out := &ActivityFlowResult{Activity: res}
	if err != nil {
		return out, err
	}
	f.followUp(ctx, cmd.UserID, cmd.CorrelationID, out)
	return out, nil
}

// RecordLogin registers a login and runs the follow-up steps on the first login of a day.
func (f *ActivityFlow) RecordLogin(ctx context.Context, cmd command.RecordLoginCommand) (*ActivityFlowResult, error) {
	res, err := f.recordLogin.Handle(ctx, cmd)
	out := &ActivityFlowResult{Login: res}
	if err != nil {
		return out, err
	}
	if res.FirstToday {
		f.followUp(ctx, cmd.UserID, "", out)
	}
	return out, nil
}

func (f *ActivityFlow) followUp(ctx context.Context, userID, correlationID string, out *ActivityFlowResult) {
	if !f.autoEvaluate || (f.gate != nil && !f.gate(userID)) {
		return
	}
	log := f.log.With(logger.UserID(userID))

	if f.syncer != nil {
		sync, err := f.syncer.Handle(ctx, command.SyncPointsCommand{UserID: userID, CorrelationID: correlationID})
		out.Sync = sync
		if err != nil {
			log.Warn("follow-up sync failed", logger.Err(err))
		}
	}

	if f.evaluator != nil {
		eval, err := f.evaluator.Execute(ctx, EvaluateAchievementsInput{UserID: userID, CorrelationID: correlationID})
		out.Achievements = eval
		if err != nil {
			log.Warn("follow-up evaluation failed", logger.Err(err))
		}
	}
}
