package command

import (
	"context"
	"errors"
	"time"

	"github.com/feedbackhub/gamification/internal/domain/ledger"
	"github.com/feedbackhub/gamification/internal/domain/profile"
	"github.com/feedbackhub/gamification/internal/domain/shared"
	"github.com/feedbackhub/gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD ACTIVITY COMMAND
// Appends a point-earning event to the ledger. The cached profile total is not
// touched here; the next SyncPoints folds the row in.
// ══════════════════════════════════════════════════════════════════════════════

const activityDomain = "activity"

// RecordActivityCommand contains the data to record an activity.
type RecordActivityCommand struct {
	UserID       string
	ActivityType string

	// Points overrides the default for the type when set.
	Points *int

	Description string
	Metadata    map[string]any

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c RecordActivityCommand) Validate() error {
	if c.UserID == "" {
		return shared.ErrMissingUserID
	}
	t, err := ledger.ParseActivityType(c.ActivityType)
	if err != nil {
		return shared.WrapError(activityDomain, "RecordActivity", shared.ErrValidation, "unknown activity type", err)
	}
	if t.IsSynthetic() {
		return shared.WrapError(activityDomain, "RecordActivity", shared.ErrValidation, "activity type is reserved", ledger.ErrSyntheticType)
	}
	if c.Points != nil && *c.Points < 0 {
		return shared.WrapError(activityDomain, "RecordActivity", shared.ErrValidation, "points cannot be negative", ledger.ErrNegativePoints)
	}
	return nil
}

// RecordActivityResult contains the result of recording an activity.
type RecordActivityResult struct {
	Success  bool                   `json:"success"`
	Activity *ledger.ActivityRecord `json:"activity,omitempty"`
	Message  string                 `json:"message"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordActivityHandler handles the RecordActivityCommand.
type RecordActivityHandler struct {
	ledgerRepo     ledger.Repository
	profileRepo    profile.Repository
	eventPublisher shared.EventPublisher
	idGenerator    IDGenerator
	rules          ledger.PointRules
	log            *logger.Logger
	now            func() time.Time
}

// NewRecordActivityHandler creates a new RecordActivityHandler.
// A nil rules table falls back to ledger.DefaultPointRules.
func NewRecordActivityHandler(
	ledgerRepo ledger.Repository,
	profileRepo profile.Repository,
	eventPublisher shared.EventPublisher,
	idGenerator IDGenerator,
	rules ledger.PointRules,
	log *logger.Logger,
) *RecordActivityHandler {
	if rules == nil {
		rules = ledger.DefaultPointRules()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RecordActivityHandler{
		ledgerRepo:     ledgerRepo,
		profileRepo:    profileRepo,
		eventPublisher: eventPublisher,
		idGenerator:    idGenerator,
		rules:          rules,
		log:            log.With(logger.Component("record_activity")),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Handle executes the record activity command.
func (h *RecordActivityHandler) Handle(ctx context.Context, cmd RecordActivityCommand) (*RecordActivityResult, error) {
	result := &RecordActivityResult{}

	if err := cmd.Validate(); err != nil {
		result.Message = validationMessage(err)
		return result, err
	}
	log := h.log.With(logger.UserID(cmd.UserID), logger.ActivityType(cmd.ActivityType))

	// Unknown users are rejected before the ledger is touched.
	if _, err := h.profileRepo.GetProfile(ctx, cmd.UserID); err != nil {
		derr := readFailure("RecordActivity", "failed to load profile", err)
		derr.Domain = activityDomain
		result.Message = userMessage(derr)
		log.Warn("record activity failed", logger.Err(err))
		return result, derr
	}

	activityType := ledger.ActivityType(cmd.ActivityType)
	points := h.rules.PointsFor(activityType)
	if cmd.Points != nil {
		points = *cmd.Points
	}

	rec, err := ledger.NewActivityRecord(
		h.idGenerator.GenerateID(),
		cmd.UserID,
		activityType,
		points,
		cmd.Description,
		cmd.Metadata,
		h.now(),
	)
	if err != nil {
		derr := shared.WrapError(activityDomain, "RecordActivity", shared.ErrValidation, "invalid activity", err)
		result.Message = userMessage(derr)
		return result, derr
	}

	saved, err := h.ledgerRepo.AppendActivity(ctx, rec)
	if err != nil {
		derr := shared.NewDependencyFailure(activityDomain, "RecordActivity", "failed to record activity", err)
		result.Message = userMessage(derr)
		log.Warn("record activity failed", logger.Err(err))
		return result, derr
	}

	if h.eventPublisher != nil {
		event := shared.NewActivityRecordedEvent(saved.UserID, saved.ID, saved.ActivityType.String(), saved.Points)
		if err := h.eventPublisher.Publish(event); err != nil {
			log.Warn("failed to publish event", logger.Err(err))
		}
	}

	log.Debug("activity recorded", logger.Points(saved.Points))
	result.Success = true
	result.Activity = saved
	result.Message = "Activity recorded"
	return result, nil
}

// validationMessage renders a validation error for display.
func validationMessage(err error) string {
	var derr *shared.DomainError
	if errors.As(err, &derr) {
		return capitalize(derr.Message)
	}
	return err.Error()
}
