package command

import (
	"context"
	"time"

	"github.com/feedbackhub/gamification/internal/domain/ledger"
	"github.com/feedbackhub/gamification/internal/domain/profile"
	"github.com/feedbackhub/gamification/internal/domain/shared"
	"github.com/feedbackhub/gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD LOGIN COMMAND
// Maintains the daily login streak. The first login of a calendar day extends
// or resets the streak and earns one daily_login ledger row; later logins on
// the same day change nothing.
// ══════════════════════════════════════════════════════════════════════════════

// RecordLoginCommand contains the data to record a login.
type RecordLoginCommand struct {
	UserID string

	// At is when the login happened (defaults to now if zero).
	At time.Time
}

// Validate validates the command.
func (c RecordLoginCommand) Validate() error {
	if c.UserID == "" {
		return shared.ErrMissingUserID
	}
	return nil
}

// RecordLoginResult contains the result of recording a login.
type RecordLoginResult struct {
	Success        bool   `json:"success"`
	FirstToday     bool   `json:"first_today"`
	LoginStreak    int    `json:"login_streak"`
	MaxLoginStreak int    `json:"max_login_streak"`
	StreakBroken   bool   `json:"streak_broken"`
	PointsAwarded  int    `json:"points_awarded"`
	Message        string `json:"message"`
}

// RecordLoginHandlerConfig contains configuration for the handler.
type RecordLoginHandlerConfig struct {
	// Location draws the calendar-day boundaries.
	Location *time.Location

	// DailyLoginPoints is the reward of the first login of a day.
	DailyLoginPoints int
}

// DefaultRecordLoginHandlerConfig returns default configuration.
func DefaultRecordLoginHandlerConfig() RecordLoginHandlerConfig {
	return RecordLoginHandlerConfig{
		Location:         time.UTC,
		DailyLoginPoints: ledger.DefaultPointRules().PointsFor(ledger.ActivityDailyLogin),
	}
}

// RecordLoginHandler handles the RecordLoginCommand.
type RecordLoginHandler struct {
	ledgerRepo     ledger.Repository
	profileRepo    profile.Repository
	eventPublisher shared.EventPublisher
	idGenerator    IDGenerator
	log            *logger.Logger
	config         RecordLoginHandlerConfig
	now            func() time.Time
}

// NewRecordLoginHandler creates a new RecordLoginHandler.
func NewRecordLoginHandler(
	ledgerRepo ledger.Repository,
	profileRepo profile.Repository,
	eventPublisher shared.EventPublisher,
	idGenerator IDGenerator,
	log *logger.Logger,
	config RecordLoginHandlerConfig,
) *RecordLoginHandler {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RecordLoginHandler{
		ledgerRepo:     ledgerRepo,
		profileRepo:    profileRepo,
		eventPublisher: eventPublisher,
		idGenerator:    idGenerator,
		log:            log.With(logger.Component("record_login")),
		config:         config,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Handle executes the record login command.
func (h *RecordLoginHandler) Handle(ctx context.Context, cmd RecordLoginCommand) (*RecordLoginResult, error) {
	result := &RecordLoginResult{}

	if err := cmd.Validate(); err != nil {
		result.Message = validationMessage(err)
		return result, err
	}
	log := h.log.With(logger.UserID(cmd.UserID))

	at := cmd.At
	if at.IsZero() {
		at = h.now()
	}

	prof, err := h.profileRepo.GetProfile(ctx, cmd.UserID)
	if err != nil {
		derr := readFailure("RecordLogin", "failed to load profile", err)
		derr.Domain = activityDomain
		result.Message = userMessage(derr)
		return result, derr
	}

	outcome := prof.RegisterLogin(at, h.config.Location)
	result.FirstToday = outcome.FirstToday
	result.LoginStreak = outcome.Streak
	result.MaxLoginStreak = outcome.MaxStreak
	result.StreakBroken = outcome.Broken

	if !outcome.FirstToday {
		result.Success = true
		result.Message = "Already logged in today"
		return result, nil
	}

	// Reward row before streak: a failed append leaves the profile unchanged.
	rec, err := ledger.NewActivityRecord(
		h.idGenerator.GenerateID(),
		cmd.UserID,
		ledger.ActivityDailyLogin,
		h.config.DailyLoginPoints,
		"Daily login",
		map[string]any{"streak": outcome.Streak},
		at,
	)
	if err != nil {
		derr := shared.WrapError(activityDomain, "RecordLogin", shared.ErrValidation, "invalid login", err)
		result.Message = userMessage(derr)
		return result, derr
	}
	if _, err := h.ledgerRepo.AppendActivity(ctx, rec); err != nil {
		derr := shared.NewDependencyFailure(activityDomain, "RecordLogin", "failed to record login", err)
		result.Message = userMessage(derr)
		log.Warn("record login failed", logger.Err(err))
		return result, derr
	}
	result.PointsAwarded = rec.Points

	if err := h.profileRepo.UpdateProfile(ctx, cmd.UserID, profile.LoginUpdate(outcome, at)); err != nil {
		derr := shared.NewDependencyFailure(activityDomain, "RecordLogin", "failed to update login streak", err)
		result.Message = userMessage(derr)
		log.Warn("record login failed", logger.Err(err))
		return result, derr
	}

	if h.eventPublisher != nil {
		event := shared.NewLoginRecordedEvent(cmd.UserID, outcome.Streak, outcome.MaxStreak, true)
		if err := h.eventPublisher.Publish(event); err != nil {
			log.Warn("failed to publish event", logger.Err(err))
		}
	}

	log.Debug("login recorded", logger.Int("login_streak", outcome.Streak))
	result.Success = true
	result.Message = "Login recorded"
	return result, nil
}
