// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/feedbackhub/gamification/internal/domain/ledger"
	"github.com/feedbackhub/gamification/internal/domain/profile"
	"github.com/feedbackhub/gamification/internal/domain/shared"
	"github.com/feedbackhub/gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC POINTS COMMAND
// Reconciles the cached point total with the ledger, then brings the level
// pair in line with the reconciled total. The ledger is the source of truth;
// the profile fields are a projection that is rewritten, never incremented.
// ══════════════════════════════════════════════════════════════════════════════

const pointsDomain = "points"

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	GenerateID() string
}

// SyncPointsCommand contains the data to reconcile one user.
type SyncPointsCommand struct {
	UserID string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c SyncPointsCommand) Validate() error {
	if c.UserID == "" {
		return shared.ErrMissingUserID
	}
	return nil
}

// SyncPointsResult is the outcome of a reconciliation. Message is safe to show to users.
type SyncPointsResult struct {
	Success        bool   `json:"success"`
	UserID         string `json:"user_id"`
	PreviousPoints int    `json:"previous_points"`
	NewPoints      int    `json:"new_points"`
	PointsChanged  bool   `json:"points_changed"`

	PreviousLevel     int  `json:"previous_level"`
	NewLevel          int  `json:"new_level"`
	PointsToNextLevel int  `json:"points_to_next_level"`
	LevelChanged      bool `json:"level_changed"`

	Message  string    `json:"message"`
	SyncedAt time.Time `json:"synced_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SyncPointsHandler handles the SyncPointsCommand.
type SyncPointsHandler struct {
	ledgerRepo     ledger.Repository
	profileRepo    profile.Repository
	eventPublisher shared.EventPublisher
	idGenerator    IDGenerator
	log            *logger.Logger

	// Configuration
	recordLevelUps bool
	now            func() time.Time
}

// SyncPointsHandlerConfig contains configuration for the handler.
type SyncPointsHandlerConfig struct {
	// RecordLevelUps appends a zero-point level_up ledger row when the level rises.
	RecordLevelUps bool
}

// DefaultSyncPointsHandlerConfig returns default configuration.
func DefaultSyncPointsHandlerConfig() SyncPointsHandlerConfig {
	return SyncPointsHandlerConfig{
		RecordLevelUps: true,
	}
}

// NewSyncPointsHandler creates a new SyncPointsHandler.
// eventPublisher may be nil.
func NewSyncPointsHandler(
	ledgerRepo ledger.Repository,
	profileRepo profile.Repository,
	eventPublisher shared.EventPublisher,
	idGenerator IDGenerator,
	log *logger.Logger,
	config SyncPointsHandlerConfig,
) *SyncPointsHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &SyncPointsHandler{
		ledgerRepo:     ledgerRepo,
		profileRepo:    profileRepo,
		eventPublisher: eventPublisher,
		idGenerator:    idGenerator,
		log:            log.With(logger.Component("sync_points")),
		recordLevelUps: config.RecordLevelUps,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Handle executes the sync points command.
// On failure the result carries Success=false and a user-facing message, and the
// error is a *shared.DomainError classifying the failure.
func (h *SyncPointsHandler) Handle(ctx context.Context, cmd SyncPointsCommand) (*SyncPointsResult, error) {
	start := time.Now()
	result := &SyncPointsResult{UserID: cmd.UserID}

	if err := cmd.Validate(); err != nil {
		result.Message = "User ID is required"
		return result, err
	}
	log := h.log.With(logger.UserID(cmd.UserID))

	// Step 1: read the cached projection
	prof, err := h.profileRepo.GetProfile(ctx, cmd.UserID)
	if err != nil {
		return h.fail(log, result, readFailure("SyncPoints", "failed to load profile", err))
	}

	// Step 2: read the source of truth
	records, err := h.ledgerRepo.ListActivity(ctx, cmd.UserID)
	if err != nil {
		return h.fail(log, result, shared.NewDependencyFailure(pointsDomain, "SyncPoints", "failed to load activity", err))
	}

	calculated := ledger.Sum(records)
	result.PreviousPoints = prof.Points
	result.NewPoints = calculated
	result.PreviousLevel = int(prof.Level)

	// Step 3: resolve the level from the reconciled total
	level, toNext := profile.ResolveLevel(calculated)
	result.NewLevel = int(level)
	result.PointsToNextLevel = toNext

	pointsDrift := calculated != prof.Points
	levelDrift := level != prof.Level || toNext != prof.PointsToNextLevel

	// Step 4: write points and the level pair together
	if pointsDrift || levelDrift {
		if err := h.profileRepo.UpdateProfile(ctx, cmd.UserID, profile.ReconcileUpdate(calculated)); err != nil {
			result.NewPoints = prof.Points
			result.NewLevel = int(prof.Level)
			result.PointsToNextLevel = prof.PointsToNextLevel
			return h.fail(log, result, shared.NewDependencyFailure(pointsDomain, "SyncPoints", "failed to update profile", err))
		}
	}

	// Step 5: announce what changed
	if pointsDrift {
		result.PointsChanged = true
		h.publish(log, shared.NewPointsReconciledEvent(cmd.UserID, prof.Points, calculated))
	}
	if level != prof.Level {
		result.LevelChanged = true
		h.publish(log, shared.NewLevelChangedEvent(cmd.UserID, int(prof.Level), int(level), toNext))
		if level > prof.Level {
			h.recordLevelUp(ctx, log, cmd.UserID, prof.Level, level)
		}
	}

	result.Success = true
	result.SyncedAt = h.now()
	result.Message = syncMessage(result)

	log.Debug("points synced",
		logger.Int("previous_points", result.PreviousPoints),
		logger.Int("new_points", result.NewPoints),
		logger.LevelNumber(result.NewLevel),
		logger.Latency(time.Since(start)),
	)
	return result, nil
}

// recordLevelUp appends the zero-point audit row. It never changes the sum,
// so a failure here does not affect consistency and is only logged.
func (h *SyncPointsHandler) recordLevelUp(ctx context.Context, log *logger.Logger, userID string, from, to profile.Level) {
	if !h.recordLevelUps || h.idGenerator == nil {
		return
	}
	rec, err := ledger.NewActivityRecord(
		h.idGenerator.GenerateID(),
		userID,
		ledger.ActivityLevelUp,
		0,
		fmt.Sprintf("Reached level %d", to),
		map[string]any{"from": int(from), "to": int(to)},
		h.now(),
	)
	if err != nil {
		log.Warn("failed to build level_up record", logger.Err(err))
		return
	}
	if _, err := h.ledgerRepo.AppendActivity(ctx, rec); err != nil {
		log.Warn("failed to append level_up record", logger.Err(err))
	}
}

func (h *SyncPointsHandler) publish(log *logger.Logger, event shared.Event) {
	if h.eventPublisher == nil {
		return
	}
	if err := h.eventPublisher.Publish(event); err != nil {
		log.Warn("failed to publish event", logger.String("event_type", string(event.EventType())), logger.Err(err))
	}
}

func (h *SyncPointsHandler) fail(log *logger.Logger, result *SyncPointsResult, err *shared.DomainError) (*SyncPointsResult, error) {
	result.Success = false
	result.Message = userMessage(err)
	log.Warn("points sync failed", logger.Operation(err.Op), logger.Err(err))
	return result, err
}

func syncMessage(r *SyncPointsResult) string {
	var msg string
	if r.PointsChanged {
		msg = fmt.Sprintf("Points synced: %d → %d", r.PreviousPoints, r.NewPoints)
	} else {
		msg = "Points already in sync"
	}
	switch {
	case r.LevelChanged && r.NewLevel > r.PreviousLevel:
		msg += fmt.Sprintf("; level up to %d", r.NewLevel)
	case r.LevelChanged:
		msg += fmt.Sprintf("; level corrected to %d", r.NewLevel)
	}
	return msg
}

// readFailure classifies a profile read: a missing profile is NotFound,
// anything else is a dependency failure.
func readFailure(op, message string, err error) *shared.DomainError {
	if shared.IsNotFound(err) {
		return shared.WrapError(pointsDomain, op, shared.ErrNotFound, "profile not found", err)
	}
	return shared.NewDependencyFailure(pointsDomain, op, message, err)
}

// userMessage renders a domain error for display. Dependency failures keep the
// underlying reason.
func userMessage(err *shared.DomainError) string {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return "Profile not found"
	case errors.Is(err, shared.ErrValidation):
		return err.Message
	case err.Err != nil:
		return fmt.Sprintf("%s: %v", capitalize(err.Message), err.Err)
	default:
		return capitalize(err.Message)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	if s[0] >= 'a' && s[0] <= 'z' {
		return string(s[0]-'a'+'A') + s[1:]
	}
	return s
}
