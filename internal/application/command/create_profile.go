package command

import (
	"context"
	"time"

	"github.com/feedbackhub/gamification/internal/domain/profile"
	"github.com/feedbackhub/gamification/internal/domain/shared"
	"github.com/feedbackhub/gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE PROFILE COMMAND
// Provisions a level-1 profile and its account row. Repeating the command for
// an existing user is a no-op that returns the stored profile.
// ══════════════════════════════════════════════════════════════════════════════

const profileDomain = "profile"

// CreateProfileCommand contains the data to provision one user.
type CreateProfileCommand struct {
	UserID string

	// AccountCreatedAt is when the user signed up (defaults to now if zero).
	// Early-adopter criteria compare against it.
	AccountCreatedAt time.Time
}

// Validate validates the command.
func (c CreateProfileCommand) Validate() error {
	if c.UserID == "" {
		return shared.ErrMissingUserID
	}
	return nil
}

// CreateProfileResult is the outcome of provisioning.
type CreateProfileResult struct {
	Success bool   `json:"success"`
	Created bool   `json:"created"`
	UserID  string `json:"user_id"`
	Points  int    `json:"points"`
	Level   int    `json:"level"`

	AccountCreatedAt time.Time `json:"account_created_at"`
	Message          string    `json:"message"`
}

func (r *CreateProfileResult) fill(p *profile.UserProfile) {
	r.UserID = p.ID
	r.Points = p.Points
	r.Level = int(p.Level)
	r.AccountCreatedAt = p.CreatedAt
}

// CreateProfileHandler handles the CreateProfileCommand.
type CreateProfileHandler struct {
	profileRepo profile.Repository
	provisioner profile.Provisioner
	log         *logger.Logger
	now         func() time.Time
}

// NewCreateProfileHandler creates a new CreateProfileHandler.
func NewCreateProfileHandler(profileRepo profile.Repository, provisioner profile.Provisioner, log *logger.Logger) *CreateProfileHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &CreateProfileHandler{
		profileRepo: profileRepo,
		provisioner: provisioner,
		log:         log.With(logger.Component("create_profile")),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Handle executes the create profile command.
func (h *CreateProfileHandler) Handle(ctx context.Context, cmd CreateProfileCommand) (*CreateProfileResult, error) {
	result := &CreateProfileResult{UserID: cmd.UserID}
	if err := cmd.Validate(); err != nil {
		result.Message = "User ID is required"
		return result, err
	}
	log := h.log.With(logger.UserID(cmd.UserID))

	existing, err := h.profileRepo.GetProfile(ctx, cmd.UserID)
	switch {
	case err == nil:
		result.Success = true
		result.fill(existing)
		result.Message = "Profile already exists"
		return result, nil
	case !shared.IsNotFound(err):
		derr := shared.NewDependencyFailure(profileDomain, "CreateProfile", "failed to load profile", err)
		result.Message = userMessage(derr)
		return result, derr
	}

	createdAt := cmd.AccountCreatedAt
	if createdAt.IsZero() {
		createdAt = h.now()
	}
	p, err := h.provisioner.CreateProfile(ctx, cmd.UserID, createdAt)
	if err != nil {
		derr := shared.NewDependencyFailure(profileDomain, "CreateProfile", "failed to create profile", err)
		result.Message = userMessage(derr)
		log.Warn("profile provisioning failed", logger.Err(err))
		return result, derr
	}

	result.Success = true
	result.Created = true
	result.fill(p)
	result.Message = "Profile created"
	log.Info("profile created")
	return result, nil
}
