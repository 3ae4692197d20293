package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/feedbackhub/gamification/internal/application/command"
	"github.com/feedbackhub/gamification/internal/application/query"
	"github.com/feedbackhub/gamification/internal/application/saga"
	"github.com/feedbackhub/gamification/internal/domain/shared"
	"github.com/feedbackhub/gamification/pkg/logger"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST DTOs
// ══════════════════════════════════════════════════════════════════════════════

// RecordActivityRequest is the body of POST /users/{id}/activity.
// The synthetic types achievement_earned and level_up are not accepted.
type RecordActivityRequest struct {
	ActivityType string         `json:"activity_type" validate:"required,oneof=feedback_given feedback_received project_created daily_login"`
	Points       *int           `json:"points,omitempty" validate:"omitempty,min=0,max=100000"`
	Description  string         `json:"description" validate:"max=500"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// CreateProfileRequest is the optional body of PUT /users/{id}.
type CreateProfileRequest struct {
	AccountCreatedAt *time.Time `json:"account_created_at,omitempty"`
}

// leaderboardParams are the query parameters of GET /leaderboard.
type leaderboardParams struct {
	Limit int `validate:"min=0"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"name":    "Feedback Hub gamification API",
		"version": s.deps.Version,
		"endpoints": map[string]string{
			"health":      "/health",
			"leaderboard": "/api/v1/leaderboard",
			"profile":     "/api/v1/users/{id}/profile",
		},
	})
}

// handleHealth reports every registered check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{
			"status":  "healthy",
			"uptime":  s.Uptime().String(),
			"version": s.deps.Version,
		})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Healthy {
		writeJSONErrorWithData(w, r, http.StatusServiceUnavailable, "unhealthy", status.Message, "", status)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// handleReady is the readiness check.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSONError(w, r, http.StatusServiceUnavailable, "not_ready", status.Message)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// ══════════════════════════════════════════════════════════════════════════════
// POINTS & ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

// handleCreateProfile handles PUT /api/v1/users/{id}
func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	if s.deps.CreateProfile == nil {
		notConfigured(w, r, "profile provisioning")
		return
	}

	var req CreateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	cmd := command.CreateProfileCommand{UserID: r.PathValue("id")}
	if req.AccountCreatedAt != nil {
		cmd.AccountCreatedAt = req.AccountCreatedAt.UTC()
	}

	result, err := s.deps.CreateProfile.Handle(r.Context(), cmd)
	if err != nil {
		s.writeOperationError(w, r, err, result.Message, result)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, r, status, result)
}

// handleSyncPoints handles POST /api/v1/users/{id}/points/sync
func (s *Server) handleSyncPoints(w http.ResponseWriter, r *http.Request) {
	if s.deps.SyncPoints == nil {
		notConfigured(w, r, "points sync")
		return
	}

	result, err := s.deps.SyncPoints.Handle(r.Context(), command.SyncPointsCommand{
		UserID:        r.PathValue("id"),
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeOperationError(w, r, err, result.Message, result)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// handleEvaluateAchievements handles POST /api/v1/users/{id}/achievements/evaluate
func (s *Server) handleEvaluateAchievements(w http.ResponseWriter, r *http.Request) {
	if s.deps.Evaluate == nil {
		notConfigured(w, r, "achievement evaluation")
		return
	}

	result, err := s.deps.Evaluate.Execute(r.Context(), saga.EvaluateAchievementsInput{
		UserID:        r.PathValue("id"),
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeOperationError(w, r, err, result.Message, result)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// handleListAchievements handles GET /api/v1/users/{id}/achievements
func (s *Server) handleListAchievements(w http.ResponseWriter, r *http.Request) {
	if s.deps.Achievements == nil {
		notConfigured(w, r, "achievement listing")
		return
	}

	result, err := s.deps.Achievements.Handle(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeOperationError(w, r, err, "", nil)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, result, &ResponseMeta{TotalCount: result.TotalCount})
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY
// ══════════════════════════════════════════════════════════════════════════════

// handleRecordActivity handles POST /api/v1/users/{id}/activity
func (s *Server) handleRecordActivity(w http.ResponseWriter, r *http.Request) {
	if s.deps.Activity == nil {
		notConfigured(w, r, "activity recording")
		return
	}

	var req RecordActivityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSONErrorWithData(w, r, http.StatusBadRequest, "validation_error", "Invalid request body", validationDetails(err), nil)
		return
	}

	result, err := s.deps.Activity.RecordActivity(r.Context(), command.RecordActivityCommand{
		UserID:        r.PathValue("id"),
		ActivityType:  req.ActivityType,
		Points:        req.Points,
		Description:   req.Description,
		Metadata:      req.Metadata,
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		msg := ""
		if result != nil && result.Activity != nil {
			msg = result.Activity.Message
		}
		s.writeOperationError(w, r, err, msg, result)
		return
	}
	writeJSON(w, r, http.StatusCreated, result)
}

// handleRecordLogin handles POST /api/v1/users/{id}/login
func (s *Server) handleRecordLogin(w http.ResponseWriter, r *http.Request) {
	if s.deps.Activity == nil {
		notConfigured(w, r, "login recording")
		return
	}

	result, err := s.deps.Activity.RecordLogin(r.Context(), command.RecordLoginCommand{
		UserID: r.PathValue("id"),
	})
	if err != nil {
		msg := ""
		if result != nil && result.Login != nil {
			msg = result.Login.Message
		}
		s.writeOperationError(w, r, err, msg, result)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// handleActivityStats handles GET /api/v1/users/{id}/activity/stats
func (s *Server) handleActivityStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.ActivityStats == nil {
		notConfigured(w, r, "activity stats")
		return
	}

	result, err := s.deps.ActivityStats.Handle(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeOperationError(w, r, err, "", nil)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// READ MODELS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetProfile handles GET /api/v1/users/{id}/profile
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	if s.deps.ProfileSummary == nil {
		notConfigured(w, r, "profile")
		return
	}

	summary, err := s.deps.ProfileSummary.Handle(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeOperationError(w, r, err, "", nil)
		return
	}
	writeJSON(w, r, http.StatusOK, summary)
}

// handleGetLeaderboard handles GET /api/v1/leaderboard?limit=
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.deps.Leaderboard == nil {
		notConfigured(w, r, "leaderboard")
		return
	}

	params := leaderboardParams{}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSONError(w, r, http.StatusBadRequest, "validation_error", "limit must be an integer")
			return
		}
		params.Limit = n
	}
	if err := validate.Struct(params); err != nil {
		writeJSONErrorWithData(w, r, http.StatusBadRequest, "validation_error", "Invalid query", validationDetails(err), nil)
		return
	}

	result, err := s.deps.Leaderboard.Handle(r.Context(), query.GetLeaderboardQuery{Limit: params.Limit})
	if err != nil {
		s.writeOperationError(w, r, err, "", nil)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, result, &ResponseMeta{TotalCount: len(result.Entries)})
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case shared.IsValidation(err):
		return http.StatusBadRequest, "validation_error"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case shared.IsDependencyFailure(err):
		return http.StatusBadGateway, "dependency_failure"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeOperationError writes an error envelope. message is the operation's
// user-facing text; the raw error is logged, never echoed for 5xx.
func (s *Server) writeOperationError(w http.ResponseWriter, r *http.Request, err error, message string, data any) {
	status, code := statusFor(err)

	if message == "" {
		var de *shared.DomainError
		if errors.As(err, &de) && status < http.StatusInternalServerError {
			message = de.Message
		} else {
			message = http.StatusText(status)
		}
	}

	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Warn("operation failed",
			logger.UserID(r.PathValue("id")),
			logger.Operation(r.Pattern),
			logger.Err(err),
		)
	}

	writeJSONErrorWithData(w, r, status, code, message, "", data)
}

func notConfigured(w http.ResponseWriter, r *http.Request, what string) {
	writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", what+" is not configured")
}

// decodeJSON reads one JSON object; an empty body decodes to the zero value.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.New("malformed JSON body")
	}
	return nil
}

// validationDetails renders validator errors as "field: tag" pairs.
func validationDetails(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+": "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}
