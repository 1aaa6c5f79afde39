package gamification

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ganithub/ganithub-api/internal/middleware"
	"github.com/ganithub/ganithub-api/internal/pkg/response"
	"github.com/ganithub/ganithub-api/internal/pkg/validator"
)

type Handler struct {
	svc         *Service
	leaderboard *LeaderboardService
	reports     *ReportingRepository
}

func NewHandler(svc *Service, leaderboard *LeaderboardService, reports *ReportingRepository) *Handler {
	return &Handler{svc: svc, leaderboard: leaderboard, reports: reports}
}

type activityRequest struct {
	UserID       string `json:"user_id" validate:"required,uuid"`
	ActivityKind string `json:"activity_kind" validate:"required,activity_kind"`
	SourceRef    string `json:"source_ref"`
}

type awardCoinsRequest struct {
	UserID      string `json:"user_id" validate:"required,uuid"`
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Description string `json:"description"`
	SourceRef   string `json:"source_ref"`
}

type spendRequest struct {
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	Reason    string `json:"reason"`
	SourceRef string `json:"source_ref"`
}

// RecordActivity is called by the test/class/video subsystems when a
// student completes something coin-worthy.
func (h *Handler) RecordActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if details := validator.Struct(req); details != nil {
		response.ValidationError(w, details)
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.BadRequest(w, "invalid user id")
		return
	}

	result, err := h.svc.RecordActivity(r.Context(), userID, SourceKind(req.ActivityKind), req.SourceRef)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.OK(w, result)
}

// AwardCoins is the admin-triggered manual grant.
func (h *Handler) AwardCoins(w http.ResponseWriter, r *http.Request) {
	var req awardCoinsRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if details := validator.Struct(req); details != nil {
		response.ValidationError(w, details)
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.BadRequest(w, "invalid user id")
		return
	}

	result, err := h.svc.AwardCoins(r.Context(), userID, req.Amount, req.Description, req.SourceRef)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.OK(w, result)
}

// Spend deducts coins from the authenticated user.
func (h *Handler) Spend(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req spendRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if details := validator.Struct(req); details != nil {
		response.ValidationError(w, details)
		return
	}

	snap, err := h.svc.Spend(r.Context(), userID, req.Amount, req.Reason, req.SourceRef)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.OK(w, snap)
}

// UserCoins returns the balance snapshot plus recent transactions.
func (h *Handler) UserCoins(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid user id")
		return
	}

	snap, transactions, err := h.svc.UserCoins(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.OK(w, map[string]interface{}{
		"balance":      snap,
		"transactions": transactions,
	})
}

// UserBadges returns the badge catalog joined with the user's progress.
func (h *Handler) UserBadges(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid user id")
		return
	}

	badges, err := h.svc.UserBadges(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	earned := 0
	for _, b := range badges {
		if b.Completed {
			earned++
		}
	}

	response.OK(w, map[string]interface{}{
		"badges":       badges,
		"total_earned": earned,
	})
}

// Badge returns a single badge definition.
func (h *Handler) Badge(w http.ResponseWriter, r *http.Request) {
	badgeID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid badge id")
		return
	}

	badge, err := h.svc.GetBadge(r.Context(), badgeID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.OK(w, badge)
}

// Leaderboard serves the ranked projections.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("type")
	if kind == "" {
		kind = string(LeaderboardCoins)
	}
	days := parseQueryInt(r, "days", 0)
	limit := parseQueryInt(r, "limit", defaultLeaderboardLimit)

	entries, err := h.leaderboard.Rank(r.Context(), LeaderboardKind(kind), days, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.OK(w, map[string]interface{}{
		"leaderboard": entries,
		"type":        kind,
	})
}

// Stats serves the admin gamification summary.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reports.Stats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.OK(w, stats)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		response.BadRequest(w, "amount must be greater than zero")
	case errors.Is(err, ErrUnknownActivity):
		response.BadRequest(w, "unknown activity kind")
	case errors.Is(err, ErrUnknownLeaderboardKind):
		response.BadRequest(w, "leaderboard type must be one of: coins, tests, attendance")
	case errors.Is(err, ErrInsufficientBalance):
		response.Conflict(w, "insufficient coin balance")
	case errors.Is(err, ErrDuplicateSource):
		response.Conflict(w, "source reference already used with a different amount")
	case errors.Is(err, ErrBadgeNotFound):
		response.NotFound(w, "badge not found")
	case errors.Is(err, ErrStorageConflict):
		response.Error(w, http.StatusServiceUnavailable, "STORAGE_CONFLICT", "temporary conflict, please retry")
	default:
		log.Error().Err(err).Msg("gamification request failed")
		response.InternalError(w)
	}
}

func parseQueryInt(r *http.Request, key string, defaultValue int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return defaultValue
	}
	return value
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Get("/coins/user/{id}", h.UserCoins)
	r.Post("/coins/spend", h.Spend)
	r.Get("/badges/user/{id}", h.UserBadges)
	r.Get("/badges/{id}", h.Badge)
	r.Get("/leaderboard", h.Leaderboard)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole("admin", "tutor"))
		r.Post("/activity", h.RecordActivity)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole("admin"))
		r.Post("/award-coins", h.AwardCoins)
		r.Get("/stats", h.Stats)
	})

	return r
}
