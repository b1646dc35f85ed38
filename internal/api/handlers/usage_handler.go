package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"chatgate/internal/api/middleware"
	"chatgate/internal/engine/usage"
	"chatgate/internal/pkg/errors"
)

type UsageHandler struct {
	usage *usage.Service
}

func NewUsageHandler(svc *usage.Service) *UsageHandler {
	return &UsageHandler{usage: svc}
}

// Ingest appends one event. Unknown fields are sanitized away, never rejected.
func (h *UsageHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var raw usage.RawEvent
	if err := decode(w, r, &raw); err != nil || raw == nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	var by usage.Attribution
	if id := middleware.IdentityFrom(r.Context()); id != nil {
		by.APIKeyID = id.KeyID
		by.UserID = id.UserID()
	} else if uid := actorID(r); uid != nil {
		by.UserID = *uid
	}

	e, err := h.usage.Ingest(r.Context(), raw, by)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("usage ingest failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to record usage event", nil)
		return
	}
	errors.WriteJSON(w, http.StatusCreated, e)
}

// Daily summarizes today's usage for ?user_id=&workspace_id=.
func (h *UsageHandler) Daily(w http.ResponseWriter, r *http.Request) {
	userID, err := queryID(r, "user_id")
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	workspaceID, err := queryID(r, "workspace_id")
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	report, err := h.usage.Daily(r.Context(), userID, workspaceID)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("usage summary failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to summarize usage", nil)
		return
	}
	errors.WriteJSON(w, http.StatusOK, report)
}
