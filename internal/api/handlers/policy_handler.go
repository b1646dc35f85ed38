package handlers

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/rs/zerolog"

	"chatgate/internal/engine/policies"
	"chatgate/internal/pkg/errors"
)

type TeamLookup interface {
	TeamIDsForUser(ctx context.Context, userID int64) ([]int64, error)
}

type PolicyHandler struct {
	policies *policies.Service
	teams    TeamLookup
}

func NewPolicyHandler(svc *policies.Service, teams TeamLookup) *PolicyHandler {
	return &PolicyHandler{policies: svc, teams: teams}
}

func (h *PolicyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req policies.Input
	if err := decode(w, r, &req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	p, err := h.policies.Create(r.Context(), req, actorID(r))
	if err != nil {
		writePolicyError(w, r, err)
		return
	}
	errors.WriteJSON(w, http.StatusCreated, p)
}

func (h *PolicyHandler) List(w http.ResponseWriter, r *http.Request) {
	ps, err := h.policies.List(r.Context())
	if err != nil {
		writePolicyError(w, r, err)
		return
	}
	if ps == nil {
		ps = []policies.Policy{}
	}
	errors.WriteJSON(w, http.StatusOK, ps)
}

func (h *PolicyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := paramID(r, "id")
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	p, err := h.policies.Get(r.Context(), id)
	if err != nil {
		writePolicyError(w, r, err)
		return
	}
	errors.WriteJSON(w, http.StatusOK, p)
}

func (h *PolicyHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := paramID(r, "id")
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	var req policies.Input
	if err := decode(w, r, &req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	p, err := h.policies.Update(r.Context(), id, req)
	if err != nil {
		writePolicyError(w, r, err)
		return
	}
	errors.WriteJSON(w, http.StatusOK, p)
}

func (h *PolicyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := paramID(r, "id")
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	if err := h.policies.Delete(r.Context(), id); err != nil {
		writePolicyError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Effective previews the merged rules for ?user_id=&workspace_id=. Team
// membership is looked up for the user.
func (h *PolicyHandler) Effective(w http.ResponseWriter, r *http.Request) {
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

	teamIDs := []int64{}
	if userID > 0 && h.teams != nil {
		ids, err := h.teams.TeamIDsForUser(r.Context(), userID)
		if err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Int64("user_id", userID).Msg("team lookup failed, resolving without teams")
		} else {
			teamIDs = ids
		}
	}

	set := h.policies.Effective(r.Context(), userID, workspaceID, teamIDs)
	errors.WriteJSON(w, http.StatusOK, struct {
		Rules    policies.Rules    `json:"rules"`
		Policies []policies.Policy `json:"policies"`
		TeamIDs  []int64           `json:"team_ids"`
	}{set.Rules, set.Policies, teamIDs})
}

func writePolicyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case stderrors.Is(err, policies.ErrInvalid):
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
	case stderrors.Is(err, policies.ErrNotFound):
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Usage policy not found", nil)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("usage policy request failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
	}
}
