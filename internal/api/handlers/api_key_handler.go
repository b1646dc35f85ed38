package handlers

import (
	stderrors "errors"
	"net/http"

	"github.com/rs/zerolog"

	"chatgate/internal/engine/apikeys"
	"chatgate/internal/pkg/errors"
	"chatgate/internal/platform/models"
)

type APIKeyHandler struct {
	keys *apikeys.Service
}

func NewAPIKeyHandler(keys *apikeys.Service) *APIKeyHandler {
	return &APIKeyHandler{keys: keys}
}

type apiKeyView struct {
	*models.APIKey
	Preview string `json:"preview"`
}

func viewKey(k *models.APIKey) apiKeyView {
	return apiKeyView{APIKey: k, Preview: k.Preview()}
}

func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req apikeys.CreateInput
	if err := decode(w, r, &req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	req.CreatedBy = actorID(r)

	key, err := h.keys.Create(r.Context(), req)
	if err != nil {
		writeKeyError(w, r, err)
		return
	}

	// The secret is only returned on creation.
	errors.WriteJSON(w, http.StatusCreated, struct {
		apiKeyView
		Secret string `json:"secret"`
	}{viewKey(key), key.Secret})
}

func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.List(r.Context())
	if err != nil {
		writeKeyError(w, r, err)
		return
	}

	views := make([]apiKeyView, 0, len(keys))
	for _, k := range keys {
		views = append(views, viewKey(k))
	}
	errors.WriteJSON(w, http.StatusOK, views)
}

func (h *APIKeyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := paramID(r, "id")
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	key, err := h.keys.Get(r.Context(), id)
	if err != nil {
		writeKeyError(w, r, err)
		return
	}
	errors.WriteJSON(w, http.StatusOK, viewKey(key))
}

func (h *APIKeyHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := paramID(r, "id")
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	var req apikeys.KeyUpdate
	if err := decode(w, r, &req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	key, err := h.keys.Update(r.Context(), id, req)
	if err != nil {
		writeKeyError(w, r, err)
		return
	}
	errors.WriteJSON(w, http.StatusOK, viewKey(key))
}

func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id, err := paramID(r, "id")
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	key, err := h.keys.Revoke(r.Context(), id)
	if err != nil {
		writeKeyError(w, r, err)
		return
	}
	errors.WriteJSON(w, http.StatusOK, viewKey(key))
}

func (h *APIKeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := paramID(r, "id")
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	if err := h.keys.Delete(r.Context(), id); err != nil {
		writeKeyError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeKeyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case stderrors.Is(err, apikeys.ErrInvalid):
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
	case stderrors.Is(err, apikeys.ErrNotFound):
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "API key not found", nil)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("api key request failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
	}
}
