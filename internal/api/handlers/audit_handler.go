package handlers

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"chatgate/internal/pkg/errors"
	"chatgate/internal/platform/audit"
)

type AuditHandler struct {
	logs *audit.Logger
}

func NewAuditHandler(logs *audit.Logger) *AuditHandler {
	return &AuditHandler{logs: logs}
}

// List returns the newest entries first. ?limit= caps the page.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	logs, err := h.logs.List(r.Context(), limit)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("audit list failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if logs == nil {
		logs = []*audit.AuditLog{}
	}
	errors.WriteJSON(w, http.StatusOK, logs)
}
