package middleware

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	apiContext "chatgate/internal/api/context"
	"chatgate/internal/pkg/errors"
	"chatgate/internal/platform/models"
)

type WorkspaceStore interface {
	GetBySlug(ctx context.Context, slug string) (*models.Workspace, error)
}

type WorkspaceMiddleware struct {
	workspaces WorkspaceStore
}

func NewWorkspaceMiddleware(workspaces WorkspaceStore) *WorkspaceMiddleware {
	return &WorkspaceMiddleware{workspaces: workspaces}
}

// Handle loads the workspace named by the :slug route parameter.
func (m *WorkspaceMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
		slug := params.ByName("slug")
		if slug == "" {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Missing workspace slug", nil)
			return
		}

		ws, err := m.workspaces.GetBySlug(r.Context(), slug)
		if err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Str("slug", slug).Msg("failed to load workspace")
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load workspace", nil)
			return
		}
		if ws == nil {
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Workspace not found", nil)
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.Workspace, ws)
		next(w, r.WithContext(ctx))
	}
}

// WorkspaceFrom returns the workspace loaded by WorkspaceMiddleware.
func WorkspaceFrom(ctx context.Context) *models.Workspace {
	ws, _ := ctx.Value(apiContext.Workspace).(*models.Workspace)
	return ws
}
