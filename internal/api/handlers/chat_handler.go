package handlers

import (
	"net/http"

	"chatgate/internal/api/middleware"
	"chatgate/internal/engine/apikeys"
	"chatgate/internal/engine/chatpolicy"
	"chatgate/internal/engine/scopes"
	"chatgate/internal/pkg/errors"
)

type ChatHandler struct {
	enforcer *chatpolicy.Enforcer
}

func NewChatHandler(enforcer *chatpolicy.Enforcer) *ChatHandler {
	return &ChatHandler{enforcer: enforcer}
}

type ChatRequest struct {
	Message string `json:"message"`
	Prompt  string `json:"prompt"`
	// UserID names the end user the chat is sent for. Defaults to the owner
	// of the calling key; any other user needs the chat:impersonate scope.
	UserID int64 `json:"user_id"`
}

// Check is the pre-flight gate for a chat send on the workspace loaded by
// WorkspaceMiddleware.
func (h *ChatHandler) Check(w http.ResponseWriter, r *http.Request) {
	ws := middleware.WorkspaceFrom(r.Context())
	if ws == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Workspace not found", nil)
		return
	}

	var req ChatRequest
	if err := decode(w, r, &req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	prompt := req.Message
	if prompt == "" {
		prompt = req.Prompt
	}

	var actor chatpolicy.Actor
	if id := actorID(r); id != nil {
		actor.UserID = *id
	}
	if req.UserID > 0 && req.UserID != actor.UserID {
		identity := middleware.IdentityFrom(r.Context())
		if identity == nil || !apikeys.HasScope(identity.Scopes, scopes.ChatImpersonate) {
			errors.WriteError(w, http.StatusForbidden, errors.ErrCodeMissingScope, "API key may not chat on behalf of another user",
				map[string]string{"scope": scopes.ChatImpersonate})
			return
		}
		actor.UserID = req.UserID
	}

	decision := h.enforcer.Enforce(r.Context(), actor, chatpolicy.Workspace{
		ID:           ws.ID,
		ChatProvider: ws.ChatProvider,
		ChatModel:    ws.ChatModel,
	}, prompt)

	if !decision.Allowed {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodePolicyDenied, decision.Error,
			map[string]string{"code": decision.Code})
		return
	}
	errors.WriteJSON(w, http.StatusOK, decision)
}
