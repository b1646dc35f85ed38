package models

type User struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	Role         string `json:"role"`
	CreatedAt    int64  `json:"created_at"`
}

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleDefault = "default"
)

type Workspace struct {
	ID           int64  `json:"id"`
	Slug         string `json:"slug"`
	Name         string `json:"name"`
	ChatProvider string `json:"chat_provider,omitempty"`
	ChatModel    string `json:"chat_model,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}
