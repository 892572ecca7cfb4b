package models

// ChatRole mirrors the roles accepted by the chat model.
type ChatRole string

const (
	RoleUser  ChatRole = "user"
	RoleModel ChatRole = "model"
)

// ChatMessage is one turn of the floating chat widget history.
type ChatMessage struct {
	Role ChatRole `json:"role"`
	Text string   `json:"text"`
}
