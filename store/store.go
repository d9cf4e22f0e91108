// Package store provides chat message history storage,
// keyed by the tenant and chat IDs carried in the context.
package store

import (
	"context"
	"time"

	"github.com/effective-security/agentloop/pkg/llms"
	"github.com/effective-security/x/values"
)

// DefaultMessageLimit is the default number of messages retained per chat.
const DefaultMessageLimit = 50

// ChatInfo describes a stored chat.
type ChatInfo struct {
	TenantID  string              `json:"tenant_id"`
	ChatID    string              `json:"chat_id"`
	Title     string              `json:"title,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
	Metadata  values.MapAny       `json:"metadata,omitempty"`
	Messages  []llms.MessageModel `json:"messages,omitempty"`
}

// MessageStore persists the message history of a chat.
// The tenant and chat IDs are taken from the chat context in ctx.
type MessageStore interface {
	// Messages returns the stored messages of the chat, oldest first.
	Messages(ctx context.Context) ([]llms.Message, error)
	// Add appends messages to the chat history.
	Add(ctx context.Context, msgs ...llms.Message) error
	// Reset removes all messages of the chat.
	Reset(ctx context.Context) error
}

// MessageStoreManager extends MessageStore with chat management operations.
type MessageStoreManager interface {
	MessageStore

	// UpdateChat sets the chat title and merges metadata.
	UpdateChat(ctx context.Context, title string, meta values.MapAny) error
	// GetChatInfo returns the chat info, with messages when withMessages is set.
	GetChatInfo(ctx context.Context, withMessages bool) (*ChatInfo, error)
	// ListChats returns the chats of the tenant in ctx, most recent first.
	ListChats(ctx context.Context) ([]*ChatInfo, error)
	// ListTenants returns the IDs of tenants with stored chats.
	ListTenants(ctx context.Context) ([]string, error)
	// Cleanup removes chats not updated since the cutoff time.
	Cleanup(ctx context.Context, cutoff time.Time) (int, error)
}
