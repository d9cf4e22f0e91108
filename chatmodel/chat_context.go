package chatmodel

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/values"
	"github.com/google/uuid"
)

// ChatContext carries the identity of a chat exchange:
// the tenant, the chat session, and the unique run.
type ChatContext interface {
	GetTenantID() string
	GetChatID() string
	// SetChatID replaces the chat ID, for flows where the ID
	// is assigned after the context is created.
	SetChatID(chatID string)
	// RunID returns the unique ID of this execution.
	RunID() string
	// AppData returns immutable app data
	AppData() any
	// GetMetadata retrieves metadata by key
	GetMetadata(key string) (value any, ok bool)
	// SetMetadata sets metadata by key
	SetMetadata(key string, value any)
}

type chatContext struct {
	tenantID string
	runID    string
	appData  any

	mu       sync.RWMutex
	chatID   string
	metadata sync.Map
}

func (c *chatContext) GetTenantID() string {
	return c.tenantID
}

func (c *chatContext) GetChatID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chatID
}

func (c *chatContext) SetChatID(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chatID = chatID
}

func (c *chatContext) RunID() string {
	return c.runID
}

func (c *chatContext) AppData() any {
	return c.appData
}

func (c *chatContext) GetMetadata(key string) (value any, ok bool) {
	return c.metadata.Load(key)
}

func (c *chatContext) SetMetadata(key string, value any) {
	c.metadata.Store(key, value)
}

// NewChatContext creates a ChatContext with the given tenant and chat IDs.
// Empty IDs are replaced with generated ones.
func NewChatContext(tenantID, chatID string, appData any) ChatContext {
	return &chatContext{
		tenantID: values.StringsCoalesce(tenantID, NewChatID()),
		chatID:   values.StringsCoalesce(chatID, NewChatID()),
		runID:    NewChatID(),
		appData:  appData,
	}
}

// ErrInvalidChatContext is returned when the context does not carry a ChatContext.
var ErrInvalidChatContext = errors.New("invalid chat context")

type contextKey int

const (
	keyContext contextKey = iota
)

// WithChatContext returns a new context with ChatContext value
func WithChatContext(ctx context.Context, chatCtx ChatContext) context.Context {
	return context.WithValue(ctx, keyContext, chatCtx)
}

// GetChatContext retrieves the ChatContext from the context
func GetChatContext(ctx context.Context) ChatContext {
	if v, ok := ctx.Value(keyContext).(ChatContext); ok {
		return v
	}
	return nil
}

// GetChatID retrieves the chat ID from the provided context.
// If the context does not contain a ChatContext, it returns an empty string.
func GetChatID(ctx context.Context) string {
	if v, ok := ctx.Value(keyContext).(ChatContext); ok {
		return v.GetChatID()
	}
	return ""
}

// SetChatID replaces the chat ID on the ChatContext stored in ctx.
func SetChatID(ctx context.Context, chatID string) (context.Context, error) {
	chatCtx := GetChatContext(ctx)
	if chatCtx == nil {
		return ctx, errors.WithStack(ErrInvalidChatContext)
	}
	chatCtx.SetChatID(chatID)
	return ctx, nil
}

// GetTenantAndChatID returns the tenant and chat IDs from the context.
func GetTenantAndChatID(ctx context.Context) (tenantID string, chatID string, err error) {
	chatCtx := GetChatContext(ctx)
	if chatCtx == nil {
		return "", "", errors.WithStack(ErrInvalidChatContext)
	}
	return chatCtx.GetTenantID(), chatCtx.GetChatID(), nil
}

// NewFromContext returns a fresh background context carrying over the
// ChatContext from ctx, detached from its cancellation and deadlines.
func NewFromContext(ctx context.Context) context.Context {
	res := context.Background()
	if chatCtx := GetChatContext(ctx); chatCtx != nil {
		res = WithChatContext(res, chatCtx)
	}
	return res
}

// NewChatID generates a new unique ID.
func NewChatID() string {
	return uuid.NewString()
}
