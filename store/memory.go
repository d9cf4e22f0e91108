package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/agentloop/chatmodel"
	"github.com/effective-security/agentloop/pkg/llms"
	"github.com/effective-security/x/values"
)

// MemoryStore is an in-memory MessageStoreManager,
// suitable for tests and single-process deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	limit int
	chats map[string]map[string]*chatRecord
}

type chatRecord struct {
	info     ChatInfo
	messages []llms.MessageModel
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithMessageLimit sets the number of messages retained per chat.
func WithMessageLimit(limit int) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.limit = limit
	}
}

// NewMemoryStore returns an in-memory message store.
func NewMemoryStore(ops ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		limit: DefaultMessageLimit,
		chats: make(map[string]map[string]*chatRecord),
	}
	for _, op := range ops {
		op(s)
	}
	return s
}

var _ MessageStoreManager = (*MemoryStore)(nil)

func (s *MemoryStore) record(tenantID, chatID string, create bool) *chatRecord {
	tenant := s.chats[tenantID]
	if tenant == nil {
		if !create {
			return nil
		}
		tenant = make(map[string]*chatRecord)
		s.chats[tenantID] = tenant
	}
	rec := tenant[chatID]
	if rec == nil && create {
		now := time.Now()
		rec = &chatRecord{
			info: ChatInfo{
				TenantID:  tenantID,
				ChatID:    chatID,
				CreatedAt: now,
				UpdatedAt: now,
			},
		}
		tenant[chatID] = rec
	}
	return rec
}

// Messages returns the stored messages of the chat in ctx.
func (s *MemoryStore) Messages(ctx context.Context) ([]llms.Message, error) {
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec := s.record(tenantID, chatID, false)
	if rec == nil {
		return nil, nil
	}
	return llms.ToMessages(rec.messages), nil
}

// Add appends messages to the chat in ctx, trimming to the retention limit.
func (s *MemoryStore) Add(ctx context.Context, msgs ...llms.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(tenantID, chatID, true)
	rec.messages = append(rec.messages, llms.ConvertMessagesToModels(msgs)...)
	if s.limit > 0 && len(rec.messages) > s.limit {
		rec.messages = rec.messages[len(rec.messages)-s.limit:]
	}
	rec.info.UpdatedAt = time.Now()
	return nil
}

// Reset removes the chat in ctx.
func (s *MemoryStore) Reset(ctx context.Context) error {
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tenant := s.chats[tenantID]; tenant != nil {
		delete(tenant, chatID)
	}
	return nil
}

// UpdateChat sets the chat title and merges metadata.
func (s *MemoryStore) UpdateChat(ctx context.Context, title string, meta values.MapAny) error {
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(tenantID, chatID, true)
	if title != "" {
		rec.info.Title = title
	}
	if len(meta) > 0 {
		if rec.info.Metadata == nil {
			rec.info.Metadata = values.MapAny{}
		}
		for k, v := range meta {
			rec.info.Metadata[k] = v
		}
	}
	rec.info.UpdatedAt = time.Now()
	return nil
}

// GetChatInfo returns the info of the chat in ctx.
func (s *MemoryStore) GetChatInfo(ctx context.Context, withMessages bool) (*ChatInfo, error) {
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec := s.record(tenantID, chatID, false)
	if rec == nil {
		return nil, errors.Newf("chat %q not found", chatID)
	}
	info := rec.info
	if withMessages {
		info.Messages = append([]llms.MessageModel{}, rec.messages...)
	}
	return &info, nil
}

// ListChats returns the chats of the tenant in ctx, most recently updated first.
func (s *MemoryStore) ListChats(ctx context.Context) ([]*ChatInfo, error) {
	chatCtx := chatmodel.GetChatContext(ctx)
	if chatCtx == nil {
		return nil, errors.WithStack(chatmodel.ErrInvalidChatContext)
	}
	tenantID := chatCtx.GetTenantID()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var infos []*ChatInfo
	for _, rec := range s.chats[tenantID] {
		info := rec.info
		infos = append(infos, &info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
	})
	return infos, nil
}

// ListTenants returns the IDs of tenants with stored chats.
func (s *MemoryStore) ListTenants(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenants := make([]string, 0, len(s.chats))
	for tenantID, chats := range s.chats {
		if len(chats) > 0 {
			tenants = append(tenants, tenantID)
		}
	}
	sort.Strings(tenants)
	return tenants, nil
}

// Cleanup removes chats not updated since the cutoff time.
func (s *MemoryStore) Cleanup(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, chats := range s.chats {
		for chatID, rec := range chats {
			if rec.info.UpdatedAt.Before(cutoff) {
				delete(chats, chatID)
				removed++
			}
		}
	}
	return removed, nil
}
