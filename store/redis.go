package store

import (
	"context"
	"encoding/json"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/agentloop/chatmodel"
	"github.com/effective-security/agentloop/pkg/llms"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/redis/go-redis/v9"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/agentloop", "store")

// RedisStore is a Redis-backed MessageStoreManager.
// Keys are namespaced per tenant:
//
//	<prefix>/chatstore/<tenantID>/messages/<chatID>  list of serialized messages
//	<prefix>/chatstore/<tenantID>/info/<chatID>      chat info
//	<prefix>/chatstore/<tenantID>/chats              set of chat IDs
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	limit  int
	ttl    time.Duration
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix sets the key namespace prefix.
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// WithRedisMessageLimit sets the number of messages retained per chat.
func WithRedisMessageLimit(limit int) RedisStoreOption {
	return func(s *RedisStore) {
		s.limit = limit
	}
}

// WithTTL sets the expiration applied to chat keys on each write.
func WithTTL(ttl time.Duration) RedisStoreOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// NewRedisStore returns a Redis-backed message store.
func NewRedisStore(client redis.UniversalClient, ops ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client: client,
		limit:  DefaultMessageLimit,
	}
	for _, op := range ops {
		op(s)
	}
	return s
}

var _ MessageStoreManager = (*RedisStore)(nil)

func (s *RedisStore) messagesKey(tenantID, chatID string) string {
	return path.Join(s.prefix, "chatstore", tenantID, "messages", chatID)
}

func (s *RedisStore) infoKey(tenantID, chatID string) string {
	return path.Join(s.prefix, "chatstore", tenantID, "info", chatID)
}

func (s *RedisStore) chatsKey(tenantID string) string {
	return path.Join(s.prefix, "chatstore", tenantID, "chats")
}

// Messages returns the stored messages of the chat in ctx.
func (s *RedisStore) Messages(ctx context.Context) ([]llms.Message, error) {
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := s.client.LRange(ctx, s.messagesKey(tenantID, chatID), 0, -1).Result()
	if err != nil {
		return nil, errors.WithMessage(err, "failed to load messages")
	}

	models := make([]llms.MessageModel, 0, len(raw))
	for _, item := range raw {
		var model llms.MessageModel
		if err := json.Unmarshal([]byte(item), &model); err != nil {
			logger.ContextKV(ctx, xlog.WARNING,
				"reason", "corrupt_message",
				"tenant", tenantID,
				"chat", chatID,
				"err", err.Error())
			continue
		}
		models = append(models, model)
	}
	return llms.ToMessages(models), nil
}

// Add appends messages to the chat in ctx, trimming to the retention limit.
func (s *RedisStore) Add(ctx context.Context, msgs ...llms.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return err
	}

	items := make([]any, 0, len(msgs))
	for _, msg := range msgs {
		data, err := json.Marshal(llms.ConvertMessageToModel(msg))
		if err != nil {
			return errors.WithMessage(err, "failed to marshal message")
		}
		items = append(items, string(data))
	}

	msgKey := s.messagesKey(tenantID, chatID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, msgKey, items...)
	if s.limit > 0 {
		pipe.LTrim(ctx, msgKey, int64(-s.limit), -1)
	}
	pipe.SAdd(ctx, s.chatsKey(tenantID), chatID)
	if s.ttl > 0 {
		pipe.Expire(ctx, msgKey, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.WithMessage(err, "failed to store messages")
	}

	return s.touchInfo(ctx, tenantID, chatID)
}

// Reset removes the chat in ctx.
func (s *RedisStore) Reset(ctx context.Context) error {
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.messagesKey(tenantID, chatID))
	pipe.Del(ctx, s.infoKey(tenantID, chatID))
	pipe.SRem(ctx, s.chatsKey(tenantID), chatID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.WithMessage(err, "failed to reset chat")
	}
	return nil
}

func (s *RedisStore) loadInfo(ctx context.Context, tenantID, chatID string) (*ChatInfo, error) {
	data, err := s.client.Get(ctx, s.infoKey(tenantID, chatID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.WithMessage(err, "failed to load chat info")
	}
	var info ChatInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return nil, errors.WithMessage(err, "failed to unmarshal chat info")
	}
	return &info, nil
}

func (s *RedisStore) saveInfo(ctx context.Context, info *ChatInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return errors.WithMessage(err, "failed to marshal chat info")
	}
	key := s.infoKey(info.TenantID, info.ChatID)
	if err := s.client.Set(ctx, key, string(data), s.ttl).Err(); err != nil {
		return errors.WithMessage(err, "failed to store chat info")
	}
	return nil
}

func (s *RedisStore) touchInfo(ctx context.Context, tenantID, chatID string) error {
	info, err := s.loadInfo(ctx, tenantID, chatID)
	if err != nil {
		return err
	}
	now := time.Now()
	if info == nil {
		info = &ChatInfo{
			TenantID:  tenantID,
			ChatID:    chatID,
			CreatedAt: now,
		}
	}
	info.UpdatedAt = now
	return s.saveInfo(ctx, info)
}

// UpdateChat sets the chat title and merges metadata.
func (s *RedisStore) UpdateChat(ctx context.Context, title string, meta values.MapAny) error {
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return err
	}

	info, err := s.loadInfo(ctx, tenantID, chatID)
	if err != nil {
		return err
	}
	now := time.Now()
	if info == nil {
		info = &ChatInfo{
			TenantID:  tenantID,
			ChatID:    chatID,
			CreatedAt: now,
		}
	}
	if title != "" {
		info.Title = title
	}
	if len(meta) > 0 {
		if info.Metadata == nil {
			info.Metadata = values.MapAny{}
		}
		for k, v := range meta {
			info.Metadata[k] = v
		}
	}
	info.UpdatedAt = now

	if err := s.saveInfo(ctx, info); err != nil {
		return err
	}
	if err := s.client.SAdd(ctx, s.chatsKey(tenantID), chatID).Err(); err != nil {
		return errors.WithMessage(err, "failed to register chat")
	}
	return nil
}

// GetChatInfo returns the info of the chat in ctx.
func (s *RedisStore) GetChatInfo(ctx context.Context, withMessages bool) (*ChatInfo, error) {
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return nil, err
	}

	info, err := s.loadInfo(ctx, tenantID, chatID)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, errors.Newf("chat %q not found", chatID)
	}
	if withMessages {
		msgs, err := s.Messages(ctx)
		if err != nil {
			return nil, err
		}
		info.Messages = llms.ConvertMessagesToModels(msgs)
	}
	return info, nil
}

// ListChats returns the chats of the tenant in ctx, most recently updated first.
func (s *RedisStore) ListChats(ctx context.Context) ([]*ChatInfo, error) {
	chatCtx := chatmodel.GetChatContext(ctx)
	if chatCtx == nil {
		return nil, errors.WithStack(chatmodel.ErrInvalidChatContext)
	}
	tenantID := chatCtx.GetTenantID()

	chatIDs, err := s.client.SMembers(ctx, s.chatsKey(tenantID)).Result()
	if err != nil {
		return nil, errors.WithMessage(err, "failed to list chats")
	}

	infos := make([]*ChatInfo, 0, len(chatIDs))
	for _, chatID := range chatIDs {
		info, err := s.loadInfo(ctx, tenantID, chatID)
		if err != nil {
			return nil, err
		}
		if info == nil {
			// info expired but membership remains
			info = &ChatInfo{TenantID: tenantID, ChatID: chatID}
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
	})
	return infos, nil
}

// ListTenants returns the IDs of tenants with stored chats.
func (s *RedisStore) ListTenants(ctx context.Context) ([]string, error) {
	pattern := path.Join(s.prefix, "chatstore", "*", "chats")
	seen := map[string]bool{}
	var tenants []string

	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		parts := strings.Split(key, "/")
		if len(parts) < 2 {
			continue
		}
		tenantID := parts[len(parts)-2]
		if !seen[tenantID] {
			seen[tenantID] = true
			tenants = append(tenants, tenantID)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, errors.WithMessage(err, "failed to scan tenants")
	}
	return tenants, nil
}

// Cleanup removes chats not updated since the cutoff time.
func (s *RedisStore) Cleanup(ctx context.Context, cutoff time.Time) (int, error) {
	tenants, err := s.ListTenants(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, tenantID := range tenants {
		chatIDs, err := s.client.SMembers(ctx, s.chatsKey(tenantID)).Result()
		if err != nil {
			return removed, errors.WithMessage(err, "failed to list chats")
		}
		for _, chatID := range chatIDs {
			info, err := s.loadInfo(ctx, tenantID, chatID)
			if err != nil {
				return removed, err
			}
			if info != nil && !info.UpdatedAt.Before(cutoff) {
				continue
			}
			pipe := s.client.TxPipeline()
			pipe.Del(ctx, s.messagesKey(tenantID, chatID))
			pipe.Del(ctx, s.infoKey(tenantID, chatID))
			pipe.SRem(ctx, s.chatsKey(tenantID), chatID)
			if _, err := pipe.Exec(ctx); err != nil {
				return removed, errors.WithMessage(err, "failed to remove chat")
			}
			removed++
		}
	}
	return removed, nil
}
