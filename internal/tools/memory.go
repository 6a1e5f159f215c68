package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/cachemanager"
)

// MemoryEvent is one entry of a conversation's event log.
type MemoryEvent struct {
	ID             int64           `json:"id"`
	ConversationID string          `json:"conversationId"`
	Kind           string          `json:"kind"`
	Data           json.RawMessage `json:"data,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// MemoryStore persists per-conversation values and an append-only event log.
type MemoryStore interface {
	Get(ctx context.Context, conversationID, key string) (json.RawMessage, bool, error)
	Put(ctx context.Context, conversationID, key string, value json.RawMessage) error
	AppendEvent(ctx context.Context, conversationID, kind string, data json.RawMessage) (int64, error)
	Events(ctx context.Context, conversationID string, limit int) ([]MemoryEvent, error)
}

// Event kinds written by the memory tools.
const EventMemoryPut = "memory_put"

const (
	memoryCacheTTL     = 10 * time.Minute
	defaultEventsLimit = 100
)

type memoryKey struct {
	conversationID string
	key            string
}

// memoryValue is what the read-through cache holds; a miss is cached too.
type memoryValue struct {
	value json.RawMessage
	found bool
}

// CachedMemory fronts a MemoryStore with a read-through cache. Writes go
// to the store and invalidate the cached entry.
type CachedMemory struct {
	store MemoryStore
	reads *cachemanager.ReadThrough[memoryKey, memoryValue]
}

// NewCachedMemory wraps store.
func NewCachedMemory(store MemoryStore) *CachedMemory {
	cache := cachemanager.NewInMemoryCacheManager[string, memoryValue]("memory", memoryCacheTTL, cachemanager.DefaultCleanupInterval)
	load := func(ctx context.Context, k memoryKey) (memoryValue, error) {
		v, found, err := store.Get(ctx, k.conversationID, k.key)
		if err != nil {
			return memoryValue{}, err
		}
		return memoryValue{value: v, found: found}, nil
	}
	return &CachedMemory{
		store: store,
		reads: cachemanager.NewReadThrough[memoryKey, memoryValue](cache, memoryKey.cacheKey, load, memoryCacheTTL, true),
	}
}

var _ MemoryStore = (*CachedMemory)(nil)

func (k memoryKey) cacheKey() string {
	return k.conversationID + "\x00" + k.key
}

func (m *CachedMemory) Get(ctx context.Context, conversationID, key string) (json.RawMessage, bool, error) {
	v, err := m.reads.Get(ctx, memoryKey{conversationID, key})
	if err != nil {
		return nil, false, err
	}
	return v.value, v.found, nil
}

func (m *CachedMemory) Put(ctx context.Context, conversationID, key string, value json.RawMessage) error {
	if err := m.store.Put(ctx, conversationID, key, value); err != nil {
		return err
	}
	return m.reads.Invalidate(ctx, memoryKey{conversationID, key})
}

func (m *CachedMemory) AppendEvent(ctx context.Context, conversationID, kind string, data json.RawMessage) (int64, error) {
	return m.store.AppendEvent(ctx, conversationID, kind, data)
}

func (m *CachedMemory) Events(ctx context.Context, conversationID string, limit int) ([]MemoryEvent, error) {
	return m.store.Events(ctx, conversationID, limit)
}

type memoryGetArgs struct {
	Key string `json:"key"`
}

type memoryPutArgs struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type memoryEventsArgs struct {
	Limit int `json:"limit"`
}

// MemoryTools returns memory.get, memory.put and memory.events backed by store.
// Every tool is scoped to the request's conversation.
func MemoryTools(store MemoryStore) []Tool {
	return []Tool{
		{
			Name:        "memory.get",
			Description: "Read a value stored for this conversation",
			Handler: func(ctx context.Context, call Call) (any, error) {
				var args memoryGetArgs
				if err := DecodeArgs(call.Args, &args); err != nil {
					return nil, err
				}
				if args.Key == "" {
					return nil, fmt.Errorf("key is required")
				}
				value, found, err := store.Get(ctx, call.ConversationID, args.Key)
				if err != nil {
					return nil, err
				}
				return map[string]any{"key": args.Key, "found": found, "value": value}, nil
			},
		},
		{
			Name:        "memory.put",
			Description: "Store a JSON value for this conversation",
			Permission:  PermFS,
			Handler: func(ctx context.Context, call Call) (any, error) {
				var args memoryPutArgs
				if err := DecodeArgs(call.Args, &args); err != nil {
					return nil, err
				}
				if args.Key == "" {
					return nil, fmt.Errorf("key is required")
				}
				if len(args.Value) == 0 {
					args.Value = json.RawMessage("null")
				}
				if err := store.Put(ctx, call.ConversationID, args.Key, args.Value); err != nil {
					return nil, err
				}
				data, _ := json.Marshal(map[string]any{"key": args.Key, "requestId": call.RequestID})
				id, err := store.AppendEvent(ctx, call.ConversationID, EventMemoryPut, data)
				if err != nil {
					return nil, err
				}
				return map[string]any{"key": args.Key, "eventId": id}, nil
			},
		},
		{
			Name:        "memory.events",
			Description: "List this conversation's memory events, newest first",
			Handler: func(ctx context.Context, call Call) (any, error) {
				var args memoryEventsArgs
				if err := DecodeArgs(call.Args, &args); err != nil {
					return nil, err
				}
				if args.Limit <= 0 {
					args.Limit = defaultEventsLimit
				}
				events, err := store.Events(ctx, call.ConversationID, args.Limit)
				if err != nil {
					return nil, err
				}
				return map[string]any{"events": events}, nil
			},
		},
	}
}
