package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisNamespace prefixes every key when the location names none.
const DefaultRedisNamespace = "rulerunner"

// RedisBackend stores items as JSON strings at <ns>:item:<id>, indexes them in
// the sorted set <ns>:items, and represents each lock as <ns>:lock:<id>
// created with SETNX.
type RedisBackend struct {
	rdb       *redis.Client
	namespace string
	location  string
}

// OpenRedis parses a redis:// or rediss:// location. The optional namespace
// query parameter selects the key prefix.
func OpenRedis(location string) (*RedisBackend, error) {
	parsed, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedLocation, err)
	}
	query := parsed.Query()
	namespace := strings.TrimSpace(query.Get("namespace"))
	query.Del("namespace")
	parsed.RawQuery = query.Encode()

	opts, err := redis.ParseURL(parsed.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedLocation, err)
	}
	backend, err := NewRedisBackend(opts, namespace)
	if err != nil {
		return nil, err
	}
	backend.location = location
	return backend, nil
}

// NewRedisBackend connects with opts and namespaces every key. An empty
// namespace uses DefaultRedisNamespace.
func NewRedisBackend(opts *redis.Options, namespace string) (*RedisBackend, error) {
	if opts == nil {
		return nil, errors.New("redis options are required")
	}
	if namespace == "" {
		namespace = DefaultRedisNamespace
	}
	if strings.ContainsAny(namespace, "*?[]") {
		return nil, fmt.Errorf("redis namespace %q contains glob characters", namespace)
	}
	location := fmt.Sprintf("redis://%s/%d?namespace=%s", opts.Addr, opts.DB, url.QueryEscape(namespace))
	return &RedisBackend{
		rdb:       redis.NewClient(opts),
		namespace: namespace,
		location:  location,
	}, nil
}

func (b *RedisBackend) Location() string { return b.location }

// Namespace returns the key prefix.
func (b *RedisBackend) Namespace() string { return b.namespace }

func (b *RedisBackend) itemKey(id int) string { return b.namespace + ":item:" + strconv.Itoa(id) }
func (b *RedisBackend) lockKey(id int) string { return b.namespace + ":lock:" + strconv.Itoa(id) }
func (b *RedisBackend) indexKey() string      { return b.namespace + ":items" }

// Init verifies connectivity. Redis needs no schema.
func (b *RedisBackend) Init(ctx context.Context) error {
	if err := b.rdb.Ping(ensureContext(ctx)).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (b *RedisBackend) Put(ctx context.Context, item Item) error {
	ctx = ensureContext(ctx)
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}
	pipe := b.rdb.TxPipeline()
	pipe.Set(ctx, b.itemKey(item.ID), data, 0)
	pipe.ZAdd(ctx, b.indexKey(), redis.Z{Score: float64(item.ID), Member: strconv.Itoa(item.ID)})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write item %d: %w", item.ID, err)
	}
	return nil
}

// PutAll writes items in one MULTI/EXEC block.
func (b *RedisBackend) PutAll(ctx context.Context, items []Item) error {
	ctx = ensureContext(ctx)
	if len(items) == 0 {
		return nil
	}
	pipe := b.rdb.TxPipeline()
	members := make([]redis.Z, 0, len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode item %d: %w", item.ID, err)
		}
		pipe.Set(ctx, b.itemKey(item.ID), data, 0)
		members = append(members, redis.Z{Score: float64(item.ID), Member: strconv.Itoa(item.ID)})
	}
	pipe.ZAdd(ctx, b.indexKey(), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write items: %w", err)
	}
	return nil
}

func (b *RedisBackend) Get(ctx context.Context, id int) (Item, error) {
	data, err := b.rdb.Get(ensureContext(ctx), b.itemKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Item{}, ErrNotFound
		}
		return Item{}, err
	}
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return Item{}, fmt.Errorf("decode item %d: %w", id, err)
	}
	return item, nil
}

func (b *RedisBackend) IDs(ctx context.Context) ([]int, error) {
	members, err := b.rdb.ZRange(ensureContext(ctx), b.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(members))
	for _, member := range members {
		id, err := strconv.Atoi(member)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (b *RedisBackend) Lock(ctx context.Context, id int, owner string) (bool, error) {
	return b.rdb.SetNX(ensureContext(ctx), b.lockKey(id), owner, 0).Result()
}

func (b *RedisBackend) Unlock(ctx context.Context, id int) error {
	return b.rdb.Del(ensureContext(ctx), b.lockKey(id)).Err()
}

// Destroy deletes every key under the namespace.
func (b *RedisBackend) Destroy(ctx context.Context) error {
	ctx = ensureContext(ctx)
	iter := b.rdb.Scan(ctx, 0, b.namespace+":*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan namespace: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := b.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete namespace: %w", err)
	}
	return nil
}

func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}
