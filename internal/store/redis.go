package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/chatsync/internal/tree"
)

const (
	docField     = "doc"
	versionField = "ver"

	// maxTxRetries bounds WATCH retries of an unconditional write.
	maxTxRetries = 32
)

// RedisBackend stores each root document in a hash holding the encoded
// document and its version. Writes run in a WATCH/MULTI transaction and
// publish the root key on the changes channel.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend creates a new Redis backend.
func NewRedisBackend(ctx context.Context, redisURL string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisBackend{client: client}, nil
}

// Client returns the underlying Redis client.
func (b *RedisBackend) Client() *redis.Client {
	return b.client
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// Ping checks the Redis connection.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// docKey returns the key of a root document's hash.
func docKey(root string) string {
	return fmt.Sprintf("chatsync:doc:%s", root)
}

// hashReader is satisfied by both *redis.Client and *redis.Tx.
type hashReader interface {
	HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd
}

func readDoc(ctx context.Context, c hashReader, root string) ([]byte, tree.Version, error) {
	vals, err := c.HMGet(ctx, docKey(root), docField, versionField).Result()
	if err != nil {
		return nil, 0, err
	}
	doc, _ := vals[0].(string)
	verStr, _ := vals[1].(string)
	if verStr == "" {
		return nil, 0, nil
	}
	ver, err := strconv.ParseUint(verStr, 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("corrupt version for %q: %w", root, err)
	}
	return []byte(doc), tree.Version(ver), nil
}

func (b *RedisBackend) Get(ctx context.Context, root string) ([]byte, tree.Version, error) {
	defer observe("redis", "get", time.Now())
	return readDoc(ctx, b.client, root)
}

func (b *RedisBackend) Put(ctx context.Context, root string, doc []byte, expect tree.Version, conditional bool) (tree.Version, error) {
	defer observe("redis", "put", time.Now())
	key := docKey(root)

	var next tree.Version
	txf := func(tx *redis.Tx) error {
		_, cur, err := readDoc(ctx, tx, root)
		if err != nil {
			return err
		}
		if conditional && cur != expect {
			return tree.ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if doc == nil {
				next = 0
				pipe.Del(ctx, key)
			} else {
				next = cur + 1
				pipe.HSet(ctx, key, docField, doc, versionField, strconv.FormatUint(uint64(next), 10))
			}
			pipe.Publish(ctx, changesChannel, root)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := b.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			if conditional {
				return 0, tree.ErrVersionConflict
			}
			continue
		}
		if err != nil {
			return 0, err
		}
		return next, nil
	}
	return 0, tree.ErrVersionConflict
}

// Watch signals whenever any process writes root.
func (b *RedisBackend) Watch(ctx context.Context, root string) (<-chan struct{}, error) {
	sub := b.client.Subscribe(ctx, changesChannel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if msg.Payload == root {
					signal(out)
				}
			}
		}
	}()
	return out, nil
}
