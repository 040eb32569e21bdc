package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kalambet/tripd/internal/conversation"
)

// suspendedKey is a sorted set of suspended conversation ids scored by the
// unix time their checkpoint expires.
const suspendedKey = "conversations:suspended"

// Redis stores each conversation as one JSON value. A zero TTL keeps
// checkpoints until they are deleted.
type Redis struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedis returns a store using rdb.
func NewRedis(rdb redis.Cmdable, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

// NewRedisClient connects to the server at url and pings it.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.DialTimeout = 5 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

func (r *Redis) key(id string) string {
	return fmt.Sprintf("conversation:%s:checkpoint", id)
}

func (r *Redis) Load(ctx context.Context, id string) (*conversation.State, error) {
	b, err := r.rdb.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, conversation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint %s: %w", id, err)
	}
	var st conversation.State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("decoding checkpoint %s: %w", id, err)
	}
	return &st, nil
}

func (r *Redis) Save(ctx context.Context, st *conversation.State) error {
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding checkpoint %s: %w", st.ID, err)
	}
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.key(st.ID), b, r.ttl)
		if st.Suspended() {
			p.ZAdd(ctx, suspendedKey, redis.Z{Score: r.expiry(), Member: st.ID})
		} else {
			p.ZRem(ctx, suspendedKey, st.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving checkpoint %s: %w", st.ID, err)
	}
	return nil
}

func (r *Redis) expiry() float64 {
	if r.ttl <= 0 {
		return math.Inf(1)
	}
	return float64(time.Now().Add(r.ttl).Unix())
}

// CountSuspended returns how many live checkpoints wait for human input.
// Entries whose checkpoint expired are pruned first.
func (r *Redis) CountSuspended(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	if err := r.rdb.ZRemRangeByScore(ctx, suspendedKey, "-inf", "("+now).Err(); err != nil {
		return 0, fmt.Errorf("pruning suspended set: %w", err)
	}
	n, err := r.rdb.ZCard(ctx, suspendedKey).Result()
	if err != nil {
		return 0, fmt.Errorf("counting suspended conversations: %w", err)
	}
	return int(n), nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, r.key(id))
		p.ZRem(ctx, suspendedKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting checkpoint %s: %w", id, err)
	}
	if del.Val() == 0 {
		return conversation.ErrNotFound
	}
	return nil
}

var (
	_ conversation.Store = (*Redis)(nil)
	_ SuspendedCounter   = (*Redis)(nil)
)
