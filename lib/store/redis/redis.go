// Package redis implements the interface for Redis. Flags are kept as fields of a single hash.
package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/tarancss/dappbridge/lib/store"
)

// Key of the hash holding the flags.
const Key = "dappbridge:flags"

// Redis implements a connection to a Redis deployment.
type Redis struct {
	c   redis.UniversalClient
	key string
	ctx context.Context
}

// New connects to the given Redis URL or host:port address.
func New(addr string) (*Redis, error) {
	opts, err := parseRedisURL(addr)
	if err != nil {
		return nil, err
	}

	r := &Redis{c: redis.NewUniversalClient(opts), key: Key, ctx: context.Background()}
	if err = r.c.Ping(r.ctx).Err(); err != nil {
		r.c.Close()

		return nil, fmt.Errorf("cannot connect to redis in %s: %w", addr, err)
	}

	return r, nil
}

// CloseRedis will close the client. Must be called at termination time.
func (r *Redis) CloseRedis() error {
	return r.c.Close()
}

// SetItem saves value under key, replacing any previous value.
func (r *Redis) SetItem(key, value string) error {
	if err := r.c.HSet(r.ctx, r.key, key, value).Err(); err != nil {
		return fmt.Errorf("could not save %s in redis: %w", key, err)
	}

	return nil
}

// GetItem returns the value saved under key.
func (r *Redis) GetItem(key string) (string, error) {
	v, err := r.c.HGet(r.ctx, r.key, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", store.ErrDataNotFound
	}

	return v, err
}

// RemoveItem deletes key from the hash.
func (r *Redis) RemoveItem(key string) error {
	n, err := r.c.HDel(r.ctx, r.key, key).Result()
	if err == nil && n != 1 {
		err = store.ErrDataNotFound
	}

	return err
}

// parseRedisURL parses addr into UniversalOptions supporting single, cluster and sentinel deployments. Without a
// scheme addr is a plain host:port.
func parseRedisURL(addr string) (*redis.UniversalOptions, error) {
	if !strings.Contains(addr, "://") {
		return &redis.UniversalOptions{Addrs: []string{addr}}, nil
	}

	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}

	opts := &redis.UniversalOptions{}
	if u.User != nil {
		opts.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			opts.Password = pw
		}
	}
	opts.Addrs = strings.Split(u.Host, ",")

	q := u.Query()
	db := q.Get("db")

	switch u.Scheme {
	case "redis", "rediss":
		if p := strings.TrimPrefix(u.Path, "/"); p != "" {
			db = p
		}
	case "redis-sentinel", "rediss-sentinel":
		opts.MasterName = strings.TrimPrefix(u.Path, "/")
		opts.SentinelUsername = q.Get("sentinel_username")
		opts.SentinelPassword = q.Get("sentinel_password")
	default:
		return nil, fmt.Errorf("redis: invalid URL scheme: %s", u.Scheme)
	}

	if db != "" {
		if opts.DB, err = strconv.Atoi(db); err != nil {
			return nil, fmt.Errorf("redis: invalid db: %w", err)
		}
	}

	if strings.HasPrefix(u.Scheme, "rediss") {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return opts, nil
}
