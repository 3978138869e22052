// Package directory mirrors live rooms into Redis so other instances and
// operators can see them, and reserves room codes across instances.
package directory

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/park285/chessroom/internal/room"
	"github.com/redis/go-redis/v9"
)

const (
	ttlRoom     = 24 * time.Hour
	defaultNS   = "room"
	placeholder = "{}"
)

// Store keeps room:<code> as JSON summaries plus a room:lobby set of
// waiting rooms.
type Store struct {
	rdb *redis.Client
	ns  string
	ttl time.Duration
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, ns: defaultNS, ttl: ttlRoom}
}

// Open connects to REDIS_URL and pings the server.
func Open(ctx context.Context, redisURL string) (*Store, error) {
	opts, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewStore(rdb), nil
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *Store) keyRoom(code string) string { return s.ns + ":" + room.NormalizeCode(code) }
func (s *Store) keyLobby() string           { return s.ns + ":lobby" }
func (s *Store) keyAll() string             { return s.ns + ":all" }

// Reserve claims code if no instance holds it.
func (s *Store) Reserve(ctx context.Context, code string) (bool, error) {
	return s.rdb.SetNX(ctx, s.keyRoom(code), placeholder, s.ttl).Result()
}

// Save writes the summary and keeps the lobby index in step with the
// lifecycle.
func (s *Store) Save(ctx context.Context, sum room.Summary) error {
	code := room.NormalizeCode(sum.Code)
	if code == "" {
		return room.ErrInvalidArgs
	}
	raw, err := json.Marshal(sum)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keyRoom(code), raw, s.ttl)
	pipe.SAdd(ctx, s.keyAll(), code)
	pipe.Expire(ctx, s.keyAll(), s.ttl)
	if sum.Lifecycle == room.Waiting && sum.SeatCount < room.MaxSeats {
		pipe.SAdd(ctx, s.keyLobby(), code)
		pipe.Expire(ctx, s.keyLobby(), s.ttl)
	} else {
		pipe.SRem(ctx, s.keyLobby(), code)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) Remove(ctx context.Context, code string) error {
	code = room.NormalizeCode(code)
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.keyRoom(code))
	pipe.SRem(ctx, s.keyLobby(), code)
	pipe.SRem(ctx, s.keyAll(), code)
	_, err := pipe.Exec(ctx)
	return err
}

// Load returns the stored summary, or nil when the code is unknown or only
// reserved.
func (s *Store) Load(ctx context.Context, code string) (*room.Summary, error) {
	raw, err := s.rdb.Get(ctx, s.keyRoom(code)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if string(raw) == placeholder {
		return nil, nil
	}
	var sum room.Summary
	if err := json.Unmarshal(raw, &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

// List returns every mirrored room. Expired entries are dropped from the index.
func (s *Store) List(ctx context.Context) ([]room.Summary, error) {
	return s.listSet(ctx, s.keyAll(), nil)
}

// ListLobby returns rooms that still accept a player.
func (s *Store) ListLobby(ctx context.Context) ([]room.Summary, error) {
	return s.listSet(ctx, s.keyLobby(), func(sum room.Summary) bool {
		return sum.Lifecycle == room.Waiting && sum.SeatCount < room.MaxSeats
	})
}

func (s *Store) listSet(ctx context.Context, key string, keep func(room.Summary) bool) ([]room.Summary, error) {
	codes, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make([]room.Summary, 0, len(codes))
	for _, c := range codes {
		sum, err := s.Load(ctx, c)
		if err != nil {
			return nil, err
		}
		if sum == nil {
			_ = s.rdb.SRem(ctx, key, c).Err()
			continue
		}
		if keep != nil && !keep(*sum) {
			continue
		}
		out = append(out, *sum)
	}
	return out, nil
}

// ParseRedisURL accepts redis:// and rediss:// URLs with an optional /db path.
func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	opts := &redis.Options{Addr: u.Host, Password: pass, DB: db}
	if u.User != nil {
		opts.Username = u.User.Username()
	}
	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{ServerName: u.Hostname(), MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}
