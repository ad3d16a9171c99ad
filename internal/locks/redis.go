package locks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares locks between server instances. Each court is one hash
// of token -> "start|end|expires|created|holder" (unix millis), so the
// overlap check and the insert run inside one script against one key.
//
// Keys:
//
//	{prefix}:locks:court:{courtID}   hash of live locks on the court
//	{prefix}:locks:token:{token}     "courtID|holder", for lookups by token
//	{prefix}:locks:holder:{holder}   zset of tokens scored by expiry
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore uses ttl only for key expiry that bounds memory; lock
// liveness is always decided by the stored expiry. Keys outlive the newest
// lock by one more ttl so EvictExpired still finds expired entries.
func NewRedisStore(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "courtside"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

var acquireScript = redis.NewScript(`
local now = tonumber(ARGV[3])
local start_ms = tonumber(ARGV[4])
local end_ms = tonumber(ARGV[5])
local max_per_holder = tonumber(ARGV[6])

local entries = redis.call('HGETALL', KEYS[1])
for i = 1, #entries, 2 do
    local s, e, x = string.match(entries[i + 1], '^(%-?%d+)|(%-?%d+)|(%-?%d+)|')
    if tonumber(x) > now and tonumber(s) < end_ms and start_ms < tonumber(e) then
        return {0, entries[i]}
    end
end

if max_per_holder > 0 then
    redis.call('ZREMRANGEBYSCORE', KEYS[3], '-inf', now)
    if redis.call('ZCARD', KEYS[3]) >= max_per_holder then
        return {-1, ''}
    end
end

redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[8])
redis.call('SET', KEYS[2], ARGV[9], 'PX', ARGV[8])
redis.call('ZADD', KEYS[3], ARGV[7], ARGV[1])
redis.call('PEXPIRE', KEYS[3], ARGV[8])
return {1, ARGV[1]}
`)

var extendScript = redis.NewScript(`
local value = redis.call('HGET', KEYS[1], ARGV[1])
if not value then
    return 0
end
local s, e, x, c, holder = string.match(value, '^(%-?%d+)|(%-?%d+)|(%-?%d+)|(%-?%d+)|(.*)$')
if tonumber(x) <= tonumber(ARGV[4]) or holder ~= ARGV[2] then
    return 0
end
local updated = s .. '|' .. e .. '|' .. ARGV[3] .. '|' .. c .. '|' .. holder
redis.call('HSET', KEYS[1], ARGV[1], updated)
redis.call('PEXPIRE', KEYS[1], ARGV[5])
redis.call('PEXPIRE', KEYS[2], ARGV[5])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
redis.call('PEXPIRE', KEYS[3], ARGV[5])
return updated
`)

var releaseScript = redis.NewScript(`
local value = redis.call('HGET', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('DEL', KEYS[2])
redis.call('ZREM', KEYS[3], ARGV[1])
if not value then
    return ''
end
return value
`)

var evictScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local evicted = {}
local entries = redis.call('HGETALL', KEYS[1])
for i = 1, #entries, 2 do
    local x = string.match(entries[i + 1], '^%-?%d+|%-?%d+|(%-?%d+)|')
    if tonumber(x) <= now then
        redis.call('HDEL', KEYS[1], entries[i])
        table.insert(evicted, entries[i])
        table.insert(evicted, entries[i + 1])
    end
end
return evicted
`)

func (s *RedisStore) courtKey(courtID int64) string {
	return fmt.Sprintf("%s:locks:court:%d", s.prefix, courtID)
}

func (s *RedisStore) tokenKey(token string) string {
	return s.prefix + ":locks:token:" + token
}

func (s *RedisStore) holderKey(holderID string) string {
	return s.prefix + ":locks:holder:" + holderID
}

func (s *RedisStore) keyTTL(now time.Time, expiresAt time.Time) int64 {
	ttl := expiresAt.Sub(now) + s.ttl
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	return ttl.Milliseconds()
}

func encodeLock(l Lock) string {
	return fmt.Sprintf("%d|%d|%d|%d|%s",
		l.Start.UnixMilli(), l.End.UnixMilli(), l.ExpiresAt.UnixMilli(), l.CreatedAt.UnixMilli(), l.HolderID)
}

func decodeLock(token string, courtID int64, value string) (Lock, error) {
	parts := strings.SplitN(value, "|", 5)
	if len(parts) != 5 {
		return Lock{}, fmt.Errorf("malformed lock entry %q", value)
	}
	var ms [4]int64
	for i := 0; i < 4; i++ {
		v, err := strconv.ParseInt(parts[i], 10, 64)
		if err != nil {
			return Lock{}, fmt.Errorf("malformed lock entry %q: %w", value, err)
		}
		ms[i] = v
	}
	return Lock{
		Token:     token,
		CourtID:   courtID,
		Start:     time.UnixMilli(ms[0]).UTC(),
		End:       time.UnixMilli(ms[1]).UTC(),
		ExpiresAt: time.UnixMilli(ms[2]).UTC(),
		CreatedAt: time.UnixMilli(ms[3]).UTC(),
		HolderID:  parts[4],
	}, nil
}

func (s *RedisStore) Acquire(ctx context.Context, lock Lock, maxPerHolder int, now time.Time) error {
	keys := []string{s.courtKey(lock.CourtID), s.tokenKey(lock.Token), s.holderKey(lock.HolderID)}
	args := []interface{}{
		lock.Token,
		encodeLock(lock),
		now.UnixMilli(),
		lock.Start.UnixMilli(),
		lock.End.UnixMilli(),
		maxPerHolder,
		lock.ExpiresAt.UnixMilli(),
		s.keyTTL(now, lock.ExpiresAt),
		fmt.Sprintf("%d|%s", lock.CourtID, lock.HolderID),
	}

	vals, err := acquireScript.Run(ctx, s.rdb, keys, args...).Slice()
	if err != nil {
		return fmt.Errorf("redis acquire: %w", err)
	}
	if len(vals) == 0 {
		return fmt.Errorf("redis acquire: empty reply")
	}
	status, _ := vals[0].(int64)
	switch status {
	case 1:
		return nil
	case 0:
		return ErrAlreadyLocked
	case -1:
		return ErrHolderLimit
	default:
		return fmt.Errorf("redis acquire: unexpected status %v", vals[0])
	}
}

// lookup resolves the court and holder stored under token.
func (s *RedisStore) lookup(ctx context.Context, token string) (int64, string, error) {
	ref, err := s.rdb.Get(ctx, s.tokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, "", ErrLockNotHeld
	}
	if err != nil {
		return 0, "", fmt.Errorf("redis get token: %w", err)
	}
	courtPart, holder, ok := strings.Cut(ref, "|")
	if !ok {
		return 0, "", fmt.Errorf("malformed token reference %q", ref)
	}
	courtID, err := strconv.ParseInt(courtPart, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed token reference %q: %w", ref, err)
	}
	return courtID, holder, nil
}

func (s *RedisStore) Get(ctx context.Context, token string, now time.Time) (Lock, error) {
	courtID, _, err := s.lookup(ctx, token)
	if err != nil {
		return Lock{}, err
	}
	value, err := s.rdb.HGet(ctx, s.courtKey(courtID), token).Result()
	if errors.Is(err, redis.Nil) {
		return Lock{}, ErrLockNotHeld
	}
	if err != nil {
		return Lock{}, fmt.Errorf("redis get lock: %w", err)
	}
	lock, err := decodeLock(token, courtID, value)
	if err != nil {
		return Lock{}, err
	}
	if lock.Expired(now) {
		return Lock{}, ErrLockNotHeld
	}
	return lock, nil
}

func (s *RedisStore) Release(ctx context.Context, token string) (Lock, error) {
	courtID, holder, err := s.lookup(ctx, token)
	if err != nil {
		return Lock{}, err
	}
	keys := []string{s.courtKey(courtID), s.tokenKey(token), s.holderKey(holder)}
	value, err := releaseScript.Run(ctx, s.rdb, keys, token).Text()
	if err != nil {
		return Lock{}, fmt.Errorf("redis release: %w", err)
	}
	if value == "" {
		return Lock{}, ErrLockNotHeld
	}
	return decodeLock(token, courtID, value)
}

func (s *RedisStore) Extend(ctx context.Context, token, holderID string, expiresAt, now time.Time) (Lock, error) {
	courtID, holder, err := s.lookup(ctx, token)
	if err != nil {
		return Lock{}, err
	}
	if holder != holderID {
		return Lock{}, ErrLockNotHeld
	}
	keys := []string{s.courtKey(courtID), s.tokenKey(token), s.holderKey(holder)}
	args := []interface{}{token, holderID, expiresAt.UnixMilli(), now.UnixMilli(), s.keyTTL(now, expiresAt)}

	res, err := extendScript.Run(ctx, s.rdb, keys, args...).Result()
	if err != nil {
		return Lock{}, fmt.Errorf("redis extend: %w", err)
	}
	value, ok := res.(string)
	if !ok {
		return Lock{}, ErrLockNotHeld
	}
	return decodeLock(token, courtID, value)
}

func (s *RedisStore) ListActive(ctx context.Context, courtID int64, start, end, now time.Time) ([]Lock, error) {
	entries, err := s.rdb.HGetAll(ctx, s.courtKey(courtID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list locks: %w", err)
	}

	var active []Lock
	for token, value := range entries {
		lock, err := decodeLock(token, courtID, value)
		if err != nil {
			return nil, err
		}
		if !lock.Expired(now) && lock.Overlaps(start, end) {
			active = append(active, lock)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Start.Before(active[j].Start) })
	return active, nil
}

func (s *RedisStore) EvictExpired(ctx context.Context, now time.Time) ([]Lock, error) {
	pattern := s.prefix + ":locks:court:*"
	courtPrefix := s.prefix + ":locks:court:"

	var evicted []Lock
	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		courtID, err := strconv.ParseInt(strings.TrimPrefix(key, courtPrefix), 10, 64)
		if err != nil {
			continue
		}

		vals, err := evictScript.Run(ctx, s.rdb, []string{key}, now.UnixMilli()).StringSlice()
		if err != nil {
			return evicted, fmt.Errorf("redis evict court %d: %w", courtID, err)
		}
		for i := 0; i+1 < len(vals); i += 2 {
			lock, err := decodeLock(vals[i], courtID, vals[i+1])
			if err != nil {
				continue
			}
			evicted = append(evicted, lock)
			pipe := s.rdb.TxPipeline()
			pipe.Del(ctx, s.tokenKey(lock.Token))
			pipe.ZRem(ctx, s.holderKey(lock.HolderID), lock.Token)
			if _, err := pipe.Exec(ctx); err != nil {
				return evicted, fmt.Errorf("redis evict indexes: %w", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return evicted, fmt.Errorf("redis scan locks: %w", err)
	}
	return evicted, nil
}
