// Package redisstore реализует хранилище lease поверх Redis.
//
// Lease хранится в hash quorum:lease:<namespace>:<name>. Создание и
// замена выполняются Lua-скриптами, поэтому проверка версии и запись
// атомарны.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Quorum/internal/domain"
)

// KeyPrefix — префикс ключей lease.
const KeyPrefix = "quorum:lease:"

// createScript создаёт hash, если ключа нет. Возвращает 1 при успехе.
var createScript = redis.NewScript(`
if redis.call("exists", KEYS[1]) == 1 then
	return 0
end
redis.call("hset", KEYS[1],
	"holder", ARGV[1],
	"acquire_ms", ARGV[2],
	"renew_ms", ARGV[3],
	"duration_ms", ARGV[4],
	"transitions", ARGV[5],
	"version", 1)
return 1
`)

// replaceScript перезаписывает hash при совпадении версии.
// Возвращает новую версию, 0 при конфликте, -1 если ключа нет.
var replaceScript = redis.NewScript(`
local v = redis.call("hget", KEYS[1], "version")
if not v then
	return -1
end
if tonumber(v) ~= tonumber(ARGV[6]) then
	return 0
end
local nv = tonumber(v) + 1
redis.call("hset", KEYS[1],
	"holder", ARGV[1],
	"acquire_ms", ARGV[2],
	"renew_ms", ARGV[3],
	"duration_ms", ARGV[4],
	"transitions", ARGV[5],
	"version", nv)
return nv
`)

// LeaseStore — реализация election.LeaseStore на Redis.
type LeaseStore struct {
	client redis.Cmdable
}

// NewLeaseStore создаёт хранилище на существующем клиенте.
func NewLeaseStore(client redis.Cmdable) *LeaseStore {
	return &LeaseStore{client: client}
}

func key(namespace, name string) string {
	return KeyPrefix + namespace + ":" + name
}

// Get возвращает lease.
func (s *LeaseStore) Get(ctx context.Context, namespace, name string) (*domain.Lease, error) {
	fields, err := s.client.HGetAll(ctx, key(namespace, name)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall lease: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrLeaseNotFound
	}

	lease, err := decode(fields)
	if err != nil {
		return nil, fmt.Errorf("decode lease %s/%s: %w", namespace, name, err)
	}
	lease.Namespace = namespace
	lease.Name = name
	return lease, nil
}

// Create создаёт lease, если его нет.
func (s *LeaseStore) Create(ctx context.Context, lease *domain.Lease) (*domain.Lease, error) {
	res, err := createScript.Run(ctx, s.client,
		[]string{key(lease.Namespace, lease.Name)},
		args(lease)...,
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("create lease: %w", err)
	}
	if res == 0 {
		return nil, domain.ErrLeaseConflict
	}

	created := lease.Clone()
	created.ResourceVersion = 1
	return normalize(created), nil
}

// Replace перезаписывает lease при совпадении ResourceVersion.
func (s *LeaseStore) Replace(ctx context.Context, lease *domain.Lease) (*domain.Lease, error) {
	argv := append(args(lease), lease.ResourceVersion)
	res, err := replaceScript.Run(ctx, s.client,
		[]string{key(lease.Namespace, lease.Name)},
		argv...,
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("replace lease: %w", err)
	}

	switch {
	case res < 0:
		return nil, domain.ErrLeaseNotFound
	case res == 0:
		return nil, domain.ErrLeaseConflict
	}

	updated := lease.Clone()
	updated.ResourceVersion = res
	return normalize(updated), nil
}

func args(l *domain.Lease) []any {
	return []any{
		l.HolderIdentity,
		l.AcquireTime.UnixMilli(),
		l.RenewTime.UnixMilli(),
		l.LeaseDuration.Milliseconds(),
		l.Transitions,
	}
}

// normalize приводит время к миллисекундной точности хранения.
func normalize(l *domain.Lease) *domain.Lease {
	l.AcquireTime = time.UnixMilli(l.AcquireTime.UnixMilli())
	l.RenewTime = time.UnixMilli(l.RenewTime.UnixMilli())
	return l
}

var errMissingField = errors.New("missing field")

func decode(fields map[string]string) (*domain.Lease, error) {
	num := func(name string) (int64, error) {
		raw, ok := fields[name]
		if !ok {
			return 0, fmt.Errorf("%w %q", errMissingField, name)
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("field %q: %w", name, err)
		}
		return v, nil
	}

	var (
		lease domain.Lease
		vals  [5]int64
	)
	for i, name := range []string{"acquire_ms", "renew_ms", "duration_ms", "transitions", "version"} {
		v, err := num(name)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}

	lease.HolderIdentity = fields["holder"]
	lease.AcquireTime = time.UnixMilli(vals[0])
	lease.RenewTime = time.UnixMilli(vals[1])
	lease.LeaseDuration = time.Duration(vals[2]) * time.Millisecond
	lease.Transitions = vals[3]
	lease.ResourceVersion = vals[4]
	return &lease, nil
}
