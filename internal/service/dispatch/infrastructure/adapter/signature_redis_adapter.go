// internal/service/dispatch/infrastructure/adapter/signature_redis_adapter.go
package adapter

import (
	"context"
	"time"

	"dispatch/internal/pkg/redis"
	"dispatch/internal/service/dispatch/domain/port"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

const (
	signatureKeyPrefix = "dispatch:autobatch:signature:"
	clearIfScriptName  = "signature_clear_if"
)

// 仅当值未被其他会话改写时才删除
const clearIfScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisSignatureStore 让同一管理会话的多个实例共享 auto-batch 签名
type RedisSignatureStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisSignatureStore 以 session 作为键的作用域；ttl 为 0 表示不过期
func NewRedisSignatureStore(client *redis.Client, session string, ttl time.Duration) (*RedisSignatureStore, error) {
	if err := client.LoadScriptFromContent(clearIfScriptName, clearIfScript); err != nil {
		return nil, err
	}
	return &RedisSignatureStore{
		client: client,
		key:    signatureKeyPrefix + session,
		ttl:    ttl,
	}, nil
}

var _ port.SignatureStore = (*RedisSignatureStore)(nil)

func (s *RedisSignatureStore) Load(ctx context.Context) (string, error) {
	val, err := s.client.GetClient().Get(ctx, s.key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "load auto-batch signature")
	}
	return val, nil
}

func (s *RedisSignatureStore) Save(ctx context.Context, signature string) error {
	err := s.client.GetClient().Set(ctx, s.key, signature, s.ttl).Err()
	return errors.Wrap(err, "save auto-batch signature")
}

func (s *RedisSignatureStore) Clear(ctx context.Context) error {
	err := s.client.GetClient().Del(ctx, s.key).Err()
	return errors.Wrap(err, "clear auto-batch signature")
}

func (s *RedisSignatureStore) ClearIf(ctx context.Context, expected string) error {
	_, err := s.client.RunScript(ctx, clearIfScriptName, []string{s.key}, expected)
	return errors.Wrap(err, "clear auto-batch signature")
}
