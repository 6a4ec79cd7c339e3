package port

import "context"

// SignatureStore 保存 auto-batch 的最近签名，作为会话级的幂等键。
// 它只是去重提示，不是正确性依赖的锁。
type SignatureStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, signature string) error
	Clear(ctx context.Context) error

	// ClearIf 仅当当前值仍为 expected 时清空，避免覆盖其他会话写入的新签名
	ClearIf(ctx context.Context, expected string) error
}
