package repository

import (
	"context"
	"time"
)

// CacheRepository определяет методы для работы с кешем
type CacheRepository interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	// SetNX устанавливает значение, только если ключа еще нет
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
}
