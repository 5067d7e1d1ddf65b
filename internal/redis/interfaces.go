package redis

import (
	"context"
	"time"
)

// LockStoreInterface defines the interface for distributed locking.
type LockStoreInterface interface {
	AcquireCheckoutLock(ctx context.Context, customerID string, ttl time.Duration) (*Lock, error)
	AcquirePollerLock(ctx context.Context, ttl time.Duration) (*Lock, error)
	Release(ctx context.Context, lock *Lock) error
}

// PaymentCacheInterface defines the payment status cache.
type PaymentCacheInterface interface {
	GetPayment(ctx context.Context, ref string) (*CachedPayment, int64, error)
	SetPayment(ctx context.Context, payment *CachedPayment, generation int64) (bool, error)
	InvalidatePayment(ctx context.Context, ref string) error
}

// PublisherInterface defines the real-time update channel.
type PublisherInterface interface {
	PublishPaymentUpdate(ctx context.Context, customerID string, update PaymentUpdate) (int64, error)
}

// Ensure concrete types implement interfaces.
var (
	_ LockStoreInterface    = (*LockStore)(nil)
	_ PaymentCacheInterface = (*CacheStore)(nil)
	_ PublisherInterface    = (*Publisher)(nil)
)
