package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// PaymentCacheTTL bounds how stale a cached payment status may be.
const PaymentCacheTTL = 15 * time.Second

const (
	paymentCachePrefix      = "cache:payment:"
	paymentGenerationPrefix = "cache:payment-gen:"
)

// paymentGenerationTTL outlives any read-then-fill round trip.
const paymentGenerationTTL = 10 * time.Minute

// setIfGenerationScript fills the cache only if no invalidation happened
// since the caller read the generation.
var setIfGenerationScript = redis.NewScript(`
if (redis.call("GET", KEYS[2]) or "0") ~= ARGV[2] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
return 1
`)

// CachedPayment is the read model served by the payment status endpoint.
type CachedPayment struct {
	ExternalReference string    `json:"external_reference"`
	CustomerID        string    `json:"customer_id"`
	Provider          string    `json:"provider"`
	Status            string    `json:"status"`
	Amount            string    `json:"amount"`
	Currency          string    `json:"currency"`
	InvoiceIDs        []string  `json:"invoice_ids"`
	Settled           bool      `json:"settled"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CacheStore handles entity caching in Redis.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

// GetPayment retrieves a payment from cache together with the current
// invalidation generation. A miss returns a nil payment.
func (s *CacheStore) GetPayment(ctx context.Context, ref string) (*CachedPayment, int64, error) {
	vals, err := s.client.MGet(ctx, paymentCachePrefix+ref, paymentGenerationPrefix+ref).Result()
	if err != nil {
		return nil, 0, err
	}

	var generation int64
	if g, ok := vals[1].(string); ok {
		if generation, err = strconv.ParseInt(g, 10, 64); err != nil {
			return nil, 0, err
		}
	}

	data, ok := vals[0].(string)
	if !ok {
		return nil, generation, nil
	}

	var payment CachedPayment
	if err := json.Unmarshal([]byte(data), &payment); err != nil {
		return nil, generation, err
	}
	return &payment, generation, nil
}

// SetPayment stores a payment read while the cache was at generation.
// It reports false when an invalidation happened in between.
func (s *CacheStore) SetPayment(ctx context.Context, payment *CachedPayment, generation int64) (bool, error) {
	data, err := json.Marshal(payment)
	if err != nil {
		return false, err
	}

	ref := payment.ExternalReference
	stored, err := setIfGenerationScript.Run(ctx, s.client,
		[]string{paymentCachePrefix + ref, paymentGenerationPrefix + ref},
		data, strconv.FormatInt(generation, 10), PaymentCacheTTL.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

// InvalidatePayment removes a payment from cache and bumps its generation
// so in-flight fills are discarded.
func (s *CacheStore) InvalidatePayment(ctx context.Context, ref string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, paymentGenerationPrefix+ref)
		pipe.Expire(ctx, paymentGenerationPrefix+ref, paymentGenerationTTL)
		pipe.Del(ctx, paymentCachePrefix+ref)
		return nil
	})
	return err
}
