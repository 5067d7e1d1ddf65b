package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	idempotencyHeader   = "Idempotency-Key"
	idempotencyTTL      = 24 * time.Hour
	idempotencyLockTTL  = time.Minute
	idempotencyInFlight = "in-flight"
)

// IdempotencyStore keeps replayable responses keyed by Idempotency-Key.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// ErrIdempotencyMiss is returned by IdempotencyStore.Get for unknown keys.
var ErrIdempotencyMiss = errors.New("idempotency key not found")

// RedisIdempotencyStore is the Redis implementation of IdempotencyStore.
type RedisIdempotencyStore struct {
	client *redis.Client
}

// NewRedisIdempotencyStore creates a store backed by Redis.
func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrIdempotencyMiss
	}
	return data, err
}

func (s *RedisIdempotencyStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisIdempotencyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisIdempotencyStore) Del(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// cachedResponse stores the response for idempotent requests.
type cachedResponse struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
	Headers    http.Header     `json:"headers"`
}

// responseWriter wraps gin.ResponseWriter to capture the response.
type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the stored response of a request that
// carries an already seen Idempotency-Key. A duplicate arriving while the
// first request is still running gets 409. Keys are scoped per route.
func IdempotencyMiddleware(store IdempotencyStore, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Only apply to mutating methods.
		if c.Request.Method != http.MethodPost && c.Request.Method != http.MethodPut && c.Request.Method != http.MethodPatch {
			c.Next()
			return
		}

		key := c.GetHeader(idempotencyHeader)
		if key == "" || store == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		cacheKey := "idempotency:" + c.Request.Method + ":" + c.FullPath() + ":" + key
		log := logger.With(zap.String("idempotency_key", key), zap.String("route", c.FullPath()))

		data, err := store.Get(ctx, cacheKey)
		switch {
		case err == nil && string(data) == idempotencyInFlight:
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "request with this idempotency key is in progress"})
			return
		case err == nil:
			var cached cachedResponse
			if jsonErr := json.Unmarshal(data, &cached); jsonErr == nil {
				replay(c, &cached)
				return
			}
			log.Warn("discarding unreadable idempotent response")
		case !errors.Is(err, ErrIdempotencyMiss):
			// Store unavailable - proceed without idempotency.
			log.Warn("idempotency store read failed", zap.Error(err))
			c.Next()
			return
		}

		acquired, err := store.SetNX(ctx, cacheKey, []byte(idempotencyInFlight), idempotencyLockTTL)
		if err != nil {
			log.Warn("idempotency store write failed", zap.Error(err))
			c.Next()
			return
		}
		if !acquired {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "request with this idempotency key is in progress"})
			return
		}

		// Wrap response writer to capture response.
		w := &responseWriter{
			ResponseWriter: c.Writer,
			body:           &bytes.Buffer{},
		}
		c.Writer = w

		c.Next()

		bg := context.WithoutCancel(ctx)

		// Server errors are not replayed so the client can retry.
		if c.Writer.Status() >= 500 {
			if err := store.Del(bg, cacheKey); err != nil {
				log.Warn("idempotency key release failed", zap.Error(err))
			}
			return
		}

		response, err := json.Marshal(cachedResponse{
			StatusCode: c.Writer.Status(),
			Body:       w.body.Bytes(),
			Headers:    extractResponseHeaders(c),
		})
		if err == nil {
			err = store.Set(bg, cacheKey, response, idempotencyTTL)
		}
		if err != nil {
			log.Warn("idempotent response not stored", zap.Error(err))
		}
	}
}

func replay(c *gin.Context, cached *cachedResponse) {
	for k, v := range cached.Headers {
		for _, val := range v {
			c.Header(k, val)
		}
	}
	c.Header("Idempotent-Replayed", "true")
	c.Data(cached.StatusCode, "application/json", cached.Body)
	c.Abort()
}

// extractResponseHeaders extracts headers to cache.
func extractResponseHeaders(c *gin.Context) http.Header {
	headers := make(http.Header)
	// Only cache Content-Type header.
	if ct := c.Writer.Header().Get("Content-Type"); ct != "" {
		headers.Set("Content-Type", ct)
	}
	return headers
}

// Ensure RedisIdempotencyStore implements IdempotencyStore.
var _ IdempotencyStore = (*RedisIdempotencyStore)(nil)
