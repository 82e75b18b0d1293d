package middleware

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// ConfirmationDeduper tracks delivered gateway notifications so exact
// redeliveries can be dropped before they hit the handler. The row lock
// in the charge path is the real idempotency barrier; this only saves
// the work for byte-identical retries.
type ConfirmationDeduper interface {
	Seen(ctx context.Context, key string) (bool, error)
}

type redisConfirmationDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func (d *redisConfirmationDeduper) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+":"+key, "1", d.ttl).Result()
	if err != nil {
		return false, err
	}
	// false => already exists => duplicate
	return !ok, nil
}

type memoryConfirmationDeduper struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	ttl    time.Duration
	nextGC time.Time
}

func newMemoryConfirmationDeduper(ttl time.Duration) *memoryConfirmationDeduper {
	now := time.Now()
	return &memoryConfirmationDeduper{
		seen:   make(map[string]time.Time),
		ttl:    ttl,
		nextGC: now.Add(ttl),
	}
}

func (d *memoryConfirmationDeduper) Seen(_ context.Context, key string) (bool, error) {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if exp, ok := d.seen[key]; ok && exp.After(now) {
		return true, nil
	}

	d.seen[key] = now.Add(d.ttl)
	if now.After(d.nextGC) {
		for k, exp := range d.seen {
			if exp.Before(now) {
				delete(d.seen, k)
			}
		}
		d.nextGC = now.Add(d.ttl)
	}

	return false, nil
}

// NewConfirmationDeduper builds a Redis deduper and falls back to
// in-memory on failure (or when no Redis address is configured).
func NewConfirmationDeduper(addr, pass string, db int, ttl time.Duration) (ConfirmationDeduper, error) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if addr == "" {
		return newMemoryConfirmationDeduper(ttl), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return newMemoryConfirmationDeduper(ttl), err
	}

	return &redisConfirmationDeduper{
		client: client,
		prefix: "vpos:confirmation",
		ttl:    ttl,
	}, nil
}

// ConfirmationDedup drops byte-identical redeliveries of a gateway
// notification, keyed by a digest of method, path, query and body.
func ConfirmationDedup(deduper ConfirmationDeduper) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if deduper == nil {
				return next(c)
			}

			req := c.Request()
			var rawBody []byte
			if req.Body != nil {
				var err error
				rawBody, err = io.ReadAll(req.Body)
				if err != nil {
					return next(c)
				}
				req.Body = io.NopCloser(bytes.NewBuffer(rawBody))
			}

			h := sha1.New()
			io.WriteString(h, req.Method)
			io.WriteString(h, req.URL.Path)
			io.WriteString(h, req.URL.RawQuery)
			h.Write(rawBody)
			key := hex.EncodeToString(h.Sum(nil))

			isDuplicate, err := deduper.Seen(req.Context(), key)
			if err != nil {
				return next(c)
			}
			if isDuplicate {
				// Gateways only need a 2xx to stop retrying.
				return c.NoContent(http.StatusOK)
			}

			return next(c)
		}
	}
}
