package coupon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopkeeper/backend/internal/infra"
)

// ErrNotFound is returned when a code was never issued or has been purged.
var ErrNotFound = errors.New("coupon not found")

// Store persists issued coupons. Redeem marks a coupon used and reports
// whether this call was the one that did it; concurrent callers must see
// exactly one true.
type Store interface {
	Put(ctx context.Context, c Coupon) error
	Get(ctx context.Context, code string) (*Coupon, error)
	Redeem(ctx context.Context, code string) (bool, error)
}

// MemoryStore keeps coupons for the life of the process.
type MemoryStore struct {
	mu      sync.Mutex
	coupons map[string]*Coupon
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{coupons: make(map[string]*Coupon)}
}

func (m *MemoryStore) Put(_ context.Context, c Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coupons[c.Code] = &c
	return nil
}

func (m *MemoryStore) Get(_ context.Context, code string) (*Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) Redeem(_ context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[code]
	if !ok {
		return false, ErrNotFound
	}
	if c.Used {
		return false, nil
	}
	c.Used = true
	return true, nil
}

// RedisClient is the subset of infra.GoRedisAdapter the store uses.
type RedisClient interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// Retention keeps an expired coupon around long enough to report "expired"
// instead of "not found".
const Retention = 24 * time.Hour

// RedisStore shares coupons across instances. Redemption is a SETNX on a
// companion key so two instances cannot both accept the same code.
type RedisStore struct {
	client RedisClient
	prefix string
	now    func() time.Time
}

func NewRedisStore(client RedisClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "shopkeeper:coupon:"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (r *RedisStore) key(code string) string     { return r.prefix + code }
func (r *RedisStore) usedKey(code string) string { return r.prefix + code + ":used" }

func (r *RedisStore) ttl(c Coupon) time.Duration {
	ttl := c.ExpiresAt.Sub(r.now()) + Retention
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func (r *RedisStore) Put(ctx context.Context, c Coupon) error {
	c.Used = false
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal coupon: %w", err)
	}
	if err := r.client.Set(ctx, r.key(c.Code), raw, r.ttl(c)); err != nil {
		return fmt.Errorf("store coupon %s: %w", c.Code, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, code string) (*Coupon, error) {
	raw, err := r.client.Get(ctx, r.key(code))
	if errors.Is(err, infra.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("load coupon %s: %w", code, err)
	}
	var c Coupon
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode coupon %s: %w", code, err)
	}
	_, err = r.client.Get(ctx, r.usedKey(code))
	switch {
	case err == nil:
		c.Used = true
	case !errors.Is(err, infra.ErrKeyNotFound):
		return nil, fmt.Errorf("load coupon %s state: %w", code, err)
	}
	return &c, nil
}

func (r *RedisStore) Redeem(ctx context.Context, code string) (bool, error) {
	c, err := r.Get(ctx, code)
	if err != nil {
		return false, err
	}
	ok, err := r.client.SetNX(ctx, r.usedKey(code), []byte("1"), r.ttl(*c))
	if err != nil {
		return false, fmt.Errorf("redeem coupon %s: %w", code, err)
	}
	return ok, nil
}
