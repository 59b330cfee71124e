// Package coupon issues and redeems identity-scoped, single-use discount codes.
package coupon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shopkeeper/backend/internal/metrics"
)

var ErrInvalidPercentage = errors.New("discount percentage out of range")

// Validation failure reasons returned to clients.
const (
	ReasonNotFound    = "not found"
	ReasonWrongOwner  = "not valid for this user"
	ReasonExpired     = "expired"
	ReasonAlreadyUsed = "already used"
)

type Coupon struct {
	Code       string    `json:"code"`
	Identity   string    `json:"identity"`
	Percentage int       `json:"percentage"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Used       bool      `json:"used"`
}

// Validation is the answer to Validate.
type Validation struct {
	Valid      bool   `json:"valid"`
	Percentage int    `json:"percentage,omitempty"`
	Error      string `json:"error,omitempty"`
}

type Options struct {
	MinPercent int
	MaxPercent int
	TTL        time.Duration
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

type Service struct {
	store   Store
	min     int
	max     int
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(store Store, opts Options) *Service {
	if opts.MinPercent <= 0 {
		opts.MinPercent = 5
	}
	if opts.MaxPercent <= 0 {
		opts.MaxPercent = 30
	}
	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:   store,
		min:     opts.MinPercent,
		max:     opts.MaxPercent,
		ttl:     opts.TTL,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
}

// Create issues a code bound to identity.
func (s *Service) Create(ctx context.Context, identity string, percentage int, reason string, ttl time.Duration) (*Coupon, error) {
	if identity == "" {
		return nil, errors.New("coupon requires an identity")
	}
	if percentage < s.min || percentage > s.max {
		return nil, fmt.Errorf("%w: %d not in [%d,%d]", ErrInvalidPercentage, percentage, s.min, s.max)
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	now := s.now()
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	c := Coupon{
		Code:       fmt.Sprintf("SAVE%d-%s", percentage, suffix),
		Identity:   identity,
		Percentage: percentage,
		Reason:     reason,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := s.store.Put(ctx, c); err != nil {
		return nil, err
	}

	s.metrics.CouponIssued()
	s.logger.Info("[Coupon] issued", "identity", identity, "code", c.Code, "percentage", percentage, "expires_at", c.ExpiresAt)
	return &c, nil
}

// Validate checks a code for identity and redeems it on success, so a second
// call with the same code reports "already used".
func (s *Service) Validate(ctx context.Context, code, identity string) Validation {
	v := s.validate(ctx, code, identity)
	result := "valid"
	if !v.Valid {
		result = v.Error
	}
	s.metrics.CouponValidated(result)
	return v
}

func (s *Service) validate(ctx context.Context, code, identity string) Validation {
	c, err := s.store.Get(ctx, code)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error("[Coupon] lookup failed", "code", code, "error", err)
		}
		return Validation{Error: ReasonNotFound}
	}
	if c.Identity != identity {
		return Validation{Error: ReasonWrongOwner}
	}
	if !s.now().Before(c.ExpiresAt) {
		return Validation{Error: ReasonExpired}
	}
	if c.Used {
		return Validation{Error: ReasonAlreadyUsed}
	}

	ok, err := s.store.Redeem(ctx, code)
	if err != nil {
		s.logger.Error("[Coupon] redeem failed", "code", code, "error", err)
		return Validation{Error: ReasonNotFound}
	}
	if !ok {
		return Validation{Error: ReasonAlreadyUsed}
	}
	return Validation{Valid: true, Percentage: c.Percentage}
}
