// Package fees exposes the fee division operations used by the API: a cached
// equal split and a cached, optionally ranked, enumeration of every split.
package fees

import (
	"context"
	"fmt"
	"maps"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/fee-divider/internal/cache"
	"github.com/eugenenazirov/fee-divider/internal/calculator"
	"github.com/eugenenazirov/fee-divider/internal/metrics"
)

const (
	defaultMinFee          = 3000
	defaultMaxCombinations = 5000
	defaultMaxParcels      = 10_000
	defaultComputeTimeout  = 2 * time.Second
)

// Policy holds the business rules applied to every enumeration.
type Policy struct {
	// MinFee is the absolute per-parcel floor. It must be a multiple of the dividing unit.
	MinFee uint64
	// MaxCombinations caps enumeration results; zero disables the cap.
	MaxCombinations int
	// MaxParcels caps the parcel count of an enumeration; zero disables the cap.
	MaxParcels int
	// ComputeTimeout bounds a single enumeration; zero disables the bound.
	ComputeTimeout time.Duration
	// BaseFees maps each shipping type to the floor used for ranking.
	BaseFees map[calculator.ShippingType]uint64
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MinFee:          defaultMinFee,
		MaxCombinations: defaultMaxCombinations,
		MaxParcels:      defaultMaxParcels,
		ComputeTimeout:  defaultComputeTimeout,
		BaseFees:        maps.Clone(calculator.DefaultBaseFees),
	}
}

// CombinationRequest describes a full enumeration request.
type CombinationRequest struct {
	Total uint64
	// Count may be zero when Groups is set; it then defaults to the sum of group counts.
	Count    int
	Mode     calculator.DividingMode
	Shipping calculator.ShippingType
	Groups   []calculator.PackageGroup
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.metrics = r
		}
	}
}

// Service answers fee division requests, serving repeated requests from cache.
type Service struct {
	calc    calculator.Calculator
	cache   *cache.Cache
	policy  Policy
	logger  *zap.Logger
	metrics metrics.Recorder
}

// NewService wires a calculator and a cache under the given policy.
func NewService(calc calculator.Calculator, c *cache.Cache, policy Policy, opts ...Option) *Service {
	if policy.BaseFees == nil {
		policy.BaseFees = maps.Clone(calculator.DefaultBaseFees)
	}
	s := &Service{
		calc:    calc,
		cache:   c,
		policy:  policy,
		logger:  zap.NewNop(),
		metrics: metrics.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns a copy of the active policy.
func (s *Service) Policy() Policy {
	p := s.policy
	p.BaseFees = maps.Clone(s.policy.BaseFees)
	return p
}

// Split divides total evenly across count parcels.
func (s *Service) Split(ctx context.Context, total uint64, count int, mode calculator.DividingMode) (calculator.FeeCombination, error) {
	key := SplitKey(total, count, mode)

	result, err := s.cache.GetOrCompute(ctx, key, func() ([]calculator.FeeCombination, error) {
		start := time.Now()
		combination, err := s.calc.Split(total, count, mode)
		s.observe(key, start, 1, err)
		if err != nil {
			return nil, err
		}
		return []calculator.FeeCombination{combination}, nil
	})
	if err != nil {
		return calculator.FeeCombination{}, fmt.Errorf("split %d into %d: %w", total, count, err)
	}
	if len(result) != 1 {
		return calculator.FeeCombination{}, fmt.Errorf("split %d into %d: %w", total, count, calculator.ErrCalculationFailed)
	}
	return result[0], nil
}

// Combinations enumerates every split of req.Total. When both package groups
// and a shipping type are supplied the result is ranked by fit.
func (s *Service) Combinations(ctx context.Context, req CombinationRequest) ([]calculator.FeeCombination, error) {
	key, err := CombinationsKey(req)
	if err != nil {
		return nil, err
	}
	if s.policy.MaxParcels > 0 && key.Count > s.policy.MaxParcels {
		return nil, fmt.Errorf("%w: %d parcels, at most %d allowed", calculator.ErrTooManyParcels, key.Count, s.policy.MaxParcels)
	}

	result, err := s.cache.GetOrCompute(ctx, key, func() ([]calculator.FeeCombination, error) {
		computeCtx := context.Background()
		if s.policy.ComputeTimeout > 0 {
			var cancel context.CancelFunc
			computeCtx, cancel = context.WithTimeout(computeCtx, s.policy.ComputeTimeout)
			defer cancel()
		}

		start := time.Now()
		combinations, err := s.calc.Enumerate(computeCtx, s.engineRequest(key))
		s.observe(key, start, len(combinations), err)
		return combinations, err
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate %d into %d: %w", req.Total, key.Count, err)
	}
	return result, nil
}

// Invalidate drops the cached result for key.
func (s *Service) Invalidate(key cache.Key) {
	s.cache.Delete(key)
}

func (s *Service) engineRequest(key cache.Key) calculator.Request {
	req := calculator.Request{
		Total:    key.Total,
		Count:    key.Count,
		Mode:     key.Mode,
		MinFloor: s.policy.MinFee,
		Limit:    s.policy.MaxCombinations,
	}
	if len(key.Groups) > 0 && key.Shipping != "" {
		profile := make([]int, len(key.Groups))
		for i, g := range key.Groups {
			profile[i] = g.Count
		}
		req.Ranking = &calculator.Ranking{
			Profile: profile,
			BaseFee: s.policy.BaseFees[key.Shipping],
		}
	}
	return req
}

func (s *Service) observe(key cache.Key, start time.Time, results int, err error) {
	elapsed := time.Since(start)
	s.metrics.ObserveCalculation(string(key.Kind), elapsed, err)
	s.logger.Debug("fee division computed",
		zap.String("kind", string(key.Kind)),
		zap.Uint64("total", key.Total),
		zap.Int("count", key.Count),
		zap.Uint64("unit", key.Mode.Unit()),
		zap.Int("combinations", results),
		zap.Duration("duration", elapsed),
		zap.Error(err),
	)
}

// SplitKey returns the cache key of an equal split.
func SplitKey(total uint64, count int, mode calculator.DividingMode) cache.Key {
	return cache.NewKey(cache.KindSplit, total, count, mode, "", nil)
}

// CombinationsKey validates req and returns the cache key of its enumeration.
func CombinationsKey(req CombinationRequest) (cache.Key, error) {
	if req.Shipping != "" && !req.Shipping.Valid() {
		return cache.Key{}, fmt.Errorf("%w: unknown shipping type %q", calculator.ErrInvalidInput, req.Shipping)
	}

	groups := make([]calculator.PackageGroup, 0, len(req.Groups))
	sum := 0
	for _, g := range req.Groups {
		if g.Count <= 0 {
			return cache.Key{}, fmt.Errorf("%w: package group %q must contain at least one parcel", calculator.ErrInvalidInput, g.Label)
		}
		if sum > math.MaxInt-g.Count {
			return cache.Key{}, calculator.ErrOverflow
		}
		sum += g.Count
		if g.Label == "" {
			g.Label = calculator.PackageBox
		}
		groups = append(groups, g)
	}

	count := req.Count
	if len(groups) > 0 {
		if count == 0 {
			count = sum
		}
		if count != sum {
			return cache.Key{}, fmt.Errorf("%w: count %d does not match %d grouped parcels", calculator.ErrInvalidInput, count, sum)
		}
	}

	return cache.NewKey(cache.KindCombinations, req.Total, count, req.Mode, req.Shipping, groups), nil
}
