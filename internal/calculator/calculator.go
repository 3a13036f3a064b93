package calculator

import (
	"context"
	"slices"
)

const (
	profileMatchScore = 100
	baseFeeScore      = 10

	// ctxCheckInterval is the number of search nodes visited between context checks.
	ctxCheckInterval = 4096
)

type partitionCalculator struct{}

// New creates a Calculator that splits fees evenly or enumerates every partition.
func New() Calculator {
	return &partitionCalculator{}
}

// Split divides total across count parcels as evenly as the mode allows.
// The remainder is handed out one unit at a time to the first parcels.
func (c *partitionCalculator) Split(total uint64, count int, mode DividingMode) (FeeCombination, error) {
	if count <= 0 || total == 0 || !mode.Valid() {
		return FeeCombination{}, ErrInvalidInput
	}
	unit := mode.Unit()
	if total%unit != 0 {
		return FeeCombination{}, ErrRounding
	}

	boxes := uint64(count)
	baseFee := total / boxes
	if baseFee < unit {
		return FeeCombination{}, ErrRounding
	}
	roundedBaseFee := baseFee / unit * unit

	baseAmount, err := mulChecked(roundedBaseFee, boxes)
	if err != nil {
		return FeeCombination{}, err
	}
	if baseAmount > total {
		return FeeCombination{}, ErrCalculationFailed
	}

	bumped := (total - baseAmount) / unit
	if bumped > boxes {
		return FeeCombination{}, ErrCalculationFailed
	}

	counts := make(map[uint64]int, 2)
	if bumped > 0 {
		counts[roundedBaseFee+unit] = int(bumped)
	}
	if rest := boxes - bumped; rest > 0 {
		counts[roundedBaseFee] = int(rest)
	}
	combination := FromCounts(counts)

	sum, err := combination.Total()
	if err != nil {
		return FeeCombination{}, err
	}
	if sum != total || combination.Parts() != count {
		return FeeCombination{}, ErrCalculationFailed
	}
	return combination, nil
}

// Enumerate returns every way to split req.Total into req.Count fees that are
// multiples of the mode unit and no lower than req.MinFloor. Combinations come
// out in lexicographic order of their non-decreasing fee sequences unless
// req.Ranking is set.
func (c *partitionCalculator) Enumerate(ctx context.Context, req Request) ([]FeeCombination, error) {
	if req.Count <= 0 || req.Total == 0 || !req.Mode.Valid() {
		return nil, ErrInvalidInput
	}
	unit := req.Mode.Unit()
	if req.Total%unit != 0 {
		return nil, ErrRounding
	}
	if req.MinFloor%unit != 0 {
		return nil, ErrMinFee
	}

	target := req.Total / unit
	floor := max(req.MinFloor/unit, 1)
	required, err := mulChecked(floor, uint64(req.Count))
	if err != nil {
		return nil, err
	}
	if target < required {
		return nil, ErrInvalidInput
	}

	w := &walker{
		ctx:   ctx,
		unit:  unit,
		limit: req.Limit,
		parts: make([]uint64, 0, min(req.Count, 1024)),
	}
	if err := w.walk(target, uint64(req.Count), floor); err != nil {
		return nil, err
	}

	if req.Ranking != nil {
		rank(w.results, *req.Ranking)
	}
	return w.results, nil
}

// walker performs the depth-first partition search over an explicit stack.
// parts holds the prefix chosen so far, in units.
type walker struct {
	ctx     context.Context
	unit    uint64
	limit   int
	visited int
	parts   []uint64
	results []FeeCombination
}

// walk emits every non-decreasing sequence of count parts, each at least
// floor, summing to target. Sequences come out in lexicographic order.
// The caller guarantees floor*count <= target.
func (w *walker) walk(target, count, floor uint64) error {
	left := target
	for {
		// Extending with the last part never dead-ends: it is at most
		// left/slots, so the parts after it can always match it.
		for uint64(len(w.parts)) < count-1 {
			next := floor
			if n := len(w.parts); n > 0 {
				next = w.parts[n-1]
			}
			w.parts = append(w.parts, next)
			left -= next
		}

		if err := w.step(); err != nil {
			return err
		}
		if err := w.emit(left); err != nil {
			return err
		}

		// Advance the deepest part that can still grow.
		for {
			k := len(w.parts) - 1
			if k < 0 {
				return nil
			}
			if err := w.step(); err != nil {
				return err
			}
			left += w.parts[k]
			// Any part above left/slots would leave the later, larger parts short.
			if next := w.parts[k] + 1; next <= left/(count-uint64(k)) {
				w.parts[k] = next
				left -= next
				break
			}
			w.parts = w.parts[:k]
		}
	}
}

func (w *walker) step() error {
	if w.visited%ctxCheckInterval == 0 {
		if err := w.ctx.Err(); err != nil {
			return err
		}
	}
	w.visited++
	return nil
}

func (w *walker) emit(last uint64) error {
	if w.limit > 0 && len(w.results) >= w.limit {
		return ErrTooManyCombinations
	}

	fees := make([]Fee, 0, 4)
	appendPart := func(units uint64) {
		amount := units * w.unit
		if n := len(fees); n > 0 && fees[n-1].Amount == amount {
			fees[n-1].Count++
			return
		}
		fees = append(fees, Fee{Amount: amount, Count: 1})
	}
	for _, units := range w.parts {
		appendPart(units)
	}
	appendPart(last)

	w.results = append(w.results, FeeCombination{fees: fees})
	return nil
}

func score(c FeeCombination, profile []int, baseFee uint64) int {
	total := 0
	if slices.Equal(c.Occurrences(), profile) {
		total += profileMatchScore
	}
	aboveBase := true
	for _, fee := range c.fees {
		if fee.Amount < baseFee {
			aboveBase = false
			break
		}
	}
	if aboveBase {
		total += baseFeeScore
	}
	return total
}

// rank orders combinations by score descending, then by fewer distinct
// amounts. Remaining ties keep generation order.
func rank(combinations []FeeCombination, r Ranking) {
	profile := slices.Clone(r.Profile)
	slices.SortFunc(profile, func(a, b int) int { return b - a })

	type scored struct {
		combination FeeCombination
		score       int
	}
	entries := make([]scored, len(combinations))
	for i, c := range combinations {
		entries[i] = scored{combination: c, score: score(c, profile, r.BaseFee)}
	}

	slices.SortStableFunc(entries, func(a, b scored) int {
		if a.score != b.score {
			return b.score - a.score
		}
		return a.combination.Distinct() - b.combination.Distinct()
	})

	for i, e := range entries {
		combinations[i] = e.combination
	}
}
