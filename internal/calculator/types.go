package calculator

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// DividingMode is the rounding granularity every fee must be a multiple of.
type DividingMode uint64

const (
	ByTens      DividingMode = 10
	ByHundreds  DividingMode = 100
	ByThousands DividingMode = 1000
)

// DividingModes lists the supported modes in ascending order.
func DividingModes() []DividingMode {
	return []DividingMode{ByTens, ByHundreds, ByThousands}
}

// Valid reports whether m is one of the supported granularities.
func (m DividingMode) Valid() bool {
	switch m {
	case ByTens, ByHundreds, ByThousands:
		return true
	default:
		return false
	}
}

// Unit returns the granularity in minor currency units.
func (m DividingMode) Unit() uint64 {
	return uint64(m)
}

func (m DividingMode) String() string {
	switch m {
	case ByTens:
		return "tens"
	case ByHundreds:
		return "hundreds"
	case ByThousands:
		return "thousands"
	default:
		return strconv.FormatUint(uint64(m), 10)
	}
}

// ParseDividingMode accepts either the unit value ("100") or its name ("hundreds").
func ParseDividingMode(raw string) (DividingMode, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch raw {
	case "tens":
		return ByTens, nil
	case "hundreds":
		return ByHundreds, nil
	case "thousands":
		return ByThousands, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid dividing mode %q", raw)
	}
	mode := DividingMode(value)
	if !mode.Valid() {
		return 0, fmt.Errorf("unsupported dividing mode %d", value)
	}
	return mode, nil
}

// UnmarshalText lets modes be decoded from environment variables and flags.
func (m *DividingMode) UnmarshalText(text []byte) error {
	mode, err := ParseDividingMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// ShippingType selects the base fee used when ranking combinations.
type ShippingType string

const (
	// Parcel is courier delivery.
	Parcel ShippingType = "parcel"
	// Freight is cargo delivery.
	Freight ShippingType = "freight"
)

// DefaultBaseFees holds the base fee floor per shipping type.
var DefaultBaseFees = map[ShippingType]uint64{
	Parcel:  6000,
	Freight: 4000,
}

// ShippingTypes lists the supported shipping types.
func ShippingTypes() []ShippingType {
	return []ShippingType{Parcel, Freight}
}

// Valid reports whether s is a known shipping type.
func (s ShippingType) Valid() bool {
	return s == Parcel || s == Freight
}

// Package type labels used when a group does not carry its own.
const (
	PackageBox         = "box"
	PackageBucket      = "bucket"
	PackagePlasticWrap = "plastic_wrap"
	PackageRaw         = "raw"
)

// PackageGroup is an observed grouping of parcels by physical type.
type PackageGroup struct {
	Label string
	Count int
}

// Fee is a single amount together with the number of parcels charged that amount.
type Fee struct {
	Amount uint64
	Count  int
}

// FeeCombination is an immutable multiset of per-parcel fees.
// Fees are kept sorted by ascending amount, one entry per distinct amount.
type FeeCombination struct {
	fees []Fee
}

// NewFeeCombination folds a list of per-parcel amounts into a combination.
func NewFeeCombination(amounts []uint64) FeeCombination {
	sorted := slices.Clone(amounts)
	slices.Sort(sorted)

	fees := make([]Fee, 0, len(sorted))
	for _, amount := range sorted {
		if n := len(fees); n > 0 && fees[n-1].Amount == amount {
			fees[n-1].Count++
			continue
		}
		fees = append(fees, Fee{Amount: amount, Count: 1})
	}
	return FeeCombination{fees: fees}
}

// FromCounts builds a combination from an amount → occurrences mapping.
// Entries with a non-positive count are ignored.
func FromCounts(counts map[uint64]int) FeeCombination {
	fees := make([]Fee, 0, len(counts))
	for amount, count := range counts {
		if count <= 0 {
			continue
		}
		fees = append(fees, Fee{Amount: amount, Count: count})
	}
	slices.SortFunc(fees, func(a, b Fee) int {
		return compareUint(a.Amount, b.Amount)
	})
	return FeeCombination{fees: fees}
}

// Fees returns a copy of the fees sorted by ascending amount.
func (c FeeCombination) Fees() []Fee {
	return slices.Clone(c.fees)
}

// Ordered returns the fees sorted by occurrences descending, then amount ascending.
func (c FeeCombination) Ordered() []Fee {
	out := slices.Clone(c.fees)
	slices.SortStableFunc(out, func(a, b Fee) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return compareUint(a.Amount, b.Amount)
	})
	return out
}

// Counts returns the combination as an amount → occurrences mapping.
func (c FeeCombination) Counts() map[uint64]int {
	out := make(map[uint64]int, len(c.fees))
	for _, fee := range c.fees {
		out[fee.Amount] = fee.Count
	}
	return out
}

// Count returns how many parcels are charged amount.
func (c FeeCombination) Count(amount uint64) int {
	i, ok := slices.BinarySearchFunc(c.fees, amount, func(f Fee, target uint64) int {
		return compareUint(f.Amount, target)
	})
	if !ok {
		return 0
	}
	return c.fees[i].Count
}

// Distinct returns the number of distinct amounts.
func (c FeeCombination) Distinct() int {
	return len(c.fees)
}

// Parts returns the number of parcels covered.
func (c FeeCombination) Parts() int {
	total := 0
	for _, fee := range c.fees {
		total += fee.Count
	}
	return total
}

// Occurrences returns the per-amount occurrence counts sorted descending.
func (c FeeCombination) Occurrences() []int {
	out := make([]int, len(c.fees))
	for i, fee := range c.fees {
		out[i] = fee.Count
	}
	slices.SortFunc(out, func(a, b int) int { return b - a })
	return out
}

// Total returns the sum of all fees, failing with ErrOverflow if it does not fit.
func (c FeeCombination) Total() (uint64, error) {
	var total uint64
	for _, fee := range c.fees {
		amount, err := mulChecked(fee.Amount, uint64(fee.Count))
		if err != nil {
			return 0, err
		}
		if total, err = addChecked(total, amount); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// Equal reports whether both combinations hold the same multiset.
func (c FeeCombination) Equal(other FeeCombination) bool {
	return slices.Equal(c.fees, other.fees)
}

func (c FeeCombination) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, fee := range c.fees {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d: %d", fee.Amount, fee.Count)
	}
	b.WriteByte('}')
	return b.String()
}

// Ranking carries the optional inputs used to order enumerated combinations.
type Ranking struct {
	// Profile holds the observed group sizes, e.g. {3, 1} for three boxes and one bucket.
	Profile []int
	// BaseFee is the per-parcel floor for the shipping type.
	BaseFee uint64
}

// Request describes a full enumeration.
type Request struct {
	Total    uint64
	Count    int
	Mode     DividingMode
	MinFloor uint64
	Ranking  *Ranking
	// Limit caps the number of combinations; zero disables the cap.
	Limit int
}

// Calculator describes the behaviour required from a fee calculator.
type Calculator interface {
	Split(total uint64, count int, mode DividingMode) (FeeCombination, error)
	Enumerate(ctx context.Context, req Request) ([]FeeCombination, error)
}

func compareUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
