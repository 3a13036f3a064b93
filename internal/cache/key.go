package cache

import (
	"cmp"
	"slices"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/eugenenazirov/fee-divider/internal/calculator"
)

// Kind distinguishes the calculation a cached result belongs to.
type Kind string

const (
	// KindSplit identifies single equal-split results.
	KindSplit Kind = "split"
	// KindCombinations identifies full enumeration results.
	KindCombinations Kind = "combinations"
)

// Key identifies a calculation request. Two logically identical requests
// produce the same key regardless of the order of their package groups.
type Key struct {
	Kind     Kind
	Total    uint64
	Count    int
	Mode     calculator.DividingMode
	Shipping calculator.ShippingType
	Groups   []calculator.PackageGroup

	canonical string
}

// NewKey builds a normalized key. Groups are copied and sorted by label, then count.
func NewKey(kind Kind, total uint64, count int, mode calculator.DividingMode, shipping calculator.ShippingType, groups []calculator.PackageGroup) Key {
	normalized := slices.Clone(groups)
	slices.SortFunc(normalized, func(a, b calculator.PackageGroup) int {
		if c := strings.Compare(a.Label, b.Label); c != 0 {
			return c
		}
		return cmp.Compare(a.Count, b.Count)
	})

	k := Key{
		Kind:     kind,
		Total:    total,
		Count:    count,
		Mode:     mode,
		Shipping: shipping,
		Groups:   normalized,
	}
	k.canonical = k.encode()
	return k
}

// String returns the canonical encoding of the key.
func (k Key) String() string {
	if k.canonical != "" {
		return k.canonical
	}
	return k.encode()
}

// Hash returns the xxh3 digest of the canonical encoding.
func (k Key) Hash() uint64 {
	return xxh3.HashString(k.String())
}

func (k Key) encode() string {
	var b strings.Builder
	b.WriteString(string(k.Kind))
	b.WriteString("|t=")
	b.WriteString(strconv.FormatUint(k.Total, 10))
	b.WriteString("|n=")
	b.WriteString(strconv.Itoa(k.Count))
	b.WriteString("|m=")
	b.WriteString(strconv.FormatUint(k.Mode.Unit(), 10))
	b.WriteString("|s=")
	b.WriteString(string(k.Shipping))
	b.WriteString("|g=")
	for i, g := range k.Groups {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(g.Label))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(g.Count))
	}
	return b.String()
}
