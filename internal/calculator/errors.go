package calculator

import "errors"

var (
	// ErrInvalidInput is returned for non-positive totals or counts, unsupported
	// dividing modes, or when the total cannot give every parcel the minimum floor.
	ErrInvalidInput = errors.New("invalid input: total and count must be positive and leave room for the minimum fee")
	// ErrRounding is returned when the total (or the per-parcel base) cannot be expressed in the dividing unit.
	ErrRounding = errors.New("total cannot be divided exactly in the selected unit")
	// ErrMinFee is returned when the minimum fee is not a multiple of the dividing unit.
	ErrMinFee = errors.New("minimum fee is not a multiple of the dividing unit")
	// ErrOverflow is returned when an intermediate product or sum exceeds the integer range.
	ErrOverflow = errors.New("fee arithmetic overflows the supported range")
	// ErrCalculationFailed signals that the produced fees do not reconcile with the total.
	ErrCalculationFailed = errors.New("fee calculation failed to reconcile with the total")
	// ErrTooManyCombinations is returned when enumeration exceeds the configured result limit.
	ErrTooManyCombinations = errors.New("too many fee combinations for the requested total and count")
	// ErrTooManyParcels is returned when a request names more parcels than the policy allows.
	ErrTooManyParcels = errors.New("too many parcels in one request")
)
