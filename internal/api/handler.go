package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/eugenenazirov/fee-divider/internal/cache"
	"github.com/eugenenazirov/fee-divider/internal/calculator"
	"github.com/eugenenazirov/fee-divider/internal/fees"
)

type contextKey string

const (
	requestIDContextKey   contextKey = "requestID"
	requestInfoContextKey contextKey = "requestInfo"
)

// Handler wires the fee service into HTTP handlers.
type Handler struct {
	service     *fees.Service
	defaultMode calculator.DividingMode

	clock func() time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithDefaultMode sets the dividing mode used when a request omits one.
func WithDefaultMode(mode calculator.DividingMode) HandlerOption {
	return func(h *Handler) {
		if mode.Valid() {
			h.defaultMode = mode
		}
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(service *fees.Service, opts ...HandlerOption) *Handler {
	h := &Handler{
		service:     service,
		defaultMode: calculator.ByThousands,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handlePolicy(w http.ResponseWriter, r *http.Request) {
	_ = r
	policy := h.service.Policy()

	modes := calculator.DividingModes()
	resp := policyResponse{
		DividingModes:   make([]uint64, 0, len(modes)),
		DefaultMode:     h.defaultMode.Unit(),
		MinFee:          policy.MinFee,
		MaxCombinations: policy.MaxCombinations,
		MaxParcels:      policy.MaxParcels,
		PackageTypes: []string{
			calculator.PackageBox,
			calculator.PackageBucket,
			calculator.PackagePlasticWrap,
			calculator.PackageRaw,
		},
	}
	for _, mode := range modes {
		resp.DividingModes = append(resp.DividingModes, mode.Unit())
	}
	for _, shipping := range calculator.ShippingTypes() {
		resp.ShippingTypes = append(resp.ShippingTypes, shippingTypePayload{
			Type:    string(shipping),
			BaseFee: policy.BaseFees[shipping],
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSplit(w http.ResponseWriter, r *http.Request) {
	var req splitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return
	}

	if req.Total == 0 || req.Count <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid request", "total and count must be positive integers")
		return
	}

	mode, ok := h.resolveMode(w, req.Mode)
	if !ok {
		return
	}

	start := time.Now()
	combination, err := h.service.Split(r.Context(), req.Total, req.Count, mode)
	elapsed := time.Since(start)
	if err != nil {
		writeCalculationError(w, err, mode)
		return
	}

	resp := splitResponse{
		Total:             req.Total,
		Count:             req.Count,
		Mode:              mode.Unit(),
		Fees:              toFeePayload(combination),
		Parts:             combination.Parts(),
		CalculationTimeMs: elapsed.Milliseconds(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCombinations(w http.ResponseWriter, r *http.Request) {
	var req combinationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return
	}

	if req.Total == 0 {
		writeError(w, http.StatusBadRequest, "Invalid request", "total must be a positive integer")
		return
	}
	if req.Count <= 0 && len(req.PackageGroups) == 0 {
		writeError(w, http.StatusBadRequest, "Invalid request", "count or packageGroups must be provided")
		return
	}

	mode, ok := h.resolveMode(w, req.Mode)
	if !ok {
		return
	}

	feeReq := req.toFeeRequest(mode)
	start := time.Now()
	combinations, err := h.service.Combinations(r.Context(), feeReq)
	elapsed := time.Since(start)
	if err != nil {
		writeCalculationError(w, err, mode)
		return
	}

	count := req.Count
	if len(combinations) > 0 {
		count = combinations[0].Parts()
	}

	resp := combinationsResponse{
		Total:             req.Total,
		Count:             count,
		Mode:              mode.Unit(),
		ShippingType:      req.ShippingType,
		Ranked:            req.ShippingType != "" && len(req.PackageGroups) > 0,
		Combinations:      make([]combinationPayload, 0, len(combinations)),
		CalculationTimeMs: elapsed.Milliseconds(),
	}
	for _, c := range combinations {
		resp.Combinations = append(resp.Combinations, combinationPayload{
			Fees:     toFeePayload(c),
			Distinct: c.Distinct(),
			Parts:    c.Parts(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return
	}

	mode, ok := h.resolveMode(w, req.Mode)
	if !ok {
		return
	}

	var key cache.Key
	switch cache.Kind(req.Kind) {
	case cache.KindSplit:
		key = fees.SplitKey(req.Total, req.Count, mode)
	case cache.KindCombinations:
		var err error
		key, err = fees.CombinationsKey(req.toFeeRequest(mode))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "Invalid request", fmt.Sprintf("kind must be %q or %q", cache.KindSplit, cache.KindCombinations))
		return
	}

	h.service.Invalidate(key)

	resp := invalidateResponse{
		Kind:          req.Kind,
		InvalidatedAt: h.clock(),
		Message:       "Cached result invalidated",
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) resolveMode(w http.ResponseWriter, raw uint64) (calculator.DividingMode, bool) {
	if raw == 0 {
		return h.defaultMode, true
	}
	mode := calculator.DividingMode(raw)
	if !mode.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid dividing mode", fmt.Sprintf("mode must be one of %v", calculator.DividingModes()), "Use 10, 100 or 1000")
		return 0, false
	}
	return mode, true
}

func writeCalculationError(w http.ResponseWriter, err error, mode calculator.DividingMode) {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "Calculation timed out", err.Error(),
			"Reduce the number of parcels or choose a coarser dividing mode")
	case errors.Is(err, calculator.ErrTooManyCombinations):
		writeError(w, http.StatusUnprocessableEntity, "Too many combinations", err.Error(),
			"Reduce the number of parcels or choose a coarser dividing mode")
	case errors.Is(err, calculator.ErrTooManyParcels):
		writeError(w, http.StatusUnprocessableEntity, "Too many parcels", err.Error(),
			"Split the shipment into smaller requests")
	case errors.Is(err, calculator.ErrOverflow):
		writeError(w, http.StatusUnprocessableEntity, "Amount out of range", err.Error())
	case errors.Is(err, calculator.ErrRounding):
		writeError(w, http.StatusBadRequest, "Cannot divide exactly", err.Error(),
			fmt.Sprintf("Use a total that is a multiple of %d and at least %d per parcel", mode.Unit(), mode.Unit()))
	case errors.Is(err, calculator.ErrMinFee):
		writeError(w, http.StatusBadRequest, "Invalid minimum fee", err.Error(), "Choose a finer dividing mode")
	case errors.Is(err, calculator.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
	case errors.Is(err, calculator.ErrCalculationFailed):
		writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
	default:
		writeInternalError(w, err)
	}
}

func toFeePayload(c calculator.FeeCombination) []feePayload {
	ordered := c.Ordered()
	out := make([]feePayload, len(ordered))
	for i, fee := range ordered {
		out[i] = feePayload{Amount: fee.Amount, Count: fee.Count}
	}
	return out
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type splitRequest struct {
	Total uint64 `json:"total"`
	Count int    `json:"count"`
	Mode  uint64 `json:"mode"`
}

type packageGroupPayload struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

type combinationsRequest struct {
	Total         uint64                `json:"total"`
	Count         int                   `json:"count"`
	Mode          uint64                `json:"mode"`
	ShippingType  string                `json:"shippingType"`
	PackageGroups []packageGroupPayload `json:"packageGroups"`
}

func (r combinationsRequest) toFeeRequest(mode calculator.DividingMode) fees.CombinationRequest {
	groups := make([]calculator.PackageGroup, len(r.PackageGroups))
	for i, g := range r.PackageGroups {
		groups[i] = calculator.PackageGroup{Label: g.Label, Count: g.Count}
	}
	return fees.CombinationRequest{
		Total:    r.Total,
		Count:    r.Count,
		Mode:     mode,
		Shipping: calculator.ShippingType(r.ShippingType),
		Groups:   groups,
	}
}

type invalidateRequest struct {
	Kind string `json:"kind"`
	combinationsRequest
}

type feePayload struct {
	Amount uint64 `json:"amount"`
	Count  int    `json:"count"`
}

type splitResponse struct {
	Total             uint64       `json:"total"`
	Count             int          `json:"count"`
	Mode              uint64       `json:"mode"`
	Fees              []feePayload `json:"fees"`
	Parts             int          `json:"parts"`
	CalculationTimeMs int64        `json:"calculationTimeMs"`
}

type combinationPayload struct {
	Fees     []feePayload `json:"fees"`
	Distinct int          `json:"distinct"`
	Parts    int          `json:"parts"`
}

type combinationsResponse struct {
	Total             uint64               `json:"total"`
	Count             int                  `json:"count"`
	Mode              uint64               `json:"mode"`
	ShippingType      string               `json:"shippingType,omitempty"`
	Ranked            bool                 `json:"ranked"`
	Combinations      []combinationPayload `json:"combinations"`
	CalculationTimeMs int64                `json:"calculationTimeMs"`
}

type shippingTypePayload struct {
	Type    string `json:"type"`
	BaseFee uint64 `json:"baseFee"`
}

type policyResponse struct {
	DividingModes   []uint64              `json:"dividingModes"`
	DefaultMode     uint64                `json:"defaultMode"`
	MinFee          uint64                `json:"minFee"`
	MaxCombinations int                   `json:"maxCombinations"`
	MaxParcels      int                   `json:"maxParcels"`
	ShippingTypes   []shippingTypePayload `json:"shippingTypes"`
	PackageTypes    []string              `json:"packageTypes"`
}

type invalidateResponse struct {
	Kind          string    `json:"kind"`
	InvalidatedAt time.Time `json:"invalidatedAt"`
	Message       string    `json:"message"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
