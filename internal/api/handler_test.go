package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/fee-divider/internal/cache"
	"github.com/eugenenazirov/fee-divider/internal/calculator"
	"github.com/eugenenazirov/fee-divider/internal/fees"
)

type controllableClock struct {
	mu  sync.RWMutex
	now time.Time
}

func newControllableClock(initial time.Time) *controllableClock {
	return &controllableClock{now: initial}
}

func (c *controllableClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *controllableClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupTestRouter(t *testing.T) (http.Handler, *controllableClock) {
	t.Helper()
	return setupTestRouterWithPolicy(t, fees.DefaultPolicy())
}

func setupTestRouterWithPolicy(t *testing.T, policy fees.Policy) (http.Handler, *controllableClock) {
	t.Helper()

	logger := zaptest.NewLogger(t)
	service := fees.NewService(calculator.New(), cache.New(cache.WithLogger(logger)), policy, fees.WithLogger(logger))
	clock := newControllableClock(time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC))

	handler := NewHandler(service, WithClock(clock.Now))
	router := NewRouter(handler, logger, WithLogging(false))

	return router, clock
}

func doJSON(t *testing.T, router http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestRequestIDHelpers(t *testing.T) {
	ctx := contextWithRequestID(context.Background(), "abc")
	if got := requestIDFromContext(ctx); got != "abc" {
		t.Fatalf("expected abc, got %s", got)
	}
	resp := httptest.NewRecorder()
	writeInternalError(resp, assertError("boom"))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 status, got %d", resp.Code)
	}
}

type assertError string

func (a assertError) Error() string { return string(a) }

func TestHealthEndpoint(t *testing.T) {
	router, clock := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body healthResponse
	decodeBody(t, rec, &body)

	if body.Status != "ok" {
		t.Fatalf("expected status ok, got %s", body.Status)
	}
	if !body.Timestamp.Equal(clock.Now()) {
		t.Fatalf("expected timestamp %s, got %s", clock.Now(), body.Timestamp)
	}
}

func TestPolicyEndpoint(t *testing.T) {
	router, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/policy", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body policyResponse
	decodeBody(t, rec, &body)

	wantModes := []uint64{10, 100, 1000}
	if len(body.DividingModes) != len(wantModes) {
		t.Fatalf("expected modes %v, got %v", wantModes, body.DividingModes)
	}
	for i, mode := range wantModes {
		if body.DividingModes[i] != mode {
			t.Fatalf("expected mode %d at position %d, got %d", mode, i, body.DividingModes[i])
		}
	}
	if body.DefaultMode != 1000 {
		t.Fatalf("expected default mode 1000, got %d", body.DefaultMode)
	}
	if body.MinFee != 3000 {
		t.Fatalf("expected min fee 3000, got %d", body.MinFee)
	}

	baseFees := make(map[string]uint64, len(body.ShippingTypes))
	for _, s := range body.ShippingTypes {
		baseFees[s.Type] = s.BaseFee
	}
	if baseFees["parcel"] != 6000 || baseFees["freight"] != 4000 {
		t.Fatalf("unexpected base fees: %v", baseFees)
	}
	if len(body.PackageTypes) != 4 {
		t.Fatalf("expected 4 package types, got %v", body.PackageTypes)
	}
}

func TestSplitEndpoint(t *testing.T) {
	router, _ := setupTestRouter(t)

	tests := []struct {
		name    string
		payload map[string]any
		want    []feePayload
	}{
		{
			name:    "ExactDivision",
			payload: map[string]any{"total": 10000, "count": 2, "mode": 100},
			want:    []feePayload{{Amount: 5000, Count: 2}},
		},
		{
			name:    "RemainderByHundreds",
			payload: map[string]any{"total": 91500, "count": 4, "mode": 100},
			want:    []feePayload{{Amount: 22900, Count: 3}, {Amount: 22800, Count: 1}},
		},
		{
			name:    "RemainderByTens",
			payload: map[string]any{"total": 12340, "count": 3, "mode": 10},
			want:    []feePayload{{Amount: 4110, Count: 2}, {Amount: 4120, Count: 1}},
		},
		{
			name:    "DefaultModeIsThousands",
			payload: map[string]any{"total": 17000, "count": 3},
			want:    []feePayload{{Amount: 6000, Count: 2}, {Amount: 5000, Count: 1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/api/split", tt.payload)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
			}

			var body splitResponse
			decodeBody(t, rec, &body)

			if len(body.Fees) != len(tt.want) {
				t.Fatalf("expected fees %v, got %v", tt.want, body.Fees)
			}
			for i, fee := range tt.want {
				if body.Fees[i] != fee {
					t.Fatalf("expected fee %v at position %d, got %v", fee, i, body.Fees[i])
				}
			}
			if body.Parts != body.Count {
				t.Fatalf("expected parts %d to equal count %d", body.Parts, body.Count)
			}
		})
	}
}

func TestSplitEndpointErrors(t *testing.T) {
	router, _ := setupTestRouter(t)

	tests := []struct {
		name           string
		payload        any
		wantStatus     int
		wantSuggestion bool
	}{
		{name: "ZeroCount", payload: map[string]any{"total": 10000, "count": 0, "mode": 100}, wantStatus: http.StatusBadRequest},
		{name: "NegativeTotal", payload: map[string]any{"total": -100, "count": 1, "mode": 100}, wantStatus: http.StatusBadRequest},
		{name: "UnknownMode", payload: map[string]any{"total": 10000, "count": 2, "mode": 50}, wantStatus: http.StatusBadRequest, wantSuggestion: true},
		{name: "NotAMultiple", payload: map[string]any{"total": 10050, "count": 2, "mode": 100}, wantStatus: http.StatusBadRequest, wantSuggestion: true},
		{name: "BelowUnit", payload: map[string]any{"total": 1000, "count": 20, "mode": 100}, wantStatus: http.StatusBadRequest, wantSuggestion: true},
		{name: "Malformed", payload: "not-an-object", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/api/split", tt.payload)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}

			var body errorResponse
			decodeBody(t, rec, &body)
			if body.Error == "" {
				t.Fatalf("expected error message")
			}
			if tt.wantSuggestion && body.Suggestion == "" {
				t.Fatalf("expected suggestion to be populated")
			}
		})
	}
}

func TestCombinationsEndpoint(t *testing.T) {
	policy := fees.DefaultPolicy()
	policy.MinFee = 0
	router, _ := setupTestRouterWithPolicy(t, policy)

	rec := doJSON(t, router, http.MethodPost, "/api/combinations", map[string]any{
		"total": 600,
		"count": 3,
		"mode":  100,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body combinationsResponse
	decodeBody(t, rec, &body)

	if body.Ranked {
		t.Fatalf("expected unranked result without package groups")
	}
	want := [][]feePayload{
		{{Amount: 100, Count: 2}, {Amount: 400, Count: 1}},
		{{Amount: 100, Count: 1}, {Amount: 200, Count: 1}, {Amount: 300, Count: 1}},
		{{Amount: 200, Count: 3}},
	}
	if len(body.Combinations) != len(want) {
		t.Fatalf("expected %d combinations, got %d", len(want), len(body.Combinations))
	}
	for i, wantFees := range want {
		got := body.Combinations[i]
		if got.Parts != 3 {
			t.Fatalf("expected 3 parts in combination %d, got %d", i, got.Parts)
		}
		if got.Distinct != len(wantFees) {
			t.Fatalf("expected %d distinct amounts in combination %d, got %d", len(wantFees), i, got.Distinct)
		}
		for j, fee := range wantFees {
			if got.Fees[j] != fee {
				t.Fatalf("expected fee %v at %d/%d, got %v", fee, i, j, got.Fees[j])
			}
		}
	}
}

func TestCombinationsEndpointRanksByPackageGroups(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/combinations", map[string]any{
		"total":        18000,
		"mode":         1000,
		"shippingType": "parcel",
		"packageGroups": []map[string]any{
			{"label": "box", "count": 2},
			{"label": "bucket", "count": 1},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body combinationsResponse
	decodeBody(t, rec, &body)

	if !body.Ranked {
		t.Fatalf("expected ranked result")
	}
	if body.Count != 3 {
		t.Fatalf("expected count derived from package groups, got %d", body.Count)
	}
	// 18 thousands into 3 parts of at least 3.
	if len(body.Combinations) != 12 {
		t.Fatalf("expected 12 combinations, got %d", len(body.Combinations))
	}
	first := body.Combinations[0].Fees
	want := []feePayload{{Amount: 3000, Count: 2}, {Amount: 12000, Count: 1}}
	if len(first) != len(want) || first[0] != want[0] || first[1] != want[1] {
		t.Fatalf("expected first combination %v, got %v", want, first)
	}
}

func TestCombinationsEndpointErrors(t *testing.T) {
	tests := []struct {
		name       string
		policy     func(*fees.Policy)
		payload    map[string]any
		wantStatus int
	}{
		{
			name:       "MissingCount",
			payload:    map[string]any{"total": 12000, "mode": 1000},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "BelowMinimumFee",
			payload:    map[string]any{"total": 8000, "count": 3, "mode": 1000},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "UnknownShippingType",
			payload:    map[string]any{"total": 12000, "count": 3, "mode": 1000, "shippingType": "drone"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "MinimumFeeNotAlignedWithMode",
			policy:     func(p *fees.Policy) { p.MinFee = 2500 },
			payload:    map[string]any{"total": 12000, "count": 3, "mode": 1000},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "TooManyParcels",
			payload:    map[string]any{"total": 150_000_000_000, "count": 50_000_000, "mode": 10},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "TooManyCombinations",
			policy:     func(p *fees.Policy) { p.MinFee = 0; p.MaxCombinations = 2 },
			payload:    map[string]any{"total": 1000, "count": 2, "mode": 100},
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := fees.DefaultPolicy()
			if tt.policy != nil {
				tt.policy(&policy)
			}
			router, _ := setupTestRouterWithPolicy(t, policy)

			rec := doJSON(t, router, http.MethodPost, "/api/combinations", tt.payload)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestCombinationsEndpointTimeout(t *testing.T) {
	policy := fees.DefaultPolicy()
	policy.MinFee = 0
	policy.MaxCombinations = 0
	policy.ComputeTimeout = time.Nanosecond
	router, _ := setupTestRouterWithPolicy(t, policy)

	rec := doJSON(t, router, http.MethodPost, "/api/combinations", map[string]any{
		"total": 1_000_000,
		"count": 6,
		"mode":  10,
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d: %s", rec.Code, rec.Body.String())
	}

	var body errorResponse
	decodeBody(t, rec, &body)
	if body.Suggestion == "" {
		t.Fatalf("expected suggestion to be populated")
	}
}

func TestInvalidateCacheEndpoint(t *testing.T) {
	router, clock := setupTestRouter(t)

	clock.Advance(time.Hour)

	rec := doJSON(t, router, http.MethodDelete, "/api/cache", map[string]any{
		"kind":  "split",
		"total": 10000,
		"count": 2,
		"mode":  100,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body invalidateResponse
	decodeBody(t, rec, &body)
	if body.Kind != "split" || body.Message == "" {
		t.Fatalf("unexpected response: %+v", body)
	}
	if !body.InvalidatedAt.Equal(clock.Now()) {
		t.Fatalf("expected invalidatedAt %s, got %s", clock.Now(), body.InvalidatedAt)
	}

	rec = doJSON(t, router, http.MethodDelete, "/api/cache", map[string]any{
		"kind":          "combinations",
		"total":         12000,
		"count":         4,
		"packageGroups": []map[string]any{{"label": "box", "count": 3}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for mismatched groups, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodDelete, "/api/cache", map[string]any{"kind": "everything"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for unknown kind, got %d", rec.Code)
	}
}

func TestWriteCalculationErrorFallsBackToInternalError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeCalculationError(rec, assertError("boom"), calculator.ByHundreds)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 status, got %d", rec.Code)
	}
}

func TestCorsPreflight(t *testing.T) {
	router, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/split", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("expected Access-Control-Allow-Origin header to be set")
	}
}

func TestRequestIDPropagation(t *testing.T) {
	router, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "test-request-id")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "test-request-id" {
		t.Fatalf("expected X-Request-ID header to be echoed, got %s", got)
	}
}
