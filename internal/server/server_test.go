package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"semsearch/internal/encoder"
	"semsearch/internal/errkind"
	"semsearch/internal/models"
	"semsearch/internal/vecstore"
)

// keywordEncoder maps texts onto a deterministic 2-dim space for ranking
// assertions.
type keywordEncoder struct{ maxLen int }

func (e keywordEncoder) Dimension() int { return 2 }

func (e keywordEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if err := encoder.ValidateTexts(texts, e.maxLen); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		switch {
		case strings.Contains(t, "shoes"):
			out[i] = []float32{1, 0}
		case strings.Contains(t, "jacket"), strings.Contains(t, "coat"):
			out[i] = []float32{0, 1}
		default:
			out[i] = []float32{0.5, 0.5}
		}
	}
	return out, nil
}

type downEncoder struct{}

func (downEncoder) Dimension() int { return 2 }
func (downEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errkind.New(errkind.ModelUnavailable, "model is down")
}

type downStore struct{ vecstore.Store }

func (d downStore) Ping(ctx context.Context) error {
	return errkind.New(errkind.StoreUnavailable, "store is down")
}

func newTestAPI(t *testing.T) (*API, http.Handler) {
	t.Helper()
	api := NewAPI(keywordEncoder{}, vecstore.NewMemory(2, vecstore.MetricL2), Options{MaxTopK: 100})
	return api, api.Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, rd))
	return rr
}

func TestEmbed_OnePerTextInOrder(t *testing.T) {
	_, h := newTestAPI(t)
	rr := do(t, h, http.MethodPost, "/embed", map[string]any{"texts": []string{"shoes", "jacket"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(resp.Embeddings) != 2 || resp.Embeddings[0][0] != 1 || resp.Embeddings[1][1] != 1 {
		t.Fatalf("embeddings: %+v", resp.Embeddings)
	}
}

func TestUpdateThenSearch_RoundTrip(t *testing.T) {
	_, h := newTestAPI(t)
	rr := do(t, h, http.MethodPost, "/items/1/embedding", map[string]any{"text": "red running shoes"})
	if rr.Code != http.StatusOK {
		t.Fatalf("update code=%d body=%s", rr.Code, rr.Body.String())
	}
	rr = do(t, h, http.MethodPost, "/items/2/embedding", map[string]any{"text": "blue winter jacket"})
	if rr.Code != http.StatusOK {
		t.Fatalf("update code=%d", rr.Code)
	}
	rr = do(t, h, http.MethodPost, "/search", map[string]any{"query": "red shoes", "top_k": 1})
	if rr.Code != http.StatusOK {
		t.Fatalf("search code=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Results []models.SearchResult `json:"results"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != "1" || resp.Results[0].Distance != 0 {
		t.Fatalf("results: %+v", resp.Results)
	}
	// top_k=2 returns both, closer item first
	rr = do(t, h, http.MethodPost, "/search", map[string]any{"query": "winter coat", "top_k": 2})
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if len(resp.Results) != 2 || resp.Results[0].ID != "2" || resp.Results[1].ID != "1" {
		t.Fatalf("ranking: %+v", resp.Results)
	}
}

func TestBatchUpdate_PartialFailure(t *testing.T) {
	_, h := newTestAPI(t)
	rr := do(t, h, http.MethodPost, "/items/embeddings:batch", map[string]any{
		"items": []map[string]string{
			{"id": "1", "text": "red running shoes"},
			{"id": "2", "text": ""},
		},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Results []models.UpdateResult `json:"results"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results: %+v", resp.Results)
	}
	if resp.Results[0].Status != models.UpdateOK || resp.Results[1].Status != models.UpdateFailed {
		t.Fatalf("statuses: %+v", resp.Results)
	}
	// item 1 is retrievable despite item 2's failure
	rr = do(t, h, http.MethodPost, "/search", map[string]any{"query": "shoes", "top_k": 1})
	var sr struct {
		Results []models.SearchResult `json:"results"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &sr)
	if len(sr.Results) != 1 || sr.Results[0].ID != "1" {
		t.Fatalf("item 1 missing: %+v", sr.Results)
	}
}

func TestSearch_TopKAboveMaxRejectedNotClamped(t *testing.T) {
	_, h := newTestAPI(t)
	rr := do(t, h, http.MethodPost, "/search", map[string]any{"query": "shoes", "top_k": 101})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("code=%d body=%s", rr.Code, rr.Body.String())
	}
	var e apiError
	if err := json.Unmarshal(rr.Body.Bytes(), &e); err != nil {
		t.Fatalf("json: %v", err)
	}
	if e.Error != "validation" || e.Code != 400 || e.Message == "" {
		t.Fatalf("error body: %+v", e)
	}
}

func TestSearch_EncoderDownIsTaggedAndMapped(t *testing.T) {
	api := NewAPI(downEncoder{}, vecstore.NewMemory(2, vecstore.MetricL2), Options{MaxTopK: 100})
	rr := do(t, api.Handler(), http.MethodPost, "/search", map[string]any{"query": "anything", "top_k": 5})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("code=%d body=%s", rr.Code, rr.Body.String())
	}
	var e apiError
	_ = json.Unmarshal(rr.Body.Bytes(), &e)
	if e.Error != "model_unavailable" || e.Stage != "encoding" {
		t.Fatalf("error body: %+v", e)
	}
}

func TestHealth_DegradedWhenStoreDown(t *testing.T) {
	api := NewAPI(keywordEncoder{}, downStore{Store: vecstore.NewMemory(2, vecstore.MetricL2)}, Options{MaxTopK: 100})
	rr := do(t, api.Handler(), http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("code=%d", rr.Code)
	}
	var resp struct {
		Status string `json:"status"`
		Store  string `json:"store"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Status != "degraded" || resp.Store != "unreachable" {
		t.Fatalf("health: %+v", resp)
	}
}

func TestHealth_OK(t *testing.T) {
	_, h := newTestAPI(t)
	rr := do(t, h, http.MethodGet, "/healthz", nil)
	var resp struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Status != "ok" {
		t.Fatalf("health: %+v", resp)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, h := newTestAPI(t)
	for _, path := range []string{"/embed", "/search", "/items/1/embedding"} {
		rr := do(t, h, http.MethodGet, path, nil)
		if rr.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: code=%d", path, rr.Code)
		}
	}
}

func TestAuthToken(t *testing.T) {
	api := NewAPI(keywordEncoder{}, vecstore.NewMemory(2, vecstore.MetricL2), Options{MaxTopK: 100, APIToken: "sekret"})
	h := api.Handler()
	rr := do(t, h, http.MethodPost, "/embed", map[string]any{"texts": []string{"x"}})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("code=%d", rr.Code)
	}
	b, _ := json.Marshal(map[string]any{"texts": []string{"shoes"}})
	req := httptest.NewRequest(http.MethodPost, "/embed", bytes.NewReader(b))
	req.Header.Set("Authorization", "Bearer sekret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("authorized code=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestRequestIDHeader(t *testing.T) {
	_, h := newTestAPI(t)
	rr := do(t, h, http.MethodGet, "/healthz", nil)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := newTestAPI(t)
	do(t, h, http.MethodGet, "/healthz", nil)
	rr := do(t, h, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("code=%d", rr.Code)
	}
	var snap struct {
		Requests map[string]int `json:"requests"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("json: %v", err)
	}
	if snap.Requests["GET|/healthz|200"] == 0 {
		t.Fatalf("requests: %+v", snap.Requests)
	}
}

func TestUnknownItemsOperation(t *testing.T) {
	_, h := newTestAPI(t)
	rr := do(t, h, http.MethodPost, "/items/1/unknown", map[string]any{})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("code=%d", rr.Code)
	}
}

func TestRateLimitFromOptions(t *testing.T) {
	api := NewAPI(keywordEncoder{}, vecstore.NewMemory(2, vecstore.MetricL2), Options{MaxTopK: 100, RateLimitRPS: 1})
	h := api.Handler()
	if rr := do(t, h, http.MethodGet, "/healthz", nil); rr.Code != http.StatusOK {
		t.Fatalf("first request: code=%d", rr.Code)
	}
	rr := do(t, h, http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: code=%d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
	var e apiError
	_ = json.Unmarshal(rr.Body.Bytes(), &e)
	if e.Error != "rate_limited" {
		t.Fatalf("error body: %+v", e)
	}
}
